// Package linker merges independently fetched catalog collections into one
// station graph.
//
// Link runs as a single pass over fully materialized collections. Ownership
// (feeds, logos, streams, guides) is resolved by channel key against the
// station id index; stations left without a stream are pruned, and only the
// pruned list receives country, region, timezone and optional associations.
// Unmatched keys leave relations empty and are never errors.
package linker

import (
	"github.com/voyagen/stationvault/internal/index"
	"github.com/voyagen/stationvault/internal/models"
)

const defaultProgressEvery = 1000

// Input holds every fetched collection. Optional collections may be nil.
type Input struct {
	Stations  []*models.Station
	Feeds     []*models.Feed
	Logos     []*models.Logo
	Streams   []*models.Stream
	Guides    []*models.Guide
	Countries []*models.Country
	Regions   []*models.Region
	Timezones []*models.Timezone

	Categories   []*models.Category
	Languages    []*models.Language
	Subdivisions []*models.Subdivision
	Cities       []*models.City
}

// Options enables the extension points. The zero value links only ownership,
// country, regions and timezones.
type Options struct {
	LinkCategories   bool
	LinkSubdivisions bool
	LinkCities       bool

	// Languages resolves language associations. Nil disables them.
	Languages LanguageResolver

	// Progress, if set, is called every ProgressEvery stations while
	// associations are resolved, and once at the end.
	Progress      func(done, total int)
	ProgressEvery int
}

// Stats counts what happened to the raw records.
type Stats struct {
	Stations int `json:"stations"`
	Pruned   int `json:"pruned"`

	FeedsLinked   int `json:"feeds_linked"`
	FeedsDropped  int `json:"feeds_dropped"`
	LogosLinked   int `json:"logos_linked"`
	LogosDropped  int `json:"logos_dropped"`
	GuidesLinked  int `json:"guides_linked"`
	GuidesDropped int `json:"guides_dropped"`

	StreamsLinked    int `json:"streams_linked"`
	StreamsDropped   int `json:"streams_dropped"`
	StreamsNoChannel int `json:"streams_no_channel"`

	WithoutCountry int `json:"without_country"`
}

// Graph is the linked result. Stations holds only playable stations.
type Graph struct {
	Stations  []*models.Station
	Countries []*models.Country
	Regions   []*models.Region
	Timezones []*models.Timezone

	Categories   []*models.Category
	Languages    []*models.Language
	Subdivisions []*models.Subdivision
	Cities       []*models.City

	Stats Stats
}

// Link builds the station graph. It mutates the input records: owned slices
// and back-references are reset and rebuilt, and Country.TotalStations is
// recomputed.
func Link(in Input, opts Options) *Graph {
	stations := compact(in.Stations)
	for _, s := range stations {
		s.ResetLinks()
	}
	byID := index.New(stations, func(s *models.Station) string { return s.ID })

	g := &Graph{
		Countries:    compact(in.Countries),
		Regions:      compact(in.Regions),
		Timezones:    compact(in.Timezones),
		Categories:   compact(in.Categories),
		Languages:    compact(in.Languages),
		Subdivisions: compact(in.Subdivisions),
		Cities:       compact(in.Cities),
	}
	st := &g.Stats

	for _, f := range compact(in.Feeds) {
		f.Station = nil
		if s, ok := byID.Get(f.ChannelKey()); ok {
			s.Feeds = append(s.Feeds, f)
			f.Station = s
			st.FeedsLinked++
		} else {
			st.FeedsDropped++
		}
	}

	for _, l := range compact(in.Logos) {
		l.Station = nil
		if s, ok := byID.Get(l.ChannelKey()); ok {
			s.Logos = append(s.Logos, l)
			l.Station = s
			st.LogosLinked++
		} else {
			st.LogosDropped++
		}
	}

	for _, sm := range compact(in.Streams) {
		sm.Station = nil
		key := sm.ChannelKey()
		if key == "" {
			st.StreamsNoChannel++
			continue
		}
		if s, ok := byID.Get(key); ok {
			s.Streams = append(s.Streams, sm)
			sm.Station = s
			st.StreamsLinked++
		} else {
			st.StreamsDropped++
		}
	}

	for _, gd := range compact(in.Guides) {
		gd.Station = nil
		key := gd.ChannelKey()
		if key == "" {
			st.GuidesDropped++
			continue
		}
		if s, ok := byID.Get(key); ok {
			s.Guides = append(s.Guides, gd)
			gd.Station = s
			st.GuidesLinked++
		} else {
			st.GuidesDropped++
		}
	}

	// Prune. A duplicated id is linked once, through the last record, so the
	// earlier duplicates carry no streams and fall out here.
	pruned := make([]*models.Station, 0, len(stations))
	for _, s := range stations {
		if s.Playable() {
			pruned = append(pruned, s)
		}
	}
	st.Stations = len(pruned)
	st.Pruned = len(stations) - len(pruned)
	g.Stations = pruned

	perCountry := make(map[string]int, len(g.Countries))
	for _, s := range pruned {
		perCountry[s.Country]++
	}
	for _, c := range g.Countries {
		c.TotalStations = perCountry[c.Code]
	}

	countryByCode := index.NewFirst(g.Countries, func(c *models.Country) string { return c.Code })
	regionsByCountry := index.NewMulti(g.Regions, func(r *models.Region) []string { return r.Countries })
	timezonesByCountry := index.NewMulti(g.Timezones, func(tz *models.Timezone) []string { return tz.Countries })

	var subdivisionsByCountry *index.Multi[string, *models.Subdivision]
	if opts.LinkSubdivisions {
		subdivisionsByCountry = index.NewMulti(g.Subdivisions, func(sd *models.Subdivision) []string { return []string{sd.Country} })
	}
	var citiesByCountry *index.Multi[string, *models.City]
	if opts.LinkCities {
		citiesByCountry = index.NewMulti(g.Cities, func(c *models.City) []string { return []string{c.Country} })
	}

	every := opts.ProgressEvery
	if every <= 0 {
		every = defaultProgressEvery
	}

	for i, s := range pruned {
		if c, ok := countryByCode.Get(s.Country); ok {
			s.CountryRef = c
		} else {
			st.WithoutCountry++
		}
		s.Regions = clone(regionsByCountry.Get(s.Country))
		s.Timezones = clone(timezonesByCountry.Get(s.Country))

		if opts.LinkCategories {
			s.CategoryRefs = resolveCategories(s, g.Categories)
		}
		if opts.Languages != nil {
			s.LanguageRefs = opts.Languages.Resolve(s, g.Languages)
		}
		if subdivisionsByCountry != nil {
			s.Subdivisions = clone(subdivisionsByCountry.Get(s.Country))
		}
		if citiesByCountry != nil {
			s.Cities = clone(citiesByCountry.Get(s.Country))
		}

		if opts.Progress != nil && i%every == 0 {
			opts.Progress(i, len(pruned))
		}
	}
	if opts.Progress != nil {
		opts.Progress(len(pruned), len(pruned))
	}

	return g
}

// resolveCategories keeps fetched categories whose id the station lists, in
// category source order.
func resolveCategories(s *models.Station, categories []*models.Category) []*models.Category {
	if len(s.Categories) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(s.Categories))
	for _, id := range s.Categories {
		want[id] = struct{}{}
	}
	var out []*models.Category
	for _, c := range categories {
		if _, ok := want[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// compact drops nil records.
func compact[T any](in []*T) []*T {
	out := make([]*T, 0, len(in))
	for _, v := range in {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// clone gives each station its own association slice so later appends never
// alias the shared index buckets.
func clone[T any](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
