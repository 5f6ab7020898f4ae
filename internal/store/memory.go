package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/voyagen/stationvault/internal/linker"
	"github.com/voyagen/stationvault/internal/models"
)

// Memory is an in-process Store. A commit builds the new graph aside and swaps
// it in under the write lock, so readers see either the old or the new graph.
type Memory struct {
	mu        sync.RWMutex
	stations  map[string]*models.Station
	countries map[string]*models.Country
	logos     map[string]*models.LogoPayload
	runs      []models.ImportRun
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		stations:  make(map[string]*models.Station),
		countries: make(map[string]*models.Country),
		logos:     make(map[string]*models.LogoPayload),
	}
}

func (m *Memory) CommitGraph(_ context.Context, g *linker.Graph) error {
	countries := make(map[string]*models.Country, len(g.Countries))
	for _, c := range g.Countries {
		if _, dup := countries[c.Code]; dup {
			continue
		}
		cp := *c
		countries[c.Code] = &cp
	}
	stations := make(map[string]*models.Station, len(g.Stations))
	for _, s := range g.Stations {
		cp := cloneStation(s)
		if cp.CountryRef != nil {
			cp.CountryRef = countries[cp.CountryRef.Code]
		}
		stations[s.ID] = cp
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range stations {
		if prev, ok := m.stations[id]; ok {
			s.Favourite = prev.Favourite
		} else {
			s.Favourite = false
		}
	}
	m.stations = stations
	m.countries = countries
	return nil
}

func (m *Memory) UpsertFavouriteState(_ context.Context, st *models.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.stations[st.ID]; ok {
		prev.Favourite = st.Favourite
		return nil
	}
	cp := cloneStation(st)
	if cp.CountryRef != nil {
		if c, ok := m.countries[cp.CountryRef.Code]; ok {
			cp.CountryRef = c
		}
	}
	m.stations[st.ID] = cp
	return nil
}

func (m *Memory) SetFavourite(_ context.Context, stationID string, favourite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[stationID]
	if !ok {
		return ErrNotFound
	}
	s.Favourite = favourite
	return nil
}

func (m *Memory) RemoveStation(_ context.Context, stationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stations, stationID)
	return nil
}

func (m *Memory) GetStation(_ context.Context, stationID string) (*models.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stations[stationID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneStation(s), nil
}

func (m *Memory) ListStations(_ context.Context, filter StationFilter) ([]*models.Station, int, error) {
	filter = filter.Normalize()
	search := strings.ToLower(filter.Search)

	m.mu.RLock()
	var matched []*models.Station
	for _, s := range m.stations {
		if filter.Favourite != nil && s.Favourite != *filter.Favourite {
			continue
		}
		if filter.Country != "" && s.Country != filter.Country {
			continue
		}
		if filter.Category != "" && !slices.Contains(s.Categories, filter.Category) {
			continue
		}
		if !matchesPrefix(s.Name, filter.NamePrefix) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(s.Name), search) {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	if filter.Offset >= total {
		matched = nil
	} else {
		matched = matched[filter.Offset:]
		if len(matched) > filter.Limit {
			matched = matched[:filter.Limit]
		}
	}
	out := make([]*models.Station, len(matched))
	for i, s := range matched {
		out[i] = cloneStation(s)
	}
	m.mu.RUnlock()
	return out, total, nil
}

func (m *Memory) ListCountries(_ context.Context, filter CountryFilter) ([]*models.Country, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var used map[string]bool
	if filter.WithStations {
		used = make(map[string]bool)
		for _, st := range m.stations {
			used[st.Country] = true
		}
	}
	out := make([]*models.Country, 0, len(m.countries))
	for _, c := range m.countries {
		if used != nil && !used[c.Code] {
			continue
		}
		if !matchesPrefix(c.Name, filter.NamePrefix) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (m *Memory) CountStations(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stations), nil
}

func (m *Memory) GetLogoPayload(_ context.Context, url string) (*models.LogoPayload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.logos[url]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) PutLogoPayload(_ context.Context, p *models.LogoPayload) error {
	cp := *p
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logos[p.URL] = &cp
	return nil
}

func (m *Memory) RecordImport(_ context.Context, run *models.ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = int64(len(m.runs) + 1)
	m.runs = append(m.runs, *run)
	return nil
}

func (m *Memory) LastImport(_ context.Context) (*models.ImportRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.runs) == 0 {
		return nil, ErrNotFound
	}
	run := m.runs[len(m.runs)-1]
	return &run, nil
}

// cloneStation copies a station and its owned records. Owned records point
// back at the copy; reference entities are shared.
func cloneStation(s *models.Station) *models.Station {
	cp := *s
	cp.Feeds = make([]*models.Feed, len(s.Feeds))
	for i, f := range s.Feeds {
		fc := *f
		fc.Station = &cp
		cp.Feeds[i] = &fc
	}
	cp.Logos = make([]*models.Logo, len(s.Logos))
	for i, l := range s.Logos {
		lc := *l
		lc.Station = &cp
		cp.Logos[i] = &lc
	}
	cp.Streams = make([]*models.Stream, len(s.Streams))
	for i, sm := range s.Streams {
		sc := *sm
		sc.Station = &cp
		cp.Streams[i] = &sc
	}
	cp.Guides = make([]*models.Guide, len(s.Guides))
	for i, g := range s.Guides {
		gc := *g
		gc.Station = &cp
		cp.Guides[i] = &gc
	}
	return &cp
}
