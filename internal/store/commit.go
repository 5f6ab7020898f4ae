package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/voyagen/stationvault/internal/linker"
	"github.com/voyagen/stationvault/internal/models"
)

// referenceTables are cleared on every commit. Join tables go with them via
// ON DELETE CASCADE.
var referenceTables = []string{"countries", "regions", "timezones", "categories", "languages", "subdivisions", "cities"}

// CommitGraph replaces the stored graph with g in a single transaction.
// Favourite flags survive for every station id present in both graphs.
func (p *Postgres) CommitGraph(ctx context.Context, g *linker.Graph) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("CommitGraph: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Blocks concurrent favourite writes until the swap is committed.
	if _, err := tx.Exec(ctx, `LOCK TABLE stations IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("CommitGraph: lock: %w", err)
	}

	favs, err := favouriteIDs(ctx, tx)
	if err != nil {
		return fmt.Errorf("CommitGraph: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM stations`); err != nil {
		return fmt.Errorf("CommitGraph: clear stations: %w", err)
	}
	for _, t := range referenceTables {
		if _, err := tx.Exec(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("CommitGraph: clear %s: %w", t, err)
		}
	}

	if err := copyReferences(ctx, tx, g); err != nil {
		return fmt.Errorf("CommitGraph: %w", err)
	}

	stations := uniqueBy(g.Stations, func(s *models.Station) string { return s.ID })
	kept := 0
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"stations"},
		[]string{"id", "name", "alt_names", "network", "owners", "country", "categories",
			"is_nsfw", "launched", "closed", "replaced_by", "website", "favourite"},
		pgx.CopyFromSlice(len(stations), func(i int) ([]any, error) {
			s := stations[i]
			fav := favs[s.ID]
			if fav {
				kept++
			}
			return []any{s.ID, s.Name, arr(s.AltNames), s.Network, arr(s.Owners), s.Country, arr(s.Categories),
				s.IsNSFW, s.Launched, s.Closed, s.ReplacedBy, s.Website, fav}, nil
		}))
	if err != nil {
		return fmt.Errorf("CommitGraph: copy stations: %w", err)
	}

	if err := copyOwned(ctx, tx, stations); err != nil {
		return fmt.Errorf("CommitGraph: %w", err)
	}
	if err := copyAssociations(ctx, tx, stations); err != nil {
		return fmt.Errorf("CommitGraph: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("CommitGraph: commit: %w", err)
	}
	if dropped := len(favs) - kept; dropped > 0 {
		p.log.Warn("favourite stations missing from new catalog were removed", zap.Int("count", dropped))
	}
	p.log.Info("graph committed",
		zap.Int("stations", len(stations)),
		zap.Int("countries", len(g.Countries)),
		zap.Int("favourites", kept),
	)
	return nil
}

func favouriteIDs(ctx context.Context, q querier) (map[string]bool, error) {
	rows, err := q.Query(ctx, `SELECT id FROM stations WHERE favourite`)
	if err != nil {
		return nil, fmt.Errorf("favourites: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("favourites: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func copyReferences(ctx context.Context, tx pgx.Tx, g *linker.Graph) error {
	countries := uniqueBy(g.Countries, func(c *models.Country) string { return c.Code })
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"countries"},
		[]string{"code", "name", "languages", "flag", "total_stations"},
		pgx.CopyFromSlice(len(countries), func(i int) ([]any, error) {
			c := countries[i]
			return []any{c.Code, c.Name, arr(c.Languages), c.Flag, c.TotalStations}, nil
		})); err != nil {
		return fmt.Errorf("copy countries: %w", err)
	}

	regions := uniqueBy(g.Regions, func(r *models.Region) string { return r.Code })
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"regions"},
		[]string{"code", "name", "countries"},
		pgx.CopyFromSlice(len(regions), func(i int) ([]any, error) {
			r := regions[i]
			return []any{r.Code, r.Name, arr(r.Countries)}, nil
		})); err != nil {
		return fmt.Errorf("copy regions: %w", err)
	}

	timezones := uniqueBy(g.Timezones, func(t *models.Timezone) string { return t.ID })
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"timezones"},
		[]string{"id", "utc_offset", "countries"},
		pgx.CopyFromSlice(len(timezones), func(i int) ([]any, error) {
			t := timezones[i]
			return []any{t.ID, t.UTCOffset, arr(t.Countries)}, nil
		})); err != nil {
		return fmt.Errorf("copy timezones: %w", err)
	}

	categories := uniqueBy(g.Categories, func(c *models.Category) string { return c.ID })
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"categories"},
		[]string{"id", "name", "description"},
		pgx.CopyFromSlice(len(categories), func(i int) ([]any, error) {
			c := categories[i]
			return []any{c.ID, c.Name, c.Description}, nil
		})); err != nil {
		return fmt.Errorf("copy categories: %w", err)
	}

	languages := uniqueBy(g.Languages, func(l *models.Language) string { return l.Code })
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"languages"},
		[]string{"code", "name"},
		pgx.CopyFromSlice(len(languages), func(i int) ([]any, error) {
			return []any{languages[i].Code, languages[i].Name}, nil
		})); err != nil {
		return fmt.Errorf("copy languages: %w", err)
	}

	subdivisions := uniqueBy(g.Subdivisions, func(s *models.Subdivision) string { return s.Code })
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"subdivisions"},
		[]string{"code", "country", "name", "parent"},
		pgx.CopyFromSlice(len(subdivisions), func(i int) ([]any, error) {
			s := subdivisions[i]
			return []any{s.Code, s.Country, s.Name, s.Parent}, nil
		})); err != nil {
		return fmt.Errorf("copy subdivisions: %w", err)
	}

	cities := uniqueBy(g.Cities, func(c *models.City) string { return c.Code })
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"cities"},
		[]string{"code", "country", "subdivision", "name", "wikidata_id"},
		pgx.CopyFromSlice(len(cities), func(i int) ([]any, error) {
			c := cities[i]
			return []any{c.Code, c.Country, c.Subdivision, c.Name, c.WikidataID}, nil
		})); err != nil {
		return fmt.Errorf("copy cities: %w", err)
	}
	return nil
}

// copyOwned bulk inserts the feeds, logos, streams and guides of stations.
func copyOwned(ctx context.Context, tx pgx.Tx, stations []*models.Station) error {
	var feeds, logos, streams, guides [][]any
	for _, s := range stations {
		for i, f := range s.Feeds {
			feeds = append(feeds, []any{s.ID, f.ID, f.Name, arr(f.AltNames), f.IsMain,
				arr(f.BroadcastArea), arr(f.Timezones), arr(f.Languages), f.Format, i})
		}
		for i, l := range s.Logos {
			logos = append(logos, []any{s.ID, l.Feed, arr(l.Tags), l.Width, l.Height, l.Format, l.URL, i})
		}
		for i, sm := range s.Streams {
			streams = append(streams, []any{s.ID, sm.Feed, sm.Title, sm.URL, sm.Referrer, sm.UserAgent, sm.Quality, i})
		}
		for i, g := range s.Guides {
			guides = append(guides, []any{s.ID, g.Feed, g.Site, g.SiteID, g.SiteName, g.Lang, i})
		}
	}

	copies := []struct {
		table string
		cols  []string
		rows  [][]any
	}{
		{"feeds", []string{"station_id", "feed_id", "name", "alt_names", "is_main", "broadcast_area", "timezones", "languages", "format", "position"}, feeds},
		{"logos", []string{"station_id", "feed", "tags", "width", "height", "format", "url", "position"}, logos},
		{"streams", []string{"station_id", "feed", "title", "url", "referrer", "user_agent", "quality", "position"}, streams},
		{"guides", []string{"station_id", "feed", "site", "site_id", "site_name", "lang", "position"}, guides},
	}
	for _, c := range copies {
		if len(c.rows) == 0 {
			continue
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{c.table}, c.cols, pgx.CopyFromRows(c.rows)); err != nil {
			return fmt.Errorf("copy %s: %w", c.table, err)
		}
	}
	return nil
}

// copyAssociations writes the station to reference join rows. Codes that were
// deduplicated away in copyReferences still resolve to the surviving row.
func copyAssociations(ctx context.Context, tx pgx.Tx, stations []*models.Station) error {
	type assoc struct {
		table, col string
		codes      func(*models.Station) []string
	}
	assocs := []assoc{
		{"station_regions", "region_code", func(s *models.Station) []string { return regionCodes(s.Regions) }},
		{"station_timezones", "timezone_id", func(s *models.Station) []string { return timezoneIDs(s.Timezones) }},
		{"station_categories", "category_id", func(s *models.Station) []string { return categoryIDs(s.CategoryRefs) }},
		{"station_languages", "language_code", func(s *models.Station) []string { return languageCodes(s.LanguageRefs) }},
		{"station_subdivisions", "subdivision_code", func(s *models.Station) []string { return subdivisionCodes(s.Subdivisions) }},
		{"station_cities", "city_code", func(s *models.Station) []string { return cityCodes(s.Cities) }},
	}
	for _, a := range assocs {
		var rows [][]any
		for _, s := range stations {
			for i, code := range a.codes(s) {
				rows = append(rows, []any{s.ID, code, i})
			}
		}
		if len(rows) == 0 {
			continue
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{a.table}, []string{"station_id", a.col, "position"},
			pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy %s: %w", a.table, err)
		}
	}
	return nil
}

// loadOwned fills the owned collections of stations in four queries.
func loadOwned(ctx context.Context, q querier, stations []*models.Station) error {
	if len(stations) == 0 {
		return nil
	}
	ids := make([]string, len(stations))
	byID := make(map[string]*models.Station, len(stations))
	for i, s := range stations {
		ids[i] = s.ID
		byID[s.ID] = s
		s.Feeds, s.Logos, s.Streams, s.Guides = nil, nil, nil, nil
	}

	rows, err := q.Query(ctx,
		`SELECT station_id, feed_id, name, alt_names, is_main, broadcast_area, timezones, languages, format
		 FROM feeds WHERE station_id = ANY($1) ORDER BY station_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load feeds: %w", err)
	}
	for rows.Next() {
		var (
			sid string
			f   models.Feed
		)
		if err := rows.Scan(&sid, &f.ID, &f.Name, &f.AltNames, &f.IsMain, &f.BroadcastArea, &f.Timezones, &f.Languages, &f.Format); err != nil {
			rows.Close()
			return fmt.Errorf("scan feed: %w", err)
		}
		s := byID[sid]
		f.Channel, f.Station = sid, s
		s.Feeds = append(s.Feeds, &f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load feeds: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT station_id, feed, tags, width, height, format, url
		 FROM logos WHERE station_id = ANY($1) ORDER BY station_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load logos: %w", err)
	}
	for rows.Next() {
		var (
			sid string
			l   models.Logo
		)
		if err := rows.Scan(&sid, &l.Feed, &l.Tags, &l.Width, &l.Height, &l.Format, &l.URL); err != nil {
			rows.Close()
			return fmt.Errorf("scan logo: %w", err)
		}
		s := byID[sid]
		l.Channel, l.Station = sid, s
		s.Logos = append(s.Logos, &l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load logos: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT station_id, feed, title, url, referrer, user_agent, quality
		 FROM streams WHERE station_id = ANY($1) ORDER BY station_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load streams: %w", err)
	}
	for rows.Next() {
		var sm models.Stream
		sid := new(string)
		if err := rows.Scan(sid, &sm.Feed, &sm.Title, &sm.URL, &sm.Referrer, &sm.UserAgent, &sm.Quality); err != nil {
			rows.Close()
			return fmt.Errorf("scan stream: %w", err)
		}
		s := byID[*sid]
		sm.Channel, sm.Station = sid, s
		s.Streams = append(s.Streams, &sm)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load streams: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT station_id, feed, site, site_id, site_name, lang
		 FROM guides WHERE station_id = ANY($1) ORDER BY station_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load guides: %w", err)
	}
	for rows.Next() {
		var g models.Guide
		sid := new(string)
		if err := rows.Scan(sid, &g.Feed, &g.Site, &g.SiteID, &g.SiteName, &g.Lang); err != nil {
			rows.Close()
			return fmt.Errorf("scan guide: %w", err)
		}
		s := byID[*sid]
		g.Channel, g.Station = sid, s
		s.Guides = append(s.Guides, &g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load guides: %w", err)
	}
	return nil
}

// loadAssociations fills the reference relations of a single station.
func loadAssociations(ctx context.Context, q querier, s *models.Station) error {
	rows, err := q.Query(ctx,
		`SELECT r.code, r.name, r.countries FROM station_regions x
		 JOIN regions r ON r.code = x.region_code WHERE x.station_id = $1 ORDER BY x.position`, s.ID)
	if err != nil {
		return fmt.Errorf("load regions: %w", err)
	}
	s.Regions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Region, error) {
		var r models.Region
		return &r, row.Scan(&r.Code, &r.Name, &r.Countries)
	})
	if err != nil {
		return fmt.Errorf("load regions: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT t.id, t.utc_offset, t.countries FROM station_timezones x
		 JOIN timezones t ON t.id = x.timezone_id WHERE x.station_id = $1 ORDER BY x.position`, s.ID)
	if err != nil {
		return fmt.Errorf("load timezones: %w", err)
	}
	s.Timezones, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Timezone, error) {
		var t models.Timezone
		return &t, row.Scan(&t.ID, &t.UTCOffset, &t.Countries)
	})
	if err != nil {
		return fmt.Errorf("load timezones: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT c.id, c.name, c.description FROM station_categories x
		 JOIN categories c ON c.id = x.category_id WHERE x.station_id = $1 ORDER BY x.position`, s.ID)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	s.CategoryRefs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Category, error) {
		var c models.Category
		return &c, row.Scan(&c.ID, &c.Name, &c.Description)
	})
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT l.code, l.name FROM station_languages x
		 JOIN languages l ON l.code = x.language_code WHERE x.station_id = $1 ORDER BY x.position`, s.ID)
	if err != nil {
		return fmt.Errorf("load languages: %w", err)
	}
	s.LanguageRefs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Language, error) {
		var l models.Language
		return &l, row.Scan(&l.Code, &l.Name)
	})
	if err != nil {
		return fmt.Errorf("load languages: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT d.code, d.country, d.name, d.parent FROM station_subdivisions x
		 JOIN subdivisions d ON d.code = x.subdivision_code WHERE x.station_id = $1 ORDER BY x.position`, s.ID)
	if err != nil {
		return fmt.Errorf("load subdivisions: %w", err)
	}
	s.Subdivisions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Subdivision, error) {
		var d models.Subdivision
		return &d, row.Scan(&d.Code, &d.Country, &d.Name, &d.Parent)
	})
	if err != nil {
		return fmt.Errorf("load subdivisions: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT c.code, c.country, c.subdivision, c.name, c.wikidata_id FROM station_cities x
		 JOIN cities c ON c.code = x.city_code WHERE x.station_id = $1 ORDER BY x.position`, s.ID)
	if err != nil {
		return fmt.Errorf("load cities: %w", err)
	}
	s.Cities, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.City, error) {
		var c models.City
		return &c, row.Scan(&c.Code, &c.Country, &c.Subdivision, &c.Name, &c.WikidataID)
	})
	if err != nil {
		return fmt.Errorf("load cities: %w", err)
	}
	return nil
}

// uniqueBy keeps the first element for every key, in order.
func uniqueBy[T any](in []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		k := key(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

// dedupe preserves order.
func dedupe(codes []string) []string {
	return uniqueBy(codes, func(s string) string { return s })
}

func regionCodes(rs []*models.Region) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Code
	}
	return dedupe(out)
}

func timezoneIDs(ts []*models.Timezone) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return dedupe(out)
}

func categoryIDs(cs []*models.Category) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return dedupe(out)
}

func languageCodes(ls []*models.Language) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.Code
	}
	return dedupe(out)
}

func subdivisionCodes(ds []*models.Subdivision) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Code
	}
	return dedupe(out)
}

func cityCodes(cs []*models.City) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Code
	}
	return dedupe(out)
}
