package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/voyagen/stationvault/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string, log *zap.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{pool: pool, log: log}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// --- favourite state ---

// UpsertFavouriteState updates the flag of an existing station or inserts st
// with its owned records. ON CONFLICT keeps concurrent calls from creating a
// second row for the same id.
func (p *Postgres) UpsertFavouriteState(ctx context.Context, st *models.Station) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("UpsertFavouriteState: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inserted bool
	err = tx.QueryRow(ctx,
		`INSERT INTO stations (id, name, alt_names, network, owners, country, categories,
		                       is_nsfw, launched, closed, replaced_by, website, favourite)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET favourite = EXCLUDED.favourite, updated_at = NOW()
		 RETURNING (xmax = 0)`,
		st.ID, st.Name, arr(st.AltNames), st.Network, arr(st.Owners), st.Country, arr(st.Categories),
		st.IsNSFW, st.Launched, st.Closed, st.ReplacedBy, st.Website, st.Favourite,
	).Scan(&inserted)
	if err != nil {
		return fmt.Errorf("UpsertFavouriteState: %w", err)
	}

	if inserted {
		one := []*models.Station{st}
		if err := copyOwned(ctx, tx, one); err != nil {
			return fmt.Errorf("UpsertFavouriteState: %w", err)
		}
		if err := linkExistingReferences(ctx, tx, st); err != nil {
			return fmt.Errorf("UpsertFavouriteState: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("UpsertFavouriteState: commit: %w", err)
	}
	return nil
}

// linkExistingReferences attaches an individually inserted station to the
// reference rows that are currently stored. Missing codes are skipped.
func linkExistingReferences(ctx context.Context, q querier, st *models.Station) error {
	links := []struct {
		table, col, ref, refCol string
		codes                   []string
	}{
		{"station_regions", "region_code", "regions", "code", regionCodes(st.Regions)},
		{"station_timezones", "timezone_id", "timezones", "id", timezoneIDs(st.Timezones)},
		{"station_categories", "category_id", "categories", "id", categoryIDs(st.CategoryRefs)},
		{"station_languages", "language_code", "languages", "code", languageCodes(st.LanguageRefs)},
		{"station_subdivisions", "subdivision_code", "subdivisions", "code", subdivisionCodes(st.Subdivisions)},
		{"station_cities", "city_code", "cities", "code", cityCodes(st.Cities)},
	}
	for _, l := range links {
		if len(l.codes) == 0 {
			continue
		}
		sql := fmt.Sprintf(
			`INSERT INTO %s (station_id, %s, position)
			 SELECT $1, t.code, t.ord FROM unnest($2::text[]) WITH ORDINALITY AS t(code, ord)
			 JOIN %s r ON r.%s = t.code
			 ON CONFLICT DO NOTHING`,
			l.table, l.col, l.ref, l.refCol)
		if _, err := q.Exec(ctx, sql, st.ID, l.codes); err != nil {
			return fmt.Errorf("link %s: %w", l.table, err)
		}
	}
	return nil
}

// SetFavourite sets the favourite flag of a stored station.
func (p *Postgres) SetFavourite(ctx context.Context, stationID string, favourite bool) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE stations SET favourite = $2, updated_at = NOW() WHERE id = $1`,
		stationID, favourite)
	if err != nil {
		return fmt.Errorf("SetFavourite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveStation deletes a station; owned rows cascade. Absent ids are a no-op.
func (p *Postgres) RemoveStation(ctx context.Context, stationID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM stations WHERE id = $1`, stationID); err != nil {
		return fmt.Errorf("RemoveStation: %w", err)
	}
	return nil
}

// --- reads ---

const stationColumns = `s.id, s.name, s.alt_names, s.network, s.owners, s.country, s.categories,
	s.is_nsfw, s.launched, s.closed, s.replaced_by, s.website, s.favourite,
	c.code, c.name, c.languages, c.flag, c.total_stations`

const stationFrom = `FROM stations s LEFT JOIN countries c ON c.code = s.country`

func scanStation(row pgx.Row) (*models.Station, error) {
	var (
		s         models.Station
		cCode     *string
		cName     *string
		cLangs    []string
		cFlag     *string
		cStations *int
	)
	err := row.Scan(&s.ID, &s.Name, &s.AltNames, &s.Network, &s.Owners, &s.Country, &s.Categories,
		&s.IsNSFW, &s.Launched, &s.Closed, &s.ReplacedBy, &s.Website, &s.Favourite,
		&cCode, &cName, &cLangs, &cFlag, &cStations)
	if err != nil {
		return nil, err
	}
	if cCode != nil {
		s.CountryRef = &models.Country{Code: *cCode, Languages: cLangs}
		if cName != nil {
			s.CountryRef.Name = *cName
		}
		if cFlag != nil {
			s.CountryRef.Flag = *cFlag
		}
		if cStations != nil {
			s.CountryRef.TotalStations = *cStations
		}
	}
	return &s, nil
}

// GetStation returns one station with owned records and associations.
func (p *Postgres) GetStation(ctx context.Context, stationID string) (*models.Station, error) {
	s, err := scanStation(p.pool.QueryRow(ctx,
		`SELECT `+stationColumns+` `+stationFrom+` WHERE s.id = $1`, stationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("GetStation: %w", err)
	}
	one := []*models.Station{s}
	if err := loadOwned(ctx, p.pool, one); err != nil {
		return nil, fmt.Errorf("GetStation: %w", err)
	}
	if err := loadAssociations(ctx, p.pool, s); err != nil {
		return nil, fmt.Errorf("GetStation: %w", err)
	}
	return s, nil
}

// ListStations returns stations matching the filter, ordered by name, with
// feeds, logos, streams and guides loaded.
func (p *Postgres) ListStations(ctx context.Context, filter StationFilter) ([]*models.Station, int, error) {
	filter = filter.Normalize()

	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Favourite != nil {
		add("s.favourite = $%d", *filter.Favourite)
	}
	if filter.Country != "" {
		add("s.country = $%d", filter.Country)
	}
	if filter.Category != "" {
		add("s.categories @> ARRAY[$%d]::text[]", filter.Category)
	}
	if filter.NamePrefix != "" {
		add("lower(btrim(s.name)) LIKE $%d", escapeLike(strings.ToLower(filter.NamePrefix))+"%")
	}
	if filter.Search != "" {
		add("s.name ILIKE $%d", "%"+escapeLike(filter.Search)+"%")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stations s`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListStations: count: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	sql := fmt.Sprintf(`SELECT %s %s%s ORDER BY s.name, s.id LIMIT $%d OFFSET $%d`,
		stationColumns, stationFrom, where, len(args)-1, len(args))
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListStations: %w", err)
	}
	defer rows.Close()

	var out []*models.Station
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListStations: scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListStations: rows: %w", err)
	}
	rows.Close()

	if err := loadOwned(ctx, p.pool, out); err != nil {
		return nil, 0, fmt.Errorf("ListStations: %w", err)
	}
	return out, total, nil
}

// ListCountries returns the countries matching the filter ordered by name.
func (p *Postgres) ListCountries(ctx context.Context, filter CountryFilter) ([]*models.Country, error) {
	var conds []string
	var args []any
	if prefix := strings.ToLower(strings.TrimSpace(filter.NamePrefix)); prefix != "" {
		args = append(args, escapeLike(prefix)+"%")
		conds = append(conds, fmt.Sprintf("lower(btrim(c.name)) LIKE $%d", len(args)))
	}
	if filter.WithStations {
		conds = append(conds, "EXISTS (SELECT 1 FROM stations s WHERE s.country = c.code)")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	rows, err := p.pool.Query(ctx,
		`SELECT c.code, c.name, c.languages, c.flag, c.total_stations FROM countries c`+where+
			` ORDER BY c.name, c.code`, args...)
	if err != nil {
		return nil, fmt.Errorf("ListCountries: %w", err)
	}
	defer rows.Close()
	var out []*models.Country
	for rows.Next() {
		var c models.Country
		if err := rows.Scan(&c.Code, &c.Name, &c.Languages, &c.Flag, &c.TotalStations); err != nil {
			return nil, fmt.Errorf("ListCountries: scan: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CountStations returns the number of stored stations.
func (p *Postgres) CountStations(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountStations: %w", err)
	}
	return n, nil
}

// --- logo payloads ---

// GetLogoPayload returns the cached image bytes for url.
func (p *Postgres) GetLogoPayload(ctx context.Context, url string) (*models.LogoPayload, error) {
	var lp models.LogoPayload
	err := p.pool.QueryRow(ctx,
		`SELECT url, data, content_type, fetched_at FROM logo_payloads WHERE url = $1`, url,
	).Scan(&lp.URL, &lp.Data, &lp.ContentType, &lp.FetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("GetLogoPayload: %w", err)
	}
	return &lp, nil
}

// PutLogoPayload inserts or replaces the cached image for a URL.
func (p *Postgres) PutLogoPayload(ctx context.Context, lp *models.LogoPayload) error {
	fetched := lp.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO logo_payloads (url, data, content_type, fetched_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (url) DO UPDATE SET
		   data = EXCLUDED.data, content_type = EXCLUDED.content_type, fetched_at = EXCLUDED.fetched_at`,
		lp.URL, lp.Data, lp.ContentType, fetched)
	if err != nil {
		return fmt.Errorf("PutLogoPayload: %w", err)
	}
	return nil
}

// --- import runs ---

// RecordImport stores the outcome of an import run and sets run.ID.
func (p *Postgres) RecordImport(ctx context.Context, run *models.ImportRun) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO import_runs (state, error, started_at, finished_at, stations, streams, countries)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		 RETURNING id`,
		string(run.State), run.Error, run.StartedAt, run.FinishedAt, run.Stations, run.Streams, run.Countries,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("RecordImport: %w", err)
	}
	return nil
}

// LastImport returns the most recent import run.
func (p *Postgres) LastImport(ctx context.Context) (*models.ImportRun, error) {
	var (
		run   models.ImportRun
		state string
		msg   *string
	)
	err := p.pool.QueryRow(ctx,
		`SELECT id, state, error, started_at, finished_at, stations, streams, countries
		 FROM import_runs ORDER BY id DESC LIMIT 1`,
	).Scan(&run.ID, &state, &msg, &run.StartedAt, &run.FinishedAt, &run.Stations, &run.Streams, &run.Countries)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("LastImport: %w", err)
	}
	run.State = models.ImportState(state)
	if msg != nil {
		run.Error = *msg
	}
	return &run, nil
}

// --- helpers ---

// arr maps nil to an empty slice so NOT NULL array columns accept it.
func arr(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
