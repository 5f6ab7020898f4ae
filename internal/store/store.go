package store

import (
	"context"
	"errors"
	"strings"

	"github.com/voyagen/stationvault/internal/linker"
	"github.com/voyagen/stationvault/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store persists the linked station graph and the locally owned state around it.
type Store interface {
	// CommitGraph replaces the stored graph with g in one transaction.
	// Favourite flags of stations already stored under the same id are kept.
	CommitGraph(ctx context.Context, g *linker.Graph) error

	// UpsertFavouriteState writes st.Favourite onto the stored station with
	// the same id, or inserts st (with its owned records) if it is not stored.
	UpsertFavouriteState(ctx context.Context, st *models.Station) error
	// SetFavourite sets the favourite flag of a stored station.
	SetFavourite(ctx context.Context, stationID string, favourite bool) error
	// RemoveStation deletes a station and its owned records; no-op if absent.
	RemoveStation(ctx context.Context, stationID string) error

	// GetStation returns one station with feeds, logos, streams and guides loaded.
	GetStation(ctx context.Context, stationID string) (*models.Station, error)
	// ListStations returns stations matching the filter and the total count
	// before limit/offset.
	ListStations(ctx context.Context, filter StationFilter) ([]*models.Station, int, error)
	// ListCountries returns the countries matching the filter ordered by name.
	ListCountries(ctx context.Context, filter CountryFilter) ([]*models.Country, error)
	// CountStations returns the number of stored stations.
	CountStations(ctx context.Context) (int, error)

	// GetLogoPayload returns the cached image for url, or ErrNotFound.
	GetLogoPayload(ctx context.Context, url string) (*models.LogoPayload, error)
	// PutLogoPayload caches an image. Payloads survive CommitGraph.
	PutLogoPayload(ctx context.Context, p *models.LogoPayload) error

	// RecordImport stores the outcome of an import run.
	RecordImport(ctx context.Context, run *models.ImportRun) error
	// LastImport returns the most recent import run, or ErrNotFound.
	LastImport(ctx context.Context) (*models.ImportRun, error)
}

// StationFilter holds optional filters for listing stations.
type StationFilter struct {
	Favourite  *bool  // filter by favourite flag
	Country    string // exact country code
	Category   string // category id listed in the station's categories
	NamePrefix string // case-insensitive prefix of the trimmed station name
	Search     string // case-insensitive substring of the station name
	Limit      int    // default 50, max 500
	Offset     int
}

// CountryFilter holds optional filters for listing countries.
type CountryFilter struct {
	NamePrefix   string // case-insensitive prefix of the trimmed country name
	WithStations bool   // only countries at least one station points to
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Normalize applies the default and maximum limit.
func (f StationFilter) Normalize() StationFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.NamePrefix = strings.TrimSpace(f.NamePrefix)
	return f
}

// matchesPrefix reports whether name starts with prefix, ignoring case and
// surrounding whitespace on both sides.
func matchesPrefix(name, prefix string) bool {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	return prefix == "" || strings.HasPrefix(strings.ToLower(strings.TrimSpace(name)), prefix)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
	_ Store = (*CachedStore)(nil)
)
