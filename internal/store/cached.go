package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voyagen/stationvault/internal/cache"
	"github.com/voyagen/stationvault/internal/linker"
	"github.com/voyagen/stationvault/internal/models"
)

// Cache TTLs for different entity types.
const (
	ttlStation   = 5 * time.Minute
	ttlStations  = 1 * time.Minute
	ttlCountries = 10 * time.Minute
	ttlLogo      = 24 * time.Hour
)

// CachedStore wraps a Store with a Redis caching layer.
// Read-heavy operations are served from cache when possible;
// write operations invalidate the relevant cache keys.
type CachedStore struct {
	inner Store
	cache *cache.Redis
	log   *zap.Logger
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis, log *zap.Logger) *CachedStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedStore{inner: inner, cache: c, log: log}
}

// cachedStation carries the locally owned flag that Station leaves out of JSON.
type cachedStation struct {
	Station   *models.Station `json:"station"`
	Favourite bool            `json:"favourite"`
}

func (cs cachedStation) restore() *models.Station {
	s := cs.Station
	s.Favourite = cs.Favourite
	s.AttachOwned()
	return s
}

func wrapStation(s *models.Station) cachedStation {
	return cachedStation{Station: s, Favourite: s.Favourite}
}

// --- cached read operations ---

func (c *CachedStore) GetStation(ctx context.Context, stationID string) (*models.Station, error) {
	key := "station:" + stationID
	if v, err := cache.Get[cachedStation](ctx, c.cache, key); err == nil && v.Station != nil {
		return v.restore(), nil
	}
	st, err := c.inner.GetStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, wrapStation(st), ttlStation)
	return st, nil
}

// stationListResult is a helper type to cache the ListStations tuple.
type stationListResult struct {
	Stations []cachedStation `json:"stations"`
	Total    int             `json:"total"`
}

func (c *CachedStore) ListStations(ctx context.Context, filter StationFilter) ([]*models.Station, int, error) {
	filter = filter.Normalize()
	key := "stations:" + filterHash(filter)
	if v, err := cache.Get[stationListResult](ctx, c.cache, key); err == nil {
		out := make([]*models.Station, 0, len(v.Stations))
		for _, cs := range v.Stations {
			if cs.Station != nil {
				out = append(out, cs.restore())
			}
		}
		return out, v.Total, nil
	}
	stations, total, err := c.inner.ListStations(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	res := stationListResult{Stations: make([]cachedStation, len(stations)), Total: total}
	for i, s := range stations {
		res.Stations[i] = wrapStation(s)
	}
	c.set(ctx, key, res, ttlStations)
	return stations, total, nil
}

func (c *CachedStore) ListCountries(ctx context.Context, filter CountryFilter) ([]*models.Country, error) {
	key := "countries:" + shortHash(fmt.Sprintf("%s|%t", strings.ToLower(strings.TrimSpace(filter.NamePrefix)), filter.WithStations))
	if v, err := cache.Get[[]*models.Country](ctx, c.cache, key); err == nil {
		return v, nil
	}
	countries, err := c.inner.ListCountries(ctx, filter)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, countries, ttlCountries)
	return countries, nil
}

func (c *CachedStore) GetLogoPayload(ctx context.Context, url string) (*models.LogoPayload, error) {
	key := "logo:" + shortHash(url)
	if v, err := cache.Get[models.LogoPayload](ctx, c.cache, key); err == nil && v.URL == url {
		return &v, nil
	}
	p, err := c.inner.GetLogoPayload(ctx, url)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, p, ttlLogo)
	return p, nil
}

// --- write operations with cache invalidation ---

func (c *CachedStore) CommitGraph(ctx context.Context, g *linker.Graph) error {
	if err := c.inner.CommitGraph(ctx, g); err != nil {
		return err
	}
	c.invalidatePattern(ctx, "station:*", "stations:*", "countries:*")
	return nil
}

func (c *CachedStore) UpsertFavouriteState(ctx context.Context, st *models.Station) error {
	if err := c.inner.UpsertFavouriteState(ctx, st); err != nil {
		return err
	}
	c.invalidate(ctx, "station:"+st.ID)
	c.invalidatePattern(ctx, "stations:*", "countries:*")
	return nil
}

func (c *CachedStore) SetFavourite(ctx context.Context, stationID string, favourite bool) error {
	if err := c.inner.SetFavourite(ctx, stationID, favourite); err != nil {
		return err
	}
	c.invalidate(ctx, "station:"+stationID)
	c.invalidatePattern(ctx, "stations:*")
	return nil
}

func (c *CachedStore) RemoveStation(ctx context.Context, stationID string) error {
	if err := c.inner.RemoveStation(ctx, stationID); err != nil {
		return err
	}
	c.invalidate(ctx, "station:"+stationID)
	c.invalidatePattern(ctx, "stations:*", "countries:*")
	return nil
}

func (c *CachedStore) PutLogoPayload(ctx context.Context, p *models.LogoPayload) error {
	if err := c.inner.PutLogoPayload(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, "logo:"+shortHash(p.URL))
	return nil
}

// --- passthrough (no caching) ---

func (c *CachedStore) CountStations(ctx context.Context) (int, error) {
	return c.inner.CountStations(ctx)
}

func (c *CachedStore) RecordImport(ctx context.Context, run *models.ImportRun) error {
	return c.inner.RecordImport(ctx, run)
}

func (c *CachedStore) LastImport(ctx context.Context) (*models.ImportRun, error) {
	return c.inner.LastImport(ctx)
}

// --- helpers ---

func (c *CachedStore) set(ctx context.Context, key string, v any, ttl time.Duration) {
	if err := cache.Set(ctx, c.cache, key, v, ttl); err != nil {
		c.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// invalidate deletes exact cache keys, logging any errors.
func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil && !cache.IsMiss(err) {
		c.log.Warn("cache del failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// invalidatePattern deletes all keys matching the given glob patterns.
func (c *CachedStore) invalidatePattern(ctx context.Context, patterns ...string) {
	for _, p := range patterns {
		if err := cache.DelPattern(ctx, c.cache, p); err != nil {
			c.log.Warn("cache del pattern failed", zap.String("pattern", p), zap.Error(err))
		}
	}
}

// filterHash produces a short deterministic hash for a StationFilter so it
// can be used as part of a cache key.
func filterHash(f StationFilter) string {
	fav := "-"
	if f.Favourite != nil {
		fav = fmt.Sprintf("%t", *f.Favourite)
	}
	return shortHash(fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d",
		fav, f.Country, f.Category, f.NamePrefix, f.Search, f.Limit, f.Offset))
}

func shortHash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", h[:8])
}
