package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/stationvault/internal/catalog"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("FETCH_CONCURRENCY", "")
	t.Setenv("ENABLE_ENDPOINTS", "")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.ServerPort)
	assert.Equal(t, catalog.DefaultBaseURL, c.CatalogURL)
	assert.Equal(t, 60*time.Second, c.Timeout)
	assert.Equal(t, 4, c.FetchConcurrency)
	assert.ErrorIs(t, c.RequireDatabase(), ErrMissingDatabaseURL)
	assert.Equal(t, catalog.DefaultEndpoints, c.Endpoints())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/stations")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("FETCHER_TIMEOUT", "5s")
	t.Setenv("FETCH_CONCURRENCY", "2")
	t.Setenv("IMPORT_MAX_RETRIES", "0")
	t.Setenv("IMPORT_ON_START", "true")
	t.Setenv("ENABLE_ENDPOINTS", "categories, guides")
	t.Setenv("LINK_LANGUAGE_HEURISTIC", "1")

	c, err := Load()
	require.NoError(t, err)
	require.NoError(t, c.RequireDatabase())
	assert.Equal(t, "9090", c.ServerPort)
	assert.Equal(t, 5*time.Second, c.Timeout)
	assert.Equal(t, 2, c.FetchConcurrency)
	assert.Equal(t, 0, c.MaxRetries)
	assert.True(t, c.ImportOnStart)
	assert.True(t, c.LanguageHeuristic)
	assert.Equal(t, []catalog.Endpoint{catalog.Categories, catalog.Guides}, c.EnableEndpoints)
	assert.True(t, c.Enabled(catalog.Categories))
	assert.False(t, c.Enabled(catalog.Cities))
	assert.Len(t, c.Endpoints(), len(catalog.DefaultEndpoints)+2)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"FETCH_CONCURRENCY":  "0",
		"IMPORT_MAX_RETRIES": "many",
		"FETCHER_TIMEOUT":    "soon",
		"IMPORT_ON_START":    "maybe",
		"ENABLE_ENDPOINTS":   "channels",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: postgres://db/stations
redis_url: redis://cache:6379/0
cache_namespace: "staging:"
server_port: "7000"
timeout: 10s
import_max_retries: 0
enable_endpoints: [languages, "subdivisions,cities"]
`), 0o600))

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/stations", c.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/0", c.RedisURL)
	assert.Equal(t, "staging:", c.CacheNamespace)
	assert.Equal(t, "7000", c.ServerPort)
	assert.Equal(t, 10*time.Second, c.Timeout)
	assert.Equal(t, 0, c.MaxRetries)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, []catalog.Endpoint{catalog.Languages, catalog.Subdivisions, catalog.Cities}, c.EnableEndpoints)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout: never\n"), 0o600))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}
