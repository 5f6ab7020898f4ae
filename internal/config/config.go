package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/voyagen/stationvault/internal/catalog"
)

// ErrMissingDatabaseURL is returned by RequireDatabase when no DSN is set.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// Config holds application configuration.
type Config struct {
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`
	ServerPort  string `yaml:"server_port" env:"SERVER_PORT"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`

	// CacheNamespace overrides the key prefix of cached entries in Redis.
	CacheNamespace string `yaml:"cache_namespace" env:"CACHE_NAMESPACE"`

	CatalogURL       string        `yaml:"catalog_url" env:"CATALOG_URL"`
	UserAgent        string        `yaml:"user_agent" env:"FETCHER_USER_AGENT"`
	Timeout          time.Duration `yaml:"timeout" env:"FETCHER_TIMEOUT"`
	FetchConcurrency int           `yaml:"fetch_concurrency" env:"FETCH_CONCURRENCY"`

	MaxRetries        int                `yaml:"import_max_retries" env:"IMPORT_MAX_RETRIES"`
	ImportOnStart     bool               `yaml:"import_on_start" env:"IMPORT_ON_START"`
	EnableEndpoints   []catalog.Endpoint `yaml:"enable_endpoints" env:"ENABLE_ENDPOINTS"`
	LanguageHeuristic bool               `yaml:"link_language_heuristic" env:"LINK_LANGUAGE_HEURISTIC"`
}

// Defaults returns a Config with every optional setting filled in.
func Defaults() *Config {
	return &Config{
		ServerPort:       "8080",
		LogLevel:         "info",
		CatalogURL:       catalog.DefaultBaseURL,
		UserAgent:        "StationVault/1.0",
		Timeout:          60 * time.Second,
		FetchConcurrency: 4,
		MaxRetries:       2,
	}
}

// Load builds config from environment variables. .env.local and .env in the
// working directory are read first; variables already set take precedence.
func Load() (*Config, error) {
	for _, name := range []string{".env.local", ".env"} {
		_ = godotenv.Load(name) // missing files are fine
	}

	c := Defaults()
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.RedisURL = os.Getenv("REDIS_URL")
	c.CacheNamespace = os.Getenv("CACHE_NAMESPACE")
	setString(&c.ServerPort, "SERVER_PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.CatalogURL, "CATALOG_URL")
	setString(&c.UserAgent, "FETCHER_USER_AGENT")

	if s := os.Getenv("FETCHER_TIMEOUT"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid FETCHER_TIMEOUT: %s", s)
		}
		c.Timeout = d
	}
	if err := setInt(&c.FetchConcurrency, "FETCH_CONCURRENCY", 1); err != nil {
		return nil, err
	}
	if err := setInt(&c.MaxRetries, "IMPORT_MAX_RETRIES", 0); err != nil {
		return nil, err
	}
	if err := setBool(&c.ImportOnStart, "IMPORT_ON_START"); err != nil {
		return nil, err
	}
	if err := setBool(&c.LanguageHeuristic, "LINK_LANGUAGE_HEURISTIC"); err != nil {
		return nil, err
	}
	if s := os.Getenv("ENABLE_ENDPOINTS"); s != "" {
		eps, err := ParseEndpoints(s)
		if err != nil {
			return nil, err
		}
		c.EnableEndpoints = eps
	}
	return c, nil
}

// RequireDatabase fails when no DATABASE_URL is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	return nil
}

// Endpoints returns the endpoints an import fetches: the defaults plus the
// enabled optional ones, without duplicates.
func (c *Config) Endpoints() []catalog.Endpoint {
	out := append([]catalog.Endpoint(nil), catalog.DefaultEndpoints...)
	seen := make(map[catalog.Endpoint]bool, len(out))
	for _, e := range out {
		seen[e] = true
	}
	for _, e := range c.EnableEndpoints {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// Enabled reports whether the optional endpoint e was switched on.
func (c *Config) Enabled(e catalog.Endpoint) bool {
	for _, x := range c.EnableEndpoints {
		if x == e {
			return true
		}
	}
	return false
}

// ParseEndpoints parses a comma separated list of optional endpoint names.
func ParseEndpoints(s string) ([]catalog.Endpoint, error) {
	var out []catalog.Endpoint
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		e, ok := catalog.ParseEndpoint(name)
		if !ok || !e.Optional() {
			return nil, fmt.Errorf("invalid ENABLE_ENDPOINTS entry: %q", name)
		}
		out = append(out, e)
	}
	return out, nil
}

func setString(dst *string, key string) {
	if s := os.Getenv(key); s != "" {
		*dst = s
	}
}

func setInt(dst *int, key string, min int) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min {
		return fmt.Errorf("invalid %s: %s", key, s)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %s", key, s)
	}
	*dst = b
	return nil
}
