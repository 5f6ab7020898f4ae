package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL       string   `yaml:"database_url"`
	RedisURL          string   `yaml:"redis_url"`
	CacheNamespace    string   `yaml:"cache_namespace"`
	ServerPort        string   `yaml:"server_port"`
	LogLevel          string   `yaml:"log_level"`
	CatalogURL        string   `yaml:"catalog_url"`
	UserAgent         string   `yaml:"user_agent"`
	Timeout           string   `yaml:"timeout"`
	FetchConcurrency  int      `yaml:"fetch_concurrency"`
	MaxRetries        *int     `yaml:"import_max_retries"`
	ImportOnStart     bool     `yaml:"import_on_start"`
	EnableEndpoints   []string `yaml:"enable_endpoints"`
	LanguageHeuristic bool     `yaml:"link_language_heuristic"`
}

// LoadFromFile loads config from a YAML file. Unset keys keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	c := Defaults()
	c.DatabaseURL = f.DatabaseURL
	c.RedisURL = f.RedisURL
	c.CacheNamespace = f.CacheNamespace
	c.ImportOnStart = f.ImportOnStart
	c.LanguageHeuristic = f.LanguageHeuristic
	for dst, v := range map[*string]string{
		&c.ServerPort: f.ServerPort,
		&c.LogLevel:   f.LogLevel,
		&c.CatalogURL: f.CatalogURL,
		&c.UserAgent:  f.UserAgent,
	} {
		if v != "" {
			*dst = v
		}
	}
	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid timeout: %s", f.Timeout)
		}
		c.Timeout = d
	}
	if f.FetchConcurrency > 0 {
		c.FetchConcurrency = f.FetchConcurrency
	}
	if f.MaxRetries != nil {
		if *f.MaxRetries < 0 {
			return nil, fmt.Errorf("invalid import_max_retries: %d", *f.MaxRetries)
		}
		c.MaxRetries = *f.MaxRetries
	}
	for _, name := range f.EnableEndpoints {
		eps, err := ParseEndpoints(name)
		if err != nil {
			return nil, err
		}
		c.EnableEndpoints = append(c.EnableEndpoints, eps...)
	}
	return c, nil
}
