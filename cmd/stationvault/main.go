package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/voyagen/stationvault/internal/cache"
	"github.com/voyagen/stationvault/internal/catalog"
	"github.com/voyagen/stationvault/internal/config"
	"github.com/voyagen/stationvault/internal/logging"
	"github.com/voyagen/stationvault/internal/logo"
	"github.com/voyagen/stationvault/internal/server"
	"github.com/voyagen/stationvault/internal/service"
	"github.com/voyagen/stationvault/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use env")
	memory := flag.Bool("memory", false, "Keep everything in process memory instead of Postgres")
	importOnly := flag.Bool("import", false, "Run one catalog import and exit")
	migrationsDir := flag.String("migrations", "", "Migrations directory (default: ./migrations or next to the binary)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *memory, *importOnly, *migrationsDir); err != nil {
		log.Error("fatal", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, memory, importOnly bool, migrationsDir string) error {
	var appStore store.Store
	if memory {
		appStore = store.NewMemory()
		log.Info("using in-memory store")
	} else {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		version, err := store.RunMigrations(cfg.DatabaseURL, "file://"+resolveMigrations(migrationsDir))
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("schema up to date", zap.Uint("version", version))

		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		defer pg.Close()
		appStore = pg
	}

	// Redis is optional: it adds the read cache, the cross-replica import
	// lock and the import queue.
	var rds *cache.Redis
	if cfg.RedisURL != "" {
		r, err := cache.New(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer r.Close()
		if err := r.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		rds = r
		if cfg.CacheNamespace != "" {
			rds = r.WithNamespace(cfg.CacheNamespace)
		}
		appStore = store.NewCachedStore(appStore, rds, log)
		log.Info("redis connected (caching enabled)")
	} else {
		log.Info("redis disabled (REDIS_URL not set)")
	}

	client := catalog.New(cfg.CatalogURL,
		catalog.WithUserAgent(cfg.UserAgent),
		catalog.WithTimeout(cfg.Timeout),
		catalog.WithLogger(log),
	)
	log.Info("catalog source", zap.String("url", client.BaseURL()))

	opts := []service.ImporterOption{
		service.WithEndpoints(cfg.Endpoints()),
		service.WithConcurrency(cfg.FetchConcurrency),
		service.WithRetries(cfg.MaxRetries, 0),
		service.WithLanguageHeuristic(cfg.LanguageHeuristic),
		service.WithLogger(log),
		service.WithBackground(ctx),
	}
	if rds != nil {
		opts = append(opts, service.WithRedis(rds, cache.DefaultQueue))
	}
	importer := service.NewImporter(client, appStore, opts...)

	if importOnly {
		report, err := importer.Run(ctx)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		log.Info("import finished",
			zap.Int("stations", report.Run.Stations),
			zap.Int("streams", report.Run.Streams),
			zap.Int("countries", report.Run.Countries))
		return nil
	}

	if rds != nil {
		go func() {
			if err := importer.RunWorker(ctx); err != nil {
				log.Error("import worker", zap.Error(err))
			}
		}()
	}

	if cfg.ImportOnStart {
		if _, err := importer.Trigger(ctx, "startup"); err != nil && !errors.Is(err, service.ErrImportInProgress) {
			return fmt.Errorf("import on start: %w", err)
		}
	}

	logos := logo.NewService(appStore,
		logo.WithUserAgent(cfg.UserAgent),
		logo.WithLogger(log),
	)

	srv := server.New(appStore, logos, importer, cfg.ServerPort, log)
	return srv.ListenAndServe(ctx)
}

// resolveMigrations returns an absolute migrations directory. Without an
// explicit path it tries ./migrations, then the directory next to the binary.
func resolveMigrations(dir string) string {
	if dir == "" {
		dir = "migrations"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	if _, err := os.Stat(abs); err != nil {
		if exe, e := os.Executable(); e == nil {
			return filepath.Join(filepath.Dir(exe), "migrations")
		}
	}
	return abs
}
