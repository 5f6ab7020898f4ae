package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/voyagen/stationvault/internal/logo"
	"github.com/voyagen/stationvault/internal/service"
	"github.com/voyagen/stationvault/internal/store"
)

// Importer is the part of *service.Importer the API drives.
type Importer interface {
	Trigger(ctx context.Context, requestedBy string) (queued bool, err error)
	Status() service.Status
	Pending(ctx context.Context) (int64, error)
}

// Server holds dependencies for the HTTP API.
type Server struct {
	store    store.Store
	logos    logo.Provider
	importer Importer
	port     string
	log      *zap.Logger
	mux      *http.ServeMux
}

// New creates a Server and registers routes. log may be nil.
func New(s store.Store, logos logo.Provider, importer Importer, port string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &Server{store: s, logos: logos, importer: importer, port: port, log: log, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Stations
	s.mux.HandleFunc("GET /api/stations", s.handleListStations)
	s.mux.HandleFunc("GET /api/stations/{id}", s.handleGetStation)
	s.mux.HandleFunc("DELETE /api/stations/{id}", s.handleRemoveStation)
	s.mux.HandleFunc("PATCH /api/stations/{id}/favourite", s.handleSetFavourite)
	s.mux.HandleFunc("GET /api/stations/{id}/logo", s.handleStationLogo)
	s.mux.HandleFunc("PUT /api/favourites", s.handleUpsertFavourite)

	// Reference data
	s.mux.HandleFunc("GET /api/countries", s.handleListCountries)

	// Import
	s.mux.HandleFunc("POST /api/import", s.handleStartImport)
	s.mux.HandleFunc("GET /api/import/status", s.handleImportStatus)

	// Docs
	s.mux.HandleFunc("GET /api/docs", handleSwaggerUI)
	s.mux.HandleFunc("GET /api/docs/openapi.yaml", handleOpenAPISpec)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the API wrapped in the CORS and logging middleware.
func (s *Server) Handler() http.Handler {
	return withCORS(withLogging(s.log, s))
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.port
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("server shutdown", zap.Error(err))
		}
	}()

	s.log.Info("listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}
