package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/voyagen/stationvault/internal/models"
	"github.com/voyagen/stationvault/internal/service"
	"github.com/voyagen/stationvault/internal/store"
)

// stationView exposes the locally owned favourite flag next to the catalog
// fields.
type stationView struct {
	*models.Station
	Favourite bool `json:"favourite"`
}

func viewOf(st *models.Station) stationView {
	return stationView{Station: st, Favourite: st.Favourite}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.CountStations(r.Context())
	if err != nil {
		writeErr(s.log, w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, map[string]any{"status": "ok", "stations": n})
}

// --- station handlers ---

func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.StationFilter{
		Country:    strings.ToUpper(strings.TrimSpace(q.Get("country"))),
		Category:   strings.ToLower(strings.TrimSpace(q.Get("category"))),
		NamePrefix: strings.TrimSpace(q.Get("prefix")),
		Search:     strings.TrimSpace(q.Get("search")),
	}

	if v := q.Get("favourite"); v != "" {
		switch v {
		case "true", "1":
			fav := true
			filter.Favourite = &fav
		case "false", "0":
			fav := false
			filter.Favourite = &fav
		default:
			writeErr(s.log, w, http.StatusBadRequest, fmt.Errorf("invalid favourite: %s (use true or false)", v))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(s.log, w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", v))
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(s.log, w, http.StatusBadRequest, fmt.Errorf("invalid offset: %s", v))
			return
		}
		filter.Offset = n
	}

	// Response reflects the limit actually applied.
	filter = filter.Normalize()

	stations, total, err := s.store.ListStations(r.Context(), filter)
	if err != nil {
		writeErr(s.log, w, http.StatusInternalServerError, err)
		return
	}
	views := make([]stationView, len(stations))
	for i, st := range stations {
		views[i] = viewOf(st)
	}

	writeJSON(s.log, w, http.StatusOK, map[string]any{
		"stations": views,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.store.GetStation(r.Context(), id)
	if err != nil {
		s.storeErr(w, id, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, viewOf(st))
}

func (s *Server) handleRemoveStation(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveStation(r.Context(), r.PathValue("id")); err != nil {
		writeErr(s.log, w, http.StatusInternalServerError, err)
		return
	}
	writeNoContent(w)
}

type setFavouriteRequest struct {
	Favourite *bool `json:"favourite"`
}

func (s *Server) handleSetFavourite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req setFavouriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(s.log, w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.Favourite == nil {
		writeErr(s.log, w, http.StatusBadRequest, errors.New("favourite is required"))
		return
	}

	if err := s.store.SetFavourite(r.Context(), id, *req.Favourite); err != nil {
		s.storeErr(w, id, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, map[string]any{
		"station_id": id,
		"favourite":  *req.Favourite,
	})
}

type upsertFavouriteRequest struct {
	Station   *models.Station `json:"station"`
	Favourite bool            `json:"favourite"`
}

// handleUpsertFavourite stores the favourite flag for a station the client
// already holds, inserting the station if it is not stored yet.
func (s *Server) handleUpsertFavourite(w http.ResponseWriter, r *http.Request) {
	var req upsertFavouriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(s.log, w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.Station == nil || req.Station.ID == "" {
		writeErr(s.log, w, http.StatusBadRequest, errors.New("station.id is required"))
		return
	}
	st := req.Station
	st.Favourite = req.Favourite
	st.AttachOwned()

	if err := s.store.UpsertFavouriteState(r.Context(), st); err != nil {
		writeErr(s.log, w, http.StatusInternalServerError, err)
		return
	}
	stored, err := s.store.GetStation(r.Context(), st.ID)
	if err != nil {
		s.storeErr(w, st.ID, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, viewOf(stored))
}

func (s *Server) handleStationLogo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.store.GetStation(r.Context(), id)
	if err != nil {
		s.storeErr(w, id, err)
		return
	}
	img := s.logos.StationImage(r.Context(), st)
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("X-Logo-Source", string(img.Source))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

// --- reference handlers ---

func (s *Server) handleListCountries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CountryFilter{NamePrefix: strings.TrimSpace(q.Get("prefix"))}
	if v := q.Get("with_stations"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeErr(s.log, w, http.StatusBadRequest, fmt.Errorf("invalid with_stations: %s (use true or false)", v))
			return
		}
		filter.WithStations = b
	}

	countries, err := s.store.ListCountries(r.Context(), filter)
	if err != nil {
		writeErr(s.log, w, http.StatusInternalServerError, err)
		return
	}
	if countries == nil {
		countries = []*models.Country{}
	}
	writeJSON(s.log, w, http.StatusOK, countries)
}

// --- import handlers ---

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	queued, err := s.importer.Trigger(r.Context(), r.RemoteAddr)
	if err != nil {
		if errors.Is(err, service.ErrImportInProgress) {
			writeErr(s.log, w, http.StatusConflict, err)
			return
		}
		writeErr(s.log, w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(s.log, w, http.StatusAccepted, map[string]any{"queued": queued})
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	status := s.importer.Status()
	resp := map[string]any{
		"status": status,
		"active": status.State != models.ImportIdle && !status.State.Terminal(),
	}
	pending, err := s.importer.Pending(r.Context())
	if err != nil {
		s.log.Warn("import queue length unavailable", zap.Error(err))
	} else {
		resp["pending_jobs"] = pending
	}

	last, err := s.store.LastImport(r.Context())
	switch {
	case err == nil:
		resp["last_run"] = last
	case !errors.Is(err, store.ErrNotFound):
		writeErr(s.log, w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, resp)
}

func (s *Server) storeErr(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeErr(s.log, w, http.StatusNotFound, fmt.Errorf("station %s not found", id))
		return
	}
	writeErr(s.log, w, http.StatusInternalServerError, err)
}
