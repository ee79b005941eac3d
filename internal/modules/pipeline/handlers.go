package pipeline

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handlers provides HTTP handlers for pipeline runs
type Handlers struct {
	service *Service
	runs    *RunStore
	log     zerolog.Logger
}

// NewHandlers creates a new pipeline handlers instance
func NewHandlers(service *Service, runs *RunStore, log zerolog.Logger) *Handlers {
	return &Handlers{
		service: service,
		runs:    runs,
		log:     log.With().Str("module", "pipeline_handlers").Logger(),
	}
}

// RegisterRoutes registers all pipeline routes
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/pipeline", func(r chi.Router) {
		r.Post("/run", h.TriggerRun)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
	})
}

// TriggerRun executes the configured pipeline synchronously and returns the
// full run record. Deterministic validation failures (bad constraints, thin
// data) map to 422; the failed run record is still returned so the caller
// sees any artifacts produced before the failure.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Run(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Pipeline run failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(run)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListRuns returns recent run summaries, newest first. Optional ?limit=N.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	summaries, err := h.runs.List(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []RunSummary{}
	}

	writeJSON(w, http.StatusOK, summaries)
}

// GetRun returns one full run record by id.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.runs.Get(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to load run")
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
