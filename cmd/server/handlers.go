package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/liftlab/adpilot/internal/assign"
	"github.com/liftlab/adpilot/internal/brand"
	"github.com/liftlab/adpilot/internal/experiment"
	"github.com/liftlab/adpilot/internal/optimizer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/assign", s.handleAssign)
	mux.HandleFunc("POST /v1/events", s.handleEvent)

	mux.HandleFunc("POST /v1/experiments", s.handleCreateExperiment)
	mux.HandleFunc("GET /v1/experiments", s.handleListExperiments)
	mux.HandleFunc("GET /v1/experiments/{id}", s.handleGetExperiment)
	mux.HandleFunc("PATCH /v1/experiments/{id}", s.handleUpdateExperiment)
	mux.HandleFunc("DELETE /v1/experiments/{id}", s.handleDeleteExperiment)
	mux.HandleFunc("POST /v1/experiments/{id}/start", s.handleStartExperiment)
	mux.HandleFunc("POST /v1/experiments/{id}/pause", s.handlePauseExperiment)
	mux.HandleFunc("POST /v1/experiments/{id}/complete", s.handleCompleteExperiment)
	mux.HandleFunc("POST /v1/experiments/{id}/evaluate", s.handleEvaluate)

	mux.HandleFunc("GET /v1/guardrail/status", s.handleGuardrailStatus)
	mux.HandleFunc("POST /v1/guardrail/reset", s.handleGuardrailReset)
	mux.HandleFunc("GET /v1/killswitch", s.handleKillSwitchGet)
	mux.HandleFunc("POST /v1/killswitch", s.handleKillSwitchSet)

	mux.Handle("/metrics", s.metricsHandler())
	mux.HandleFunc("/healthz", handleHealth)

	return mux
}

// brandID resolves the tenant for a request. Single-tenant deployments
// omit the header and land on the default brand.
func brandID(r *http.Request) string {
	if id := r.Header.Get("X-Brand-ID"); id != "" {
		return id
	}
	return "default"
}

type assignRequest struct {
	ExperimentID string `json:"experiment_id"`
	SubjectID    string `json:"subject_id"`
}

type assignResponse struct {
	ExperimentID      string            `json:"experiment_id"`
	VariantID         string            `json:"variant_id"`
	VariantName       string            `json:"variant_name"`
	ContentVariations map[string]string `json:"content_variations,omitempty"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.ExperimentID == "" || req.SubjectID == "" {
		http.Error(w, "experiment_id and subject_id are required", http.StatusBadRequest)
		return
	}

	bid := brandID(r)
	exp := s.expCache.Get(bid, req.ExperimentID)
	if exp != nil {
		s.metrics.ExperimentCacheHits.Inc()
	} else {
		s.metrics.ExperimentCacheMisses.Inc()
		var err error
		exp, err = s.repo.Get(r.Context(), bid, req.ExperimentID)
		if err != nil {
			s.writeRepoError(w, err)
			return
		}
		s.expCache.Put(exp)
	}

	if exp.Status != experiment.StatusRunning {
		http.Error(w, "Experiment is not running", http.StatusConflict)
		return
	}

	idx := assign.Assign(req.SubjectID, exp.ID, len(exp.Variants))
	v := exp.Variants[idx]

	s.metrics.AssignTotal.Inc()
	writeJSON(w, http.StatusOK, assignResponse{
		ExperimentID:      exp.ID,
		VariantID:         v.ID,
		VariantName:       v.Name,
		ContentVariations: v.ContentVariations,
	})
}

type eventRequest struct {
	ExperimentID string  `json:"experiment_id"`
	VariantID    string  `json:"variant_id"`
	EventType    string  `json:"event_type"`
	Revenue      float64 `json:"revenue,omitempty"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	bid := brandID(r)
	if err := s.brands.Allow(r.Context(), bid); err != nil {
		if errors.Is(err, brand.ErrQuotaExceeded) {
			s.metrics.QuotaExceeded.WithLabelValues(bid).Inc()
			w.Header().Set("Retry-After", "10")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		http.Error(w, "Unknown brand", http.StatusForbidden)
		return
	}

	event := experiment.EventType(req.EventType)
	err := s.repo.RecordEvent(r.Context(), bid, req.ExperimentID, req.VariantID, event, req.Revenue)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}

	s.metrics.EventsTotal.WithLabelValues(req.EventType).Inc()
	s.metrics.EventsByBrand.WithLabelValues(bid).Inc()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var spec experiment.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	exp, err := s.repo.Create(r.Context(), brandID(r), spec)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	status := experiment.Status(r.URL.Query().Get("status"))
	exps, err := s.repo.List(r.Context(), brandID(r), status)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"experiments": exps})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := s.repo.Get(r.Context(), brandID(r), r.PathValue("id"))
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleUpdateExperiment(w http.ResponseWriter, r *http.Request) {
	var patch experiment.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	bid := brandID(r)
	exp, err := s.repo.Update(r.Context(), bid, r.PathValue("id"), patch)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	s.expCache.Invalidate(bid, exp.ID)
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	bid := brandID(r)
	id := r.PathValue("id")
	if err := s.repo.Delete(r.Context(), bid, id); err != nil {
		s.writeRepoError(w, err)
		return
	}
	s.expCache.Invalidate(bid, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.repo.Start)
}

func (s *Server) handlePauseExperiment(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.repo.Pause)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, brandID, experimentID string) error) {
	bid := brandID(r)
	id := r.PathValue("id")
	if err := op(r.Context(), bid, id); err != nil {
		s.writeRepoError(w, err)
		return
	}
	s.expCache.Invalidate(bid, id)

	exp, err := s.repo.Get(r.Context(), bid, id)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

type completeRequest struct {
	WinnerVariantID string  `json:"winner_variant_id"`
	Significance    float64 `json:"significance,omitempty"`
}

func (s *Server) handleCompleteExperiment(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	bid := brandID(r)
	id := r.PathValue("id")
	if err := s.repo.Complete(r.Context(), bid, id, req.WinnerVariantID, req.Significance); err != nil {
		s.writeRepoError(w, err)
		return
	}
	s.expCache.Invalidate(bid, id)

	exp, err := s.repo.Get(r.Context(), bid, id)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	bid := brandID(r)
	id := r.PathValue("id")

	// A per-request dry run stacks on top of the global kill switch.
	kill := s.killSwitch.Load() || r.URL.Query().Get("kill_switch") == "true"

	decisions, err := s.optimizer.Evaluate(r.Context(), bid, id, kill)
	if err != nil {
		if errors.Is(err, optimizer.ErrAutoOptimizeDisabled) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.writeRepoError(w, err)
		return
	}
	s.expCache.Invalidate(bid, id)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kill_switch": kill,
		"decisions":   decisions,
	})
}

func (s *Server) handleGuardrailStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guard.Status())
}

func (s *Server) handleGuardrailReset(w http.ResponseWriter, r *http.Request) {
	s.guard.Reset()
	log.Println("Guardrail circuit breaker manually reset")
	writeJSON(w, http.StatusOK, s.guard.Status())
}

func (s *Server) handleKillSwitchGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.killSwitch.Load()})
}

func (s *Server) handleKillSwitchSet(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("enabled") {
	case "true":
		s.killSwitch.Store(true)
	case "false":
		s.killSwitch.Store(false)
	default:
		http.Error(w, "enabled must be true or false", http.StatusBadRequest)
		return
	}
	log.Printf("Auto-optimize kill switch set to %v", s.killSwitch.Load())
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.killSwitch.Load()})
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.Handler()

	if !s.metricsAuth.enabled {
		return handler
	}

	// Wrap with Basic Auth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.metricsAuth.user || pass != s.metricsAuth.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// writeRepoError maps repository errors to HTTP status codes.
func (s *Server) writeRepoError(w http.ResponseWriter, err error) {
	var verr *experiment.ValidationError
	switch {
	case errors.Is(err, experiment.ErrNotFound), errors.Is(err, experiment.ErrVariantNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, experiment.ErrPreconditionFailed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusBadRequest)
	default:
		log.Printf("Repository error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
