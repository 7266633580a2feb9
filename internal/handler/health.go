package handler

import (
	"net/http"
	"time"
)

type ReadyChecker interface {
	IsReady() bool
}

type SourcesReadiness interface {
	Ready() bool
}

type HealthHandler struct {
	ingestor ReadyChecker
	sources  SourcesReadiness
}

func NewHealthHandler(ing ReadyChecker, sources SourcesReadiness) *HealthHandler {
	return &HealthHandler{
		ingestor: ing,
		sources:  sources,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready        bool      `json:"ready"`
	IngestorUp   bool      `json:"ingestorUp"`
	SourcesReady bool      `json:"sourcesReady"`
	ServerTime   time.Time `json:"serverTime"`
}

// Readyz reports ready once the frame loop has run and every route provider
// has data.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ingestorUp := h.ingestor.IsReady()
	sourcesReady := h.sources.Ready()
	ready := ingestorUp && sourcesReady

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, ReadyResponse{
		Ready:        ready,
		IngestorUp:   ingestorUp,
		SourcesReady: sourcesReady,
		ServerTime:   time.Now(),
	})
}
