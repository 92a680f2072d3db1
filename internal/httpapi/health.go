package httpapi

import (
	"net/http"
	"sync/atomic"
)

// HealthHandler serves liveness and readiness. Readiness flips on once
// the Temporal worker is running and flips off during shutdown.
type HealthHandler struct {
	ready atomic.Bool
}

// NewHealthHandler starts in the not-ready state.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// SetReady updates the readiness state.
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// RegisterRoutes attaches /healthz and /readyz to mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !h.ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
}
