package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks storage connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// HubStats reports realtime channel occupancy
type HubStats interface {
	ClientCount() int
}

// HealthHandler handles health checks
type HealthHandler struct {
	db  Pinger
	hub HubStats
}

// NewHealthHandler creates a new handler. hub may be nil.
func NewHealthHandler(db Pinger, hub HubStats) *HealthHandler {
	return &HealthHandler{db: db, hub: hub}
}

// GetHealth handles GET /health with a database connectivity test
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]interface{}{
		"timestamp": time.Now().UTC(),
	}
	if h.hub != nil {
		body["viewers"] = h.hub.ClientCount()
	}

	if err := h.db.Ping(ctx); err != nil {
		body["status"] = "error"
		body["database"] = "disconnected"
		body["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	body["status"] = "ok"
	body["database"] = "connected"
	writeJSON(w, http.StatusOK, body)
}

// GetHealthz handles GET /healthz
func (h *HealthHandler) GetHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
