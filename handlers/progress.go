package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/internal/progress"
	"github.com/campusride/bustrack/models"
	"github.com/campusride/bustrack/pkg/log"
)

// ProgressHandler derives route progress on the server for thin clients
type ProgressHandler struct {
	repo    UnitRepository
	cfg     progress.Config
	now     func() time.Time
	timeout time.Duration
	log     log.Logger
}

// NewProgressHandler creates a new handler
func NewProgressHandler(repo UnitRepository, cfg progress.Config, timeout time.Duration, logger log.Logger) *ProgressHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProgressHandler{repo: repo, cfg: cfg, now: time.Now, timeout: timeout, log: logger}
}

// ProgressResponse is the JSON response structure for GET /api/bus/{id}/progress
type ProgressResponse struct {
	UnitID    string               `json:"unitId"`
	BusNumber string               `json:"busNumber"`
	RouteName string               `json:"routeName,omitempty"`
	Position  *models.Position     `json:"position"`
	Progress  models.RouteProgress `json:"progress"`
}

// GetProgress handles GET /api/bus/{id}/progress
func (h *ProgressHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	unit, err := h.repo.GetUnit(ctx, unitID)
	if err != nil {
		writeError(w, h.log, errs.Wrap(err, "failed to retrieve unit"), map[string]interface{}{
			"unitId": unitID,
		})
		return
	}

	p := progress.Derive(h.cfg, progress.InputForUnit(unit, h.now()))

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, ProgressResponse{
		UnitID:    unit.UnitID,
		BusNumber: unit.BusNumber,
		RouteName: unit.RouteName,
		Position:  unit.Position,
		Progress:  p,
	})
}
