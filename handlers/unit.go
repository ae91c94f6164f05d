package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/models"
	"github.com/campusride/bustrack/pkg/log"
)

// UnitRepository defines the interface for unit reads
type UnitRepository interface {
	GetUnit(ctx context.Context, unitID string) (*models.TrackedUnit, error)
	ListUnits(ctx context.Context, availableOnly bool) ([]models.TrackedUnit, error)
}

// UnitHandler serves unit details to viewers
type UnitHandler struct {
	repo    UnitRepository
	timeout time.Duration
	log     log.Logger
}

// NewUnitHandler creates a new handler with the given repository
func NewUnitHandler(repo UnitRepository, timeout time.Duration, logger log.Logger) *UnitHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &UnitHandler{repo: repo, timeout: timeout, log: logger}
}

// TodayResponse is the JSON response structure for GET /api/bus/today
type TodayResponse struct {
	Units       []models.TrackedUnit `json:"units"`
	Count       int                  `json:"count"`
	GeneratedAt time.Time            `json:"generatedAt"`
}

// GetUnit handles GET /api/bus/{id}
// Returns the unit with its ordered waypoints, arrivals and position
func (h *UnitHandler) GetUnit(w http.ResponseWriter, r *http.Request) {
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

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, unit)
}

// GetToday handles GET /api/bus/today
// Returns the units running today with their current positions
func (h *UnitHandler) GetToday(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	units, err := h.repo.ListUnits(ctx, true)
	if err != nil {
		writeError(w, h.log, errs.Wrap(err, "failed to retrieve units"), nil)
		return
	}

	// Positions change every few seconds; keep caches short
	w.Header().Set("Cache-Control", "public, max-age=5")
	writeJSON(w, http.StatusOK, TodayResponse{
		Units:       units,
		Count:       len(units),
		GeneratedAt: time.Now().UTC(),
	})
}
