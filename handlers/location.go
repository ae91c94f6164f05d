package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/internal/tracking"
	"github.com/campusride/bustrack/models"
	"github.com/campusride/bustrack/pkg/log"
)

const maxLocationBody = 1 << 12

// Ingester stores a driver's position
type Ingester interface {
	Ingest(ctx context.Context, driverID string, req tracking.IngestRequest) (*tracking.IngestResult, error)
}

// PositionRepository defines the point lookup
type PositionRepository interface {
	GetPosition(ctx context.Context, unitID string) (*models.Position, error)
}

// LocationHandler handles driver ingest and viewer point lookups
type LocationHandler struct {
	ingest  Ingester
	repo    PositionRepository
	timeout time.Duration
	log     log.Logger
}

// NewLocationHandler creates a new handler
func NewLocationHandler(ingest Ingester, repo PositionRepository, timeout time.Duration, logger log.Logger) *LocationHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LocationHandler{ingest: ingest, repo: repo, timeout: timeout, log: logger}
}

// PostLocation handles POST /api/bus/location
// Stores the calling driver's position and echoes it back
func (h *LocationHandler) PostLocation(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req tracking.IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLocationBody)).Decode(&req); err != nil {
		writeError(w, h.log, errs.NewValidation("invalid request body"), nil)
		return
	}

	res, err := h.ingest.Ingest(r.Context(), id.UserID, req)
	if err != nil {
		writeError(w, h.log, err, nil)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, res)
}

// GetLocation handles GET /api/bus/{id}/location
// Returns the unit's position, null when none was recorded since the last reset
func (h *LocationHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	pos, err := h.repo.GetPosition(ctx, unitID)
	if err != nil {
		writeError(w, h.log, errs.Wrap(err, "failed to retrieve position"), map[string]interface{}{
			"unitId": unitID,
		})
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, models.UnitPosition{UnitID: unitID, Position: pos})
}
