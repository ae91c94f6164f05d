// Package tracking accepts driver location updates, persists them and
// publishes them to viewers.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/internal/progress"
	"github.com/campusride/bustrack/models"
	"github.com/campusride/bustrack/pkg/log"
)

// Store is the persistence the ingest service needs.
type Store interface {
	AssignedUnit(ctx context.Context, driverID string) (string, error)
	SetPosition(ctx context.Context, unitID string, lat, lng float64) (*models.Position, error)
	GetWaypoints(ctx context.Context, unitID string) ([]models.Waypoint, error)
	RecordArrival(ctx context.Context, unitID string, seq int, at time.Time) (bool, error)
}

// Publisher delivers a position event to the unit's viewers.
type Publisher interface {
	PublishPosition(ctx context.Context, ev models.PositionEvent) error
}

// Metrics is the subset of the collector the service reports to.
type Metrics interface {
	IngestObserved(result string, d time.Duration)
	ArrivalRecorded()
}

// IngestRequest is the body a driver device sends.
type IngestRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

// IngestResult is the stored position and the unit it belongs to.
type IngestResult struct {
	UnitID string `json:"unitId"`
	models.Position
}

// Config tunes the service.
type Config struct {
	// StoreTimeout bounds each persistence call
	StoreTimeout time.Duration

	// ProximityThresholdKm is how close a position must be to a waypoint to
	// count as an arrival
	ProximityThresholdKm float64
}

// Service implements location ingest.
type Service struct {
	store    Store
	pub      Publisher
	cfg      Config
	validate *validator.Validate
	log      log.Logger
	metrics  Metrics
}

// NewService creates an ingest service. metrics may be nil.
func NewService(store Store, pub Publisher, cfg Config, logger log.Logger, metrics Metrics) *Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Service{
		store:    store,
		pub:      pub,
		cfg:      cfg,
		validate: validator.New(),
		log:      logger,
		metrics:  metrics,
	}
}

// Ingest stores the driver's latest position and publishes it exactly once.
// Nothing is published when validation or the assignment lookup fails.
func (s *Service) Ingest(ctx context.Context, driverID string, req IngestRequest) (res *IngestResult, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.IngestObserved(resultLabel(err), time.Since(start))
		}
	}()

	if driverID == "" {
		return nil, errs.NewUnauthorized("No token provided")
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	lat, lng := *req.Latitude, *req.Longitude

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	unitID, err := s.store.AssignedUnit(storeCtx, driverID)
	if err != nil {
		return nil, s.storeError(err, "failed to resolve driver assignment", "driver", driverID)
	}

	pos, err := s.store.SetPosition(storeCtx, unitID, lat, lng)
	if err != nil {
		return nil, s.storeError(err, "failed to store position", "unitId", unitID)
	}

	ev := models.PositionEvent{UnitID: unitID, Latitude: pos.Latitude, Longitude: pos.Longitude, Timestamp: pos.Timestamp}
	if err := s.pub.PublishPosition(ctx, ev); err != nil {
		s.log.Error(err, "failed to publish position", "unitId", unitID)
	}

	s.recordArrivals(ctx, unitID, pos)

	s.log.Debug("position ingested", "unitId", unitID, "driver", driverID, "lat", lat, "lng", lng)
	return &IngestResult{UnitID: unitID, Position: *pos}, nil
}

func (s *Service) validateRequest(req IngestRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errs.NewValidation(describe(verrs[0]))
		}
		return errs.NewValidation("invalid location payload")
	}
	if err := models.ValidateCoordinates(*req.Latitude, *req.Longitude); err != nil {
		return errs.NewValidation(err.Error())
	}
	return nil
}

func describe(fe validator.FieldError) string {
	name := "latitude"
	bound := "between -90 and 90"
	if fe.Field() == "Longitude" {
		name = "longitude"
		bound = "between -180 and 180"
	}
	if fe.Tag() == "required" {
		return name + " is required"
	}
	return fmt.Sprintf("%s out of range: must be %s", name, bound)
}

// storeError logs internal failures and classifies them. Already classified
// errors (not found) pass through unchanged.
func (s *Service) storeError(err error, msg string, keysAndValues ...any) error {
	if errs.KindOf(err) != errs.Internal {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		msg += ": timed out"
	}
	s.log.Error(err, msg, keysAndValues...)
	return errs.E(errs.Internal, msg, err)
}

// recordArrivals stores first arrivals at waypoints within the proximity
// threshold. Failures are logged and never fail the ingest.
func (s *Service) recordArrivals(ctx context.Context, unitID string, pos *models.Position) {
	if s.cfg.ProximityThresholdKm <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	wps, err := s.store.GetWaypoints(ctx, unitID)
	if err != nil {
		s.log.Warn("arrival check skipped", "unitId", unitID, "error", err)
		return
	}

	for _, wp := range progress.WaypointsWithin(wps, pos.Latitude, pos.Longitude, s.cfg.ProximityThresholdKm) {
		inserted, err := s.store.RecordArrival(ctx, unitID, wp.Seq, pos.Timestamp)
		if err != nil {
			s.log.Warn("failed to record arrival", "unitId", unitID, "stop", wp.Name, "error", err)
			continue
		}
		if inserted {
			s.log.Info("stop reached", "unitId", unitID, "stop", wp.Name)
			if s.metrics != nil {
				s.metrics.ArrivalRecorded()
			}
		}
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return errs.KindOf(err).String()
}
