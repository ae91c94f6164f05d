package repository

import (
	"context"
	"time"

	"github.com/campusride/bustrack/models"
)

// Caller-facing messages for lookups that find nothing.
const (
	MsgNoAssignment = "no unit assigned to this driver"
	MsgUnitNotFound = "unit not found"
)

// Store is implemented by SQLiteStore and PostgresStore.
type Store interface {
	Ping(ctx context.Context) error
	AssignedUnit(ctx context.Context, driverID string) (string, error)
	SetPosition(ctx context.Context, unitID string, lat, lng float64) (*models.Position, error)
	GetPosition(ctx context.Context, unitID string) (*models.Position, error)
	ClearAll(ctx context.Context) (int64, error)
	RecordArrival(ctx context.Context, unitID string, seq int, at time.Time) (bool, error)
	GetWaypoints(ctx context.Context, unitID string) ([]models.Waypoint, error)
	GetArrivals(ctx context.Context, unitID string) (map[int]time.Time, error)
	GetUnit(ctx context.Context, unitID string) (*models.TrackedUnit, error)
	ListUnits(ctx context.Context, availableOnly bool) ([]models.TrackedUnit, error)
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
