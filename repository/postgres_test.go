package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/campusride/bustrack/internal/db"
	"github.com/campusride/bustrack/internal/errs"
)

// Integration test against a real PostgreSQL instance.
// Skipped unless DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()

	pool, err := db.ConnectPostgres(ctx, databaseURL)
	if err != nil {
		t.Fatalf("ConnectPostgres() error = %v", err)
	}
	store := NewPostgresStore(pool)
	defer store.Close()

	if err := db.EnsurePostgresSchema(ctx, pool); err != nil {
		t.Fatalf("EnsurePostgresSchema() error = %v", err)
	}

	busID := uuid.NewString()
	driverID := "driver-" + busID
	if _, err := pool.Exec(ctx,
		"INSERT INTO buses (bus_id, bus_number, driver_id) VALUES ($1, $2, $3)",
		busID, "IT-"+busID, driverID); err != nil {
		t.Fatalf("insert fixture: %v", err)
	}
	defer pool.Exec(ctx, "DELETE FROM buses WHERE bus_id = $1", busID)

	got, err := store.AssignedUnit(ctx, driverID)
	if err != nil || got != busID {
		t.Fatalf("AssignedUnit() = %q, %v", got, err)
	}

	set, err := store.SetPosition(ctx, busID, 41.38, 2.17)
	if err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	pos, err := store.GetPosition(ctx, busID)
	if err != nil || pos == nil || pos.Latitude != 41.38 || !pos.Timestamp.Equal(set.Timestamp) {
		t.Fatalf("GetPosition() = %+v, %v", pos, err)
	}

	if _, err := store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	pos, err = store.GetPosition(ctx, busID)
	if err != nil || pos != nil {
		t.Errorf("GetPosition() after clear = %+v, %v", pos, err)
	}

	if _, err := store.GetPosition(ctx, "missing-"+busID); !errs.Is(err, errs.NotFound) {
		t.Errorf("GetPosition(missing) error = %v", err)
	}
}
