package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/campusride/bustrack/internal/db"
	"github.com/campusride/bustrack/internal/errs"
)

func setupStore(t *testing.T) (*SQLiteStore, string, string) {
	t.Helper()
	ctx := context.Background()

	database, err := db.Connect(filepath.Join(t.TempDir(), "bustrack.db"), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if _, err := database.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}

	store := NewSQLiteStore(database)
	bus1, err := store.AssignedUnit(ctx, "driver-1")
	if err != nil {
		t.Fatalf("AssignedUnit(driver-1) error = %v", err)
	}
	bus2, err := store.AssignedUnit(ctx, "driver-2")
	if err != nil {
		t.Fatalf("AssignedUnit(driver-2) error = %v", err)
	}
	return store, bus1, bus2
}

func TestAssignedUnitNotFound(t *testing.T) {
	store, _, _ := setupStore(t)

	_, err := store.AssignedUnit(context.Background(), "nobody")
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("AssignedUnit() error = %v, want not found", err)
	}
	if errs.Message(err) != MsgNoAssignment {
		t.Errorf("message = %q", errs.Message(err))
	}
}

func TestSetThenGetPosition(t *testing.T) {
	store, bus1, _ := setupStore(t)
	ctx := context.Background()
	before := time.Now().UTC().Add(-time.Millisecond)

	set, err := store.SetPosition(ctx, bus1, 12.9716, 77.5946)
	if err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}

	got, err := store.GetPosition(ctx, bus1)
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetPosition() = nil after SetPosition")
	}
	if got.Latitude != 12.9716 || got.Longitude != 77.5946 {
		t.Errorf("coordinates = %v,%v", got.Latitude, got.Longitude)
	}
	if !got.Timestamp.Equal(set.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, set.Timestamp)
	}
	if got.Timestamp.Before(before) {
		t.Errorf("timestamp %v earlier than call %v", got.Timestamp, before)
	}
}

func TestGetPositionAbsentAndUnknown(t *testing.T) {
	store, bus1, _ := setupStore(t)
	ctx := context.Background()

	pos, err := store.GetPosition(ctx, bus1)
	if err != nil || pos != nil {
		t.Errorf("GetPosition() = %v, %v; want nil, nil", pos, err)
	}

	if _, err := store.GetPosition(ctx, "missing"); !errs.Is(err, errs.NotFound) {
		t.Errorf("unknown unit error = %v", err)
	}
	if _, err := store.SetPosition(ctx, "missing", 1, 1); !errs.Is(err, errs.NotFound) {
		t.Errorf("SetPosition(unknown) error = %v", err)
	}
}

func TestClearAll(t *testing.T) {
	store, bus1, bus2 := setupStore(t)
	ctx := context.Background()

	store.SetPosition(ctx, bus1, 1, 1)
	store.SetPosition(ctx, bus2, 2, 2)
	store.RecordArrival(ctx, bus1, 0, time.Now())

	n, err := store.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ClearAll() = %d, want 2", n)
	}

	for _, id := range []string{bus1, bus2} {
		pos, err := store.GetPosition(ctx, id)
		if err != nil || pos != nil {
			t.Errorf("GetPosition(%s) after clear = %v, %v", id, pos, err)
		}
	}
	arrivals, _ := store.GetArrivals(ctx, bus1)
	if len(arrivals) != 0 {
		t.Errorf("arrivals after clear = %v", arrivals)
	}

	// Clearing an empty store is fine.
	if n, err := store.ClearAll(ctx); err != nil || n != 0 {
		t.Errorf("second ClearAll() = %d, %v", n, err)
	}
}

func TestRecordArrivalKeepsFirst(t *testing.T) {
	store, bus1, _ := setupStore(t)
	ctx := context.Background()
	first := time.Date(2025, 3, 10, 8, 5, 0, 0, time.UTC)

	ok, err := store.RecordArrival(ctx, bus1, 1, first)
	if err != nil || !ok {
		t.Fatalf("first RecordArrival() = %v, %v", ok, err)
	}
	ok, err = store.RecordArrival(ctx, bus1, 1, first.Add(time.Minute))
	if err != nil || ok {
		t.Fatalf("second RecordArrival() = %v, %v", ok, err)
	}

	arrivals, err := store.GetArrivals(ctx, bus1)
	if err != nil {
		t.Fatal(err)
	}
	if !arrivals[1].Equal(first) {
		t.Errorf("arrival = %v, want %v", arrivals[1], first)
	}
}

func TestGetUnit(t *testing.T) {
	store, bus1, bus2 := setupStore(t)
	ctx := context.Background()

	u, err := store.GetUnit(ctx, bus1)
	if err != nil {
		t.Fatalf("GetUnit() error = %v", err)
	}
	if u.BusNumber != "BUS-01" || u.RouteName != "North Campus Loop" || u.DepartureTime != "08:00" {
		t.Errorf("unit = %+v", u)
	}
	if len(u.Waypoints) != 4 || !u.Waypoints[0].HasCoordinates() {
		t.Errorf("waypoints = %+v", u.Waypoints)
	}
	if u.Position != nil {
		t.Errorf("position = %+v, want nil", u.Position)
	}

	u2, err := store.GetUnit(ctx, bus2)
	if err != nil {
		t.Fatal(err)
	}
	if len(u2.Waypoints) != 0 || u2.RouteDetails == "" {
		t.Errorf("text-only route = %+v", u2)
	}

	if _, err := store.GetUnit(ctx, "missing"); !errs.Is(err, errs.NotFound) {
		t.Errorf("GetUnit(missing) error = %v", err)
	}
}

func TestListUnits(t *testing.T) {
	store, bus1, bus2 := setupStore(t)
	ctx := context.Background()

	store.SetPosition(ctx, bus1, 5, 5)
	store.db.Conn().Exec("UPDATE buses SET is_available_today = 0 WHERE bus_id = ?", bus2)

	all, err := store.ListUnits(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("ListUnits(false) = %d units", len(all))
	}

	today, err := store.ListUnits(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(today) != 1 || today[0].UnitID != bus1 || today[0].Position == nil {
		t.Errorf("ListUnits(true) = %+v", today)
	}
}

func TestConcurrentSetAndClear(t *testing.T) {
	store, bus1, bus2 := setupStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			if _, err := store.SetPosition(ctx, bus1, float64(i), 1); err != nil {
				t.Errorf("SetPosition: %v", err)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			if _, err := store.SetPosition(ctx, bus2, float64(i), 2); err != nil {
				t.Errorf("SetPosition: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := store.ClearAll(ctx); err != nil {
				t.Errorf("ClearAll: %v", err)
			}
		}()
	}
	wg.Wait()

	// Either both coordinates are present or neither is.
	for _, id := range []string{bus1, bus2} {
		if _, err := store.GetPosition(ctx, id); err != nil {
			t.Errorf("GetPosition(%s) error = %v", id, err)
		}
	}
}

func TestSetPositionStalledWriteFails(t *testing.T) {
	store, bus1, _ := setupStore(t)

	store.db.LockWrite()
	defer store.db.UnlockWrite()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := store.SetPosition(ctx, bus1, 1, 1); err == nil {
		t.Fatal("SetPosition() succeeded while the write lock was held")
	}
}
