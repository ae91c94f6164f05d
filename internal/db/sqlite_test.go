package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Connect(filepath.Join(t.TempDir(), "nested", "test.db"), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	return d
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	d := openTestDB(t)
	if err := d.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema() error = %v", err)
	}
}

func TestSeedDemo(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	n, err := d.SeedDemo(ctx)
	if err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}
	if n != len(DemoFleet) {
		t.Errorf("SeedDemo() = %d, want %d", n, len(DemoFleet))
	}

	// Second run is a no-op.
	n, err = d.SeedDemo(ctx)
	if err != nil || n != 0 {
		t.Errorf("second SeedDemo() = %d, %v", n, err)
	}

	var waypoints int
	if err := d.Conn().QueryRow("SELECT COUNT(*) FROM route_waypoints").Scan(&waypoints); err != nil {
		t.Fatal(err)
	}
	if waypoints != 4 {
		t.Errorf("waypoints = %d, want 4", waypoints)
	}
}

func TestWithWriteTxRollsBack(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := d.WithWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO routes (route_id, name) VALUES ('r1', 'Route')"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithWriteTx() error = %v", err)
	}

	var n int
	d.Conn().QueryRow("SELECT COUNT(*) FROM routes").Scan(&n)
	if n != 0 {
		t.Errorf("routes = %d after rollback", n)
	}
}

func TestLockWriteContextTimesOut(t *testing.T) {
	d := openTestDB(t)
	d.LockWrite()
	defer d.UnlockWrite()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.LockWriteContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("LockWriteContext() error = %v, want deadline exceeded", err)
	}
}

func TestPositionColumnsTogether(t *testing.T) {
	d := openTestDB(t)
	_, err := d.Conn().Exec("INSERT INTO buses (bus_id, bus_number, latitude) VALUES ('b', 'B', 1.0)")
	if err == nil {
		t.Error("expected CHECK failure when only latitude is set")
	}
}
