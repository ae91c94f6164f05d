package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/models"
)

// PostgresStore is the position store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close closes the pool
func (r *PostgresStore) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresStore) AssignedUnit(ctx context.Context, driverID string) (string, error) {
	var unitID string
	err := r.pool.QueryRow(ctx, "SELECT bus_id FROM buses WHERE driver_id = $1", driverID).Scan(&unitID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errs.NewNotFound(MsgNoAssignment)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query assignment: %w", err)
	}
	return unitID, nil
}

// SetPosition overwrites the unit's position. clock_timestamp() is evaluated
// when the row is written, so it reflects commit order rather than
// transaction start.
func (r *PostgresStore) SetPosition(ctx context.Context, unitID string, lat, lng float64) (*models.Position, error) {
	pos := &models.Position{}
	err := r.pool.QueryRow(ctx, `
		UPDATE buses
		SET latitude = $1, longitude = $2, location_timestamp_utc = clock_timestamp()
		WHERE bus_id = $3
		RETURNING latitude, longitude, location_timestamp_utc`,
		lat, lng, unitID,
	).Scan(&pos.Latitude, &pos.Longitude, &pos.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NewNotFound(MsgUnitNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update position: %w", err)
	}
	pos.Timestamp = pos.Timestamp.UTC()
	return pos, nil
}

func (r *PostgresStore) GetPosition(ctx context.Context, unitID string) (*models.Position, error) {
	var lat, lng *float64
	var ts *time.Time
	err := r.pool.QueryRow(ctx,
		"SELECT latitude, longitude, location_timestamp_utc FROM buses WHERE bus_id = $1", unitID,
	).Scan(&lat, &lng, &ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NewNotFound(MsgUnitNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query position: %w", err)
	}
	return pgPosition(lat, lng, ts), nil
}

// ClearAll nulls every position and deletes arrivals in a single transaction.
func (r *PostgresStore) ClearAll(ctx context.Context) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE buses
		SET latitude = NULL, longitude = NULL, location_timestamp_utc = NULL
		WHERE latitude IS NOT NULL OR location_timestamp_utc IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear positions: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM stop_arrivals"); err != nil {
		return 0, fmt.Errorf("failed to clear arrivals: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit reset: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresStore) RecordArrival(ctx context.Context, unitID string, seq int, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO stop_arrivals (bus_id, waypoint_seq, arrived_at_utc)
		VALUES ($1, $2, $3)
		ON CONFLICT (bus_id, waypoint_seq) DO NOTHING`,
		unitID, seq, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record arrival: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresStore) GetWaypoints(ctx context.Context, unitID string) ([]models.Waypoint, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT w.seq, w.name, w.latitude, w.longitude, w.waypoint_order, w.scheduled_time
		FROM route_waypoints w
		JOIN buses b ON b.route_id = w.route_id
		WHERE b.bus_id = $1
		ORDER BY w.seq`, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query waypoints: %w", err)
	}
	defer rows.Close()

	waypoints := []models.Waypoint{}
	for rows.Next() {
		var w models.Waypoint
		if err := rows.Scan(&w.Seq, &w.Name, &w.Latitude, &w.Longitude, &w.Order, &w.ScheduledTime); err != nil {
			return nil, fmt.Errorf("failed to scan waypoint row: %w", err)
		}
		if w.Latitude == nil || w.Longitude == nil {
			w.Latitude, w.Longitude = nil, nil
		}
		waypoints = append(waypoints, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating waypoint rows: %w", err)
	}
	return waypoints, nil
}

func (r *PostgresStore) GetArrivals(ctx context.Context, unitID string) (map[int]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT waypoint_seq, arrived_at_utc FROM stop_arrivals WHERE bus_id = $1", unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query arrivals: %w", err)
	}
	defer rows.Close()

	arrivals := map[int]time.Time{}
	for rows.Next() {
		var seq int
		var at time.Time
		if err := rows.Scan(&seq, &at); err != nil {
			return nil, fmt.Errorf("failed to scan arrival row: %w", err)
		}
		arrivals[seq] = at.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating arrival rows: %w", err)
	}
	return arrivals, nil
}

func (r *PostgresStore) scanUnit(row pgx.Row) (*models.TrackedUnit, error) {
	var u models.TrackedUnit
	var lat, lng *float64
	var ts *time.Time
	err := row.Scan(
		&u.UnitID, &u.BusNumber, &u.DriverID, &u.IsAvailableToday, &u.DepartureTime,
		&u.RouteID, &u.RouteName, &u.StartingPoint, &u.RouteDetails,
		&lat, &lng, &ts,
	)
	if err != nil {
		return nil, err
	}
	u.Position = pgPosition(lat, lng, ts)
	return &u, nil
}

func (r *PostgresStore) GetUnit(ctx context.Context, unitID string) (*models.TrackedUnit, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+unitColumns+" FROM buses b LEFT JOIN routes r ON r.route_id = b.route_id WHERE b.bus_id = $1",
		unitID)
	u, err := r.scanUnit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NewNotFound(MsgUnitNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query unit: %w", err)
	}

	if u.Waypoints, err = r.GetWaypoints(ctx, unitID); err != nil {
		return nil, err
	}
	if u.Arrivals, err = r.GetArrivals(ctx, unitID); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *PostgresStore) ListUnits(ctx context.Context, availableOnly bool) ([]models.TrackedUnit, error) {
	query := "SELECT " + unitColumns + " FROM buses b LEFT JOIN routes r ON r.route_id = b.route_id"
	if availableOnly {
		query += " WHERE b.is_available_today"
	}
	query += " ORDER BY b.bus_number"

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	units := []models.TrackedUnit{}
	for rows.Next() {
		u, err := r.scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit row: %w", err)
		}
		units = append(units, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unit rows: %w", err)
	}
	return units, nil
}

func pgPosition(lat, lng *float64, ts *time.Time) *models.Position {
	if lat == nil || lng == nil {
		return nil
	}
	pos := &models.Position{Latitude: *lat, Longitude: *lng}
	if ts != nil {
		pos.Timestamp = ts.UTC()
	}
	return pos
}
