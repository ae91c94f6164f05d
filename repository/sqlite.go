package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campusride/bustrack/internal/db"
	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/models"
)

const timeLayout = time.RFC3339Nano

// SQLiteStore is the position store backed by SQLite.
type SQLiteStore struct {
	db  *db.DB
	now func() time.Time
}

// NewSQLiteStore creates a store on an open database.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database, now: time.Now}
}

// Ping checks database connectivity
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.Conn().PingContext(ctx)
}

// AssignedUnit returns the id of the unit driven by driverID.
func (s *SQLiteStore) AssignedUnit(ctx context.Context, driverID string) (string, error) {
	var unitID string
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT bus_id FROM buses WHERE driver_id = ?", driverID,
	).Scan(&unitID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errs.NewNotFound(MsgNoAssignment)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query assignment: %w", err)
	}
	return unitID, nil
}

// SetPosition overwrites the unit's position. The timestamp is taken while
// the write lock is held, so stored timestamps follow commit order.
func (s *SQLiteStore) SetPosition(ctx context.Context, unitID string, lat, lng float64) (*models.Position, error) {
	if err := s.db.LockWriteContext(ctx); err != nil {
		return nil, err
	}
	defer s.db.UnlockWrite()

	pos := &models.Position{Latitude: lat, Longitude: lng, Timestamp: s.now().UTC()}

	res, err := s.db.Conn().ExecContext(ctx, `
		UPDATE buses
		SET latitude = ?, longitude = ?, location_timestamp_utc = ?
		WHERE bus_id = ?`,
		lat, lng, pos.Timestamp.Format(timeLayout), unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.NewNotFound(MsgUnitNotFound)
	}
	return pos, nil
}

// GetPosition returns the unit's position, or nil if none is recorded.
func (s *SQLiteStore) GetPosition(ctx context.Context, unitID string) (*models.Position, error) {
	var lat, lng sql.NullFloat64
	var ts sql.NullString
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT latitude, longitude, location_timestamp_utc FROM buses WHERE bus_id = ?", unitID,
	).Scan(&lat, &lng, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFound(MsgUnitNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query position: %w", err)
	}
	return scanPosition(lat, lng, ts)
}

// ClearAll removes every stored position and arrival record in one
// transaction. It returns the number of units that had a position.
func (s *SQLiteStore) ClearAll(ctx context.Context) (int64, error) {
	var cleared int64
	err := s.db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE buses
			SET latitude = NULL, longitude = NULL, location_timestamp_utc = NULL
			WHERE latitude IS NOT NULL OR location_timestamp_utc IS NOT NULL`)
		if err != nil {
			return fmt.Errorf("failed to clear positions: %w", err)
		}
		cleared, _ = res.RowsAffected()

		if _, err := tx.ExecContext(ctx, "DELETE FROM stop_arrivals"); err != nil {
			return fmt.Errorf("failed to clear arrivals: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// RecordArrival stores the first arrival of unitID at waypoint seq.
// It reports false if an arrival was already recorded.
func (s *SQLiteStore) RecordArrival(ctx context.Context, unitID string, seq int, at time.Time) (bool, error) {
	if err := s.db.LockWriteContext(ctx); err != nil {
		return false, err
	}
	defer s.db.UnlockWrite()

	res, err := s.db.Conn().ExecContext(ctx,
		"INSERT OR IGNORE INTO stop_arrivals (bus_id, waypoint_seq, arrived_at_utc) VALUES (?, ?, ?)",
		unitID, seq, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record arrival: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetWaypoints returns the waypoints of the unit's route in stored order.
func (s *SQLiteStore) GetWaypoints(ctx context.Context, unitID string) ([]models.Waypoint, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT w.seq, w.name, w.latitude, w.longitude, w.waypoint_order, w.scheduled_time
		FROM route_waypoints w
		JOIN buses b ON b.route_id = w.route_id
		WHERE b.bus_id = ?
		ORDER BY w.seq`, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query waypoints: %w", err)
	}
	defer rows.Close()

	waypoints := []models.Waypoint{}
	for rows.Next() {
		var w models.Waypoint
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&w.Seq, &w.Name, &lat, &lng, &w.Order, &w.ScheduledTime); err != nil {
			return nil, fmt.Errorf("failed to scan waypoint row: %w", err)
		}
		if lat.Valid && lng.Valid {
			w.Latitude, w.Longitude = &lat.Float64, &lng.Float64
		}
		waypoints = append(waypoints, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating waypoint rows: %w", err)
	}
	return waypoints, nil
}

// GetArrivals returns the recorded arrivals for unitID keyed by waypoint seq.
func (s *SQLiteStore) GetArrivals(ctx context.Context, unitID string) (map[int]time.Time, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		"SELECT waypoint_seq, arrived_at_utc FROM stop_arrivals WHERE bus_id = ?", unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query arrivals: %w", err)
	}
	defer rows.Close()

	arrivals := map[int]time.Time{}
	for rows.Next() {
		var seq int
		var ts string
		if err := rows.Scan(&seq, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan arrival row: %w", err)
		}
		at, err := time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("invalid arrival timestamp %q: %w", ts, err)
		}
		arrivals[seq] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating arrival rows: %w", err)
	}
	return arrivals, nil
}

const unitColumns = `
	b.bus_id, b.bus_number, b.driver_id, b.is_available_today, b.departure_time,
	b.route_id, COALESCE(r.name, ''), COALESCE(r.starting_point, ''), COALESCE(r.route_details, ''),
	b.latitude, b.longitude, b.location_timestamp_utc`

func scanUnit(sc interface{ Scan(...any) error }) (*models.TrackedUnit, error) {
	var u models.TrackedUnit
	var driverID, routeID, ts sql.NullString
	var lat, lng sql.NullFloat64
	err := sc.Scan(
		&u.UnitID, &u.BusNumber, &driverID, &u.IsAvailableToday, &u.DepartureTime,
		&routeID, &u.RouteName, &u.StartingPoint, &u.RouteDetails,
		&lat, &lng, &ts,
	)
	if err != nil {
		return nil, err
	}
	if driverID.Valid {
		u.DriverID = &driverID.String
	}
	if routeID.Valid {
		u.RouteID = &routeID.String
	}
	if u.Position, err = scanPosition(lat, lng, ts); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUnit returns a unit with its route, waypoints, arrivals and position.
func (s *SQLiteStore) GetUnit(ctx context.Context, unitID string) (*models.TrackedUnit, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		"SELECT "+unitColumns+" FROM buses b LEFT JOIN routes r ON r.route_id = b.route_id WHERE b.bus_id = ?",
		unitID)
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFound(MsgUnitNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query unit: %w", err)
	}

	if u.Waypoints, err = s.GetWaypoints(ctx, unitID); err != nil {
		return nil, err
	}
	if u.Arrivals, err = s.GetArrivals(ctx, unitID); err != nil {
		return nil, err
	}
	return u, nil
}

// ListUnits returns every unit with its route header and position, without
// waypoints. availableOnly restricts the list to units running today.
func (s *SQLiteStore) ListUnits(ctx context.Context, availableOnly bool) ([]models.TrackedUnit, error) {
	query := "SELECT " + unitColumns + " FROM buses b LEFT JOIN routes r ON r.route_id = b.route_id"
	if availableOnly {
		query += " WHERE b.is_available_today = 1"
	}
	query += " ORDER BY b.bus_number"

	rows, err := s.db.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	units := []models.TrackedUnit{}
	for rows.Next() {
		u, err := scanUnit(rows)
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

func scanPosition(lat, lng sql.NullFloat64, ts sql.NullString) (*models.Position, error) {
	if !lat.Valid || !lng.Valid {
		return nil, nil
	}
	pos := &models.Position{Latitude: lat.Float64, Longitude: lng.Float64}
	if ts.Valid {
		t, err := time.Parse(timeLayout, ts.String)
		if err != nil {
			return nil, fmt.Errorf("invalid position timestamp %q: %w", ts.String, err)
		}
		pos.Timestamp = t
	}
	return pos, nil
}
