package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// DemoWaypoint is a stop in the demo data set.
type DemoWaypoint struct {
	Name      string
	Latitude  *float64
	Longitude *float64
	Scheduled string
}

// DemoBus is a bus and its route in the demo data set.
type DemoBus struct {
	BusNumber     string
	DriverID      string
	DepartureTime string
	RouteName     string
	StartingPoint string
	RouteDetails  string
	Waypoints     []DemoWaypoint
}

func coord(v float64) *float64 { return &v }

// DemoFleet is loaded by SeedDemo. The first bus has a geolocated route, the
// second only a textual description.
var DemoFleet = []DemoBus{
	{
		BusNumber:     "BUS-01",
		DriverID:      "driver-1",
		DepartureTime: "08:00",
		RouteName:     "North Campus Loop",
		StartingPoint: "Main Gate",
		RouteDetails:  "Main Gate → Library → Hostel Block → Sports Complex",
		Waypoints: []DemoWaypoint{
			{"Main Gate", coord(12.9716), coord(77.5946), "08:00"},
			{"Library", coord(12.9752), coord(77.5981), "08:07"},
			{"Hostel Block", coord(12.9790), coord(77.6012), "08:14"},
			{"Sports Complex", coord(12.9831), coord(77.6055), "08:21"},
		},
	},
	{
		BusNumber:     "BUS-02",
		DriverID:      "driver-2",
		DepartureTime: "09:30",
		RouteName:     "City Shuttle",
		StartingPoint: "Central Station",
		RouteDetails:  "Central Station -> Market Square -> Main Gate",
	},
}

// SeedDemo inserts DemoFleet when the buses table is empty.
// It returns the number of buses inserted.
func (db *DB) SeedDemo(ctx context.Context) (int, error) {
	var existing int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM buses").Scan(&existing); err != nil {
		return 0, fmt.Errorf("failed to count buses: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	err := db.WithWriteTx(ctx, func(tx *sql.Tx) error {
		for _, b := range DemoFleet {
			if err := insertDemoBus(ctx, tx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	db.log.Info("seeded demo fleet", "buses", len(DemoFleet))
	return len(DemoFleet), nil
}

func insertDemoBus(ctx context.Context, tx *sql.Tx, b DemoBus) error {
	routeID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO routes (route_id, name, starting_point, route_details) VALUES (?, ?, ?, ?)",
		routeID, b.RouteName, b.StartingPoint, b.RouteDetails,
	); err != nil {
		return fmt.Errorf("failed to insert route %s: %w", b.RouteName, err)
	}

	for i, wp := range b.Waypoints {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO route_waypoints (route_id, seq, name, latitude, longitude, waypoint_order, scheduled_time)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			routeID, i, wp.Name, wp.Latitude, wp.Longitude, i, wp.Scheduled,
		); err != nil {
			return fmt.Errorf("failed to insert waypoint %s: %w", wp.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO buses (bus_id, bus_number, driver_id, route_id, departure_time, is_available_today)
		VALUES (?, ?, ?, ?, ?, 1)`,
		uuid.NewString(), b.BusNumber, b.DriverID, routeID, b.DepartureTime,
	); err != nil {
		return fmt.Errorf("failed to insert bus %s: %w", b.BusNumber, err)
	}
	return nil
}
