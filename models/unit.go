package models

import "time"

// TrackedUnit is a bus together with the route data needed to derive progress.
// Route and assignment fields are read-only reference data.
type TrackedUnit struct {
	UnitID           string  `db:"bus_id" json:"unitId"`
	BusNumber        string  `db:"bus_number" json:"busNumber"`
	DriverID         *string `db:"driver_id" json:"driverId,omitempty"`
	IsAvailableToday bool    `db:"is_available_today" json:"isAvailableToday"`

	// DepartureTime is the scheduled "HH:MM" departure, empty when unknown
	DepartureTime string `db:"departure_time" json:"departureTime,omitempty"`

	// Route
	RouteID       *string    `db:"route_id" json:"routeId,omitempty"`
	RouteName     string     `db:"route_name" json:"routeName,omitempty"`
	StartingPoint string     `db:"starting_point" json:"startingPoint,omitempty"`
	RouteDetails  string     `db:"route_details" json:"routeDetails,omitempty"`
	Waypoints     []Waypoint `json:"waypoints"`

	// Arrivals maps waypoint sequence to the first recorded arrival today
	Arrivals map[int]time.Time `json:"arrivals,omitempty"`

	// Position is nil until the first ingest after a reset
	Position *Position `json:"position"`
}

// Waypoint is a named stop on a route. Coordinates are optional.
type Waypoint struct {
	// Seq is the insertion order, used to break ties in Order
	Seq       int      `db:"seq" json:"seq"`
	Name      string   `db:"name" json:"name"`
	Latitude  *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64 `db:"longitude" json:"longitude,omitempty"`
	Order     int      `db:"waypoint_order" json:"order"`

	// ScheduledTime is an optional "HH:MM" time of day
	ScheduledTime string `db:"scheduled_time" json:"scheduledTime,omitempty"`
}

// HasCoordinates reports whether both coordinates are known.
func (w Waypoint) HasCoordinates() bool {
	return w.Latitude != nil && w.Longitude != nil
}
