package models

import "time"

// Stop statuses. StatusReached is display-only and never used for counting.
const (
	StatusPassed   = "passed"
	StatusCurrent  = "current"
	StatusUpcoming = "upcoming"
	StatusReached  = "reached"
)

// Progress modes
const (
	ModeNone      = "none"
	ModeGeometric = "geometric"
	ModeSchedule  = "schedule"
)

// StopStatus is the derived state of a single waypoint.
type StopStatus struct {
	Seq   int    `json:"seq"`
	Name  string `json:"name"`
	Order int    `json:"order"`

	// Status is what to display; Classification is the geometric result
	Status         string `json:"status"`
	Classification string `json:"classification"`

	IsStart bool `json:"isStart"`
	IsEnd   bool `json:"isEnd"`

	// DistanceKm is the distance along the chain from the nearest match
	DistanceKm *float64   `json:"distanceKm,omitempty"`
	ETAMinutes *int       `json:"etaMinutes,omitempty"`
	ETA        *time.Time `json:"eta,omitempty"`

	ScheduledTime string     `json:"scheduledTime,omitempty"`
	ArrivedAt     *time.Time `json:"arrivedAt,omitempty"`
}

// RouteProgress is the derived view of a unit along its route.
type RouteProgress struct {
	Mode            string       `json:"mode"`
	Stops           []StopStatus `json:"stops"`
	NearestIndex    int          `json:"nearestIndex"`
	Completed       int          `json:"completed"`
	Total           int          `json:"total"`
	Percent         float64      `json:"percent"`
	FinalETAMinutes *int         `json:"finalEtaMinutes,omitempty"`
	FinalETA        *time.Time   `json:"finalEta,omitempty"`
	ComputedAt      time.Time    `json:"computedAt"`
}
