package models

import (
	"errors"
	"math"
	"time"
)

// Position is a unit's most recent known coordinate pair.
// Both coordinates are always written together.
type Position struct {
	Latitude  float64   `db:"latitude" json:"latitude"`
	Longitude float64   `db:"longitude" json:"longitude"`
	Timestamp time.Time `db:"location_timestamp_utc" json:"timestamp"`
}

// UnitPosition pairs a position with the unit it belongs to.
// Position is nil when nothing has been recorded since the last reset.
type UnitPosition struct {
	UnitID   string    `json:"unitId"`
	Position *Position `json:"position"`
}

// ValidateCoordinates checks that lat/lng are finite and within geographic range.
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) {
		return errors.New("latitude must be a finite number")
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) {
		return errors.New("longitude must be a finite number")
	}
	if lat < -90 || lat > 90 {
		return errors.New("latitude out of range: must be between -90 and 90")
	}
	if lng < -180 || lng > 180 {
		return errors.New("longitude out of range: must be between -180 and 180")
	}
	return nil
}

// Validate checks the coordinate ranges of p.
func (p *Position) Validate() error {
	return ValidateCoordinates(p.Latitude, p.Longitude)
}
