package progress

import (
	"math"

	"github.com/campusride/bustrack/models"
)

const earthRadiusKm = 6371

// HaversineKm calculates the great-circle distance between two points in kilometers
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// NearestWaypoint returns the index of the geolocated waypoint closest to
// (lat, lng) and its distance. Waypoints without coordinates are skipped.
// The index is -1 when no waypoint has coordinates.
func NearestWaypoint(wps []models.Waypoint, lat, lng float64) (int, float64) {
	minIdx := -1
	minDist := math.MaxFloat64

	for i, wp := range wps {
		if !wp.HasCoordinates() {
			continue
		}
		dist := HaversineKm(lat, lng, *wp.Latitude, *wp.Longitude)
		if dist < minDist {
			minDist = dist
			minIdx = i
		}
	}

	if minIdx < 0 {
		return -1, 0
	}
	return minIdx, minDist
}

// ChainDistanceKm sums the leg lengths from wps[from] to wps[to] along the
// route. Legs where either end lacks coordinates contribute nothing.
func ChainDistanceKm(wps []models.Waypoint, from, to int) float64 {
	var total float64
	for i := from; i < to && i+1 < len(wps); i++ {
		a, b := wps[i], wps[i+1]
		if !a.HasCoordinates() || !b.HasCoordinates() {
			continue
		}
		total += HaversineKm(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
	}
	return total
}

// WaypointsWithin returns the geolocated waypoints no further than
// thresholdKm from (lat, lng).
func WaypointsWithin(wps []models.Waypoint, lat, lng, thresholdKm float64) []models.Waypoint {
	var out []models.Waypoint
	for _, wp := range wps {
		if !wp.HasCoordinates() {
			continue
		}
		if HaversineKm(lat, lng, *wp.Latitude, *wp.Longitude) < thresholdKm {
			out = append(out, wp)
		}
	}
	return out
}

// ETAMinutes converts a distance to whole minutes at speedKmh.
func ETAMinutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		return 0
	}
	return int(math.Round(distanceKm / speedKmh * 60))
}
