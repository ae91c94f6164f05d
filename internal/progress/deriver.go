// Package progress derives per-stop route status and ETAs from a waypoint
// list and the latest known position. Everything here is pure.
package progress

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/campusride/bustrack/models"
)

// Config holds the heuristics used by Derive.
type Config struct {
	ProximityThresholdKm float64
	AverageSpeedKmh      float64
	MinutesPerStop       int

	// DefaultDeparture is used by the schedule fallback when a unit has none
	DefaultDeparture string

	// Location is the zone departure times are interpreted in
	Location *time.Location
}

// DefaultConfig returns the reference heuristics.
func DefaultConfig() Config {
	return Config{
		ProximityThresholdKm: 0.2,
		AverageSpeedKmh:      25,
		MinutesPerStop:       7,
		DefaultDeparture:     "08:00",
		Location:             time.Local,
	}
}

// Input is everything Derive looks at.
type Input struct {
	Waypoints     []models.Waypoint
	Position      *models.Position
	RouteDetails  string
	DepartureTime string
	Arrivals      map[int]time.Time
	Now           time.Time
}

// InputForUnit builds an Input from a unit snapshot.
func InputForUnit(u *models.TrackedUnit, now time.Time) Input {
	return Input{
		Waypoints:     u.Waypoints,
		Position:      u.Position,
		RouteDetails:  u.RouteDetails,
		DepartureTime: u.DepartureTime,
		Arrivals:      u.Arrivals,
		Now:           now,
	}
}

var stopSeparators = regexp.MustCompile(`→|->|➔|➜`)

// SplitRouteDetails splits a free-text route description into stop names.
func SplitRouteDetails(details string) []string {
	var names []string
	for _, part := range stopSeparators.Split(details, -1) {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

// SortWaypoints returns a copy of wps ordered by Order. Ties keep their
// original relative order.
func SortWaypoints(wps []models.Waypoint) []models.Waypoint {
	sorted := make([]models.Waypoint, len(wps))
	copy(sorted, wps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}

// Derive computes the route progress for in.
//
// With at least one geolocated waypoint the result is geometric: the nearest
// waypoint splits the route into passed and upcoming stops, and is current
// only within ProximityThresholdKm. Without any geolocated waypoint the stops
// come from RouteDetails and are placed on a fixed per-stop schedule.
func Derive(cfg Config, in Input) models.RouteProgress {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	wps := SortWaypoints(in.Waypoints)

	geolocated := false
	for _, wp := range wps {
		if wp.HasCoordinates() {
			geolocated = true
			break
		}
	}

	switch {
	case geolocated:
		return deriveGeometric(cfg, wps, in)
	case strings.TrimSpace(in.RouteDetails) != "":
		if names := SplitRouteDetails(in.RouteDetails); len(names) > 0 {
			return deriveSchedule(cfg, names, in)
		}
	}
	return deriveUnlocated(wps, in)
}

func deriveGeometric(cfg Config, wps []models.Waypoint, in Input) models.RouteProgress {
	res := newProgress(models.ModeGeometric, len(wps), in.Now)

	nearest, nearestDist := -1, 0.0
	if in.Position != nil {
		nearest, nearestDist = NearestWaypoint(wps, in.Position.Latitude, in.Position.Longitude)
	}
	res.NearestIndex = nearest
	atNearest := nearest >= 0 && nearestDist < cfg.ProximityThresholdKm

	for i, wp := range wps {
		st := baseStatus(wp, i, len(wps))

		switch {
		case nearest < 0 || !wp.HasCoordinates():
			st.Classification = models.StatusUpcoming
		case i < nearest:
			st.Classification = models.StatusPassed
		case i == nearest && atNearest:
			st.Classification = models.StatusCurrent
		default:
			st.Classification = models.StatusUpcoming
			// Distance runs along the chain from the nearest waypoint, so a
			// nearest waypoint not yet reached has an ETA of zero.
			setETA(&st, ChainDistanceKm(wps, nearest, i), cfg.AverageSpeedKmh, in.Now)
		}
		st.Status = st.Classification

		applyArrival(&st, in.Arrivals)
		res.addStop(st)
	}

	res.finish()
	return res.RouteProgress
}

func deriveSchedule(cfg Config, names []string, in Input) models.RouteProgress {
	res := newProgress(models.ModeSchedule, len(names), in.Now)

	departure := in.DepartureTime
	if departure == "" {
		departure = cfg.DefaultDeparture
	}
	base := departureOn(in.Now.In(cfg.Location), departure)
	perStop := time.Duration(cfg.MinutesPerStop) * time.Minute

	// No live position means the trip has not started yet.
	current := -1
	if in.Position != nil && perStop > 0 {
		elapsed := in.Now.Sub(base)
		current = int(math.Floor(float64(elapsed) / float64(perStop)))
		current = max(0, min(len(names)-1, current))
	}
	res.NearestIndex = current

	for i, name := range names {
		st := baseStatus(models.Waypoint{Seq: i, Name: name, Order: i}, i, len(names))
		at := base.Add(time.Duration(i) * perStop)
		st.ScheduledTime = at.Format("15:04")

		switch {
		case current < 0 || i > current:
			st.Classification = models.StatusUpcoming
		case i < current:
			st.Classification = models.StatusPassed
		default:
			st.Classification = models.StatusCurrent
		}
		st.Status = st.Classification

		if st.Classification != models.StatusPassed {
			eta := at
			mins := max(0, int(math.Round(at.Sub(in.Now).Minutes())))
			st.ETA = &eta
			st.ETAMinutes = &mins
		}

		res.addStop(st)
	}

	res.finish()
	return res.RouteProgress
}

// deriveUnlocated lists waypoints that carry no coordinates and no route
// description to fall back on. Nothing can be located, so all are upcoming.
func deriveUnlocated(wps []models.Waypoint, in Input) models.RouteProgress {
	res := newProgress(models.ModeNone, len(wps), in.Now)
	res.NearestIndex = -1
	for i, wp := range wps {
		st := baseStatus(wp, i, len(wps))
		st.Classification = models.StatusUpcoming
		st.Status = models.StatusUpcoming
		applyArrival(&st, in.Arrivals)
		res.addStop(st)
	}
	res.finish()
	return res.RouteProgress
}

type progressBuilder struct {
	models.RouteProgress
}

func newProgress(mode string, n int, now time.Time) *progressBuilder {
	return &progressBuilder{models.RouteProgress{
		Mode:       mode,
		Stops:      make([]models.StopStatus, 0, n),
		Total:      n,
		ComputedAt: now,
	}}
}

func (b *progressBuilder) addStop(st models.StopStatus) {
	if st.Classification == models.StatusPassed || st.ArrivedAt != nil {
		b.Completed++
	}
	b.Stops = append(b.Stops, st)
}

func (b *progressBuilder) finish() {
	if b.Total > 0 {
		b.Percent = math.Round(float64(b.Completed)/float64(b.Total)*1000) / 10
	}
	if len(b.Stops) == 0 {
		return
	}
	last := b.Stops[len(b.Stops)-1]
	switch {
	case last.ArrivedAt != nil:
	case last.Classification == models.StatusCurrent:
		zero := 0
		at := b.ComputedAt
		b.FinalETAMinutes, b.FinalETA = &zero, &at
	default:
		b.FinalETAMinutes, b.FinalETA = last.ETAMinutes, last.ETA
	}
}

func baseStatus(wp models.Waypoint, i, n int) models.StopStatus {
	return models.StopStatus{
		Seq:           wp.Seq,
		Name:          wp.Name,
		Order:         wp.Order,
		IsStart:       i == 0,
		IsEnd:         i == n-1,
		ScheduledTime: wp.ScheduledTime,
	}
}

func setETA(st *models.StopStatus, distKm, speedKmh float64, now time.Time) {
	mins := ETAMinutes(distKm, speedKmh)
	eta := now.Add(time.Duration(mins) * time.Minute)
	d := distKm
	st.DistanceKm = &d
	st.ETAMinutes = &mins
	st.ETA = &eta
}

// applyArrival marks st reached when an arrival was recorded for it. The
// actual arrival replaces any computed ETA.
func applyArrival(st *models.StopStatus, arrivals map[int]time.Time) {
	at, ok := arrivals[st.Seq]
	if !ok {
		return
	}
	st.Status = models.StatusReached
	st.ArrivedAt = &at
	st.ETA = nil
	st.ETAMinutes = nil
}

// departureOn returns today's occurrence of an "HH:MM" departure in now's zone.
// An unparseable value falls back to 08:00.
func departureOn(now time.Time, hhmm string) time.Time {
	hour, minute := 8, 0
	if t, err := time.Parse("15:04", strings.TrimSpace(hhmm)); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, now.Location())
}
