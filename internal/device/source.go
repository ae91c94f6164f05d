// Package device simulates a driver's phone: it captures coordinates on one
// cadence and sends the latest capture to the ingest endpoint on another.
package device

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/campusride/bustrack/models"
)

// Point is one captured coordinate pair.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Source yields successive GPS readings.
type Source interface {
	Next() (Point, error)
}

// FixedSource always reports the same point, like a parked bus.
type FixedSource Point

// Next implements Source.
func (s FixedSource) Next() (Point, error) { return Point(s), nil }

// TrackSource replays a recorded track, looping back to the start at the end.
type TrackSource struct {
	points []Point
	i      int
}

// NewTrackSource returns a source over points. points must not be empty.
func NewTrackSource(points []Point) (*TrackSource, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("track has no points")
	}
	return &TrackSource{points: points}, nil
}

// Next implements Source.
func (s *TrackSource) Next() (Point, error) {
	p := s.points[s.i]
	s.i = (s.i + 1) % len(s.points)
	return p, nil
}

// LoadTrack reads a track file of "lat,lng" lines. Blank lines and lines
// starting with # are skipped.
func LoadTrack(path string) (*TrackSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open track: %w", err)
	}
	defer f.Close()

	points, err := ParseTrack(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewTrackSource(points)
}

// ParseTrack parses "lat,lng" lines from r.
func ParseTrack(r io.Reader) ([]Point, error) {
	var points []Point
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		p, err := ParsePoint(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		points = append(points, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

// ParsePoint parses "lat,lng" and checks both are in range.
func ParsePoint(s string) (Point, error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return Point{}, fmt.Errorf("want lat,lng, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid latitude %q", latStr)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid longitude %q", lngStr)
	}
	if err := models.ValidateCoordinates(lat, lng); err != nil {
		return Point{}, err
	}
	return Point{Latitude: lat, Longitude: lng}, nil
}
