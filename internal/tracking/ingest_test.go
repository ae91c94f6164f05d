package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/models"
)

type fakeStore struct {
	mu         sync.Mutex
	assignment map[string]string
	positions  map[string]*models.Position
	waypoints  []models.Waypoint
	arrivals   map[int]time.Time

	setErr    error
	wpErr     error
	stallSets bool
	sets      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		assignment: map[string]string{"driver-1": "bus-1"},
		positions:  map[string]*models.Position{},
		arrivals:   map[int]time.Time{},
	}
}

func (f *fakeStore) AssignedUnit(_ context.Context, driverID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.assignment[driverID]
	if !ok {
		return "", errs.NewNotFound("no unit assigned to this driver")
	}
	return id, nil
}

func (f *fakeStore) SetPosition(ctx context.Context, unitID string, lat, lng float64) (*models.Position, error) {
	if f.stallSets {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.setErr != nil {
		return nil, f.setErr
	}
	p := &models.Position{Latitude: lat, Longitude: lng, Timestamp: time.Now().UTC()}
	f.positions[unitID] = p
	return p, nil
}

func (f *fakeStore) GetWaypoints(context.Context, string) ([]models.Waypoint, error) {
	return f.waypoints, f.wpErr
}

func (f *fakeStore) RecordArrival(_ context.Context, _ string, seq int, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.arrivals[seq]; ok {
		return false, nil
	}
	f.arrivals[seq] = at
	return true, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.PositionEvent
	err    error
}

func (p *fakePublisher) PublishPosition(_ context.Context, ev models.PositionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func f64(v float64) *float64 { return &v }

func newTestService(store Store, pub Publisher) *Service {
	return NewService(store, pub, Config{StoreTimeout: time.Second, ProximityThresholdKm: 0.2}, nil, nil)
}

func TestIngestSuccess(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(store, pub)
	before := time.Now().UTC()

	res, err := svc.Ingest(context.Background(), "driver-1", IngestRequest{Latitude: f64(12.97), Longitude: f64(77.59)})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if res.UnitID != "bus-1" || res.Latitude != 12.97 || res.Longitude != 77.59 {
		t.Errorf("result = %+v", res)
	}
	if res.Timestamp.Before(before) {
		t.Errorf("timestamp %v before call %v", res.Timestamp, before)
	}
	if pub.count() != 1 {
		t.Fatalf("published %d events, want exactly 1", pub.count())
	}
	ev := pub.events[0]
	if ev.UnitID != "bus-1" || ev.Latitude != 12.97 || ev.Longitude != 77.59 || !ev.Timestamp.Equal(res.Timestamp) {
		t.Errorf("event = %+v", ev)
	}
}

func TestIngestValidation(t *testing.T) {
	tests := []struct {
		name string
		req  IngestRequest
		msg  string
	}{
		{"latitude too high", IngestRequest{f64(90.0001), f64(0)}, "latitude out of range: must be between -90 and 90"},
		{"latitude too low", IngestRequest{f64(-91), f64(0)}, "latitude out of range: must be between -90 and 90"},
		{"longitude too high", IngestRequest{f64(0), f64(180.5)}, "longitude out of range: must be between -180 and 180"},
		{"longitude too low", IngestRequest{f64(0), f64(-181)}, "longitude out of range: must be between -180 and 180"},
		{"missing latitude", IngestRequest{nil, f64(0)}, "latitude is required"},
		{"missing longitude", IngestRequest{f64(0), nil}, "longitude is required"},
		{"not a number", IngestRequest{f64(math.NaN()), f64(0)}, ""},
		{"infinite", IngestRequest{f64(0), f64(math.Inf(1))}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			pub := &fakePublisher{}
			svc := newTestService(store, pub)

			_, err := svc.Ingest(context.Background(), "driver-1", tt.req)
			if !errs.Is(err, errs.Validation) {
				t.Fatalf("Ingest() error = %v, want validation", err)
			}
			if tt.msg != "" && errs.Message(err) != tt.msg {
				t.Errorf("message = %q, want %q", errs.Message(err), tt.msg)
			}
			if store.sets != 0 {
				t.Error("store written on invalid input")
			}
			if pub.count() != 0 {
				t.Error("published on invalid input")
			}
		})
	}
}

func TestIngestBoundaryCoordinates(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakePublisher{})
	for _, c := range [][2]float64{{90, 180}, {-90, -180}, {0, 0}} {
		if _, err := svc.Ingest(context.Background(), "driver-1", IngestRequest{f64(c[0]), f64(c[1])}); err != nil {
			t.Errorf("Ingest(%v) error = %v", c, err)
		}
	}
}

func TestIngestNoAssignment(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(store, pub)

	_, err := svc.Ingest(context.Background(), "driver-without-bus", IngestRequest{f64(1), f64(1)})
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("Ingest() error = %v, want not found", err)
	}
	if errs.Message(err) != "no unit assigned to this driver" {
		t.Errorf("message = %q", errs.Message(err))
	}
	if pub.count() != 0 {
		t.Error("published without an assignment")
	}
}

func TestIngestUnauthenticated(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakePublisher{})
	_, err := svc.Ingest(context.Background(), "", IngestRequest{f64(1), f64(1)})
	if !errs.Is(err, errs.Unauthorized) {
		t.Errorf("Ingest() error = %v", err)
	}
}

func TestIngestStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.setErr = errors.New("database is locked")
	pub := &fakePublisher{}
	svc := newTestService(store, pub)

	_, err := svc.Ingest(context.Background(), "driver-1", IngestRequest{f64(1), f64(1)})
	if !errs.Is(err, errs.Internal) {
		t.Fatalf("Ingest() error = %v, want internal", err)
	}
	if errs.Message(err) != "internal server error" {
		t.Errorf("internal detail leaked: %q", errs.Message(err))
	}
	if pub.count() != 0 {
		t.Error("published after a failed write")
	}
}

func TestIngestStalledWriteTimesOut(t *testing.T) {
	store := newFakeStore()
	store.stallSets = true
	pub := &fakePublisher{}
	svc := NewService(store, pub, Config{StoreTimeout: 30 * time.Millisecond}, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Ingest(context.Background(), "driver-1", IngestRequest{f64(1), f64(1)})
		done <- err
	}()

	select {
	case err := <-done:
		if !errs.Is(err, errs.Internal) {
			t.Errorf("Ingest() error = %v, want internal", err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("cause = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Ingest() hung on a stalled write")
	}
	if pub.count() != 0 {
		t.Error("published after a timed-out write")
	}
}

func TestIngestPublishFailureStillSucceeds(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	svc := newTestService(newFakeStore(), pub)

	if _, err := svc.Ingest(context.Background(), "driver-1", IngestRequest{f64(1), f64(1)}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if pub.count() != 1 {
		t.Errorf("publish attempts = %d", pub.count())
	}
}

func TestIngestRecordsArrivals(t *testing.T) {
	store := newFakeStore()
	store.waypoints = []models.Waypoint{
		{Seq: 0, Name: "Gate", Latitude: f64(0), Longitude: f64(0)},
		{Seq: 1, Name: "Library", Latitude: f64(0), Longitude: f64(1)},
		{Seq: 2, Name: "Unmapped"},
	}
	svc := newTestService(store, &fakePublisher{})

	svc.Ingest(context.Background(), "driver-1", IngestRequest{f64(0), f64(0.0005)})
	if _, ok := store.arrivals[0]; !ok {
		t.Error("arrival at Gate not recorded")
	}
	if len(store.arrivals) != 1 {
		t.Errorf("arrivals = %v", store.arrivals)
	}

	first := store.arrivals[0]
	svc.Ingest(context.Background(), "driver-1", IngestRequest{f64(0), f64(0.0001)})
	if !store.arrivals[0].Equal(first) {
		t.Error("first arrival overwritten")
	}

	store.wpErr = errors.New("boom")
	if _, err := svc.Ingest(context.Background(), "driver-1", IngestRequest{f64(0), f64(1)}); err != nil {
		t.Errorf("arrival lookup failure failed the ingest: %v", err)
	}
}
