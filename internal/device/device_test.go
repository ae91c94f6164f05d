package device

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/campusride/bustrack/internal/errs"
)

func TestParseTrack(t *testing.T) {
	in := `# morning loop
12.9716, 77.5946

12.9752,77.5981
`
	points, err := ParseTrack(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 || points[1] != (Point{12.9752, 77.5981}) {
		t.Errorf("points = %v", points)
	}

	bad := []string{"12.97", "north,77.59", "12.97,east", "91,0", "0,181"}
	for _, line := range bad {
		if _, err := ParseTrack(strings.NewReader(line)); err == nil {
			t.Errorf("%q accepted", line)
		}
	}
}

func TestTrackSourceLoops(t *testing.T) {
	src, err := NewTrackSource([]Point{{1, 1}, {2, 2}})
	if err != nil {
		t.Fatal(err)
	}
	var got []float64
	for i := 0; i < 5; i++ {
		p, _ := src.Next()
		got = append(got, p.Latitude)
	}
	want := []float64{1, 2, 1, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", got, want)
		}
	}

	if _, err := NewTrackSource(nil); err == nil {
		t.Error("empty track accepted")
	}
}

type countingSource struct {
	mu    sync.Mutex
	inner Source
	calls int
}

func (s *countingSource) Next() (Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.inner.Next()
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingSender struct {
	mu   sync.Mutex
	sent []Point
	err  error
}

func (s *recordingSender) Send(_ context.Context, p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, p)
	return nil
}

func (s *recordingSender) points() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Point(nil), s.sent...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func startSimulator(t *testing.T, src Source, sender Sender, capture, send time.Duration) (*clocktesting.FakeClock, <-chan error) {
	t.Helper()
	clk := clocktesting.NewFakeClock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	sim := NewSimulator(src, sender, Config{CaptureEvery: capture, SendEvery: send, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- sim.Run(ctx)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return clk, done
}

func TestSimulatorSendsLatestCapture(t *testing.T) {
	track, _ := NewTrackSource([]Point{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}})
	src := &countingSource{inner: track}
	sender := &recordingSender{}
	clk, _ := startSimulator(t, src, sender, time.Second, 2500*time.Millisecond)

	waitFor(t, "initial send", func() bool { return len(sender.points()) == 1 })

	clk.Step(time.Second)
	waitFor(t, "second capture", func() bool { return src.count() == 2 })
	clk.Step(time.Second)
	waitFor(t, "third capture", func() bool { return src.count() == 3 })
	clk.Step(500 * time.Millisecond)
	waitFor(t, "second send", func() bool { return len(sender.points()) == 2 })

	got := sender.points()
	if got[0] != (Point{0, 0}) || got[1] != (Point{2, 2}) {
		t.Errorf("sent %v, want the initial point then the latest capture", got)
	}
}

func TestSimulatorSkipsSendWithoutNewCapture(t *testing.T) {
	src := &countingSource{inner: FixedSource{Latitude: 5, Longitude: 5}}
	sender := &recordingSender{}
	clk, _ := startSimulator(t, src, sender, time.Minute, time.Second)

	waitFor(t, "initial send", func() bool { return len(sender.points()) == 1 })
	for i := 0; i < 3; i++ {
		clk.Step(time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(sender.points()); n != 1 {
		t.Errorf("sent %d times without a new capture", n)
	}
}

func TestSimulatorStopsOnRejection(t *testing.T) {
	sender := &recordingSender{err: errs.NewUnauthorized("Invalid token")}
	_, done := startSimulator(t, FixedSource{}, sender, time.Second, time.Second)

	select {
	case err := <-done:
		if !errs.Is(err, errs.Unauthorized) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("simulator kept running after an auth rejection")
	}
}

func TestHTTPSender(t *testing.T) {
	var gotAuth string
	var gotBody locationBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		switch gotBody.Latitude {
		case 1:
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		case 2:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"no unit assigned to this driver"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	s := &HTTPSender{BaseURL: srv.URL + "/", Token: "tok"}
	ctx := context.Background()

	if err := s.Send(ctx, Point{1, 7}); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer tok" || gotBody.Longitude != 7 {
		t.Errorf("request auth=%q body=%+v", gotAuth, gotBody)
	}

	err := s.Send(ctx, Point{2, 0})
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.NotFound || e.Message != "no unit assigned to this driver" {
		t.Errorf("404 = %v", err)
	}

	if err := s.Send(ctx, Point{3, 0}); err == nil || permanent(err) {
		t.Errorf("503 should be retryable, got %v", err)
	}
}
