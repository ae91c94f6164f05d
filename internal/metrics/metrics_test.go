package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.IngestObserved("ok", 3*time.Millisecond)
	c.IngestObserved("ok", time.Millisecond)
	c.IngestObserved("validation", time.Millisecond)
	c.EventDropped()
	c.ResetObserved(errors.New("db down"), time.Now())
	c.ResetObserved(nil, time.Unix(1700000000, 0))
	c.ClientsChanged(3, 2)

	if got := testutil.ToFloat64(c.IngestTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("ingest ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Dropped); got != 1 {
		t.Errorf("dropped = %v", got)
	}
	if got := testutil.ToFloat64(c.ResetsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("reset errors = %v", got)
	}
	if got := testutil.ToFloat64(c.LastResetTime); got != 1700000000 {
		t.Errorf("last reset = %v", got)
	}
	if got := testutil.ToFloat64(c.ConnectedClients); got != 3 {
		t.Errorf("clients = %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.IngestObserved("ok", time.Second)
	c.EventPublished()
	c.ResetObserved(nil, time.Now())
	c.NATSSetConnected(true)
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.EventPublished()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bustrack_events_published_total 1") {
		t.Error("published counter missing from exposition")
	}
}
