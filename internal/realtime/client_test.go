package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"

	"github.com/campusride/bustrack/models"
)

func startServer(t *testing.T, h *Hub) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(conn, "viewer")
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func join(t *testing.T, h *Hub, conn *websocket.Conn, unitID string, want int) {
	t.Helper()
	if err := conn.WriteJSON(models.ClientMessage{Type: models.MessageJoin, UnitID: unitID}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.SubscriberCount(unitID) < want {
		if time.Now().After(deadline) {
			t.Fatalf("join %s not processed", unitID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func read(t *testing.T, conn *websocket.Conn) models.ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m models.ServerMessage
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func TestWebsocketJoinPublishReset(t *testing.T) {
	is := is.New(t)
	h := NewHub(nil)
	url := startServer(t, h)

	one := dial(t, url)
	two := dial(t, url)
	join(t, h, one, "bus-1", 1)
	join(t, h, two, "bus-2", 1)

	is.NoErr(h.PublishPosition(context.Background(), models.PositionEvent{
		UnitID: "bus-1", Latitude: 1.5, Longitude: 2.5, Timestamp: time.Now().UTC(),
	}))

	m := read(t, one)
	is.Equal(m.Type, models.MessageLocationUpdate)
	is.Equal(m.UnitID, "bus-1")
	is.Equal(*m.Latitude, 1.5)

	// Reset reaches both; for two it is the first message, so bus-1's
	// update was never delivered there.
	is.NoErr(h.BroadcastReset(context.Background(), models.ResetEvent{Message: "reset"}))
	is.Equal(read(t, one).Type, models.MessageTrackingReset)
	is.Equal(read(t, two).Type, models.MessageTrackingReset)
}

func TestWebsocketLeaveAndErrors(t *testing.T) {
	is := is.New(t)
	h := NewHub(nil)
	url := startServer(t, h)
	conn := dial(t, url)

	join(t, h, conn, "bus-1", 1)
	is.NoErr(conn.WriteJSON(models.ClientMessage{Type: models.MessageLeave, UnitID: "bus-1"}))

	is.NoErr(conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	m := read(t, conn)
	is.Equal(m.Type, models.MessageError)
	is.Equal(h.SubscriberCount("bus-1"), 0)

	is.NoErr(conn.WriteJSON(map[string]string{"type": "dance"}))
	is.Equal(read(t, conn).Message, "unknown message type")
}

func TestWebsocketDisconnectUnregisters(t *testing.T) {
	h := NewHub(nil)
	url := startServer(t, h)
	conn := dial(t, url)
	join(t, h, conn, "bus-1", 1)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not unregistered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if h.SubscriberCount("bus-1") != 0 {
		t.Error("subscription survived disconnect")
	}
}

func TestLegacyJoinAlias(t *testing.T) {
	h := NewHub(nil)
	c := registered(h, "legacy")
	raw, _ := json.Marshal(map[string]string{"type": "join-bus", "unitId": "bus-9"})
	c.handle(raw)
	if h.SubscriberCount("bus-9") != 1 {
		t.Error("join-bus alias not honoured")
	}
}
