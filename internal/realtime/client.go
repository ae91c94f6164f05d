package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/campusride/bustrack/models"
	"github.com/campusride/bustrack/pkg/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is one viewer connection.
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	log    log.Logger

	// topics is guarded by hub.mu
	topics map[string]struct{}

	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, userID string) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		userID: userID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
		log:    h.log.WithValues("client", id, "user", userID),
		topics: make(map[string]struct{}),
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Serve registers conn with the hub and pumps messages until the connection
// closes. It blocks for the lifetime of the connection.
func (h *Hub) Serve(conn *websocket.Conn, userID string) {
	c := newClient(h, conn, userID)
	h.Register(c)
	c.log.Info("viewer connected")

	go c.writePump()
	c.readPump()
}

// readPump handles join/leave messages until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.log.Info("viewer disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("unexpected close", "error", err)
			}
			return
		}
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.replyError("invalid message")
		return
	}

	switch msg.Type {
	case models.MessageJoin, "join-bus":
		if err := c.hub.Subscribe(msg.UnitID, c); err != nil {
			c.replyError(err.Error())
			return
		}
		c.log.Debug("joined", "unitId", msg.UnitID)
	case models.MessageLeave, "leave-bus":
		c.hub.Unsubscribe(msg.UnitID, c)
		c.log.Debug("left", "unitId", msg.UnitID)
	default:
		c.replyError("unknown message type")
	}
}

func (c *Client) replyError(text string) {
	b, err := json.Marshal(models.ServerMessage{Type: models.MessageError, Message: text})
	if err != nil {
		return
	}
	c.hub.sendTo(c, b)
}

// writePump drains the send queue and keeps the connection alive with pings.
// It owns all writes to conn.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
