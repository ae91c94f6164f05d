// Package realtime implements the topic-keyed fan-out channel that pushes
// position updates to viewers, plus the optional NATS relay that carries
// events between server instances.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/campusride/bustrack/models"
	"github.com/campusride/bustrack/pkg/log"
)

// Publisher delivers events to viewers. The Hub publishes locally; the
// NATSRelay publishes through NATS so every instance's hub receives them.
type Publisher interface {
	PublishPosition(ctx context.Context, ev models.PositionEvent) error
	BroadcastReset(ctx context.Context, ev models.ResetEvent) error
}

// HubMetrics is the subset of the collector the hub reports to.
type HubMetrics interface {
	EventPublished()
	EventDelivered()
	EventDropped()
	ClientsChanged(clients, subscriptions int)
}

const defaultSendBuffer = 64

// Hub tracks connected clients and their topic memberships.
// Publishing never blocks: a client whose send buffer is full misses the
// event and the drop is logged.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}
	subs    int

	sendBuffer int
	log        log.Logger
	metrics    HubMetrics
}

var _ Publisher = (*Hub)(nil)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSendBuffer sets the per-client outbound queue length.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithMetrics reports hub activity to m.
func WithMetrics(m HubMetrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates an empty hub.
func NewHub(logger log.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		topics:     make(map[string]map[*Client]struct{}),
		sendBuffer: defaultSendBuffer,
		log:        logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds c to the hub. It receives broadcasts immediately and topic
// events once it subscribes.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.reportLocked()
	h.mu.Unlock()

	h.log.Debug("client registered", "client", c.id)
}

// Unregister removes c from every topic and closes its send queue.
// Calling it more than once is safe.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	for topic := range c.topics {
		h.removeLocked(topic, c)
	}
	delete(h.clients, c)
	h.reportLocked()
	h.mu.Unlock()

	c.closeSend()
	h.log.Debug("client unregistered", "client", c.id)
}

// Subscribe adds c to topic. Subscribing twice is a no-op.
func (h *Hub) Subscribe(topic string, c *Client) error {
	if topic == "" {
		return errors.New("topic is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return fmt.Errorf("client %s is not registered", c.id)
	}
	if _, ok := c.topics[topic]; ok {
		return nil
	}

	members := h.topics[topic]
	if members == nil {
		members = make(map[*Client]struct{})
		h.topics[topic] = members
	}
	members[c] = struct{}{}
	c.topics[topic] = struct{}{}
	h.subs++
	h.reportLocked()
	return nil
}

// Unsubscribe removes c from topic.
func (h *Hub) Unsubscribe(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(topic, c)
	h.reportLocked()
}

func (h *Hub) removeLocked(topic string, c *Client) {
	members, ok := h.topics[topic]
	if !ok {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	delete(c.topics, topic)
	h.subs--
	if len(members) == 0 {
		delete(h.topics, topic)
	}
}

func (h *Hub) reportLocked() {
	if h.metrics != nil {
		h.metrics.ClientsChanged(len(h.clients), h.subs)
	}
}

// Publish enqueues msg for every client subscribed to topic and returns the
// number of clients it was enqueued for.
func (h *Hub) Publish(topic string, msg []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.EventPublished()
	}

	delivered := 0
	for c := range h.topics[topic] {
		if h.enqueue(c, msg) {
			delivered++
		}
	}
	return delivered
}

// Broadcast enqueues msg for every registered client regardless of topic.
func (h *Hub) Broadcast(msg []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.EventPublished()
	}

	delivered := 0
	for c := range h.clients {
		if h.enqueue(c, msg) {
			delivered++
		}
	}
	return delivered
}

// enqueue must be called with at least a read lock held, which guarantees
// c.send is still open.
func (h *Hub) enqueue(c *Client, msg []byte) bool {
	select {
	case c.send <- msg:
		if h.metrics != nil {
			h.metrics.EventDelivered()
		}
		return true
	default:
		h.log.Warn("send buffer full, dropping event", "client", c.id)
		if h.metrics != nil {
			h.metrics.EventDropped()
		}
		return false
	}
}

// PublishPosition sends a location-update to the event's unit topic.
func (h *Hub) PublishPosition(_ context.Context, ev models.PositionEvent) error {
	msg, err := json.Marshal(ev.LocationUpdate())
	if err != nil {
		return fmt.Errorf("failed to encode position event: %w", err)
	}
	n := h.Publish(ev.UnitID, msg)
	h.log.Debug("position published", "unitId", ev.UnitID, "receivers", n)
	return nil
}

// BroadcastReset sends a tracking-reset to every connected client.
func (h *Hub) BroadcastReset(_ context.Context, ev models.ResetEvent) error {
	msg, err := json.Marshal(ev.TrackingReset())
	if err != nil {
		return fmt.Errorf("failed to encode reset event: %w", err)
	}
	n := h.Broadcast(msg)
	h.log.Info("reset broadcast", "receivers", n)
	return nil
}

// sendTo enqueues msg for a single registered client.
func (h *Hub) sendTo(c *Client, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	return h.enqueue(c, msg)
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients subscribed to topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close unregisters every client. Their connections are closed by their
// write pumps.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}
