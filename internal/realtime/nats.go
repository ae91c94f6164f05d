package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/campusride/bustrack/models"
	"github.com/campusride/bustrack/pkg/log"
)

// RelayMetrics is the subset of the collector the relay reports to.
type RelayMetrics interface {
	NATSSetConnected(connected bool)
	NATSPublishErrInc()
}

// NATSRelay publishes events to NATS and delivers every event received from
// NATS into the local hub, so viewers on any instance see every update.
type NATSRelay struct {
	nc      *nats.Conn
	hub     *Hub
	prefix  string
	subs    []*nats.Subscription
	log     log.Logger
	metrics RelayMetrics
}

var _ Publisher = (*NATSRelay)(nil)

// NewNATSRelay connects to url and subscribes to position and reset subjects
// under prefix.
func NewNATSRelay(url, prefix string, hub *Hub, logger log.Logger, m RelayMetrics) (*NATSRelay, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := &NATSRelay{hub: hub, prefix: prefix, log: logger, metrics: m}

	nc, err := nats.Connect(url,
		nats.Name("bustrack"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			r.setConnected(false)
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			r.setConnected(true)
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			r.setConnected(false)
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	r.nc = nc
	r.setConnected(true)

	positions, err := nc.Subscribe(r.positionSubject("*"), r.handlePosition)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to positions: %w", err)
	}
	resets, err := nc.Subscribe(r.resetSubject(), r.handleReset)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to resets: %w", err)
	}
	r.subs = []*nats.Subscription{positions, resets}

	logger.Info("nats relay ready", "url", nc.ConnectedUrl(), "prefix", prefix)
	return r, nil
}

func (r *NATSRelay) setConnected(ok bool) {
	if r.metrics != nil {
		r.metrics.NATSSetConnected(ok)
	}
}

func (r *NATSRelay) positionSubject(unitID string) string {
	if unitID != "*" {
		unitID = subjectToken(unitID)
	}
	return r.prefix + ".position." + unitID
}

func (r *NATSRelay) resetSubject() string {
	return r.prefix + ".reset"
}

// PublishPosition publishes ev to NATS. If the publish fails the event is
// delivered to the local hub only, and the error is returned.
func (r *NATSRelay) PublishPosition(ctx context.Context, ev models.PositionEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode position event: %w", err)
	}
	if err := r.nc.Publish(r.positionSubject(ev.UnitID), b); err != nil {
		r.publishFailed()
		r.hub.PublishPosition(ctx, ev)
		return fmt.Errorf("nats publish failed, delivered locally: %w", err)
	}
	return nil
}

// BroadcastReset publishes ev to NATS, falling back to the local hub.
func (r *NATSRelay) BroadcastReset(ctx context.Context, ev models.ResetEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode reset event: %w", err)
	}
	if err := r.nc.Publish(r.resetSubject(), b); err != nil {
		r.publishFailed()
		r.hub.BroadcastReset(ctx, ev)
		return fmt.Errorf("nats publish failed, delivered locally: %w", err)
	}
	return nil
}

func (r *NATSRelay) publishFailed() {
	if r.metrics != nil {
		r.metrics.NATSPublishErrInc()
	}
}

func (r *NATSRelay) handlePosition(msg *nats.Msg) {
	var ev models.PositionEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.log.Warn("dropping malformed position message", "subject", msg.Subject, "error", err)
		return
	}
	if ev.UnitID == "" {
		r.log.Warn("dropping position message without unit", "subject", msg.Subject)
		return
	}
	r.hub.PublishPosition(context.Background(), ev)
}

func (r *NATSRelay) handleReset(msg *nats.Msg) {
	var ev models.ResetEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.log.Warn("dropping malformed reset message", "subject", msg.Subject, "error", err)
		return
	}
	if ev.Message == "" {
		ev.Message = models.DefaultResetMessage
	}
	r.hub.BroadcastReset(context.Background(), ev)
}

// Close drains subscriptions and closes the connection.
func (r *NATSRelay) Close() {
	if r.nc == nil {
		return
	}
	if err := r.nc.Drain(); err != nil {
		r.log.Warn("nats drain failed", "error", err)
		r.nc.Close()
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain whitespace, '.', '*' or '>'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
