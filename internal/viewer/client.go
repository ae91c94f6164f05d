// Package viewer is the client side of live tracking: it follows units over
// the realtime channel, seeds them with point lookups and reports when the
// data can no longer be trusted.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"k8s.io/utils/clock"

	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/models"
	"github.com/campusride/bustrack/pkg/log"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8081
	BaseURL string
	Token   string

	// StaleAfter is how long a session stays live without an event or a
	// successful lookup.
	StaleAfter     time.Duration
	RequestTimeout time.Duration

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Clock      clock.WithTicker
	// NewBackOff returns the reconnect policy. Defaults to exponential
	// backoff that never gives up.
	NewBackOff func() backoff.BackOff
	Logger     log.Logger
}

// Client shares one realtime connection between any number of sessions.
type Client struct {
	cfg   Config
	clock clock.WithTicker
	log   log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// dialMu serializes connection setup.
	dialMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	sessions map[string]map[*Session]struct{}
	closed   bool

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewClient creates a client. No connection is made until the first Open.
func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]map[*Session]struct{}),
	}

	c.wg.Add(1)
	go c.watchStaleness()
	return c
}

// Open follows unitID. It connects the shared transport if needed, joins the
// unit's topic and seeds the session with a point lookup. An unknown unit
// fails with a not-found error.
func (c *Client) Open(ctx context.Context, unitID string) (*Session, error) {
	if unitID == "" {
		return nil, errs.NewValidation("unit id is required")
	}

	s := newSession(c, unitID)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("viewer client closed")
	}
	set, ok := c.sessions[unitID]
	if !ok {
		set = make(map[*Session]struct{})
		c.sessions[unitID] = set
	}
	set[s] = struct{}{}
	first := len(set) == 1
	c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		c.release(s)
		return nil, err
	}
	if first {
		// A failed join is repaired by the reconnect loop, which rejoins
		// every followed unit.
		if err := c.send(models.ClientMessage{Type: models.MessageJoin, UnitID: unitID}); err != nil {
			c.log.Warn("join failed", "unitId", unitID, "error", err)
		}
	}

	pushes := s.pushCount()
	pos, err := c.FetchPosition(ctx, unitID)
	switch {
	case errs.Is(err, errs.NotFound), errs.Is(err, errs.Unauthorized), errs.Is(err, errs.Forbidden):
		c.release(s)
		return nil, err
	case err != nil:
		c.log.Warn("initial lookup failed", "unitId", unitID, "error", err)
	default:
		s.applyLookup(pos, pushes, c.clock.Now())
	}
	return s, nil
}

// Close ends every session and the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	var all []*Session
	for _, set := range c.sessions {
		for s := range set {
			all = append(all, s)
		}
	}
	c.sessions = make(map[string]map[*Session]struct{})
	c.mu.Unlock()

	c.cancel()
	for _, s := range all {
		s.finish()
	}
	var err error
	if conn != nil {
		err = c.closeConn(conn)
	}
	c.wg.Wait()
	return err
}

// release removes s, leaving its topic when it was the last session for the
// unit and closing the transport when no session remains.
func (c *Client) release(s *Session) error {
	c.mu.Lock()
	set, ok := c.sessions[s.unitID]
	if !ok {
		c.mu.Unlock()
		s.finish()
		return nil
	}
	if _, ok := set[s]; !ok {
		c.mu.Unlock()
		s.finish()
		return nil
	}
	delete(set, s)
	lastForUnit := len(set) == 0
	if lastForUnit {
		delete(c.sessions, s.unitID)
	}
	var conn *websocket.Conn
	if len(c.sessions) == 0 {
		conn = c.conn
		c.conn = nil
	}
	c.mu.Unlock()

	s.finish()

	if lastForUnit {
		msg := models.ClientMessage{Type: models.MessageLeave, UnitID: s.unitID}
		if conn != nil {
			c.writeTo(conn, msg)
		} else if err := c.send(msg); err != nil {
			c.log.Debug("leave not sent", "unitId", s.unitID, "error", err)
		}
	}
	if conn != nil {
		return c.closeConn(conn)
	}
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if connected {
		return nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return errors.New("viewer client closed")
	}
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, websocketURL(c.cfg.BaseURL), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errs.NewUnauthorized("realtime channel rejected the token")
		}
		return nil, fmt.Errorf("failed to connect realtime channel: %w", err)
	}
	return conn, nil
}

func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}

// run reads from conn and, when it drops unexpectedly, reconnects until the
// client is closed or no session is left.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		err := c.readLoop(conn)
		if !c.isCurrent(conn) {
			return
		}
		c.log.Warn("realtime connection lost", "error", err)
		c.markAll(StateOffline)

		conn = c.reconnect(conn)
		if conn == nil {
			return
		}
		c.resubscribe()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg models.ServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug("ignoring malformed message", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg models.ServerMessage) {
	now := c.clock.Now()
	switch msg.Type {
	case models.MessageLocationUpdate:
		ev, ok := msg.PositionEvent()
		if !ok {
			return
		}
		pos := &models.Position{Latitude: ev.Latitude, Longitude: ev.Longitude, Timestamp: ev.Timestamp}
		for _, s := range c.sessionsFor(ev.UnitID) {
			s.applyPush(pos, now)
		}
	case models.MessageTrackingReset:
		c.log.Info("tracking reset", "message", msg.Message)
		for _, s := range c.allSessions() {
			s.applyReset(now)
		}
	case models.MessageError:
		c.log.Warn("server reported an error", "message", msg.Message)
	}
}

// reconnect replaces old with a new connection. It returns nil when the
// client was closed or emptied while retrying.
func (c *Client) reconnect(old *websocket.Conn) *websocket.Conn {
	old.Close()

	var conn *websocket.Conn
	op := func() error {
		if !c.isCurrent(old) {
			return backoff.Permanent(errors.New("connection no longer needed"))
		}
		cn, err := c.dial(c.ctx)
		if errs.Is(err, errs.Unauthorized) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		conn = cn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Debug("reconnect failed", "error", err, "retryIn", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.cfg.NewBackOff(), c.ctx), notify); err != nil {
		c.log.Warn("giving up on realtime connection", "error", err)
		return nil
	}

	c.mu.Lock()
	if c.conn != old {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()
	c.log.Info("realtime connection restored")
	return conn
}

// resubscribe joins every followed unit again and refetches its position,
// since the channel keeps no backlog.
func (c *Client) resubscribe() {
	for _, unitID := range c.unitIDs() {
		if err := c.send(models.ClientMessage{Type: models.MessageJoin, UnitID: unitID}); err != nil {
			c.log.Warn("rejoin failed", "unitId", unitID, "error", err)
			continue
		}
		c.refresh(unitID)
	}
}

// refresh performs a point lookup and feeds the result to the unit's
// sessions. It reports whether the lookup succeeded.
func (c *Client) refresh(unitID string) bool {
	sessions := c.sessionsFor(unitID)
	pushes := make([]uint64, len(sessions))
	for i, s := range sessions {
		pushes[i] = s.pushCount()
	}

	pos, err := c.FetchPosition(c.ctx, unitID)
	if err != nil {
		c.log.Debug("lookup failed", "unitId", unitID, "error", err)
		return false
	}
	now := c.clock.Now()
	for i, s := range sessions {
		s.applyLookup(pos, pushes[i], now)
	}
	return true
}

// watchStaleness refreshes quiet sessions and marks them stale once nothing
// fresh arrived within StaleAfter.
func (c *Client) watchStaleness() {
	defer c.wg.Done()
	ticker := c.clock.NewTicker(c.cfg.StaleAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C():
			c.checkStaleness()
		}
	}
}

func (c *Client) checkStaleness() {
	refreshed := make(map[string]bool)
	for _, s := range c.allSessions() {
		age, state := s.age(c.clock.Now())
		if state == StateOffline || state == StateClosed || age < c.cfg.StaleAfter/2 {
			continue
		}
		ok, tried := refreshed[s.unitID]
		if !tried {
			ok = c.refresh(s.unitID)
			refreshed[s.unitID] = ok
		}
		if !ok && age >= c.cfg.StaleAfter {
			s.setState(StateStale)
		}
	}
}

func (c *Client) send(msg models.ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	return c.writeTo(conn, msg)
}

func (c *Client) writeTo(conn *websocket.Conn, msg models.ClientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (c *Client) closeConn(conn *websocket.Conn) error {
	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Client) isCurrent(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.conn == conn
}

func (c *Client) markAll(st State) {
	for _, s := range c.allSessions() {
		s.setState(st)
	}
}

func (c *Client) sessionsFor(unitID string) []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, 0, len(c.sessions[unitID]))
	for s := range c.sessions[unitID] {
		out = append(out, s)
	}
	return out
}

func (c *Client) allSessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Session
	for _, set := range c.sessions {
		for s := range set {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) unitIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}
