package viewer

import (
	"sync"
	"time"

	"github.com/campusride/bustrack/models"
)

// State is a session's view of how trustworthy its latest position is.
type State string

const (
	// StateConnecting means no lookup or event has arrived yet.
	StateConnecting State = "connecting"
	// StateLive means data arrived within the staleness window.
	StateLive State = "live"
	// StateStale means the transport is up but nothing fresh arrived in time.
	StateStale State = "stale"
	// StateOffline means the transport is down and reconnecting.
	StateOffline State = "offline"
	// StateClosed means the session was closed.
	StateClosed State = "closed"
)

// Update is emitted on every position, reset or state change.
type Update struct {
	UnitID   string
	Position *models.Position
	State    State
	// Reset is set when the server cleared all positions.
	Reset bool
}

const updateBuffer = 16

// Session follows one unit. It is created by Client.Open.
type Session struct {
	client  *Client
	unitID  string
	updates chan Update

	mu        sync.Mutex
	latest    *models.Position
	state     State
	lastFresh time.Time
	pushes    uint64
	closed    bool
}

func newSession(c *Client, unitID string) *Session {
	return &Session{
		client:    c,
		unitID:    unitID,
		updates:   make(chan Update, updateBuffer),
		state:     StateConnecting,
		lastFresh: c.clock.Now(),
	}
}

// UnitID returns the followed unit.
func (s *Session) UnitID() string { return s.unitID }

// Updates streams changes until the session is closed. A slow reader loses
// the oldest pending updates, never the newest.
func (s *Session) Updates() <-chan Update { return s.updates }

// Latest returns the last known position, nil if none, and the state.
func (s *Session) Latest() (*models.Position, State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, s.state
	}
	p := *s.latest
	return &p, s.state
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close leaves the unit's topic. The transport is closed once no session
// needs it. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.client.release(s)
}

// applyPush records a pushed position unless the session already holds a
// newer one.
func (s *Session) applyPush(pos *models.Position, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pushes++
	s.lastFresh = now
	s.keepNewerLocked(pos)
	s.state = StateLive
	s.emitLocked(Update{})
}

// pushCount is read before a lookup starts and handed back to applyLookup.
func (s *Session) pushCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushes
}

// applyLookup records the result of a point lookup that started when the
// session had seen pushesBefore pushes. A null result means nothing was
// recorded since the last reset, so the held position is dropped, unless a
// push arrived while the lookup was in flight.
func (s *Session) applyLookup(pos *models.Position, pushesBefore uint64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.lastFresh = now
	switch {
	case pos != nil:
		s.keepNewerLocked(pos)
	case s.pushes == pushesBefore:
		s.latest = nil
	}
	s.state = StateLive
	s.emitLocked(Update{})
}

// keepNewerLocked stores pos unless it is older than the held position.
// Lookups and pushes race after a join. Must hold s.mu.
func (s *Session) keepNewerLocked(pos *models.Position) {
	if s.latest == nil || !pos.Timestamp.Before(s.latest.Timestamp) {
		p := *pos
		s.latest = &p
	}
}

// applyReset drops the position after a server-side reset.
func (s *Session) applyReset(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.latest = nil
	s.lastFresh = now
	s.state = StateLive
	s.emitLocked(Update{Reset: true})
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state == st {
		return
	}
	s.state = st
	s.emitLocked(Update{})
}

// age returns how long ago fresh data arrived and whether staleness applies.
func (s *Session) age(now time.Time) (time.Duration, State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastFresh), s.state
}

func (s *Session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.state = StateClosed
	close(s.updates)
}

// emitLocked sends the current snapshot. Must hold s.mu.
func (s *Session) emitLocked(u Update) {
	u.UnitID = s.unitID
	u.State = s.state
	if s.latest != nil {
		p := *s.latest
		u.Position = &p
	}
	for {
		select {
		case s.updates <- u:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
