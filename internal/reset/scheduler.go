// Package reset clears every stored position once a day and tells all
// connected viewers about it.
package reset

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/campusride/bustrack/models"
	"github.com/campusride/bustrack/pkg/log"
)

// Store clears positions and arrival records.
type Store interface {
	ClearAll(ctx context.Context) (int64, error)
}

// Broadcaster notifies every connected viewer.
type Broadcaster interface {
	BroadcastReset(ctx context.Context, ev models.ResetEvent) error
}

// Metrics is the subset of the collector the scheduler reports to.
type Metrics interface {
	ResetObserved(err error, at time.Time)
	ResetArmed(at time.Time)
}

// Config holds the wall-clock fire time.
type Config struct {
	Hour     int
	Minute   int
	Location *time.Location
	// Timeout bounds one reset, clear and broadcast together
	Timeout time.Duration
	Message string
}

// Scheduler runs Idle -> Armed -> Firing -> Armed forever until stopped.
type Scheduler struct {
	store   Store
	bc      Broadcaster
	clock   clock.Clock
	log     log.Logger
	metrics Metrics

	hour, minute int
	loc          *time.Location
	timeout      time.Duration
	message      string

	machine *fsm.FSM

	mu   sync.Mutex
	next time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics reports resets to m.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a scheduler in the idle state.
func NewScheduler(store Store, bc Broadcaster, cfg Config, logger log.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Scheduler{
		store:   store,
		bc:      bc,
		clock:   clock.RealClock{},
		log:     logger,
		hour:    cfg.Hour,
		minute:  cfg.Minute,
		loc:     cfg.Location,
		timeout: cfg.Timeout,
		message: cfg.Message,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.message == "" {
		s.message = models.DefaultResetMessage
	}
	for _, opt := range opts {
		opt(s)
	}
	s.machine = s.newFSM()
	return s
}

// NextFireTime returns the first hour:minute in loc strictly after now.
func NextFireTime(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// State returns the current state name.
func (s *Scheduler) State() string {
	return s.machine.Current()
}

// Next returns the armed fire time, or the zero time when idle.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Run arms the scheduler and fires at each occurrence until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.event(ctx, EventArm); err != nil {
		return err
	}
	defer s.event(context.Background(), EventStop)

	for {
		timer := s.clock.NewTimer(s.Next().Sub(s.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C():
		}

		if err := s.event(ctx, EventFire); err != nil {
			s.log.Error(err, "daily reset failed to start")
		}
		if err := s.event(ctx, EventRearm); err != nil {
			return err
		}
	}
}

func (s *Scheduler) event(ctx context.Context, name string) error {
	err := s.machine.Event(ctx, name)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return err
	}
	return nil
}

// fire clears all positions and, if that succeeded, broadcasts the reset.
// Failures are logged only.
func (s *Scheduler) fire(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	at := s.clock.Now()
	cleared, err := s.store.ClearAll(ctx)
	if s.metrics != nil {
		s.metrics.ResetObserved(err, at)
	}
	if err != nil {
		s.log.Error(err, "daily reset failed to clear positions")
		return
	}
	s.log.Info("daily reset cleared positions", "units", cleared)

	ev := models.ResetEvent{Message: s.message, ResetAt: at.UTC()}
	if err := s.bc.BroadcastReset(ctx, ev); err != nil {
		s.log.Error(err, "daily reset broadcast failed")
	}
}
