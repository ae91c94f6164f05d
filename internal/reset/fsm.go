package reset

import (
	"context"
	"time"

	"github.com/looplab/fsm"
)

// Scheduler states.
const (
	StateIdle   = "idle"
	StateArmed  = "armed"
	StateFiring = "firing"
)

// Scheduler events.
const (
	// EventArm computes the first fire time.
	EventArm = "event_arm"
	// EventFire starts a reset.
	EventFire = "event_fire"
	// EventRearm schedules the next cycle after a reset, whatever its outcome.
	EventRearm = "event_rearm"
	// EventStop returns the scheduler to idle.
	EventStop = "event_stop"
)

func (s *Scheduler) newFSM() *fsm.FSM {
	events := fsm.Events{
		{Name: EventArm, Src: []string{StateIdle}, Dst: StateArmed},
		{Name: EventFire, Src: []string{StateArmed}, Dst: StateFiring},
		{Name: EventRearm, Src: []string{StateFiring}, Dst: StateArmed},
		{Name: EventStop, Src: []string{StateArmed, StateFiring}, Dst: StateIdle},
	}

	callbacks := fsm.Callbacks{
		"enter_" + StateArmed:  wrapEvent(s.actionEnterArmed),
		"enter_" + StateFiring: wrapEvent(s.actionEnterFiring),
		"enter_" + StateIdle:   wrapEvent(s.actionEnterIdle),
	}

	return fsm.NewFSM(StateIdle, events, callbacks)
}

func wrapEvent(fn func(ctx context.Context, e *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, e *fsm.Event) {
		if err := fn(ctx, e); err != nil {
			e.Err = err
		}
	}
}

// actionEnterArmed computes the next fire time. On rearm the base is never
// earlier than the time that just fired, so an early timer cannot fire twice
// in one day.
func (s *Scheduler) actionEnterArmed(_ context.Context, e *fsm.Event) error {
	s.mu.Lock()
	base := s.clock.Now()
	if e.Event == EventRearm && s.next.After(base) {
		base = s.next
	}
	s.next = NextFireTime(base, s.hour, s.minute, s.loc)
	next := s.next
	s.mu.Unlock()

	s.log.Info("daily reset armed", "next", next.Format("2006-01-02 15:04 MST"))
	if s.metrics != nil {
		s.metrics.ResetArmed(next)
	}
	return nil
}

func (s *Scheduler) actionEnterFiring(ctx context.Context, _ *fsm.Event) error {
	s.fire(ctx)
	return nil
}

func (s *Scheduler) actionEnterIdle(_ context.Context, _ *fsm.Event) error {
	s.mu.Lock()
	s.next = time.Time{}
	s.mu.Unlock()
	s.log.Info("daily reset stopped")
	return nil
}
