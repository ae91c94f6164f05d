package device

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/pkg/log"
)

// Sender delivers one capture to the server.
type Sender interface {
	Send(ctx context.Context, p Point) error
}

// Config sets the two cadences. They are independent: a device may capture
// more often than it sends, and only the latest capture is sent.
type Config struct {
	CaptureEvery time.Duration
	SendEvery    time.Duration
	Clock        clock.WithTicker
	Logger       log.Logger
}

// Simulator drives a Source and a Sender.
type Simulator struct {
	src    Source
	sender Sender
	cfg    Config
	log    log.Logger
}

// NewSimulator creates a simulator. Zero cadences default to 10s.
func NewSimulator(src Source, sender Sender, cfg Config) *Simulator {
	if cfg.CaptureEvery <= 0 {
		cfg.CaptureEvery = 10 * time.Second
	}
	if cfg.SendEvery <= 0 {
		cfg.SendEvery = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Simulator{src: src, sender: sender, cfg: cfg, log: logger}
}

// Run captures and sends until ctx is done. It captures and sends once
// immediately. Rejections that retrying cannot fix (bad coordinates, bad
// token, wrong role, no assigned unit) stop the run with that error;
// anything else is logged and the next send tries again.
func (s *Simulator) Run(ctx context.Context) error {
	var (
		latest  Point
		pending bool
	)
	capture := func() error {
		p, err := s.src.Next()
		if err != nil {
			return fmt.Errorf("failed to capture position: %w", err)
		}
		latest, pending = p, true
		return nil
	}
	send := func() error {
		if !pending {
			return nil
		}
		if err := s.sender.Send(ctx, latest); err != nil {
			if permanent(err) {
				return err
			}
			s.log.Error(err, "send failed, will retry", "lat", latest.Latitude, "lng", latest.Longitude)
			return nil
		}
		pending = false
		s.log.Info("location sent", "lat", latest.Latitude, "lng", latest.Longitude)
		return nil
	}

	captureT := s.cfg.Clock.NewTicker(s.cfg.CaptureEvery)
	defer captureT.Stop()
	sendT := s.cfg.Clock.NewTicker(s.cfg.SendEvery)
	defer sendT.Stop()

	if err := capture(); err != nil {
		return err
	}
	if err := send(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-captureT.C():
			if err := capture(); err != nil {
				return err
			}
		case <-sendT.C():
			if err := send(); err != nil {
				return err
			}
		}
	}
}

func permanent(err error) bool {
	switch errs.KindOf(err) {
	case errs.Validation, errs.Unauthorized, errs.Forbidden, errs.NotFound:
		return true
	}
	return false
}
