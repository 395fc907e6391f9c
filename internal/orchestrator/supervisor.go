package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/errs"
	"github.com/mnemosyne/mnemosyne/internal/events"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// Supervisor restarts a crashed actor goroutine with exponential backoff,
// reusing the teacher's crash-detection idiom (Spawner.monitorAgents
// ticking and checking liveness) but replacing the signal-0 process check
// with goroutine-panic recovery, and the hand-rolled retry with
// backoff/v4's ExponentialBackOff.
type Supervisor struct {
	cfg config.SupervisionConfig
	log *zap.Logger
	bus *events.Bus
}

// NewSupervisor creates a Supervisor using cfg's backoff parameters.
func NewSupervisor(cfg config.SupervisionConfig, log *zap.Logger, bus *events.Bus) *Supervisor {
	return &Supervisor{cfg: cfg, log: log, bus: bus}
}

// Supervise runs fn repeatedly until ctx is done. A crash (panic or
// returned error) triggers a restart after an exponentially increasing
// delay; backoff/v4 has no native "N restarts per window" primitive, so
// that budget is tracked by hand and exceeding it publishes
// EscalationRaised and returns an errs.KindSupervision error (spec.md
// §4.4).
func (s *Supervisor) Supervise(ctx context.Context, actorName string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BaseDelay
	b.Multiplier = s.cfg.Factor
	b.MaxInterval = s.cfg.MaxDelay
	b.MaxElapsedTime = 0 // unbounded: the restart-count/window check below is our cap

	var restarts []time.Time

	for {
		err := s.runOnce(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			// fn returned cleanly without ctx being done: treat as a
			// crash too, since role actors are meant to run forever.
			err = fmt.Errorf("actor %s exited unexpectedly", actorName)
		}

		now := time.Now()
		restarts = append(restarts, now)
		restarts = withinWindow(restarts, now, s.cfg.Window)
		if len(restarts) > s.cfg.MaxRestarts {
			supErr := errs.New(errs.KindSupervision, fmt.Sprintf("actor %s exceeded %d restarts in %s", actorName, s.cfg.MaxRestarts, s.cfg.Window))
			if s.bus != nil {
				s.bus.Publish(types.Event{Type: types.EventEscalationRaised, Payload: map[string]interface{}{
					"actor": actorName, "reason": supErr.Error(),
				}})
			}
			return supErr
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			delay = s.cfg.MaxDelay
		}
		if s.log != nil {
			s.log.Warn("actor crashed, restarting", zap.String("actor", actorName), zap.Error(err), zap.Duration("backoff", delay))
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func withinWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Supervisor) runOnce(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
