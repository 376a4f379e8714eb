package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	engerrors "github.com/afadxb/bot4.1/internal/errors"
	"github.com/afadxb/bot4.1/internal/monitoring"
)

// Pruner drops expired cached bars.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// ServiceOptions configures the cadence loop.
type ServiceOptions struct {
	Cadence time.Duration
	// Cycles stops the loop after this many cycles; 0 runs until cancelled.
	Cycles int
	// Force runs cycles outside the session window, for replays.
	Force   bool
	Pruner  Pruner
	Health  *monitoring.HealthChecker
	OnCycle func(CycleReport)
}

// Service runs the orchestrator on cadence boundaries and resets the
// session at the market open.
type Service struct {
	orch  *Orchestrator
	clock *MarketClock
	opts  ServiceOptions
	now   func() time.Time
	log   zerolog.Logger
}

// NewService wraps orch in a cadence loop.
func NewService(orch *Orchestrator, opts ServiceOptions, log zerolog.Logger) *Service {
	if opts.Cadence <= 0 {
		opts.Cadence = 5 * time.Minute
	}
	return &Service{
		orch:  orch,
		clock: orch.clock,
		opts:  opts,
		now:   orch.now,
		log:   log.With().Str("component", "service").Logger(),
	}
}

// UntilNextBoundary returns the wait until the next multiple of cadence.
func UntilNextBoundary(now time.Time, cadence time.Duration) time.Duration {
	next := now.Truncate(cadence).Add(cadence)
	return next.Sub(now)
}

// SessionCron is the cron spec firing at the session open on weekdays.
func (s *Service) SessionCron() string {
	return fmt.Sprintf("%d %d * * 1-5", s.clock.open.minute, s.clock.open.hour)
}

// Run blocks until ctx is cancelled, the cycle limit is reached or a fatal
// error occurs. The first cycle runs immediately.
func (s *Service) Run(ctx context.Context) error {
	scheduler := cron.New(cron.WithLocation(s.clock.Location()))
	if _, err := scheduler.AddFunc(s.SessionCron(), func() { s.SessionOpen(ctx) }); err != nil {
		return engerrors.NewConfigError("schedule", err.Error())
	}
	scheduler.Start()
	defer scheduler.Stop()

	s.log.Info().
		Dur("cadence", s.opts.Cadence).
		Int("cycles", s.opts.Cycles).
		Str("session_open", s.SessionCron()).
		Msg("service started")

	ran := 0
	for {
		if s.due(s.now()) {
			done, err := s.tick(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			ran++
			if s.opts.Cycles > 0 && ran >= s.opts.Cycles {
				s.log.Info().Int("cycles", ran).Msg("cycle limit reached")
				return nil
			}
		}

		timer := time.NewTimer(UntilNextBoundary(time.Now(), s.opts.Cadence))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info().Msg("service stopping")
			return nil
		case <-timer.C:
		}
	}
}

func (s *Service) due(now time.Time) bool {
	if s.opts.Force {
		return true
	}
	return s.clock.InSession(now) || s.clock.PastFlatten(now)
}

// tick runs one cycle. done is true when the context was cancelled.
func (s *Service) tick(ctx context.Context) (done bool, err error) {
	report, err := s.orch.RunCycle(ctx)
	if s.opts.Health != nil {
		s.opts.Health.RecordCycle(report.End, err)
		s.opts.Health.SetState(s.orch.State().String())
	}
	if s.opts.OnCycle != nil && report.Status != CycleIdle {
		s.opts.OnCycle(report)
	}

	switch {
	case err == nil:
		return false, nil
	case engerrors.IsFatal(err):
		return true, err
	default:
		if kind, _ := engerrors.KindOf(err); kind == engerrors.KindCancelled {
			return true, nil
		}
		s.log.Error().Err(err).Str("cycle_id", report.ID).Msg("cycle failed")
		return false, nil
	}
}

// SessionOpen starts the session and prunes expired bars. It runs from cron
// at the open and is safe to call again within the same session.
func (s *Service) SessionOpen(ctx context.Context) {
	now := s.now()
	if err := s.orch.StartSession(ctx, now); err != nil {
		s.log.Error().Err(err).Msg("session start failed")
	}
	if s.opts.Pruner == nil {
		return
	}
	n, err := s.opts.Pruner.Prune(ctx, now)
	if err != nil {
		s.log.Warn().Err(err).Msg("bar cache prune failed")
		return
	}
	s.log.Info().Int64("removed", n).Msg("bar cache pruned")
}
