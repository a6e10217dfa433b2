package schedule

import (
	"context"
	"time"

	"github.com/pondlogic/feeder-core/internal/feeder"
)

// tickInterval is how often the scheduler re-evaluates its schedules.
// One tick per wall-clock minute is enough resolution for HH:MM slots.
const tickInterval = time.Minute

// Dispatcher issues the feed command for a due schedule. The bridge
// implements this: it builds the FEED token, relays it to the device and
// opens the feed session with the schedule as trigger.
type Dispatcher interface {
	DispatchFeed(ctx context.Context, s Schedule) error
}

// Scheduler fires enabled schedules at their configured times.
//
// Schedules are re-read from the repository every tick, so edits made
// through the API take effect at the next minute without a restart.
// A trigger that fails to dispatch is not marked as run; within the
// same minute it will be retried on the next tick, after that the slot
// has passed and the feed is skipped.
type Scheduler struct {
	repo     Repository
	dispatch Dispatcher
	logger   feeder.Logger

	interval time.Duration
	now      func() time.Time
}

// NewScheduler creates a scheduler over the given repository and dispatcher.
func NewScheduler(repo Repository, dispatch Dispatcher, logger feeder.Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		repo:     repo,
		dispatch: dispatch,
		logger:   logger,
		interval: tickInterval,
		now:      time.Now,
	}
}

// Run evaluates schedules until the context is cancelled. It never
// returns a non-nil error; schedule problems are logged and retried.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// tick evaluates every enabled schedule against the given instant.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	schedules, err := s.repo.ListEnabled(ctx)
	if err != nil {
		s.logger.Warn("listing schedules", "error", err)
		return
	}

	for i := range schedules {
		sched := &schedules[i]
		if !sched.DueAt(now) {
			continue
		}

		if err := s.dispatch.DispatchFeed(ctx, *sched); err != nil {
			s.logger.Warn("scheduled feed failed",
				"schedule_id", sched.ID,
				"name", sched.Name,
				"error", err,
			)
			continue
		}

		if err := s.repo.MarkRun(ctx, sched.ID, now); err != nil {
			s.logger.Warn("recording schedule run",
				"schedule_id", sched.ID,
				"error", err,
			)
		}

		s.logger.Info("scheduled feed dispatched",
			"schedule_id", sched.ID,
			"name", sched.Name,
			"time", sched.TimeOfDay,
		)
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
