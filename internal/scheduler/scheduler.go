package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval with the tick's wall-clock time.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune per-job behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

type job struct {
	name string
	opts Options
	tick TickFunc
}

// Scheduler drives a set of independently-ticking periodic jobs. Each job runs
// in its own goroutine; a job never overlaps with itself because the next timer
// is armed only after the current tick returns.
type Scheduler struct {
	jobs   []job
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With().Str("component", "scheduler").Logger()}
}

// Register adds a named periodic job. Must be called before Run.
func (s *Scheduler) Register(name string, opts Options, tick TickFunc) {
	if opts.Interval <= 0 {
		panic("scheduler: job interval must be positive")
	}
	s.jobs = append(s.jobs, job{name: name, opts: opts, tick: tick})
}

// Run blocks, executing all registered jobs until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			s.runJob(ctx, j)
		}(j)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) runJob(ctx context.Context, j job) {
	logger := s.logger.With().Str("job", j.name).Logger()

	if j.opts.StartupDelay > 0 {
		if !sleep(ctx, j.opts.StartupDelay) {
			return
		}
	}

	for {
		if !sleep(ctx, j.opts.Interval) {
			return
		}

		now := time.Now().UTC()
		logger.Debug().Time("tick", now).Msg("executing scheduled tick")

		// One failed tick must not prevent the next scheduled one.
		if err := j.tick(ctx, now); err != nil {
			logger.Error().Err(err).Time("tick", now).Msg("tick execution failed")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
