package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSchedulerRunsRegisteredJobs(t *testing.T) {
	var ticks atomic.Int64

	s := New(zerolog.Nop())
	s.Register("counter", Options{Interval: 5 * time.Millisecond}, func(ctx context.Context, now time.Time) error {
		ticks.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error from cancelled run, got %v", err)
	}
	if ticks.Load() < 2 {
		t.Fatalf("expected at least 2 ticks, got %d", ticks.Load())
	}
}

func TestSchedulerContinuesAfterTickError(t *testing.T) {
	var ticks atomic.Int64

	s := New(zerolog.Nop())
	s.Register("flaky", Options{Interval: 5 * time.Millisecond}, func(ctx context.Context, now time.Time) error {
		if ticks.Add(1) == 1 {
			return errors.New("transient failure")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if ticks.Load() < 2 {
		t.Fatalf("a failing tick must not stop the job, got %d ticks", ticks.Load())
	}
}

func TestSchedulerRunsJobsIndependently(t *testing.T) {
	var fast, slow atomic.Int64

	s := New(zerolog.Nop())
	s.Register("fast", Options{Interval: 5 * time.Millisecond}, func(ctx context.Context, now time.Time) error {
		fast.Add(1)
		return nil
	})
	s.Register("slow", Options{Interval: time.Hour}, func(ctx context.Context, now time.Time) error {
		slow.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if fast.Load() < 2 {
		t.Fatalf("fast job starved, got %d ticks", fast.Load())
	}
	if slow.Load() != 0 {
		t.Fatalf("slow job fired before its interval, got %d ticks", slow.Load())
	}
}

func TestSchedulerHonoursStartupDelay(t *testing.T) {
	var ticks atomic.Int64

	s := New(zerolog.Nop())
	s.Register("delayed", Options{Interval: 5 * time.Millisecond, StartupDelay: time.Hour}, func(ctx context.Context, now time.Time) error {
		ticks.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if ticks.Load() != 0 {
		t.Fatalf("job must not tick during its startup delay, got %d ticks", ticks.Load())
	}
}

func TestRegisterRejectsNonPositiveInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on non-positive interval")
		}
	}()

	s := New(zerolog.Nop())
	s.Register("broken", Options{Interval: 0}, func(ctx context.Context, now time.Time) error { return nil })
}
