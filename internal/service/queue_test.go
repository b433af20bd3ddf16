package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/halcyon-social/halcyon/internal/usecase"
)

func TestQueueExecutesJobs(t *testing.T) {
	q := NewQueueService(2, 16)

	var ran atomic.Int32
	done := make(chan struct{})
	err := q.Schedule(context.Background(), usecase.Job{
		Kind: "test",
		Run: func(ctx context.Context) error {
			ran.Add(1)
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	q.Stop(context.Background())
	if ran.Load() != 1 {
		t.Fatalf("expected 1 run, got %d", ran.Load())
	}
}

func TestQueueCoalescesPendingKeys(t *testing.T) {
	q := NewQueueService(1, 16)

	// park the only worker so keyed jobs stay pending
	started := make(chan struct{})
	release := make(chan struct{})
	err := q.Schedule(context.Background(), usecase.Job{
		Kind: "block",
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	<-started

	var runs atomic.Int32
	for i := 0; i < 3; i++ {
		err := q.Schedule(context.Background(), usecase.Job{
			Kind: "aggregates",
			Key:  "aggregates:like:subject",
			Run: func(ctx context.Context) error {
				runs.Add(1)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("schedule %d failed: %v", i, err)
		}
	}

	close(release)
	q.Stop(context.Background())

	if runs.Load() != 1 {
		t.Fatalf("expected pending recounts to coalesce into 1 run, got %d", runs.Load())
	}
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	q := NewQueueService(1, 16)

	var attempts atomic.Int32
	done := make(chan struct{})
	err := q.Schedule(context.Background(), usecase.Job{
		Kind: "flaky",
		Run: func(ctx context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient failure")
			}
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried to completion")
	}

	q.Stop(context.Background())
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestQueueScheduleUnblocksWhileRetrying(t *testing.T) {
	q := NewQueueService(1, 1)

	// occupy the only worker with a job that fails once released
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	err := q.Schedule(context.Background(), usecase.Job{
		Kind: "flaky",
		Run: func(ctx context.Context) error {
			once.Do(func() { close(started) })
			<-release
			return errors.New("transient failure")
		},
	})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	<-started

	// fill the depth-1 buffer behind the in-flight job
	var ran atomic.Int32
	err = q.Schedule(context.Background(), usecase.Job{
		Kind: "buffered",
		Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	// this producer parks on the full buffer
	scheduled := make(chan struct{})
	go func() {
		err := q.Schedule(context.Background(), usecase.Job{
			Kind: "late",
			Run: func(ctx context.Context) error {
				ran.Add(1)
				return nil
			},
		})
		if err != nil {
			t.Errorf("late schedule failed: %v", err)
		}
		close(scheduled)
	}()
	time.Sleep(10 * time.Millisecond)

	// the in-flight job now fails; its retry must not wedge the parked
	// producer or stop the worker from draining
	close(release)

	select {
	case <-scheduled:
	case <-time.After(2 * time.Second):
		t.Fatal("schedule stayed blocked while a failed job was being retried")
	}

	q.Stop(context.Background())
	if ran.Load() != 2 {
		t.Fatalf("expected both queued jobs to run, got %d", ran.Load())
	}
}

func TestQueueRetryOnFullQueueRunsInline(t *testing.T) {
	q := NewQueueService(1, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	var attempts atomic.Int32
	done := make(chan struct{})
	err := q.Schedule(context.Background(), usecase.Job{
		Kind: "notifications",
		Run: func(ctx context.Context) error {
			if attempts.Add(1) == 1 {
				close(started)
				<-release
				return errors.New("transient failure")
			}
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	<-started

	// fill the buffer so the retry cannot be requeued
	var filler atomic.Int32
	err = q.Schedule(context.Background(), usecase.Job{
		Kind: "filler",
		Run: func(ctx context.Context) error {
			filler.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry was lost when the queue was full")
	}

	q.Stop(context.Background())
	if filler.Load() != 1 {
		t.Fatalf("expected filler job to run once, got %d", filler.Load())
	}
}

func TestQueueRejectsAfterStop(t *testing.T) {
	q := NewQueueService(1, 16)
	q.Stop(context.Background())

	err := q.Schedule(context.Background(), usecase.Job{
		Kind: "late",
		Run:  func(ctx context.Context) error { return nil },
	})
	if err == nil {
		t.Fatal("expected schedule on a stopped queue to fail")
	}
}
