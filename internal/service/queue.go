package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/halcyon-social/halcyon/internal/usecase"
)

var queueTracer = otel.Tracer("queue")

const (
	defaultWorkers    = 4
	defaultQueueDepth = 1024
	maxAttempts       = 3
	pendingTTL        = time.Minute
)

type queuedJob struct {
	id       string
	attempts int
	usecase.Job
}

// QueueService executes deferred side-effect jobs on a bounded worker pool,
// at least once, in no particular order. Jobs waiting in the queue that share
// a coalescing key collapse into one execution.
type QueueService struct {
	jobs    chan queuedJob
	pending *cache.Cache

	quit chan struct{}
	stop sync.Once
	wg   sync.WaitGroup
}

func NewQueueService(workers, depth int) *QueueService {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	q := &QueueService{
		jobs:    make(chan queuedJob, depth),
		pending: cache.New(pendingTTL, 2*pendingTTL),
		quit:    make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	return q
}

// Schedule enqueues a job. No lock is held across the channel send: workers
// must stay free to drain the queue while a producer is parked on a full
// buffer. Shutdown unparks any waiting producer via the quit channel.
func (q *QueueService) Schedule(ctx context.Context, job usecase.Job) error {
	_, span := queueTracer.Start(ctx, "Queue.Service.Schedule")
	defer span.End()
	span.SetAttributes(attribute.String("kind", job.Kind))

	select {
	case <-q.quit:
		err := errors.New("work queue is shut down")
		span.RecordError(err)
		return err
	default:
	}

	if job.Key != "" {
		if err := q.pending.Add(job.Key, struct{}{}, cache.DefaultExpiration); err != nil {
			// an identical job is already waiting in the queue
			return nil
		}
	}

	select {
	case q.jobs <- queuedJob{id: uuid.NewString(), Job: job}:
		return nil
	case <-q.quit:
		err := errors.New("work queue is shut down")
		span.RecordError(err)
		return err
	}
}

// Stop rejects new jobs and waits for queued work to drain, bounded by ctx.
func (q *QueueService) Stop(ctx context.Context) {
	q.stop.Do(func() {
		close(q.quit)
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	slog.Info("work queue stopped", slog.String("module", "queue"))
}

func (q *QueueService) worker() {
	defer q.wg.Done()
	for {
		select {
		case job := <-q.jobs:
			q.process(job)
		case <-q.quit:
			// drain jobs accepted before shutdown
			for {
				select {
				case job := <-q.jobs:
					q.process(job)
				default:
					return
				}
			}
		}
	}
}

func (q *QueueService) process(job queuedJob) {
	if job.Key != "" {
		// the marker is cleared before running so an event arriving
		// mid-execution schedules a fresh recount
		q.pending.Delete(job.Key)
	}
	q.run(job)
}

func (q *QueueService) run(job queuedJob) {
	ctx, span := queueTracer.Start(context.Background(), "Queue.Service.Run")
	defer span.End()
	span.SetAttributes(attribute.String("kind", job.Kind))

	err := job.Run(ctx)
	if err == nil {
		return
	}
	span.RecordError(err)

	job.attempts++
	if job.attempts >= maxAttempts {
		slog.Error(
			"dropping job (max attempts reached)",
			slog.String("id", job.id),
			slog.String("kind", job.Kind),
			slog.String("error", err.Error()),
			slog.String("module", "queue"),
		)
		return
	}

	slog.Warn(
		"job failed, requeueing",
		slog.String("id", job.id),
		slog.String("kind", job.Kind),
		slog.String("error", err.Error()),
		slog.String("module", "queue"),
	)

	select {
	case q.jobs <- job:
	case <-q.quit:
		slog.Warn(
			"dropping retry (queue shut down)",
			slog.String("id", job.id),
			slog.String("kind", job.Kind),
			slog.String("module", "queue"),
		)
	default:
		// a full queue must not block the worker. Recounts could be
		// re-derived from the next event on the subject, but a lost
		// notification intent is gone for good, so the retry runs inline.
		// Recursion is bounded by maxAttempts.
		q.run(job)
	}
}
