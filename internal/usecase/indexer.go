package usecase

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/halcyon-social/halcyon"
	"github.com/halcyon-social/halcyon/internal/domain"
)

var tracer = otel.Tracer("indexer")

const (
	JobKindAggregates    = "aggregates"
	JobKindNotifications = "notifications"
)

// RecordHandler is the per-kind policy object driven by the engine. R is the
// projection row type for the kind.
type RecordHandler[R any] interface {
	Kind() string

	// Validate rejects malformed payloads before any storage call.
	Validate(ev halcyon.RecordEvent) error

	// Insert is an idempotent single-row insert. A nil row with a nil error
	// signals duplicate delivery of an already indexed URI, not a failure.
	Insert(ctx context.Context, ev halcyon.RecordEvent) (*R, error)

	// InsertBulk shares Insert's idempotency per row; rows already present
	// are silently excluded from the result.
	InsertBulk(ctx context.Context, evs []halcyon.RecordEvent) ([]R, error)

	// FindDuplicate returns the URI of a pre-existing row sharing the
	// handler's logical key, or "" when no supersession is needed.
	FindDuplicate(ctx context.Context, ev halcyon.RecordEvent) (string, error)

	// Delete is idempotent; a nil row means already deleted.
	Delete(ctx context.Context, uri string) (*R, error)

	// NotifsForInsert is a pure function of the inserted row.
	NotifsForInsert(row R) []domain.NotificationIntent

	// NotifsForDelete returns no retraction when replacedBy is non-nil: the
	// notification ownership transfers to the replacement.
	NotifsForDelete(deleted R, replacedBy *R) domain.DeleteNotifs

	// UpdateAggregates recomputes the authoritative count for every subject
	// the row touches. Never a running increment, so replays and out-of-order
	// delivery stay correct.
	UpdateAggregates(ctx context.Context, row R) error
	UpdateAggregatesBulk(ctx context.Context, rows []R) error

	// AggregateKey is the coalescing key for the row's recount job.
	AggregateKey(row R) string
}

// Engine drives a RecordHandler through create/update/delete events,
// independent of record semantics. Storage errors propagate to the caller
// uncaught; redelivery is the event source's responsibility.
type Engine[R any] struct {
	handler  RecordHandler[R]
	queue    WorkQueue
	notifier Notifier
}

func NewEngine[R any](handler RecordHandler[R], queue WorkQueue, notifier Notifier) *Engine[R] {
	return &Engine[R]{
		handler:  handler,
		queue:    queue,
		notifier: notifier,
	}
}

func (e *Engine[R]) Kind() string {
	return e.handler.Kind()
}

func (e *Engine[R]) ApplyCreate(ctx context.Context, ev halcyon.RecordEvent) error {
	ctx, span := tracer.Start(ctx, "Indexer.Engine.ApplyCreate")
	defer span.End()

	if err := e.handler.Validate(ev); err != nil {
		span.RecordError(err)
		return err
	}

	dup, err := e.handler.FindDuplicate(ctx, ev)
	if err != nil {
		span.RecordError(err)
		return err
	}

	// A second create for the same logical key supersedes the first: the old
	// row goes away without a retraction.
	var superseded *R
	if dup != "" && dup != ev.URI {
		superseded, err = e.handler.Delete(ctx, dup)
		if err != nil {
			span.RecordError(err)
			return err
		}
	}

	row, err := e.handler.Insert(ctx, ev)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if superseded != nil {
		if err := e.scheduleDelete(ctx, *superseded, row); err != nil {
			span.RecordError(err)
			return err
		}
	}

	if row == nil {
		// duplicate delivery of an identical event
		return nil
	}

	if err := e.scheduleInsert(ctx, *row); err != nil {
		span.RecordError(err)
		return err
	}

	return nil
}

func (e *Engine[R]) ApplyDelete(ctx context.Context, uri string) error {
	ctx, span := tracer.Start(ctx, "Indexer.Engine.ApplyDelete")
	defer span.End()

	row, err := e.handler.Delete(ctx, uri)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if row == nil {
		// already absent
		return nil
	}

	if err := e.scheduleDelete(ctx, *row, nil); err != nil {
		span.RecordError(err)
		return err
	}

	return nil
}

// ApplyBulk is the backfill path. Bulk creates skip the supersession lookup:
// backfill replays a consistent historical snapshot where duplicates have
// already been resolved upstream. Callers resolving live duplicates must use
// the single-event path.
func (e *Engine[R]) ApplyBulk(ctx context.Context, evs []halcyon.RecordEvent) error {
	ctx, span := tracer.Start(ctx, "Indexer.Engine.ApplyBulk")
	defer span.End()

	var creates []halcyon.RecordEvent
	var deletes []halcyon.RecordEvent
	for _, ev := range evs {
		if ev.Deleted {
			deletes = append(deletes, ev)
		} else {
			creates = append(creates, ev)
		}
	}

	for _, ev := range creates {
		if err := e.handler.Validate(ev); err != nil {
			span.RecordError(err)
			return err
		}
	}

	var inserted []R
	if len(creates) > 0 {
		var err error
		inserted, err = e.handler.InsertBulk(ctx, creates)
		if err != nil {
			span.RecordError(err)
			return err
		}
	}

	var deleted []R
	for _, ev := range deletes {
		row, err := e.handler.Delete(ctx, ev.URI)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if row != nil {
			deleted = append(deleted, *row)
		}
	}

	touched := make([]R, 0, len(inserted)+len(deleted))
	touched = append(touched, inserted...)
	touched = append(touched, deleted...)
	if len(touched) == 0 {
		return nil
	}

	if err := e.queue.Schedule(ctx, Job{
		Kind: JobKindNotifications,
		Run: func(ctx context.Context) error {
			var intents []domain.NotificationIntent
			for _, row := range inserted {
				intents = append(intents, e.handler.NotifsForInsert(row)...)
			}
			var retract []string
			for _, row := range deleted {
				res := e.handler.NotifsForDelete(row, nil)
				intents = append(intents, res.Intents...)
				retract = append(retract, res.RetractURIs...)
			}
			if len(intents) > 0 {
				if err := e.notifier.Notify(ctx, intents); err != nil {
					return err
				}
			}
			if len(retract) > 0 {
				return e.notifier.Retract(ctx, retract)
			}
			return nil
		},
	}); err != nil {
		err = errors.Wrap(err, "failed to schedule bulk notifications")
		span.RecordError(err)
		return err
	}

	// One recount covering the union of affected subjects, not one per row.
	if err := e.queue.Schedule(ctx, Job{
		Kind: JobKindAggregates,
		Run: func(ctx context.Context) error {
			return e.handler.UpdateAggregatesBulk(ctx, touched)
		},
	}); err != nil {
		err = errors.Wrap(err, "failed to schedule bulk aggregate recount")
		span.RecordError(err)
		return err
	}

	return nil
}

func (e *Engine[R]) scheduleInsert(ctx context.Context, row R) error {
	if err := e.queue.Schedule(ctx, Job{
		Kind: JobKindNotifications,
		Run: func(ctx context.Context) error {
			intents := e.handler.NotifsForInsert(row)
			if len(intents) == 0 {
				return nil
			}
			return e.notifier.Notify(ctx, intents)
		},
	}); err != nil {
		return errors.Wrap(err, "failed to schedule insert notifications")
	}

	return e.scheduleAggregates(ctx, row)
}

func (e *Engine[R]) scheduleDelete(ctx context.Context, deleted R, replacedBy *R) error {
	if err := e.queue.Schedule(ctx, Job{
		Kind: JobKindNotifications,
		Run: func(ctx context.Context) error {
			res := e.handler.NotifsForDelete(deleted, replacedBy)
			if len(res.Intents) > 0 {
				if err := e.notifier.Notify(ctx, res.Intents); err != nil {
					return err
				}
			}
			if len(res.RetractURIs) > 0 {
				return e.notifier.Retract(ctx, res.RetractURIs)
			}
			return nil
		},
	}); err != nil {
		return errors.Wrap(err, "failed to schedule delete notifications")
	}

	return e.scheduleAggregates(ctx, deleted)
}

func (e *Engine[R]) scheduleAggregates(ctx context.Context, row R) error {
	err := e.queue.Schedule(ctx, Job{
		Kind: JobKindAggregates,
		Key:  JobKindAggregates + ":" + e.handler.Kind() + ":" + e.handler.AggregateKey(row),
		Run: func(ctx context.Context) error {
			return e.handler.UpdateAggregates(ctx, row)
		},
	})
	return errors.Wrap(err, "failed to schedule aggregate recount")
}

// KindEngine is the non-generic surface of Engine used for dispatch.
type KindEngine interface {
	Kind() string
	ApplyCreate(ctx context.Context, ev halcyon.RecordEvent) error
	ApplyDelete(ctx context.Context, uri string) error
	ApplyBulk(ctx context.Context, evs []halcyon.RecordEvent) error
}

// Indexer routes events to the engine registered for their kind.
type Indexer struct {
	engines map[string]KindEngine
}

func NewIndexer(engines ...KindEngine) *Indexer {
	ix := &Indexer{
		engines: make(map[string]KindEngine),
	}
	for _, engine := range engines {
		ix.engines[engine.Kind()] = engine
	}
	return ix
}

func (ix *Indexer) Apply(ctx context.Context, ev halcyon.RecordEvent) error {
	engine, ok := ix.engines[ev.Kind]
	if !ok {
		return domain.ValidationError{Reason: "unknown record kind " + ev.Kind}
	}
	if ev.Deleted {
		return engine.ApplyDelete(ctx, ev.URI)
	}
	return engine.ApplyCreate(ctx, ev)
}

func (ix *Indexer) ApplyBulk(ctx context.Context, evs []halcyon.RecordEvent) error {
	byKind := make(map[string][]halcyon.RecordEvent)
	var order []string
	for _, ev := range evs {
		if _, ok := byKind[ev.Kind]; !ok {
			order = append(order, ev.Kind)
		}
		byKind[ev.Kind] = append(byKind[ev.Kind], ev)
	}

	for _, kind := range order {
		engine, ok := ix.engines[kind]
		if !ok {
			return domain.ValidationError{Reason: "unknown record kind " + kind}
		}
		if err := engine.ApplyBulk(ctx, byKind[kind]); err != nil {
			return err
		}
	}
	return nil
}
