package usecase

import (
	"context"

	"github.com/halcyon-social/halcyon/internal/domain"
)

// LikeRepository defines storage operations for the like projection.
type LikeRepository interface {
	// Insert stores the row unless its URI is already indexed. A nil row with
	// a nil error signals duplicate delivery, not failure.
	Insert(ctx context.Context, like domain.Like) (*domain.Like, error)

	// InsertBulk stores many rows in one batched write. Rows whose URI is
	// already indexed are silently excluded from the result, never duplicated.
	InsertBulk(ctx context.Context, likes []domain.Like) ([]domain.Like, error)

	// FindActive returns the URI of the active like sharing (creator, subject),
	// or "" when none exists.
	FindActive(ctx context.Context, creator, subject string) (string, error)

	// Delete removes the row and returns it. A nil row with a nil error means
	// the row was already absent.
	Delete(ctx context.Context, uri string) (*domain.Like, error)

	// RecountSubjects recomputes and upserts the authoritative count for every
	// given subject using a single grouped query.
	RecountSubjects(ctx context.Context, subjects []string) error

	ListBySubject(ctx context.Context, subject string, limit int) ([]domain.Like, error)
	GetCount(ctx context.Context, subject string) (int64, error)
}

// Job is a deferred side effect executed by the work queue.
type Job struct {
	Kind string

	// Key coalesces pending work: a job whose key is already waiting in the
	// queue is dropped. An empty key never coalesces.
	Key string

	Run func(ctx context.Context) error
}

// WorkQueue accepts deferred side-effect jobs and executes them
// asynchronously, at least once, in no particular order.
type WorkQueue interface {
	Schedule(ctx context.Context, job Job) error
}

// Notifier hands notification state changes to the notification subsystem.
type Notifier interface {
	Notify(ctx context.Context, intents []domain.NotificationIntent) error
	Retract(ctx context.Context, uris []string) error
}

// CountInvalidator drops cached counts after a recount.
type CountInvalidator interface {
	Invalidate(ctx context.Context, subjects []string)
}
