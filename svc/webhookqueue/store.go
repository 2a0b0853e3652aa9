package webhookqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists the queue. Claims and finishes are conditional so several
// engine replicas can share one store.
type Store interface {
	// Insert returns ErrDuplicateEvent when the event id is already queued.
	Insert(ctx context.Context, item *Item) error
	Get(ctx context.Context, id uuid.UUID) (*Item, error)

	// ClaimDue atomically moves up to limit due pending items, oldest
	// next-retry first, to processing: it increments RetryCount and sets
	// the lease owner and expiry.
	ClaimDue(ctx context.Context, owner uuid.UUID, now time.Time, lease time.Duration, limit int) ([]Item, error)

	// Finish writes the outcome of an attempt if owner still holds the
	// lease, otherwise ErrLeaseLost.
	Finish(ctx context.Context, id, owner uuid.UUID, o Outcome) error

	// ReleaseExpired returns processing items whose lease ran out to
	// pending, or to failed when their budget is spent.
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)

	// Requeue resets a failed item to pending with a fresh budget.
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) error

	// PurgeSucceeded deletes success items last updated before cutoff.
	PurgeSucceeded(ctx context.Context, cutoff time.Time) (int, error)

	Stats(ctx context.Context) (Stats, error)
}
