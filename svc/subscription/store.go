package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists subscriptions, their transactions and the plan catalog.
type Store interface {
	// GetByID returns ErrSubscriptionNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// ListByTenant returns every subscription of the tenant ordered by start date.
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Subscription, error)

	// FindCurrent returns subscriptions with status active, end date after
	// now and no cancellation data, ordered by end date.
	FindCurrent(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]Subscription, error)

	// TenantsWithDueTransitions lists tenants holding an active subscription
	// that has ended or a scheduled one that has started.
	TenantsWithDueTransitions(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// HasReversal reports whether a cancellation or refund transaction is
	// linked to the subscription.
	HasReversal(ctx context.Context, subscriptionID uuid.UUID) (bool, error)

	// ApplyTransitions writes all transitions atomically. A transition whose
	// row no longer has status From is skipped; the count of applied ones is returned.
	ApplyTransitions(ctx context.Context, ts []Transition) (int, error)

	// Create inserts sub and, when txn is not nil, its transaction in one unit.
	Create(ctx context.Context, sub *Subscription, txn *Transaction) error

	// Update saves sub and, when txn is not nil, records txn in one unit.
	// A duplicate txn.EventID yields ErrEventAlreadyProcessed and nothing is written.
	Update(ctx context.Context, sub *Subscription, txn *Transaction) error

	// RecordTransaction stores txn alone, with the same duplicate rule as Update.
	RecordTransaction(ctx context.Context, txn *Transaction) error

	GetPlan(ctx context.Context, id string) (*Plan, error)
	UpsertPlan(ctx context.Context, p Plan) error
}

// CounterFunc returns the current usage of a resource for a tenant.
// now lets month-scoped counters pick the calendar month.
type CounterFunc func(ctx context.Context, tenantID uuid.UUID, now time.Time) (int64, error)
