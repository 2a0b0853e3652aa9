package subscription

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the stored lifecycle state of a subscription.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusSuspended Status = "suspended"
)

// ParseStatus maps a stored value to a Status. Matching is case-insensitive
// so legacy rows like "Active" still load. Anything else is an error.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusScheduled, StatusActive, StatusExpired, StatusCancelled, StatusSuspended:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// BillingCycle is how often a subscription renews.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

func ParseBillingCycle(s string) (BillingCycle, error) {
	switch c := BillingCycle(strings.ToLower(strings.TrimSpace(s))); c {
	case CycleMonthly, CycleAnnual:
		return c, nil
	case "yearly":
		return CycleAnnual, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBillingCycle, s)
	}
}

// End returns the end of a period starting at start.
func (c BillingCycle) End(start time.Time) time.Time {
	if c == CycleAnnual {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// TransactionType classifies a monetary event.
type TransactionType string

const (
	TxPayment      TransactionType = "payment"
	TxRefund       TransactionType = "refund"
	TxUpgrade      TransactionType = "upgrade"
	TxDowngrade    TransactionType = "downgrade"
	TxCancellation TransactionType = "cancellation"
)

func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(strings.ToLower(strings.TrimSpace(s))); t {
	case TxPayment, TxRefund, TxUpgrade, TxDowngrade, TxCancellation:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTransaction, s)
	}
}

// Reverses reports whether a transaction of this type undoes a purchase.
func (t TransactionType) Reverses() bool {
	return t == TxRefund || t == TxCancellation
}

// Usage holds the counters cached on the subscription row.
type Usage struct {
	Agents         int64 `json:"agents"`
	LeadsThisMonth int64 `json:"leads_this_month"`
	StorageBytes   int64 `json:"storage_bytes"`
}

// Subscription is one purchased period of a plan for a tenant.
type Subscription struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	PlanID             string
	BillingCycle       BillingCycle
	Amount             decimal.Decimal
	StartDate          time.Time
	EndDate            time.Time
	Status             Status
	CancelledOn        *time.Time
	CancellationReason string
	Usage              Usage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Current reports whether s grants access at now.
func (s Subscription) Current(now time.Time) bool {
	return s.Status == StatusActive &&
		s.EndDate.After(now) &&
		s.CancelledOn == nil &&
		strings.TrimSpace(s.CancellationReason) == ""
}

// Transaction is a monetary event tied to a subscription.
type Transaction struct {
	ID               uuid.UUID
	SubscriptionID   uuid.UUID
	TenantID         uuid.UUID
	Type             TransactionType
	Amount           decimal.Decimal
	EventID          string // idempotency key, unique when set
	GatewayStatus    string
	GatewayOrderID   string
	GatewayPaymentID string
	CreatedAt        time.Time
}

// Transition is a single status change applied by the store in a batch.
// The store must only apply it while the row still has status From.
type Transition struct {
	SubscriptionID uuid.UUID
	TenantID       uuid.UUID
	From           Status
	To             Status
	At             time.Time
}

// Resource is a quota-gated tenant resource.
type Resource string

const (
	ResourceAgents  Resource = "agents"
	ResourceLeads   Resource = "leads"
	ResourceStorage Resource = "storage"
)

func ParseResource(s string) (Resource, error) {
	switch r := Resource(strings.ToLower(s)); r {
	case ResourceAgents, ResourceLeads, ResourceStorage:
		return r, nil
	default:
		return "", fmt.Errorf("unknown resource %q", s)
	}
}

// Decision is the outcome of a quota check. Being over quota is a normal
// outcome, not an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ReconcileResult counts what a reconciliation pass did.
type ReconcileResult struct {
	Tenants   int `json:"tenants"`
	Expired   int `json:"expired"`
	Activated int `json:"activated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (r *ReconcileResult) add(o ReconcileResult) {
	r.Tenants += o.Tenants
	r.Expired += o.Expired
	r.Activated += o.Activated
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}
