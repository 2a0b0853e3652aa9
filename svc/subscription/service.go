package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/dmitrymomot/estatecrm/pkg/logger"
	"github.com/dmitrymomot/estatecrm/pkg/notify"
	"github.com/dmitrymomot/estatecrm/pkg/razorpay"
)

// Service is the subscription lifecycle engine.
type Service interface {
	// Lifecycle
	Reconcile(ctx context.Context, tenantID uuid.UUID) (ReconcileResult, error)
	ReconcileAll(ctx context.Context) (ReconcileResult, error)
	GetActive(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	GetActiveSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	Subscribe(ctx context.Context, p SubscribeParams) (*Subscription, error)
	Cancel(ctx context.Context, subscriptionID uuid.UUID, reason string) (*Subscription, error)
	HandlePaymentEvent(ctx context.Context, ev PaymentEvent) error

	// Quota gates
	CanAddAgent(ctx context.Context, tenantID uuid.UUID) Decision
	CanAddLead(ctx context.Context, tenantID uuid.UUID) Decision
	CanUploadFile(ctx context.Context, tenantID uuid.UUID, sizeBytes int64) Decision
	Check(ctx context.Context, tenantID uuid.UUID, res Resource, increment int64) Decision
	UsageSummary(ctx context.Context, tenantID uuid.UUID) (*UsageSummary, error)
}

// Gateway is the narrow view of the payment gateway the engine needs.
type Gateway interface {
	VerifySignature(orderID, paymentID, signature string) error
	PaymentStatus(ctx context.Context, paymentID string) (razorpay.Payment, error)
}

// RecipientFunc resolves who to notify about a tenant's subscription.
type RecipientFunc func(ctx context.Context, tenantID uuid.UUID) (notify.Recipient, error)

// QuotaErrorPolicy decides quota checks that could not compute usage.
type QuotaErrorPolicy int

const (
	// FailOpen allows the operation. Availability wins over strict limits.
	FailOpen QuotaErrorPolicy = iota
	// FailClosed denies the operation.
	FailClosed
)

func (p QuotaErrorPolicy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

type service struct {
	store      Store
	counters   map[Resource]CounterFunc
	policy     QuotaErrorPolicy
	gateway    Gateway
	notifier   notify.Notifier
	recipients RecipientFunc
	printer    *message.Printer
	now        func() time.Time
	log        *slog.Logger
}

// NewService builds the engine. store is required.
func NewService(store Store, opts ...ServiceOption) Service {
	if store == nil {
		panic("subscription: Store is required")
	}

	s := &service{
		store:    store,
		counters: make(map[Resource]CounterFunc),
		policy:   FailOpen,
		notifier: notify.Nop{},
		printer:  message.NewPrinter(language.English),
		now:      func() time.Time { return time.Now().UTC() },
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("subscription"))
	return s
}

// ServiceOption configures the engine.
type ServiceOption func(*service)

// WithCounter registers the usage counter for a resource. Registering the
// same resource twice panics.
func WithCounter(res Resource, fn CounterFunc) ServiceOption {
	return func(s *service) {
		if fn == nil {
			return
		}
		if _, exists := s.counters[res]; exists {
			panic("subscription: counter for resource " + string(res) + " already registered")
		}
		s.counters[res] = fn
	}
}

func WithQuotaErrorPolicy(p QuotaErrorPolicy) ServiceOption {
	return func(s *service) { s.policy = p }
}

func WithGateway(g Gateway) ServiceOption {
	return func(s *service) { s.gateway = g }
}

// WithNotifier enables lifecycle notifications. Both arguments are required
// for notifications to be sent.
func WithNotifier(n notify.Notifier, recipients RecipientFunc) ServiceOption {
	return func(s *service) {
		if n != nil && recipients != nil {
			s.notifier = n
			s.recipients = recipients
		}
	}
}

// WithLanguage sets the locale used for numbers in denial reasons.
func WithLanguage(tag language.Tag) ServiceOption {
	return func(s *service) { s.printer = message.NewPrinter(tag) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.log = l
		}
	}
}

func (s *service) notify(ctx context.Context, tenantID uuid.UUID, n notify.Notification) {
	if s.recipients == nil {
		return
	}
	to, err := s.recipients(ctx, tenantID)
	if err != nil {
		s.log.WarnContext(ctx, "cannot resolve notification recipient", logger.TenantID(tenantID), logger.Error(err))
		return
	}
	s.notifier.Notify(ctx, to, n)
}
