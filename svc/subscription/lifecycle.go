package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/estatecrm/pkg/logger"
	"github.com/dmitrymomot/estatecrm/pkg/notify"
	"github.com/dmitrymomot/estatecrm/pkg/statemachine"
)

// Event drives status transitions.
type Event string

const (
	EventActivate Event = "activate"
	EventExpire   Event = "expire"
	EventCancel   Event = "cancel"
	EventSuspend  Event = "suspend"
	EventResume   Event = "resume"
)

type transitionInput struct {
	sub Subscription
	now time.Time
}

func stillRunning(_ context.Context, _ Status, _ Event, data any) bool {
	in, ok := data.(transitionInput)
	return ok && in.sub.EndDate.After(in.now)
}

var transitions = statemachine.New[Status, Event]().
	Add(StatusScheduled, EventActivate, StatusActive, stillRunning).
	Add(StatusScheduled, EventExpire, StatusExpired).
	Add(StatusActive, EventExpire, StatusExpired).
	Add(StatusScheduled, EventCancel, StatusCancelled).
	Add(StatusActive, EventCancel, StatusCancelled).
	Add(StatusSuspended, EventCancel, StatusCancelled).
	Add(StatusActive, EventSuspend, StatusSuspended).
	Add(StatusSuspended, EventResume, StatusActive, stillRunning)

func next(ctx context.Context, sub Subscription, ev Event, now time.Time) (Status, error) {
	to, err := transitions.Next(ctx, sub.Status, ev, transitionInput{sub: sub, now: now})
	if err != nil {
		return sub.Status, errors.Join(ErrInvalidTransition, err)
	}
	return to, nil
}

// Reconcile brings the tenant's stored statuses in line with the clock.
func (s *service) Reconcile(ctx context.Context, tenantID uuid.UUID) (ReconcileResult, error) {
	res := ReconcileResult{Tenants: 1}
	now := s.now()

	subs, err := s.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return res, fmt.Errorf("list subscriptions: %w", err)
	}

	var (
		batch    []Transition
		running  bool
		promoted []Subscription
		expired  []Subscription
	)

	for _, sub := range subs {
		if sub.Status != StatusActive {
			continue
		}
		if sub.EndDate.After(now) {
			running = true
			continue
		}
		batch = append(batch, Transition{SubscriptionID: sub.ID, TenantID: tenantID, From: StatusActive, To: StatusExpired, At: now})
		expired = append(expired, sub)
	}

	// Earliest start first so back-to-back purchases chain in order.
	candidates := slices.DeleteFunc(slices.Clone(subs), func(sub Subscription) bool {
		return sub.Status != StatusScheduled || sub.StartDate.After(now)
	})
	slices.SortFunc(candidates, func(a, b Subscription) int { return a.StartDate.Compare(b.StartDate) })

	for _, sub := range candidates {
		reversed, err := s.store.HasReversal(ctx, sub.ID)
		if err != nil {
			return res, fmt.Errorf("check reversal for %s: %w", sub.ID, err)
		}
		if reversed {
			res.Skipped++
			s.log.WarnContext(ctx, "scheduled subscription has a cancellation or refund, not activating",
				logger.TenantID(tenantID), logger.SubscriptionID(sub.ID))
			continue
		}

		to, err := next(ctx, sub, EventActivate, now)
		if err != nil {
			// Started and already ended: it never gets to be active.
			to = StatusExpired
		}
		if to == StatusActive && running {
			res.Skipped++
			s.log.WarnContext(ctx, "another subscription is still active, deferring activation",
				logger.TenantID(tenantID), logger.SubscriptionID(sub.ID))
			continue
		}
		if to == StatusActive {
			running = true
			promoted = append(promoted, sub)
		}
		batch = append(batch, Transition{SubscriptionID: sub.ID, TenantID: tenantID, From: StatusScheduled, To: to, At: now})
	}

	if len(batch) == 0 {
		return res, nil
	}

	applied, err := s.store.ApplyTransitions(ctx, batch)
	if err != nil {
		return res, fmt.Errorf("apply transitions: %w", err)
	}
	if applied < len(batch) {
		s.log.WarnContext(ctx, "some transitions were already applied elsewhere",
			logger.TenantID(tenantID), slog.Int("planned", len(batch)), slog.Int("applied", applied))
	}

	for _, t := range batch {
		switch t.To {
		case StatusExpired:
			res.Expired++
		case StatusActive:
			res.Activated++
		}
	}

	s.log.InfoContext(ctx, "subscriptions reconciled",
		logger.TenantID(tenantID),
		slog.Int("expired", res.Expired),
		slog.Int("activated", res.Activated),
		slog.Int("skipped", res.Skipped),
	)

	for _, sub := range expired {
		s.notify(ctx, tenantID, notify.Notification{
			Kind:    "subscription.expired",
			Subject: "Your subscription has expired",
			Body:    fmt.Sprintf("Your %s subscription ended on %s. Renew to keep adding agents and leads.", sub.PlanID, sub.EndDate.Format("02 Jan 2006")),
			Data:    map[string]string{"subscription_id": sub.ID.String()},
		})
	}
	for _, sub := range promoted {
		s.notify(ctx, tenantID, notify.Notification{
			Kind:    "subscription.activated",
			Subject: "Your subscription is active",
			Body:    fmt.Sprintf("Your %s subscription is active until %s.", sub.PlanID, sub.EndDate.Format("02 Jan 2006")),
			Data:    map[string]string{"subscription_id": sub.ID.String()},
		})
	}

	return res, nil
}

// ReconcileAll reconciles every tenant that has a due transition. A failing
// tenant is logged and counted, it does not stop the sweep.
func (s *service) ReconcileAll(ctx context.Context) (ReconcileResult, error) {
	var total ReconcileResult

	tenants, err := s.store.TenantsWithDueTransitions(ctx, s.now())
	if err != nil {
		return total, fmt.Errorf("list due tenants: %w", err)
	}

	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := s.Reconcile(ctx, tenantID)
		if err != nil {
			res.Failed++
			s.log.ErrorContext(ctx, "tenant reconciliation failed", logger.TenantID(tenantID), logger.Error(err))
		}
		total.add(res)
	}
	return total, nil
}

// GetActive returns the tenant's current subscription without changing anything.
func (s *service) GetActive(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	subs, err := s.store.FindCurrent(ctx, tenantID, s.now())
	if err != nil {
		return nil, err
	}
	switch len(subs) {
	case 0:
		return nil, ErrNoActiveSubscription
	case 1:
	default:
		s.log.WarnContext(ctx, "tenant has more than one active subscription, using the first",
			logger.TenantID(tenantID),
			logger.Error(ErrMultipleActive),
			slog.Int("count", len(subs)),
		)
	}
	sub := subs[0]
	return &sub, nil
}

// GetActiveSubscription reconciles the tenant and then reads.
func (s *service) GetActiveSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	if _, err := s.Reconcile(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.GetActive(ctx, tenantID)
}

// SubscribeParams describes a purchase.
type SubscribeParams struct {
	TenantID         uuid.UUID
	PlanID           string
	Cycle            BillingCycle
	EventID          string // optional idempotency key of the payment
	GatewayOrderID   string
	GatewayPaymentID string
}

// Subscribe records a purchase. A tenant with a running subscription gets
// the new one scheduled right after the last queued period.
func (s *service) Subscribe(ctx context.Context, p SubscribeParams) (*Subscription, error) {
	if p.TenantID == uuid.Nil {
		return nil, ErrMissingTenantID
	}
	if p.Cycle == "" {
		p.Cycle = CycleMonthly
	}
	if _, err := ParseBillingCycle(string(p.Cycle)); err != nil {
		return nil, err
	}

	plan, err := s.store.GetPlan(ctx, p.PlanID)
	if err != nil {
		return nil, err
	}

	if _, err := s.Reconcile(ctx, p.TenantID); err != nil {
		return nil, err
	}
	existing, err := s.store.ListByTenant(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	start, status := now, StatusActive
	for _, sub := range existing {
		if (sub.Status == StatusActive || sub.Status == StatusScheduled) && sub.EndDate.After(start) {
			start, status = sub.EndDate, StatusScheduled
		}
	}

	sub := &Subscription{
		ID:           uuid.New(),
		TenantID:     p.TenantID,
		PlanID:       plan.ID,
		BillingCycle: p.Cycle,
		Amount:       plan.PriceFor(p.Cycle),
		StartDate:    start,
		EndDate:      p.Cycle.End(start),
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	txn := &Transaction{
		ID:               uuid.New(),
		SubscriptionID:   sub.ID,
		TenantID:         sub.TenantID,
		Type:             TxPayment,
		Amount:           sub.Amount,
		EventID:          p.EventID,
		GatewayStatus:    "captured",
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		CreatedAt:        now,
	}

	if err := s.store.Create(ctx, sub, txn); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription created",
		logger.TenantID(sub.TenantID),
		logger.SubscriptionID(sub.ID),
		slog.String("plan", sub.PlanID),
		slog.String("status", string(sub.Status)),
		slog.Time("start", sub.StartDate),
	)

	kind, subject := "subscription.activated", "Your subscription is active"
	if status == StatusScheduled {
		kind, subject = "subscription.scheduled", "Your renewal is scheduled"
	}
	s.notify(ctx, sub.TenantID, notify.Notification{
		Kind:    kind,
		Subject: subject,
		Body:    fmt.Sprintf("%s plan from %s to %s.", plan.Name, sub.StartDate.Format("02 Jan 2006"), sub.EndDate.Format("02 Jan 2006")),
		Data:    map[string]string{"subscription_id": sub.ID.String()},
	})
	return sub, nil
}

// Cancel marks a subscription cancelled and records a cancellation transaction.
// A cancelled scheduled subscription is never activated.
func (s *service) Cancel(ctx context.Context, subscriptionID uuid.UUID, reason string) (*Subscription, error) {
	sub, err := s.store.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	to, err := next(ctx, *sub, EventCancel, now)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "cancelled by tenant"
	}

	sub.Status = to
	sub.CancelledOn = &now
	sub.CancellationReason = reason
	sub.UpdatedAt = now

	txn := &Transaction{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		Type:           TxCancellation,
		CreatedAt:      now,
	}
	if err := s.store.Update(ctx, sub, txn); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription cancelled",
		logger.TenantID(sub.TenantID), logger.SubscriptionID(sub.ID), slog.String("reason", reason))
	s.notify(ctx, sub.TenantID, notify.Notification{
		Kind:    "subscription.cancelled",
		Subject: "Your subscription was cancelled",
		Body:    "Reason: " + reason,
		Data:    map[string]string{"subscription_id": sub.ID.String()},
	})
	return sub, nil
}
