package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/estatecrm/pkg/logger"
	"github.com/dmitrymomot/estatecrm/pkg/notify"
	"github.com/dmitrymomot/estatecrm/pkg/razorpay"
)

// PaymentEvent is a gateway notification about a subscription payment.
type PaymentEvent struct {
	ID             string // idempotency key
	Type           string // razorpay event type, e.g. payment.captured
	SubscriptionID uuid.UUID
	OrderID        string
	PaymentID      string
	Signature      string // checkout signature; empty for verified webhooks
	Amount         decimal.Decimal
	Status         string // gateway status; looked up when empty
}

// PaymentEventFromRazorpay maps a verified webhook to a PaymentEvent. The
// subscription id travels in the order notes under "subscription_id".
func PaymentEventFromRazorpay(ev razorpay.Event) (PaymentEvent, error) {
	subID, err := uuid.Parse(ev.Note("subscription_id"))
	if err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: missing subscription_id note: %w", ErrUnsupportedEvent, err)
	}
	pe := PaymentEvent{
		ID:             ev.ID,
		Type:           ev.Type,
		SubscriptionID: subID,
		Amount:         ev.Amount(),
	}
	if ev.Payment != nil {
		pe.OrderID, pe.PaymentID, pe.Status = ev.Payment.OrderID, ev.Payment.ID, ev.Payment.Status
	}
	if ev.Refund != nil {
		pe.PaymentID, pe.Status = ev.Refund.PaymentID, ev.Refund.Status
	}
	return pe, nil
}

// HandlePaymentEvent applies a payment event at most once. A repeated event
// id is reported as success.
func (s *service) HandlePaymentEvent(ctx context.Context, ev PaymentEvent) error {
	if ev.ID == "" {
		return ErrMissingEventID
	}
	log := s.log.With(logger.EventID(ev.ID), slog.String("event_type", ev.Type), logger.SubscriptionID(ev.SubscriptionID))

	if ev.Signature != "" {
		if s.gateway == nil {
			return fmt.Errorf("%w: no gateway configured", ErrInvalidSignature)
		}
		if err := s.gateway.VerifySignature(ev.OrderID, ev.PaymentID, ev.Signature); err != nil {
			return errors.Join(ErrInvalidSignature, err)
		}
	}
	if ev.Status == "" && ev.PaymentID != "" && s.gateway != nil {
		p, err := s.gateway.PaymentStatus(ctx, ev.PaymentID)
		if err != nil {
			return fmt.Errorf("fetch payment status: %w", err)
		}
		ev.Status = p.Status
		if ev.Amount.IsZero() {
			ev.Amount = p.Amount
		}
	}

	sub, err := s.store.GetByID(ctx, ev.SubscriptionID)
	if err != nil {
		return err
	}

	now := s.now()
	txn := &Transaction{
		ID:               uuid.New(),
		SubscriptionID:   sub.ID,
		TenantID:         sub.TenantID,
		Amount:           ev.Amount,
		EventID:          ev.ID,
		GatewayStatus:    ev.Status,
		GatewayOrderID:   ev.OrderID,
		GatewayPaymentID: ev.PaymentID,
		CreatedAt:        now,
	}

	var (
		event  Event
		notice *notify.Notification
	)
	switch ev.Type {
	case razorpay.EventPaymentCaptured, razorpay.EventOrderPaid:
		txn.Type = TxPayment
		if sub.Status == StatusSuspended {
			event = EventResume
		}
	case razorpay.EventPaymentFailed:
		txn.Type = TxPayment
		if sub.Status == StatusActive {
			event = EventSuspend
			notice = &notify.Notification{
				Kind:    "subscription.payment_failed",
				Subject: "Payment failed",
				Body:    "We could not charge your last payment. Your subscription is suspended until it succeeds.",
			}
		}
	case razorpay.EventRefundCreated, razorpay.EventRefundProcessed:
		txn.Type = TxRefund
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.Type)
	}

	if event != "" {
		to, err := next(ctx, *sub, event, now)
		if err != nil {
			log.WarnContext(ctx, "payment event does not change status", logger.Error(err))
		} else {
			sub.Status = to
			sub.UpdatedAt = now
		}
	}

	if err := s.store.Update(ctx, sub, txn); err != nil {
		if errors.Is(err, ErrEventAlreadyProcessed) {
			log.InfoContext(ctx, "payment event already processed")
			return nil
		}
		return err
	}

	log.InfoContext(ctx, "payment event applied",
		logger.TenantID(sub.TenantID),
		slog.String("transaction", string(txn.Type)),
		slog.String("status", string(sub.Status)),
	)
	if notice != nil {
		s.notify(ctx, sub.TenantID, *notice)
	}
	return nil
}
