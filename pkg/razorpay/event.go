package razorpay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Webhook headers sent by Razorpay.
const (
	HeaderSignature = "X-Razorpay-Signature"
	HeaderEventID   = "X-Razorpay-Event-Id"
)

// Event types the subscription engine reacts to.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
	EventRefundCreated   = "refund.created"
	EventRefundProcessed = "refund.processed"
)

// Notes are the free-form key/values attached to orders and payments.
// Razorpay sends an empty array instead of an empty object.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("[]")) || bytes.Equal(data, []byte("null")) {
		*n = Notes{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(Notes, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	*n = out
	return nil
}

// PaymentEntity is the payment object inside a webhook payload.
type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Notes            Notes  `json:"notes"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// RefundEntity is the refund object inside a webhook payload.
type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Notes     Notes  `json:"notes"`
}

// Event is a decoded webhook delivery.
type Event struct {
	ID        string
	Type      string
	CreatedAt time.Time
	Payment   *PaymentEntity
	Refund    *RefundEntity
}

type rawEvent struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity RefundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// ParseEvent decodes a webhook body. eventID comes from the X-Razorpay-Event-Id header.
func ParseEvent(eventID string, body []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if raw.Event == "" {
		return Event{}, fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	}

	ev := Event{
		ID:        eventID,
		Type:      raw.Event,
		CreatedAt: time.Unix(raw.CreatedAt, 0).UTC(),
	}
	if raw.Payload.Payment != nil {
		p := raw.Payload.Payment.Entity
		ev.Payment = &p
	}
	if raw.Payload.Refund != nil {
		r := raw.Payload.Refund.Entity
		ev.Refund = &r
	}
	if ev.ID == "" {
		ev.ID = fallbackEventID(ev)
	}
	if ev.ID == "" {
		return Event{}, fmt.Errorf("%w: no event id", ErrInvalidEvent)
	}
	return ev, nil
}

// ReadEvent verifies and parses a webhook request body.
func ReadEvent(secret string, header http.Header, body []byte) (Event, error) {
	if err := VerifyWebhook(secret, body, header.Get(HeaderSignature)); err != nil {
		return Event{}, err
	}
	return ParseEvent(header.Get(HeaderEventID), body)
}

// Amount returns the payment or refund amount in rupees.
func (e Event) Amount() decimal.Decimal {
	switch {
	case e.Refund != nil:
		return FromPaise(e.Refund.Amount)
	case e.Payment != nil:
		return FromPaise(e.Payment.Amount)
	default:
		return decimal.Zero
	}
}

// Note looks a key up in refund notes first, then payment notes.
func (e Event) Note(key string) string {
	if e.Refund != nil {
		if v, ok := e.Refund.Notes[key]; ok {
			return v
		}
	}
	if e.Payment != nil {
		return e.Payment.Notes[key]
	}
	return ""
}

func fallbackEventID(ev Event) string {
	switch {
	case ev.Refund != nil && ev.Refund.ID != "":
		return ev.Type + ":" + ev.Refund.ID
	case ev.Payment != nil && ev.Payment.ID != "":
		return ev.Type + ":" + ev.Payment.ID
	default:
		return ""
	}
}
