package razorpay

import (
	"context"
	"errors"
	"fmt"

	rzp "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
	"github.com/shopspring/decimal"
)

type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Order is a gateway order created before checkout.
type Order struct {
	ID       string
	Receipt  string
	Amount   decimal.Decimal
	Currency string
	Status   string
}

// Payment is the gateway view of a single payment.
type Payment struct {
	ID       string
	OrderID  string
	Status   string
	Method   string
	Amount   decimal.Decimal
	Currency string
	Captured bool
}

// Client talks to Razorpay.
type Client struct {
	orders   orderAPI
	payments paymentAPI
	cfg      Config
}

// New builds a Client from credentials.
func New(cfg Config) (*Client, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, ErrMissingCredentials
	}
	api := rzp.NewClient(cfg.KeyID, cfg.KeySecret)
	return newClient(api.Order, api.Payment, cfg), nil
}

func newClient(orders orderAPI, payments paymentAPI, cfg Config) *Client {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Client{orders: orders, payments: payments, cfg: cfg}
}

// CreateOrder registers an order for amount (in rupees). notes travel back
// on every webhook for payments against this order.
func (g *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, receipt string, notes map[string]string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	if !amount.IsPositive() {
		return Order{}, ErrInvalidAmount
	}

	data := map[string]interface{}{
		"amount":   ToPaise(amount),
		"currency": g.cfg.Currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	resp, err := g.orders.Create(data, nil)
	if err != nil {
		return Order{}, errors.Join(ErrGateway, err)
	}

	return Order{
		ID:       str(resp, "id"),
		Receipt:  str(resp, "receipt"),
		Amount:   FromPaise(num(resp, "amount")),
		Currency: str(resp, "currency"),
		Status:   str(resp, "status"),
	}, nil
}

// PaymentStatus looks up a payment by id.
func (g *Client) PaymentStatus(ctx context.Context, paymentID string) (Payment, error) {
	if err := ctx.Err(); err != nil {
		return Payment{}, err
	}

	resp, err := g.payments.Fetch(paymentID, nil, nil)
	if err != nil {
		return Payment{}, errors.Join(ErrGateway, err)
	}

	captured, _ := resp["captured"].(bool)
	return Payment{
		ID:       str(resp, "id"),
		OrderID:  str(resp, "order_id"),
		Status:   str(resp, "status"),
		Method:   str(resp, "method"),
		Amount:   FromPaise(num(resp, "amount")),
		Currency: str(resp, "currency"),
		Captured: captured,
	}, nil
}

// VerifySignature checks the signature returned by checkout for orderID and paymentID.
func (g *Client) VerifySignature(orderID, paymentID, signature string) error {
	ok := utils.VerifyPaymentSignature(map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  signature,
	}, signature, g.cfg.KeySecret)
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyWebhook checks the X-Razorpay-Signature header against the raw body.
func (g *Client) VerifyWebhook(body []byte, signature string) error {
	return VerifyWebhook(g.cfg.WebhookSecret, body, signature)
}

// VerifyWebhook checks a webhook signature with secret.
func VerifyWebhook(secret string, body []byte, signature string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	if signature == "" || !utils.VerifyWebhookSignature(string(body), signature, secret) {
		return ErrInvalidSignature
	}
	return nil
}

// ToPaise converts rupees to the smallest currency unit, rounding half away from zero.
func ToPaise(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromPaise converts paise back to rupees.
func FromPaise(paise int64) decimal.Decimal {
	return decimal.New(paise, -2)
}

func str(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

// num reads a JSON number. The SDK decodes into float64.
func num(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

// String implements fmt.Stringer for log output.
func (p Payment) String() string {
	return fmt.Sprintf("%s(%s %s %s)", p.ID, p.Status, p.Amount.StringFixed(2), p.Currency)
}
