package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/estatecrm/pkg/email"
	"github.com/dmitrymomot/estatecrm/pkg/logger"
)

// Recipient is who a notification goes to. Empty fields skip the channel.
type Recipient struct {
	Name      string
	Email     string
	Phone     string
	PushToken string
}

// Notification is the channel-neutral content of a message.
type Notification struct {
	Kind    string // e.g. "subscription.expired", used as email tag and push data
	Subject string
	Body    string
	HTML    string
	Data    map[string]string
}

// WhatsAppSender sends a plain text WhatsApp message to a phone number.
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, to, body string) error
}

// PushSender sends a push notification to a device token.
type PushSender interface {
	SendPush(ctx context.Context, token, title, body string, data map[string]string) error
}

// Notifier is what domain services depend on.
type Notifier interface {
	Notify(ctx context.Context, to Recipient, n Notification)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithEmail(s email.Sender) Option {
	return func(d *Dispatcher) { d.email = s }
}

func WithWhatsApp(s WhatsAppSender) Option {
	return func(d *Dispatcher) { d.whatsapp = s }
}

func WithPush(s PushSender) Option {
	return func(d *Dispatcher) { d.push = s }
}

// WithTimeout bounds each channel attempt. Non-positive values are ignored.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// Dispatcher sends notifications over every configured channel.
type Dispatcher struct {
	email    email.Sender
	whatsapp WhatsAppSender
	push     PushSender
	timeout  time.Duration
	log      *slog.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		timeout: 15 * time.Second,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(logger.Component("notify"))
	return d
}

// Notify sends in the background and returns immediately.
// The caller's cancellation does not abort the send.
func (d *Dispatcher) Notify(ctx context.Context, to Recipient, n Notification) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.Send(ctx, to, n); err != nil {
			d.log.WarnContext(ctx, "notification not fully delivered",
				slog.String("kind", n.Kind),
				logger.Error(err),
			)
		}
	}()
}

// Wait blocks until all background sends started by Notify have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Send attempts every reachable channel and returns the joined failures.
func (d *Dispatcher) Send(ctx context.Context, to Recipient, n Notification) error {
	var (
		errs      []error
		attempted int
	)

	if d.email != nil && to.Email != "" {
		attempted++
		err := d.withTimeout(ctx, func(ctx context.Context) error {
			return d.email.SendEmail(ctx, email.Message{
				To:       to.Email,
				Subject:  n.Subject,
				HTMLBody: n.HTML,
				TextBody: n.Body,
				Tag:      n.Kind,
			})
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrEmailFailed, err))
		}
	}

	if d.whatsapp != nil && to.Phone != "" {
		attempted++
		err := d.withTimeout(ctx, func(ctx context.Context) error {
			return d.whatsapp.SendWhatsApp(ctx, to.Phone, whatsappText(n))
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrWhatsAppFailed, err))
		}
	}

	if d.push != nil && to.PushToken != "" {
		attempted++
		data := make(map[string]string, len(n.Data)+1)
		for k, v := range n.Data {
			data[k] = v
		}
		data["kind"] = n.Kind
		err := d.withTimeout(ctx, func(ctx context.Context) error {
			return d.push.SendPush(ctx, to.PushToken, n.Subject, n.Body, data)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrPushFailed, err))
		}
	}

	if attempted == 0 {
		return ErrNoChannel
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return fn(ctx)
}

func whatsappText(n Notification) string {
	if n.Subject == "" {
		return n.Body
	}
	return "*" + n.Subject + "*\n" + n.Body
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Recipient, Notification) {}
