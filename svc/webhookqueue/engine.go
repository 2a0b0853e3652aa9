package webhookqueue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/estatecrm/pkg/logger"
	"github.com/dmitrymomot/estatecrm/pkg/statemachine"
	"github.com/dmitrymomot/estatecrm/pkg/webhook"
)

// Defaults for the retry queue.
const (
	DefaultBatchSize  = 50
	DefaultMaxRetries = 3
	DefaultTimeout    = webhook.DefaultTimeout
	DefaultRetention  = 7 * 24 * time.Hour
	DefaultLease      = 30 * time.Minute
)

// Deliverer makes a single delivery attempt. *webhook.Deliverer satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, endpoint string, payload []byte, opts ...webhook.SendOption) (webhook.DeliveryResult, error)
}

type event string

const (
	evClaim   event = "claim"
	evSucceed event = "succeed"
	evFail    event = "fail"
	evRelease event = "release"
	evRequeue event = "requeue"
)

func exhausted(_ context.Context, _ Status, _ event, data any) bool {
	it, ok := data.(*Item)
	return ok && it.Exhausted()
}

func hasBudget(ctx context.Context, from Status, ev event, data any) bool {
	return !exhausted(ctx, from, ev, data)
}

// transitions: failed is terminal except for an operator requeue.
var transitions = statemachine.New[Status, event]().
	Add(StatusPending, evClaim, StatusProcessing).
	Add(StatusProcessing, evSucceed, StatusSuccess).
	Add(StatusProcessing, evFail, StatusFailed, exhausted).
	Add(StatusProcessing, evFail, StatusPending, hasBudget).
	Add(StatusProcessing, evRelease, StatusFailed, exhausted).
	Add(StatusProcessing, evRelease, StatusPending, hasBudget).
	Add(StatusFailed, evRequeue, StatusPending)

// Engine delivers queued webhooks with bounded exponential retries.
type Engine struct {
	store      Store
	deliverer  Deliverer
	backoff    webhook.BackoffStrategy
	owner      uuid.UUID
	batchSize  int
	maxRetries int
	timeout    time.Duration
	lease      time.Duration
	retention  time.Duration
	secret     string
	now        func() time.Time
	log        *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithTimeout bounds a single delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLease sets how long a claim is held. It must outlast a whole batch.
func WithLease(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lease = d
		}
	}
}

func WithRetention(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retention = d
		}
	}
}

func WithBackoff(b webhook.BackoffStrategy) Option {
	return func(e *Engine) {
		if b != nil {
			e.backoff = b
		}
	}
}

// WithSigningSecret signs every delivery with the X-Webhook-* headers.
func WithSigningSecret(secret string) Option {
	return func(e *Engine) { e.secret = secret }
}

// WithOwner fixes the lease owner id. Defaults to a random id per engine.
func WithOwner(id uuid.UUID) Option {
	return func(e *Engine) {
		if id != uuid.Nil {
			e.owner = id
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine panics when store or deliverer is nil.
func NewEngine(store Store, deliverer Deliverer, opts ...Option) *Engine {
	if store == nil {
		panic("webhookqueue: Store is required")
	}
	if deliverer == nil {
		panic("webhookqueue: Deliverer is required")
	}

	e := &Engine{
		store:      store,
		deliverer:  deliverer,
		backoff:    webhook.MinuteDoubling(),
		owner:      uuid.New(),
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultTimeout,
		lease:      DefaultLease,
		retention:  DefaultRetention,
		now:        func() time.Time { return time.Now().UTC() },
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.Component("webhookqueue"), slog.String("owner", e.owner.String()))
	return e
}

// Backoff is the wait after the given attempt count: 1, 2, 4 ... minutes.
func Backoff(retryCount int) time.Duration {
	return webhook.MinuteDoubling().NextInterval(retryCount)
}

// Enqueue stores an event for background delivery.
func (e *Engine) Enqueue(ctx context.Context, p EnqueueParams) (*Item, error) {
	if p.Endpoint == "" {
		return nil, ErrInvalidEndpoint
	}
	if p.EventType == "" {
		return nil, ErrInvalidEventType
	}
	if len(p.Payload) == 0 || !json.Valid(p.Payload) {
		return nil, ErrInvalidPayload
	}

	now := e.now()
	item := &Item{
		ID:             uuid.New(),
		EventID:        p.EventID,
		EventType:      p.EventType,
		Payload:        p.Payload,
		Endpoint:       p.Endpoint,
		RetryCount:     max(p.PriorAttempts, 0),
		MaxRetries:     e.maxRetries,
		Status:         StatusPending,
		LastError:      webhook.Sanitize(p.LastError),
		LastStatusCode: p.LastStatusCode,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if item.EventID == "" {
		item.EventID = uuid.NewString()
	}
	if p.MaxRetries > 0 {
		item.MaxRetries = p.MaxRetries
	}

	next := now.Add(e.backoff.NextInterval(item.RetryCount))
	item.NextRetryAt = &next
	if item.Exhausted() {
		item.Status = StatusFailed
		item.NextRetryAt = nil
	}

	if err := e.store.Insert(ctx, item); err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "webhook queued",
		logger.EventID(item.EventID),
		slog.String("event_type", item.EventType),
		logger.RetryCount(item.RetryCount),
	)
	return item, nil
}

// Deliver tries the event once right away and queues it when that fails.
// It reports whether the inline attempt succeeded.
func (e *Engine) Deliver(ctx context.Context, p EnqueueParams) (bool, error) {
	if p.EventID == "" {
		p.EventID = uuid.NewString()
	}
	if p.Endpoint == "" {
		return false, ErrInvalidEndpoint
	}
	if p.EventType == "" {
		return false, ErrInvalidEventType
	}
	if len(p.Payload) == 0 || !json.Valid(p.Payload) {
		return false, ErrInvalidPayload
	}

	res, err := e.deliverer.Deliver(ctx, p.Endpoint, p.Payload, e.sendOptions(p.EventID, p.EventType, 1)...)
	if err == nil {
		return true, nil
	}

	p.PriorAttempts = 1
	p.LastError = err.Error()
	p.LastStatusCode = res.StatusCode
	if _, qerr := e.Enqueue(ctx, p); qerr != nil {
		return false, errors.Join(err, qerr)
	}
	return false, nil
}

// RunCycle is the scheduler entrypoint: purge old successes, release
// expired leases, then deliver a batch.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	purged, err := e.Purge(ctx)
	if err != nil {
		e.log.ErrorContext(ctx, "purge failed", logger.Error(err))
	}
	res.Purged = purged

	released, err := e.store.ReleaseExpired(ctx, e.now())
	if err != nil {
		e.log.ErrorContext(ctx, "release expired leases failed", logger.Error(err))
	} else if released > 0 {
		e.log.WarnContext(ctx, "released expired webhook leases", slog.Int("count", released))
	}
	res.Released = released

	due, err := e.ProcessDue(ctx)
	res.Claimed, res.Succeeded, res.Retrying, res.Failed = due.Claimed, due.Succeeded, due.Retrying, due.Failed
	return res, err
}

// Purge deletes success items older than the retention window.
func (e *Engine) Purge(ctx context.Context) (int, error) {
	n, err := e.store.PurgeSucceeded(ctx, e.now().Add(-e.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.InfoContext(ctx, "purged delivered webhooks", slog.Int("count", n))
	}
	return n, nil
}

// ProcessDue claims one batch of due items and attempts each of them.
// A started batch runs to completion even if ctx is cancelled; every
// attempt is bounded by the engine timeout.
func (e *Engine) ProcessDue(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	items, err := e.store.ClaimDue(ctx, e.owner, e.now(), e.lease, e.batchSize)
	if err != nil {
		return res, err
	}
	res.Claimed = len(items)

	batchCtx := context.WithoutCancel(ctx)
	for i := range items {
		switch e.attempt(batchCtx, &items[i]) {
		case StatusSuccess:
			res.Succeeded++
		case StatusPending:
			res.Retrying++
		case StatusFailed:
			res.Failed++
		}
	}

	if res.Claimed > 0 {
		e.log.InfoContext(ctx, "webhook batch processed",
			slog.Int("claimed", res.Claimed),
			slog.Int("succeeded", res.Succeeded),
			slog.Int("retrying", res.Retrying),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// attempt delivers a claimed item and records the outcome. It returns the
// status written, or processing when the outcome could not be stored.
func (e *Engine) attempt(ctx context.Context, it *Item) Status {
	log := e.log.With(logger.EventID(it.EventID), logger.RetryCount(it.RetryCount))

	res, derr := e.deliverer.Deliver(ctx, it.Endpoint, it.Payload, e.sendOptions(it.EventID, it.EventType, it.RetryCount)...)

	ev := evSucceed
	if derr != nil {
		ev = evFail
	}
	to, err := transitions.Next(ctx, it.Status, ev, it)
	if err != nil {
		log.ErrorContext(ctx, "invalid webhook transition", logger.Error(err))
		return StatusProcessing
	}

	now := e.now()
	out := Outcome{Status: to, LastStatusCode: res.StatusCode, At: now}
	if derr != nil {
		out.LastError = webhook.Sanitize(derr.Error())
	}
	if to == StatusPending {
		next := now.Add(e.backoff.NextInterval(it.RetryCount))
		out.NextRetryAt = &next
	}

	if err := e.store.Finish(ctx, it.ID, e.owner, out); err != nil {
		log.ErrorContext(ctx, "cannot record webhook outcome", logger.Error(err))
		return StatusProcessing
	}

	switch to {
	case StatusSuccess:
		log.DebugContext(ctx, "webhook delivered", slog.Int("status_code", res.StatusCode), logger.Duration(res.Duration))
	case StatusPending:
		log.WarnContext(ctx, "webhook delivery failed, will retry", logger.Error(derr), slog.Time("next_retry_at", *out.NextRetryAt))
	case StatusFailed:
		log.ErrorContext(ctx, "webhook delivery failed permanently", logger.Error(derr))
	}
	return to
}

func (e *Engine) sendOptions(eventID, eventType string, attempt int) []webhook.SendOption {
	opts := []webhook.SendOption{
		webhook.WithTimeout(e.timeout),
		webhook.WithEventID(eventID),
		webhook.WithHeader("X-Webhook-Event", eventType),
		webhook.WithHeader("X-Webhook-Attempt", strconv.Itoa(attempt)),
	}
	if e.secret != "" {
		opts = append(opts, webhook.WithSignature(e.secret))
	}
	return opts
}

// Requeue gives a failed item a fresh retry budget.
func (e *Engine) Requeue(ctx context.Context, id uuid.UUID) (*Item, error) {
	it, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transitions.Can(ctx, it.Status, evRequeue, it) {
		return nil, ErrNotRequeueable
	}
	if err := e.store.Requeue(ctx, id, e.now()); err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "webhook requeued", logger.EventID(it.EventID))
	return e.store.Get(ctx, id)
}

// Get returns a single item.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	return e.store.Get(ctx, id)
}

// Stats counts items per status.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return e.store.Stats(ctx)
}
