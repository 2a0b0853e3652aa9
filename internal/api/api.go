// Package api exposes the worker's operational HTTP surface: health, the
// payment gateway webhook, quota lookups, signed outbound event submission
// and manual triggers for the queue and payout engines.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/estatecrm/pkg/httpserver"
	"github.com/dmitrymomot/estatecrm/pkg/logger"
	"github.com/dmitrymomot/estatecrm/pkg/razorpay"
	"github.com/dmitrymomot/estatecrm/pkg/webhook"
	"github.com/dmitrymomot/estatecrm/svc/payout"
	"github.com/dmitrymomot/estatecrm/svc/subscription"
	"github.com/dmitrymomot/estatecrm/svc/webhookqueue"
)

const (
	maxWebhookBody = 1 << 20
	// signedRequestMaxAge bounds replay of signed queue submissions.
	signedRequestMaxAge = 5 * time.Minute
)

// Subscriptions is the part of the subscription engine the API uses.
type Subscriptions interface {
	HandlePaymentEvent(ctx context.Context, ev subscription.PaymentEvent) error
	Check(ctx context.Context, tenantID uuid.UUID, res subscription.Resource, increment int64) subscription.Decision
	UsageSummary(ctx context.Context, tenantID uuid.UUID) (*subscription.UsageSummary, error)
}

// Webhooks is the part of the webhook queue the API uses.
type Webhooks interface {
	Deliver(ctx context.Context, p webhookqueue.EnqueueParams) (bool, error)
	Stats(ctx context.Context) (webhookqueue.Stats, error)
	Get(ctx context.Context, id uuid.UUID) (*webhookqueue.Item, error)
	Requeue(ctx context.Context, id uuid.UUID) (*webhookqueue.Item, error)
}

// Payouts runs a payout period on demand.
type Payouts interface {
	ProcessMonthlyPayouts(ctx context.Context, month, year int) (payout.Report, error)
}

// Deps wires the router. Subscriptions is required; a nil Webhooks or
// Payouts leaves its routes unmounted. POST /webhooks is mounted only when
// QueueSecret is set: submissions must carry X-Webhook-* signature headers
// made with it.
type Deps struct {
	Subscriptions Subscriptions
	Webhooks      Webhooks
	Payouts       Payouts
	WebhookSecret string // razorpay webhook secret
	QueueSecret   string
	Checks        map[string]httpserver.Check
	Logger        *slog.Logger
}

type handler struct {
	Deps
	log *slog.Logger
}

// Router builds the HTTP handler.
func Router(d Deps) chi.Router {
	if d.Subscriptions == nil {
		panic("api: Subscriptions is required")
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &handler{Deps: d, log: log.With(logger.Component("api"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/healthz", httpserver.Health(h.log, d.Checks))
	r.Post("/payments/webhook", h.paymentWebhook)

	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Get("/usage", h.usage)
		r.Get("/quota/{resource}", h.quota)
	})

	if d.Webhooks != nil {
		r.Route("/webhooks", func(r chi.Router) {
			if d.QueueSecret != "" {
				r.Post("/", h.submitWebhook)
			}
			r.Get("/stats", h.webhookStats)
			r.Get("/{id}", h.webhookItem)
			r.Post("/{id}/requeue", h.requeueWebhook)
		})
	}
	if d.Payouts != nil {
		r.Post("/payouts/{year}/{month}", h.runPayouts)
	}
	return r
}

func (h *handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpserver.Error(w, http.StatusBadRequest, "unreadable body")
		return
	}

	rev, err := razorpay.ReadEvent(h.WebhookSecret, r.Header, body)
	switch {
	case errors.Is(err, razorpay.ErrInvalidSignature), errors.Is(err, razorpay.ErrMissingSecret):
		h.log.WarnContext(ctx, "payment webhook rejected", logger.Error(err))
		httpserver.Error(w, http.StatusUnauthorized, "invalid signature")
		return
	case err != nil:
		httpserver.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := subscription.PaymentEventFromRazorpay(rev)
	if err != nil {
		// Not ours to handle; acknowledge so the gateway stops retrying.
		h.log.InfoContext(ctx, "payment webhook ignored", logger.EventID(rev.ID), logger.Error(err))
		httpserver.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	err = h.Subscriptions.HandlePaymentEvent(ctx, ev)
	switch {
	case err == nil:
		httpserver.JSON(w, http.StatusOK, map[string]string{"status": "processed"})
	case errors.Is(err, subscription.ErrSubscriptionNotFound), errors.Is(err, subscription.ErrUnsupportedEvent):
		h.log.WarnContext(ctx, "payment webhook ignored", logger.EventID(ev.ID), logger.Error(err))
		httpserver.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		h.log.ErrorContext(ctx, "payment webhook failed", logger.EventID(ev.ID), logger.Error(err))
		httpserver.Error(w, http.StatusInternalServerError, "processing failed")
	}
}

func (h *handler) usage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := uuidParam(w, r, "tenantID")
	if !ok {
		return
	}
	sum, err := h.Subscriptions.UsageSummary(r.Context(), tenantID)
	switch {
	case errors.Is(err, subscription.ErrNoActiveSubscription):
		httpserver.Error(w, http.StatusNotFound, err.Error())
	case err != nil:
		h.log.ErrorContext(r.Context(), "usage summary failed", logger.TenantID(tenantID), logger.Error(err))
		httpserver.Error(w, http.StatusInternalServerError, "usage unavailable")
	default:
		httpserver.JSON(w, http.StatusOK, sum)
	}
}

func (h *handler) quota(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := uuidParam(w, r, "tenantID")
	if !ok {
		return
	}
	res, err := subscription.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		httpserver.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	increment := int64(1)
	if v := r.URL.Query().Get("increment"); v != "" {
		increment, err = strconv.ParseInt(v, 10, 64)
		if err != nil || increment < 0 {
			httpserver.Error(w, http.StatusBadRequest, "increment must be a non-negative integer")
			return
		}
	}
	httpserver.JSON(w, http.StatusOK, h.Subscriptions.Check(r.Context(), tenantID, res, increment))
}

type webhookRequest struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Endpoint   string          `json:"endpoint"`
	Payload    json.RawMessage `json:"payload"`
	MaxRetries int             `json:"max_retries"`
}

// submitWebhook accepts an outbound event from another CRM service. The
// first attempt is made inline; a failure leaves the event queued.
func (h *handler) submitWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpserver.Error(w, http.StatusBadRequest, "unreadable body")
		return
	}

	sig, err := webhook.SignatureFromRequest(r.Header)
	if err == nil {
		err = webhook.VerifySignature(h.QueueSecret, body, sig, signedRequestMaxAge)
	}
	if err != nil {
		h.log.WarnContext(ctx, "webhook submission rejected", logger.Error(err))
		httpserver.Error(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpserver.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	delivered, err := h.Webhooks.Deliver(ctx, webhookqueue.EnqueueParams{
		EventID:    req.EventID,
		EventType:  req.EventType,
		Endpoint:   req.Endpoint,
		Payload:    req.Payload,
		MaxRetries: req.MaxRetries,
	})
	switch {
	case errors.Is(err, webhookqueue.ErrInvalidEndpoint),
		errors.Is(err, webhookqueue.ErrInvalidEventType),
		errors.Is(err, webhookqueue.ErrInvalidPayload):
		httpserver.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, webhookqueue.ErrDuplicateEvent):
		httpserver.Error(w, http.StatusConflict, err.Error())
	case err != nil:
		h.log.ErrorContext(ctx, "webhook submission failed", logger.EventID(req.EventID), logger.Error(err))
		httpserver.Error(w, http.StatusInternalServerError, "webhook not accepted")
	case delivered:
		httpserver.JSON(w, http.StatusOK, map[string]string{"status": "delivered"})
	default:
		httpserver.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func (h *handler) webhookStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Webhooks.Stats(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "webhook stats failed", logger.Error(err))
		httpserver.Error(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	httpserver.JSON(w, http.StatusOK, st)
}

func (h *handler) webhookItem(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	it, err := h.Webhooks.Get(r.Context(), id)
	h.writeItem(w, r, it, err)
}

func (h *handler) requeueWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	it, err := h.Webhooks.Requeue(r.Context(), id)
	h.writeItem(w, r, it, err)
}

func (h *handler) writeItem(w http.ResponseWriter, r *http.Request, it *webhookqueue.Item, err error) {
	switch {
	case errors.Is(err, webhookqueue.ErrItemNotFound):
		httpserver.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, webhookqueue.ErrNotRequeueable):
		httpserver.Error(w, http.StatusConflict, err.Error())
	case err != nil:
		h.log.ErrorContext(r.Context(), "webhook lookup failed", logger.Error(err))
		httpserver.Error(w, http.StatusInternalServerError, "webhook unavailable")
	default:
		httpserver.JSON(w, http.StatusOK, it)
	}
}

func (h *handler) runPayouts(w http.ResponseWriter, r *http.Request) {
	year, yerr := strconv.Atoi(chi.URLParam(r, "year"))
	month, merr := strconv.Atoi(chi.URLParam(r, "month"))
	if yerr != nil || merr != nil {
		httpserver.Error(w, http.StatusBadRequest, "year and month must be numbers")
		return
	}
	rep, err := h.Payouts.ProcessMonthlyPayouts(r.Context(), month, year)
	switch {
	case errors.Is(err, payout.ErrInvalidPeriod):
		httpserver.Error(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.log.ErrorContext(r.Context(), "payout run failed", logger.Period(month, year), logger.Error(err))
		httpserver.Error(w, http.StatusInternalServerError, "payout run failed")
	default:
		httpserver.JSON(w, http.StatusOK, rep)
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httpserver.Error(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
