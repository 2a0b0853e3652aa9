package webhookqueue_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/estatecrm/pkg/logger"
	"github.com/dmitrymomot/estatecrm/pkg/webhook"
	"github.com/dmitrymomot/estatecrm/svc/webhookqueue"
)

type MockDeliverer struct {
	mock.Mock
}

func (m *MockDeliverer) Deliver(ctx context.Context, endpoint string, payload []byte, opts ...webhook.SendOption) (webhook.DeliveryResult, error) {
	args := m.Called(ctx, endpoint, payload, opts)
	return args.Get(0).(webhook.DeliveryResult), args.Error(1)
}

func failing(m *MockDeliverer) {
	m.On("Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(webhook.DeliveryResult{StatusCode: http.StatusServiceUnavailable}, fmt.Errorf("%w: 503", webhook.ErrUnexpectedStatus))
}

func succeeding(m *MockDeliverer) {
	m.On("Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(webhook.DeliveryResult{Success: true, StatusCode: http.StatusOK}, nil)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newEngine(store webhookqueue.Store, d webhookqueue.Deliverer, clk *clock, opts ...webhookqueue.Option) *webhookqueue.Engine {
	opts = append([]webhookqueue.Option{
		webhookqueue.WithLogger(logger.Nop()),
		webhookqueue.WithClock(clk.Now),
	}, opts...)
	return webhookqueue.NewEngine(store, d, opts...)
}

func params() webhookqueue.EnqueueParams {
	return webhookqueue.EnqueueParams{
		EventType: "lead.converted",
		Endpoint:  "https://hooks.example.com/crm",
		Payload:   json.RawMessage(`{"lead_id":"42"}`),
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Minute, webhookqueue.Backoff(1))
	assert.Equal(t, 2*time.Minute, webhookqueue.Backoff(2))
	assert.Equal(t, 4*time.Minute, webhookqueue.Backoff(3))
	assert.Zero(t, webhookqueue.Backoff(0))
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	st, err := webhookqueue.ParseStatus("Processing")
	require.NoError(t, err)
	assert.Equal(t, webhookqueue.StatusProcessing, st)

	_, err = webhookqueue.ParseStatus("delivered")
	assert.ErrorIs(t, err, webhookqueue.ErrUnknownStatus)
}

func TestEnqueue(t *testing.T) {
	t.Parallel()

	t.Run("due immediately", func(t *testing.T) {
		t.Parallel()
		clk := newClock()
		e := newEngine(webhookqueue.NewMemoryStore(), &MockDeliverer{}, clk)

		it, err := e.Enqueue(context.Background(), params())
		require.NoError(t, err)
		assert.Equal(t, webhookqueue.StatusPending, it.Status)
		assert.Equal(t, 0, it.RetryCount)
		assert.Equal(t, webhookqueue.DefaultMaxRetries, it.MaxRetries)
		assert.NotEmpty(t, it.EventID)
		require.NotNil(t, it.NextRetryAt)
		assert.Equal(t, clk.Now(), *it.NextRetryAt)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		e := newEngine(webhookqueue.NewMemoryStore(), &MockDeliverer{}, newClock())

		p := params()
		p.Payload = json.RawMessage(`{oops`)
		_, err := e.Enqueue(context.Background(), p)
		assert.ErrorIs(t, err, webhookqueue.ErrInvalidPayload)

		p = params()
		p.Endpoint = ""
		_, err = e.Enqueue(context.Background(), p)
		assert.ErrorIs(t, err, webhookqueue.ErrInvalidEndpoint)

		p = params()
		p.EventType = ""
		_, err = e.Enqueue(context.Background(), p)
		assert.ErrorIs(t, err, webhookqueue.ErrInvalidEventType)
	})

	t.Run("duplicate event id", func(t *testing.T) {
		t.Parallel()
		e := newEngine(webhookqueue.NewMemoryStore(), &MockDeliverer{}, newClock())

		p := params()
		p.EventID = "evt_1"
		_, err := e.Enqueue(context.Background(), p)
		require.NoError(t, err)
		_, err = e.Enqueue(context.Background(), p)
		assert.ErrorIs(t, err, webhookqueue.ErrDuplicateEvent)
	})
}

func TestProcessDue_RetryAfterThirdAttempt(t *testing.T) {
	t.Parallel()

	clk := newClock()
	d := &MockDeliverer{}
	failing(d)
	e := newEngine(webhookqueue.NewMemoryStore(), d, clk)
	ctx := context.Background()

	p := params()
	p.PriorAttempts = 2
	it, err := e.Enqueue(ctx, p)
	require.NoError(t, err)

	clk.Advance(webhookqueue.Backoff(2))
	res, err := e.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Claimed)
	assert.Equal(t, 1, res.Retrying)

	got, err := e.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, webhookqueue.StatusPending, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.Equal(t, clk.Now().Add(4*time.Minute), *got.NextRetryAt)
	assert.Equal(t, http.StatusServiceUnavailable, got.LastStatusCode)
	assert.Contains(t, got.LastError, "503")
	assert.Nil(t, got.LockedBy)
}

func TestProcessDue_ExhaustedItemIsTerminal(t *testing.T) {
	t.Parallel()

	clk := newClock()
	d := &MockDeliverer{}
	failing(d)
	e := newEngine(webhookqueue.NewMemoryStore(), d, clk)
	ctx := context.Background()

	it, err := e.Enqueue(ctx, params())
	require.NoError(t, err)

	var delays []time.Duration
	for {
		res, err := e.ProcessDue(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, res.Claimed)

		got, err := e.Get(ctx, it.ID)
		require.NoError(t, err)
		if got.Status == webhookqueue.StatusFailed {
			assert.Equal(t, 4, got.RetryCount)
			assert.Nil(t, got.NextRetryAt)
			break
		}
		delay := got.NextRetryAt.Sub(clk.Now())
		delays = append(delays, delay)
		clk.Advance(delay)
	}
	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute}, delays)

	for range 3 {
		clk.Advance(time.Hour)
		res, err := e.RunCycle(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Claimed)
	}
	got, err := e.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, webhookqueue.StatusFailed, got.Status)
	d.AssertNumberOfCalls(t, "Deliver", 4)
}

func TestProcessDue_BatchSize(t *testing.T) {
	t.Parallel()

	d := &MockDeliverer{}
	succeeding(d)
	e := newEngine(webhookqueue.NewMemoryStore(), d, newClock(), webhookqueue.WithBatchSize(2))
	ctx := context.Background()

	for range 3 {
		_, err := e.Enqueue(ctx, params())
		require.NoError(t, err)
	}

	res, err := e.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Claimed)
	assert.Equal(t, 2, res.Succeeded)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, webhookqueue.Stats{Pending: 1, Success: 2}, stats)
}

func TestProcessDue_SignedDelivery(t *testing.T) {
	t.Parallel()

	const secret = "whsec_test"
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		sig, err := webhook.SignatureFromRequest(r.Header)
		if err != nil || webhook.VerifySignature(secret, body, sig, time.Minute) != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Webhook-Event") != "lead.converted" || r.Header.Get("X-Webhook-Attempt") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	e := newEngine(webhookqueue.NewMemoryStore(), webhook.NewDeliverer(), newClock(), webhookqueue.WithSigningSecret(secret))
	ctx := context.Background()

	p := params()
	p.Endpoint = srv.URL
	it, err := e.Enqueue(ctx, p)
	require.NoError(t, err)

	res, err := e.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, int32(1), hits.Load())

	got, err := e.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, webhookqueue.StatusSuccess, got.Status)
	assert.Equal(t, http.StatusNoContent, got.LastStatusCode)
	assert.Nil(t, got.NextRetryAt)
	assert.Empty(t, got.LastError)
}

func TestDeliver(t *testing.T) {
	t.Parallel()

	t.Run("inline success is not queued", func(t *testing.T) {
		t.Parallel()
		d := &MockDeliverer{}
		succeeding(d)
		e := newEngine(webhookqueue.NewMemoryStore(), d, newClock())

		ok, err := e.Deliver(context.Background(), params())
		require.NoError(t, err)
		assert.True(t, ok)

		stats, err := e.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, webhookqueue.Stats{}, stats)
	})

	t.Run("inline failure is queued with one attempt", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		clk := newClock()
		store := webhookqueue.NewMemoryStore()
		e := newEngine(store, webhook.NewDeliverer(), clk)

		p := params()
		p.Endpoint = srv.URL
		ok, err := e.Deliver(context.Background(), p)
		require.NoError(t, err)
		assert.False(t, ok)

		items, err := store.ClaimDue(context.Background(), uuid.New(), clk.Now().Add(time.Minute), time.Minute, 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, 2, items[0].RetryCount)
		assert.Equal(t, http.StatusInternalServerError, items[0].LastStatusCode)
	})
}

func TestRunCycle_ReleasesExpiredLeases(t *testing.T) {
	t.Parallel()

	clk := newClock()
	store := webhookqueue.NewMemoryStore()
	d := &MockDeliverer{}
	succeeding(d)
	e := newEngine(store, d, clk, webhookqueue.WithLease(10*time.Minute))
	ctx := context.Background()

	it, err := e.Enqueue(ctx, params())
	require.NoError(t, err)

	// a replica that crashed after claiming
	claimed, err := store.ClaimDue(ctx, uuid.New(), clk.Now(), 10*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	res, err := e.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Released)
	assert.Zero(t, res.Claimed)

	clk.Advance(11 * time.Minute)
	res, err = e.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Released)
	assert.Equal(t, 1, res.Succeeded)

	got, err := e.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, webhookqueue.StatusSuccess, got.Status)
	assert.Equal(t, 2, got.RetryCount)
}

func TestFinish_LeaseLost(t *testing.T) {
	t.Parallel()

	clk := newClock()
	store := webhookqueue.NewMemoryStore()
	e := newEngine(store, &MockDeliverer{}, clk)
	ctx := context.Background()

	it, err := e.Enqueue(ctx, params())
	require.NoError(t, err)

	_, err = store.ClaimDue(ctx, uuid.New(), clk.Now(), time.Minute, 10)
	require.NoError(t, err)

	err = store.Finish(ctx, it.ID, uuid.New(), webhookqueue.Outcome{Status: webhookqueue.StatusSuccess, At: clk.Now()})
	assert.ErrorIs(t, err, webhookqueue.ErrLeaseLost)
}

func TestPurge(t *testing.T) {
	t.Parallel()

	clk := newClock()
	d := &MockDeliverer{}
	succeeding(d)
	e := newEngine(webhookqueue.NewMemoryStore(), d, clk)
	ctx := context.Background()

	_, err := e.Enqueue(ctx, params())
	require.NoError(t, err)
	_, err = e.ProcessDue(ctx)
	require.NoError(t, err)

	clk.Advance(6 * 24 * time.Hour)
	n, err := e.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(2 * 24 * time.Hour)
	res, err := e.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purged)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, webhookqueue.Stats{}, stats)
}

func TestRequeue(t *testing.T) {
	t.Parallel()

	clk := newClock()
	d := &MockDeliverer{}
	failing(d)
	e := newEngine(webhookqueue.NewMemoryStore(), d, clk, webhookqueue.WithMaxRetries(0))
	ctx := context.Background()

	it, err := e.Enqueue(ctx, params())
	require.NoError(t, err)

	_, err = e.Requeue(ctx, it.ID)
	assert.ErrorIs(t, err, webhookqueue.ErrNotRequeueable)

	res, err := e.ProcessDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	got, err := e.Requeue(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, webhookqueue.StatusPending, got.Status)
	assert.Zero(t, got.RetryCount)

	_, err = e.Requeue(ctx, uuid.New())
	assert.ErrorIs(t, err, webhookqueue.ErrItemNotFound)
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { webhookqueue.NewEngine(nil, &MockDeliverer{}) })
	assert.Panics(t, func() { webhookqueue.NewEngine(webhookqueue.NewMemoryStore(), nil) })
}

func TestProcessDue_StoresValidUTF8Error(t *testing.T) {
	t.Parallel()

	clk := newClock()
	store := webhookqueue.NewMemoryStore()
	d := &MockDeliverer{}
	d.On("Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(webhook.DeliveryResult{StatusCode: http.StatusBadGateway},
			fmt.Errorf("%w: 502 %s", webhook.ErrUnexpectedStatus, strings.Repeat("x", 10)+"\xc3\x00"))
	e := newEngine(store, d, clk)

	it, err := e.Enqueue(context.Background(), params())
	require.NoError(t, err)

	res, err := e.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retrying)

	got, err := e.Get(context.Background(), it.ID)
	require.NoError(t, err)
	assert.Equal(t, webhookqueue.StatusPending, got.Status)
	assert.True(t, utf8.ValidString(got.LastError))
	assert.NotContains(t, got.LastError, "\x00")
	require.NotNil(t, got.NextRetryAt)
	assert.Equal(t, clk.Now().Add(time.Minute), *got.NextRetryAt)
}
