package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/estatecrm/pkg/logger"
	"github.com/dmitrymomot/estatecrm/pkg/pg"
	"github.com/dmitrymomot/estatecrm/svc/payout"
	"github.com/dmitrymomot/estatecrm/svc/subscription"
	"github.com/dmitrymomot/estatecrm/svc/webhookqueue"
)

// testPool migrates a throwaway schema in the database named by DATABASE_URL
// and returns a pool bound to it. The test is skipped when the variable is
// unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	schema := "estatecrm_test_" + uuid.NewString()[:8]

	admin, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), `DROP SCHEMA `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		_ = admin.Close(context.Background())
	})

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	cfg.MaxConns = 8
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, pg.Config{
		MigrationsDir:   "migrations",
		MigrationsTable: "schema_migrations",
	}, Migrations, logger.Nop()))
	return pool
}

func micros(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

func TestIntegration(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	now := micros(time.Now())

	t.Run("concurrent claims never share an item", func(t *testing.T) {
		store := NewWebhookStore(pool)
		const total = 20
		for i := range total {
			require.NoError(t, store.Insert(ctx, &webhookqueue.Item{
				ID:         uuid.New(),
				EventID:    fmt.Sprintf("claim-%d", i),
				EventType:  "lead.created",
				Payload:    json.RawMessage(`{"n":1}`),
				Endpoint:   "https://hooks.example.com",
				MaxRetries: 3,
				Status:     webhookqueue.StatusPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			}))
		}

		var (
			mu      sync.Mutex
			claimed = make(map[uuid.UUID]uuid.UUID)
			wg      sync.WaitGroup
		)
		for range 4 {
			owner := uuid.New()
			wg.Add(1)
			go func() {
				defer wg.Done()
				items, err := store.ClaimDue(ctx, owner, now, time.Minute, total)
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				for _, it := range items {
					prev, dup := claimed[it.ID]
					assert.False(t, dup, "item %s claimed by %s and %s", it.ID, prev, owner)
					claimed[it.ID] = owner
					assert.Equal(t, webhookqueue.StatusProcessing, it.Status)
					assert.Equal(t, 1, it.RetryCount)
					if assert.NotNil(t, it.LockedBy) {
						assert.Equal(t, owner, *it.LockedBy)
					}
				}
			}()
		}
		wg.Wait()

		// Rows skipped while locked by a sibling are still pending.
		rest, err := store.ClaimDue(ctx, uuid.New(), now, time.Minute, total)
		require.NoError(t, err)
		for _, it := range rest {
			_, dup := claimed[it.ID]
			assert.False(t, dup)
			claimed[it.ID] = *it.LockedBy
		}
		assert.Len(t, claimed, total)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, total, stats.Processing)
	})

	t.Run("duplicate webhook event", func(t *testing.T) {
		store := NewWebhookStore(pool)
		it := &webhookqueue.Item{
			ID: uuid.New(), EventID: "dup-1", EventType: "lead.created", Payload: json.RawMessage(`{}`),
			Endpoint: "https://hooks.example.com", MaxRetries: 3, Status: webhookqueue.StatusPending,
			CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, store.Insert(ctx, it))
		it.ID = uuid.New()
		assert.ErrorIs(t, store.Insert(ctx, it), webhookqueue.ErrDuplicateEvent)
	})

	t.Run("one active subscription per tenant", func(t *testing.T) {
		_, err := pool.Exec(ctx, `INSERT INTO plans (id, name, max_agents, max_leads_per_month, max_storage_gb)
			VALUES ('pro', 'Pro', 10, 500, 5)`)
		require.NoError(t, err)

		store := NewSubscriptionStore(pool)
		tenant := uuid.New()
		active := func(start time.Time) *subscription.Subscription {
			return &subscription.Subscription{
				ID: uuid.New(), TenantID: tenant, PlanID: "pro", BillingCycle: subscription.CycleMonthly,
				Amount: decimal.NewFromInt(999), StartDate: start, EndDate: start.AddDate(0, 1, 0),
				Status: subscription.StatusActive, CreatedAt: now, UpdatedAt: now,
			}
		}

		first := active(now)
		require.NoError(t, store.Create(ctx, first, nil))
		assert.ErrorIs(t, store.Create(ctx, active(now.AddDate(0, 1, 0)), nil), subscription.ErrMultipleActive)

		// A scheduled row may coexist and is blocked only when it would activate.
		next := active(now.AddDate(0, 1, 0))
		next.Status = subscription.StatusScheduled
		require.NoError(t, store.Create(ctx, next, nil))
		_, err = store.ApplyTransitions(ctx, []subscription.Transition{{
			SubscriptionID: next.ID, TenantID: tenant,
			From: subscription.StatusScheduled, To: subscription.StatusActive, At: now,
		}})
		assert.ErrorIs(t, err, subscription.ErrMultipleActive)

		// Expiring the current row first frees the slot.
		n, err := store.ApplyTransitions(ctx, []subscription.Transition{
			{SubscriptionID: next.ID, TenantID: tenant, From: subscription.StatusScheduled, To: subscription.StatusActive, At: now},
			{SubscriptionID: first.ID, TenantID: tenant, From: subscription.StatusActive, To: subscription.StatusExpired, At: now},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("duplicate transaction event", func(t *testing.T) {
		store := NewSubscriptionStore(pool)
		sub := &subscription.Subscription{
			ID: uuid.New(), TenantID: uuid.New(), PlanID: "pro", BillingCycle: subscription.CycleAnnual,
			Amount: decimal.NewFromInt(9990), StartDate: now, EndDate: now.AddDate(1, 0, 0),
			Status: subscription.StatusScheduled, CreatedAt: now, UpdatedAt: now,
		}
		txn := func() *subscription.Transaction {
			return &subscription.Transaction{
				ID: uuid.New(), SubscriptionID: sub.ID, TenantID: sub.TenantID, Type: subscription.TxPayment,
				Amount: sub.Amount, EventID: "evt_pay_1", CreatedAt: now,
			}
		}
		require.NoError(t, store.Create(ctx, sub, txn()))
		assert.ErrorIs(t, store.RecordTransaction(ctx, txn()), subscription.ErrEventAlreadyProcessed)
	})

	t.Run("payout natural keys", func(t *testing.T) {
		store := NewPayoutStore(pool)
		agentID, partnerID, leadID, bookingID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
		tenant := uuid.New()
		for _, q := range []struct {
			sql  string
			args []any
		}{
			{`INSERT INTO agents (id, tenant_id, name, email, agent_type, base_salary) VALUES ($1, $2, 'Anil', 'anil@example.com', 'hybrid', 30000)`, []any{agentID, tenant}},
			{`INSERT INTO channel_partners (id, tenant_id, name) VALUES ($1, $2, 'Acme Realty')`, []any{partnerID, tenant}},
			{`INSERT INTO leads (id, tenant_id) VALUES ($1, $2)`, []any{leadID, tenant}},
			{`INSERT INTO bookings (id, lead_id, sale_amount, status, booked_at) VALUES ($1, $2, 5000000, 'Confirmed', $3)`, []any{bookingID, leadID, now}},
		} {
			_, err := pool.Exec(ctx, q.sql, q.args...)
			require.NoError(t, err)
		}

		period := payout.Period{Month: int(now.Month()), Year: now.Year()}
		agentPayout := func() *payout.AgentPayout {
			return &payout.AgentPayout{
				ID: uuid.New(), AgentID: agentID, AgentType: payout.AgentHybrid, Month: period.Month, Year: period.Year,
				BaseSalary: decimal.NewFromInt(30000), WorkingDays: 22, PresentDays: 22,
				AttendanceDeduction: decimal.Zero, TotalCommission: decimal.NewFromInt(1000),
				FinalPayout: decimal.NewFromInt(31000), Status: payout.PayoutPending, CreatedAt: now, UpdatedAt: now,
			}
		}
		require.NoError(t, store.InsertAgentPayout(ctx, agentPayout()))
		assert.ErrorIs(t, store.InsertAgentPayout(ctx, agentPayout()), payout.ErrDuplicatePayout)

		got, err := store.GetAgentPayout(ctx, agentID, period)
		require.NoError(t, err)
		assert.Equal(t, payout.PayoutPending, got.Status)
		assert.True(t, got.FinalPayout.Equal(decimal.NewFromInt(31000)))

		partnerPayout := func() *payout.PartnerPayout {
			return &payout.PartnerPayout{
				ID: uuid.New(), PartnerID: partnerID, Month: period.Month, Year: period.Year, ConvertedLeads: 1,
				TotalSales: decimal.NewFromInt(5000000), TotalCommission: decimal.NewFromInt(50000),
				FinalPayout: decimal.NewFromInt(50000), Status: payout.PayoutPaid, CreatedAt: now, UpdatedAt: now,
			}
		}
		require.NoError(t, store.InsertPartnerPayout(ctx, partnerPayout()))
		assert.ErrorIs(t, store.InsertPartnerPayout(ctx, partnerPayout()), payout.ErrDuplicatePayout)

		pp, err := store.GetPartnerPayout(ctx, partnerID, period)
		require.NoError(t, err)
		assert.Equal(t, payout.PayoutPaid, pp.Status)

		commissionLog := func() *payout.CommissionLog {
			return &payout.CommissionLog{
				ID: uuid.New(), BookingID: bookingID, PayeeKind: payout.PayeeAgent, PayeeID: agentID,
				SaleAmount: decimal.NewFromInt(5000000), Amount: decimal.NewFromInt(1000), Rule: "1000 flat",
				Month: period.Month, Year: period.Year, CreatedAt: now,
			}
		}
		require.NoError(t, store.InsertCommissionLog(ctx, commissionLog()))
		assert.ErrorIs(t, store.InsertCommissionLog(ctx, commissionLog()), payout.ErrDuplicateCommission)

		missing, err := store.BookingsMissingAgentCommission(ctx, period)
		require.NoError(t, err)
		assert.Empty(t, missing)
	})

	t.Run("unknown stored payout status", func(t *testing.T) {
		store := NewPayoutStore(pool)
		_, err := pool.Exec(ctx, `UPDATE agent_payouts SET status = 'on_hold'`)
		require.NoError(t, err)

		var agentID uuid.UUID
		require.NoError(t, pool.QueryRow(ctx, `SELECT agent_id FROM agent_payouts LIMIT 1`).Scan(&agentID))
		_, err = store.GetAgentPayout(ctx, agentID, payout.Period{Month: int(now.Month()), Year: now.Year()})
		assert.ErrorIs(t, err, payout.ErrUnknownPayoutStatus)
	})
}
