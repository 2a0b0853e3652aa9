package pgstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/estatecrm/pkg/notify"
	"github.com/dmitrymomot/estatecrm/pkg/pg"
	"github.com/dmitrymomot/estatecrm/svc/subscription"
)

// SubscriptionStore implements subscription.Store.
type SubscriptionStore struct {
	db DB
}

var _ subscription.Store = (*SubscriptionStore)(nil)

func NewSubscriptionStore(db DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionColumns = `id, tenant_id, plan_id, billing_cycle, amount, start_date, end_date, status,
	cancelled_on, cancellation_reason, usage_agents, usage_leads, usage_storage_bytes, created_at, updated_at`

func scanSubscription(row pgx.CollectableRow) (subscription.Subscription, error) {
	var (
		s             subscription.Subscription
		cycle, status string
	)
	err := row.Scan(&s.ID, &s.TenantID, &s.PlanID, &cycle, &s.Amount, &s.StartDate, &s.EndDate, &status,
		&s.CancelledOn, &s.CancellationReason, &s.Usage.Agents, &s.Usage.LeadsThisMonth, &s.Usage.StorageBytes,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	if s.Status, err = subscription.ParseStatus(status); err != nil {
		return s, fmt.Errorf("subscription %s: %w", s.ID, err)
	}
	if s.BillingCycle, err = subscription.ParseBillingCycle(cycle); err != nil {
		return s, fmt.Errorf("subscription %s: %w", s.ID, err)
	}
	return s, nil
}

func (s *SubscriptionStore) list(ctx context.Context, query string, args ...any) ([]subscription.Subscription, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSubscription)
}

func (s *SubscriptionStore) GetByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	rows, err := s.db.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	sub, err := pgx.CollectExactlyOneRow(rows, scanSubscription)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *SubscriptionStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]subscription.Subscription, error) {
	return s.list(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1 ORDER BY start_date`, tenantID)
}

func (s *SubscriptionStore) FindCurrent(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]subscription.Subscription, error) {
	return s.list(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE tenant_id = $1
		  AND status = 'active'
		  AND end_date > $2
		  AND cancelled_on IS NULL
		  AND btrim(cancellation_reason) = ''
		ORDER BY end_date`, tenantID, now)
}

func (s *SubscriptionStore) TenantsWithDueTransitions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT tenant_id FROM subscriptions
		WHERE (status = 'active' AND end_date <= $1)
		   OR (status = 'scheduled' AND start_date <= $1)`, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (s *SubscriptionStore) HasReversal(ctx context.Context, subscriptionID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM subscription_transactions
		WHERE subscription_id = $1 AND type IN ('refund', 'cancellation'))`, subscriptionID).Scan(&exists)
	return exists, err
}

// transitionOrder puts moves into active last so the one-active index never
// sees the outgoing and incoming subscription at the same time.
func transitionOrder(a, b subscription.Transition) int {
	rank := func(t subscription.Transition) int {
		if t.To == subscription.StatusActive {
			return 1
		}
		return 0
	}
	return cmp.Compare(rank(a), rank(b))
}

func (s *SubscriptionStore) ApplyTransitions(ctx context.Context, ts []subscription.Transition) (int, error) {
	if len(ts) == 0 {
		return 0, nil
	}
	ordered := slices.Clone(ts)
	slices.SortStableFunc(ordered, transitionOrder)

	applied := 0
	err := pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		for _, t := range ordered {
			tag, err := tx.Exec(ctx,
				`UPDATE subscriptions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
				string(t.To), t.At, t.SubscriptionID, string(t.From))
			if err != nil {
				return mapUnique(err, constraintOneActive, subscription.ErrMultipleActive)
			}
			applied += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

func insertTransaction(ctx context.Context, q pg.Querier, t *subscription.Transaction) error {
	if t == nil {
		return nil
	}
	_, err := q.Exec(ctx, `INSERT INTO subscription_transactions
		(id, subscription_id, tenant_id, type, amount, event_id, gateway_status, gateway_order_id, gateway_payment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.SubscriptionID, t.TenantID, string(t.Type), t.Amount, nullable(t.EventID),
		t.GatewayStatus, t.GatewayOrderID, t.GatewayPaymentID, t.CreatedAt)
	return mapUnique(err, constraintTxnEventID, subscription.ErrEventAlreadyProcessed)
}

func (s *SubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription, txn *subscription.Transaction) error {
	return pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			sub.ID, sub.TenantID, sub.PlanID, string(sub.BillingCycle), sub.Amount, sub.StartDate, sub.EndDate,
			string(sub.Status), sub.CancelledOn, sub.CancellationReason,
			sub.Usage.Agents, sub.Usage.LeadsThisMonth, sub.Usage.StorageBytes, sub.CreatedAt, sub.UpdatedAt)
		if err != nil {
			return mapUnique(err, constraintOneActive, subscription.ErrMultipleActive)
		}
		return insertTransaction(ctx, tx, txn)
	})
}

func (s *SubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription, txn *subscription.Transaction) error {
	return pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := insertTransaction(ctx, tx, txn); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE subscriptions SET
			plan_id = $2, billing_cycle = $3, amount = $4, start_date = $5, end_date = $6, status = $7,
			cancelled_on = $8, cancellation_reason = $9,
			usage_agents = $10, usage_leads = $11, usage_storage_bytes = $12, updated_at = $13
			WHERE id = $1`,
			sub.ID, sub.PlanID, string(sub.BillingCycle), sub.Amount, sub.StartDate, sub.EndDate, string(sub.Status),
			sub.CancelledOn, sub.CancellationReason,
			sub.Usage.Agents, sub.Usage.LeadsThisMonth, sub.Usage.StorageBytes, sub.UpdatedAt)
		if err != nil {
			return mapUnique(err, constraintOneActive, subscription.ErrMultipleActive)
		}
		if tag.RowsAffected() == 0 {
			return subscription.ErrSubscriptionNotFound
		}
		return nil
	})
}

func (s *SubscriptionStore) RecordTransaction(ctx context.Context, txn *subscription.Transaction) error {
	return insertTransaction(ctx, s.db, txn)
}

func (s *SubscriptionStore) GetPlan(ctx context.Context, id string) (*subscription.Plan, error) {
	var p subscription.Plan
	err := s.db.QueryRow(ctx, `SELECT id, name, max_agents, max_leads_per_month, max_storage_gb, features, price, annual_price
		FROM plans WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.MaxAgents, &p.MaxLeadsPerMonth, &p.MaxStorageGB, &p.Features, &p.Price, &p.AnnualPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subscription.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SubscriptionStore) UpsertPlan(ctx context.Context, p subscription.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	features := p.Features
	if features == nil {
		features = map[string]bool{}
	}
	_, err := s.db.Exec(ctx, `INSERT INTO plans
		(id, name, max_agents, max_leads_per_month, max_storage_gb, features, price, annual_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			max_agents = EXCLUDED.max_agents,
			max_leads_per_month = EXCLUDED.max_leads_per_month,
			max_storage_gb = EXCLUDED.max_storage_gb,
			features = EXCLUDED.features,
			price = EXCLUDED.price,
			annual_price = EXCLUDED.annual_price,
			updated_at = now()`,
		p.ID, p.Name, p.MaxAgents, p.MaxLeadsPerMonth, p.MaxStorageGB, features, p.Price, p.AnnualPrice)
	return err
}

// AgentCounter counts a tenant's active agents.
func AgentCounter(db pg.Querier) subscription.CounterFunc {
	return func(ctx context.Context, tenantID uuid.UUID, _ time.Time) (int64, error) {
		var n int64
		err := db.QueryRow(ctx, `SELECT count(*) FROM agents WHERE tenant_id = $1 AND active`, tenantID).Scan(&n)
		return n, err
	}
}

// LeadCounter counts leads a tenant created in the calendar month (UTC) of now.
func LeadCounter(db pg.Querier) subscription.CounterFunc {
	return func(ctx context.Context, tenantID uuid.UUID, now time.Time) (int64, error) {
		now = now.UTC()
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		var n int64
		err := db.QueryRow(ctx,
			`SELECT count(*) FROM leads WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3`,
			tenantID, from, from.AddDate(0, 1, 0)).Scan(&n)
		return n, err
	}
}

// TenantRecipient resolves the tenant's billing contact.
func TenantRecipient(db pg.Querier) subscription.RecipientFunc {
	return func(ctx context.Context, tenantID uuid.UUID) (notify.Recipient, error) {
		var to notify.Recipient
		err := db.QueryRow(ctx,
			`SELECT name, contact_email, contact_phone, push_token FROM tenants WHERE id = $1`, tenantID).
			Scan(&to.Name, &to.Email, &to.Phone, &to.PushToken)
		if errors.Is(err, pgx.ErrNoRows) {
			return to, fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		return to, err
	}
}
