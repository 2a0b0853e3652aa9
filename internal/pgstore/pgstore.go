// Package pgstore implements the engine Store interfaces on PostgreSQL.
//
// Natural keys (one active subscription per tenant, one payout per payee and
// month, one commission log per booking and payee kind, unique event ids)
// are enforced by constraints declared in the embedded migrations, and
// violations are mapped back to the engines' sentinel errors.
package pgstore

import (
	"embed"
	"errors"

	"github.com/dmitrymomot/estatecrm/pkg/pg"
)

// Migrations holds the goose migrations under "migrations/".
//
//go:embed migrations/*.sql
var Migrations embed.FS

// DB is what the stores need from a pool. *pgxpool.Pool satisfies it.
type DB interface {
	pg.Querier
	pg.TxBeginner
}

// Constraint names referenced when mapping unique violations.
const (
	constraintOneActive       = "subscriptions_one_active_per_tenant"
	constraintTxnEventID      = "subscription_transactions_event_id_key"
	constraintCommissionPayee = "commission_logs_booking_payee_key"
	constraintAgentPayout     = "agent_payouts_agent_period_key"
	constraintPartnerPayout   = "partner_payouts_partner_period_key"
	constraintWebhookEventID  = "webhook_queue_event_id_key"
)

// mapUnique replaces a unique violation of constraint with target, keeping
// the driver error for logs. Other errors pass through.
func mapUnique(err error, constraint string, target error) error {
	if err == nil || !pg.IsDuplicateKeyError(err) {
		return err
	}
	if constraint != "" && pg.ConstraintName(err) != constraint {
		return err
	}
	return errors.Join(target, err)
}

// nullable turns an empty string into SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
