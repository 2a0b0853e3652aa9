package pgstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/estatecrm/pkg/pg"
	"github.com/dmitrymomot/estatecrm/svc/payout"
)

// PayoutStore implements payout.Store.
type PayoutStore struct {
	db DB
}

var _ payout.Store = (*PayoutStore)(nil)

func NewPayoutStore(db DB) *PayoutStore {
	return &PayoutStore{db: db}
}

const bookingColumns = `b.id, b.lead_id, b.sale_amount, lower(b.status), b.booked_at`

func scanBooking(row pgx.CollectableRow) (payout.Booking, error) {
	var b payout.Booking
	err := row.Scan(&b.ID, &b.LeadID, &b.SaleAmount, &b.Status, &b.BookedAt)
	return b, err
}

func (s *PayoutStore) BookingsMissingAgentCommission(ctx context.Context, p payout.Period) ([]payout.Booking, error) {
	rows, err := s.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings b
		WHERE lower(b.status) = 'confirmed'
		  AND b.booked_at >= $1 AND b.booked_at < $2
		  AND NOT EXISTS (
			SELECT 1 FROM commission_logs c WHERE c.booking_id = b.id AND c.payee_kind = 'agent')
		ORDER BY b.booked_at`, p.Start(), p.End())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanBooking)
}

// commission reads the structured rule columns, nil when unset.
func commission(kind *string, value decimal.NullDecimal) *payout.CommissionRule {
	if kind == nil || !value.Valid {
		return nil
	}
	return &payout.CommissionRule{Kind: payout.CommissionKind(*kind), Value: value.Decimal}
}

const agentColumns = `a.id, a.name, a.email, a.phone, a.agent_type, a.base_salary,
	a.commission_kind, a.commission_value, a.commission_text`

func scanAgent(row pgx.CollectableRow) (payout.Agent, error) {
	var (
		a        payout.Agent
		typ      string
		kind     *string
		rawValue decimal.NullDecimal
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Phone, &typ, &a.BaseSalary, &kind, &rawValue, &a.CommissionText); err != nil {
		return a, err
	}
	// unknown agent types are paid as salary
	a.Type, _ = payout.ParseAgentType(typ)
	a.Commission = commission(kind, rawValue)
	return a, nil
}

func (s *PayoutStore) ResolveAgentForBooking(ctx context.Context, bookingID uuid.UUID) (*payout.Agent, error) {
	rows, err := s.db.Query(ctx, `SELECT `+agentColumns+`
		FROM bookings b
		JOIN leads l ON l.id = b.lead_id
		JOIN executives e ON e.id = l.assigned_executive_id
		JOIN users u ON u.id = e.user_id
		JOIN agents a ON lower(a.email) = lower(u.email)
		WHERE b.id = $1
		ORDER BY a.active DESC, a.created_at
		LIMIT 1`, bookingID)
	if err != nil {
		return nil, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAgent)
	if pg.IsNotFoundError(err) {
		return nil, payout.ErrAgentNotResolved
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PayoutStore) InsertCommissionLog(ctx context.Context, l *payout.CommissionLog) error {
	_, err := s.db.Exec(ctx, `INSERT INTO commission_logs
		(id, booking_id, payee_kind, payee_id, sale_amount, amount, rule, month, year, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.BookingID, string(l.PayeeKind), l.PayeeID, l.SaleAmount, l.Amount, l.Rule, l.Month, l.Year, l.CreatedAt)
	return mapUnique(err, constraintCommissionPayee, payout.ErrDuplicateCommission)
}

func (s *PayoutStore) CommissionTotals(ctx context.Context, kind payout.PayeeKind, payeeID uuid.UUID, p payout.Period) (payout.CommissionTotals, error) {
	var t payout.CommissionTotals
	err := s.db.QueryRow(ctx, `SELECT count(*), COALESCE(sum(sale_amount), 0), COALESCE(sum(amount), 0)
		FROM commission_logs
		WHERE payee_kind = $1 AND payee_id = $2 AND month = $3 AND year = $4`,
		string(kind), payeeID, p.Month, p.Year).Scan(&t.Count, &t.Sales, &t.Commission)
	return t, err
}

func (s *PayoutStore) ListAgents(ctx context.Context) ([]payout.Agent, error) {
	rows, err := s.db.Query(ctx, `SELECT `+agentColumns+` FROM agents a WHERE a.active ORDER BY a.name, a.id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAgent)
}

func (s *PayoutStore) PresentDays(ctx context.Context, agentID uuid.UUID, p payout.Period) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM attendance
		WHERE agent_id = $1 AND day >= $2 AND day < $3 AND lower(status) = 'present'`,
		agentID, p.Start(), p.End()).Scan(&n)
	return n, err
}

const agentPayoutColumns = `id, agent_id, agent_type, month, year, base_salary, working_days, present_days, absent_days,
	attendance_deduction, total_commission, final_payout, status, created_at, updated_at`

func scanAgentPayout(row pgx.CollectableRow) (payout.AgentPayout, error) {
	var (
		po          payout.AgentPayout
		typ, status string
	)
	err := row.Scan(&po.ID, &po.AgentID, &typ, &po.Month, &po.Year, &po.BaseSalary, &po.WorkingDays, &po.PresentDays,
		&po.AbsentDays, &po.AttendanceDeduction, &po.TotalCommission, &po.FinalPayout, &status, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return po, err
	}
	po.AgentType, _ = payout.ParseAgentType(typ)
	po.Status, err = payout.ParsePayoutStatus(status)
	return po, err
}

func (s *PayoutStore) GetAgentPayout(ctx context.Context, agentID uuid.UUID, p payout.Period) (*payout.AgentPayout, error) {
	rows, err := s.db.Query(ctx, `SELECT `+agentPayoutColumns+` FROM agent_payouts
		WHERE agent_id = $1 AND month = $2 AND year = $3`, agentID, p.Month, p.Year)
	if err != nil {
		return nil, err
	}
	po, err := pgx.CollectExactlyOneRow(rows, scanAgentPayout)
	if pg.IsNotFoundError(err) {
		return nil, payout.ErrPayoutNotFound
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *PayoutStore) ListAgentPayouts(ctx context.Context, p payout.Period) ([]payout.AgentPayout, error) {
	rows, err := s.db.Query(ctx, `SELECT `+agentPayoutColumns+` FROM agent_payouts
		WHERE month = $1 AND year = $2 ORDER BY created_at`, p.Month, p.Year)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAgentPayout)
}

func (s *PayoutStore) InsertAgentPayout(ctx context.Context, po *payout.AgentPayout) error {
	_, err := s.db.Exec(ctx, `INSERT INTO agent_payouts (`+agentPayoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		po.ID, po.AgentID, string(po.AgentType), po.Month, po.Year, po.BaseSalary, po.WorkingDays, po.PresentDays,
		po.AbsentDays, po.AttendanceDeduction, po.TotalCommission, po.FinalPayout, string(po.Status), po.CreatedAt, po.UpdatedAt)
	return mapUnique(err, constraintAgentPayout, payout.ErrDuplicatePayout)
}

func (s *PayoutStore) UpdateAgentPayout(ctx context.Context, po *payout.AgentPayout) error {
	tag, err := s.db.Exec(ctx, `UPDATE agent_payouts SET
		total_commission = $2, final_payout = $3, status = $4, updated_at = $5
		WHERE id = $1`, po.ID, po.TotalCommission, po.FinalPayout, string(po.Status), po.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return payout.ErrPayoutNotFound
	}
	return nil
}

func (s *PayoutStore) ListPartners(ctx context.Context) ([]payout.Partner, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, email, phone, commission_kind, commission_value, commission_text
		FROM channel_partners ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (payout.Partner, error) {
		var (
			p     payout.Partner
			kind  *string
			value decimal.NullDecimal
		)
		err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &kind, &value, &p.CommissionText)
		p.Commission = commission(kind, value)
		return p, err
	})
}

func (s *PayoutStore) PartnerBookings(ctx context.Context, partnerID uuid.UUID, p payout.Period) ([]payout.Booking, error) {
	rows, err := s.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings b
		JOIN partner_leads pl ON pl.lead_id = b.lead_id
		WHERE pl.partner_id = $1
		  AND lower(b.status) = 'confirmed'
		  AND b.booked_at >= $2 AND b.booked_at < $3
		ORDER BY b.booked_at`, partnerID, p.Start(), p.End())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanBooking)
}

const partnerPayoutColumns = `id, partner_id, month, year, converted_leads, total_sales, total_commission,
	final_payout, status, created_at, updated_at`

func (s *PayoutStore) GetPartnerPayout(ctx context.Context, partnerID uuid.UUID, p payout.Period) (*payout.PartnerPayout, error) {
	var (
		po     payout.PartnerPayout
		status string
	)
	err := s.db.QueryRow(ctx, `SELECT `+partnerPayoutColumns+` FROM partner_payouts
		WHERE partner_id = $1 AND month = $2 AND year = $3`, partnerID, p.Month, p.Year).
		Scan(&po.ID, &po.PartnerID, &po.Month, &po.Year, &po.ConvertedLeads, &po.TotalSales, &po.TotalCommission,
			&po.FinalPayout, &status, &po.CreatedAt, &po.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, payout.ErrPayoutNotFound
	}
	if err != nil {
		return nil, err
	}
	if po.Status, err = payout.ParsePayoutStatus(status); err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *PayoutStore) InsertPartnerPayout(ctx context.Context, po *payout.PartnerPayout) error {
	_, err := s.db.Exec(ctx, `INSERT INTO partner_payouts (`+partnerPayoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		po.ID, po.PartnerID, po.Month, po.Year, po.ConvertedLeads, po.TotalSales, po.TotalCommission,
		po.FinalPayout, string(po.Status), po.CreatedAt, po.UpdatedAt)
	return mapUnique(err, constraintPartnerPayout, payout.ErrDuplicatePayout)
}

func (s *PayoutStore) UpdatePartnerPayout(ctx context.Context, po *payout.PartnerPayout) error {
	tag, err := s.db.Exec(ctx, `UPDATE partner_payouts SET
		converted_leads = $2, total_sales = $3, total_commission = $4, final_payout = $5, status = $6, updated_at = $7
		WHERE id = $1`,
		po.ID, po.ConvertedLeads, po.TotalSales, po.TotalCommission, po.FinalPayout, string(po.Status), po.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return payout.ErrPayoutNotFound
	}
	return nil
}
