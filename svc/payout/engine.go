package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/estatecrm/pkg/logger"
	"github.com/dmitrymomot/estatecrm/pkg/notify"
)

// Engine computes monthly commissions and payouts for agents and channel
// partners. Every write is guarded by a natural key in the store, so running
// the same month twice is safe.
type Engine struct {
	store    Store
	notifier notify.Notifier
	strict   bool
	now      func() time.Time
	log      *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithNotifier sends a message to each payee whose payout was created.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithStrictCommissionRules makes an unparsable free-text rule an error for
// that payee instead of a zero rate.
func WithStrictCommissionRules(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
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

// NewEngine panics when store is nil.
func NewEngine(store Store, opts ...Option) *Engine {
	if store == nil {
		panic("payout: Store is required")
	}
	e := &Engine{
		store:    store,
		notifier: notify.Nop{},
		now:      func() time.Time { return time.Now().UTC() },
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.Component("payout"))
	return e
}

// ProcessPreviousMonth runs ProcessMonthlyPayouts for the month before now.
func (e *Engine) ProcessPreviousMonth(ctx context.Context) (Report, error) {
	p := PeriodOf(e.now()).Previous()
	return e.ProcessMonthlyPayouts(ctx, p.Month, p.Year)
}

// ProcessMonthlyPayouts backfills agent commissions, creates missing agent
// payouts, reconciles every agent payout of the month against the commission
// logs and finally settles channel partners. The phases run in that order.
// A failure for one payee is recorded in the report and does not stop the
// batch; only errors listing the batch itself are returned.
func (e *Engine) ProcessMonthlyPayouts(ctx context.Context, month, year int) (Report, error) {
	p, err := NewPeriod(month, year)
	if err != nil {
		return Report{}, err
	}

	start := e.now()
	rep := Report{Period: p}
	log := e.log.With(logger.Period(p.Month, p.Year))

	if err := e.backfillCommissions(ctx, p, &rep); err != nil {
		return rep, fmt.Errorf("backfill commissions: %w", err)
	}
	if err := e.createAgentPayouts(ctx, p, &rep); err != nil {
		return rep, fmt.Errorf("create agent payouts: %w", err)
	}
	if err := e.reconcileAgentPayouts(ctx, p, &rep); err != nil {
		return rep, fmt.Errorf("reconcile agent payouts: %w", err)
	}
	if err := e.settlePartners(ctx, p, &rep); err != nil {
		return rep, fmt.Errorf("settle partners: %w", err)
	}

	rep.Duration = e.now().Sub(start)
	log.InfoContext(ctx, "monthly payouts processed",
		slog.Int("commissions_logged", rep.CommissionsLogged),
		slog.Int("commissions_excluded", rep.CommissionsExcluded),
		slog.Int("agent_payouts_created", rep.AgentPayoutsCreated),
		slog.Int("agent_payouts_updated", rep.AgentPayoutsUpdated),
		slog.Int("partner_payouts_saved", rep.PartnerPayoutsSaved),
		slog.Int("failed", rep.Failed),
		logger.Duration(rep.Duration),
	)
	return rep, nil
}

func (e *Engine) backfillCommissions(ctx context.Context, p Period, rep *Report) error {
	bookings, err := e.store.BookingsMissingAgentCommission(ctx, p)
	if err != nil {
		return err
	}

	for _, b := range bookings {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.backfillOne(ctx, p, b, rep); err != nil {
			rep.fail("backfill", b.ID, err)
			e.log.ErrorContext(ctx, "commission backfill failed", logger.BookingID(b.ID), logger.Error(err))
		}
	}
	return nil
}

func (e *Engine) backfillOne(ctx context.Context, p Period, b Booking, rep *Report) error {
	agent, err := e.store.ResolveAgentForBooking(ctx, b.ID)
	if errors.Is(err, ErrAgentNotResolved) {
		rep.CommissionsOrphaned++
		e.log.WarnContext(ctx, "booking has no resolvable agent", logger.BookingID(b.ID))
		return nil
	}
	if err != nil {
		return err
	}
	if !agent.Type.EarnsCommission() {
		rep.CommissionsExcluded++
		return nil
	}

	rule, err := e.ruleFor(ctx, agent.Commission, agent.CommissionText, logger.AgentID(agent.ID))
	if err != nil {
		return err
	}

	entry := &CommissionLog{
		ID:         uuid.New(),
		BookingID:  b.ID,
		PayeeKind:  PayeeAgent,
		PayeeID:    agent.ID,
		SaleAmount: b.SaleAmount,
		Amount:     money(rule.Apply(b.SaleAmount)),
		Rule:       rule.String(),
		Month:      p.Month,
		Year:       p.Year,
		CreatedAt:  e.now(),
	}
	switch err := e.store.InsertCommissionLog(ctx, entry); {
	case errors.Is(err, ErrDuplicateCommission):
		e.log.DebugContext(ctx, "commission already logged", logger.BookingID(b.ID))
	case err != nil:
		return err
	default:
		rep.CommissionsLogged++
	}
	return nil
}

// ruleFor returns the structured rule, falling back to the legacy text.
// In tolerant mode an unparsable text is a zero percentage rule.
func (e *Engine) ruleFor(ctx context.Context, rule *CommissionRule, text string, who slog.Attr) (CommissionRule, error) {
	if rule != nil {
		return *rule, rule.Validate()
	}
	parsed, err := ParseCommissionRule(text)
	if err == nil {
		return parsed, nil
	}
	if e.strict {
		return CommissionRule{}, err
	}
	e.log.WarnContext(ctx, "commission rule misconfigured, using 0%", who, slog.String("rule", text), logger.Error(err))
	return Percent(decimal.Zero), nil
}

func (e *Engine) createAgentPayouts(ctx context.Context, p Period, rep *Report) error {
	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return err
	}

	for _, a := range agents {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		created, err := e.createAgentPayout(ctx, p, a)
		switch {
		case err != nil:
			rep.fail("agent_payout", a.ID, err)
			e.log.ErrorContext(ctx, "agent payout failed", logger.AgentID(a.ID), logger.Error(err))
		case created == nil:
			rep.AgentPayoutsExisting++
		default:
			rep.AgentPayoutsCreated++
			e.notifyAgent(ctx, a, created)
		}
	}
	return nil
}

// createAgentPayout returns nil without error when the payout already exists.
func (e *Engine) createAgentPayout(ctx context.Context, p Period, a Agent) (*AgentPayout, error) {
	existing, err := e.store.GetAgentPayout(ctx, a.ID, p)
	if err != nil && !errors.Is(err, ErrPayoutNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	present, err := e.store.PresentDays(ctx, a.ID, p)
	if err != nil {
		return nil, fmt.Errorf("present days: %w", err)
	}
	totals, err := e.store.CommissionTotals(ctx, PayeeAgent, a.ID, p)
	if err != nil {
		return nil, fmt.Errorf("commission totals: %w", err)
	}

	working := WorkingDays(p.Month, p.Year)
	amounts := ComputeAgentPayout(AgentPayoutInput{
		Type:        a.Type,
		BaseSalary:  a.BaseSalary,
		WorkingDays: working,
		PresentDays: present,
		Commission:  totals.Commission,
	})

	now := e.now()
	out := &AgentPayout{
		ID:                  uuid.New(),
		AgentID:             a.ID,
		AgentType:           a.Type,
		Month:               p.Month,
		Year:                p.Year,
		BaseSalary:          money(a.BaseSalary),
		WorkingDays:         working,
		PresentDays:         present,
		AbsentDays:          amounts.AbsentDays,
		AttendanceDeduction: amounts.Deduction,
		TotalCommission:     money(totals.Commission),
		FinalPayout:         amounts.Final,
		Status:              PayoutPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := e.store.InsertAgentPayout(ctx, out); err != nil {
		if errors.Is(err, ErrDuplicatePayout) {
			// Another run got there first.
			return nil, nil
		}
		return nil, err
	}

	e.log.InfoContext(ctx, "agent payout created",
		logger.AgentID(a.ID),
		slog.String("agent_type", string(a.Type)),
		slog.String("final_payout", out.FinalPayout.StringFixed(2)),
	)
	return out, nil
}

// reconcileAgentPayouts re-sums commission logs for every payout of the month
// so logs that arrived after a payout was created are picked up. Paid
// payouts are left alone.
func (e *Engine) reconcileAgentPayouts(ctx context.Context, p Period, rep *Report) error {
	payouts, err := e.store.ListAgentPayouts(ctx, p)
	if err != nil {
		return err
	}

	for i := range payouts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		po := &payouts[i]
		if po.Status == PayoutPaid {
			continue
		}
		changed, err := e.reconcileAgentPayout(ctx, p, po)
		if err != nil {
			rep.fail("reconcile", po.AgentID, err)
			e.log.ErrorContext(ctx, "agent payout reconciliation failed", logger.AgentID(po.AgentID), logger.Error(err))
			continue
		}
		if changed {
			rep.AgentPayoutsUpdated++
		}
	}
	return nil
}

func (e *Engine) reconcileAgentPayout(ctx context.Context, p Period, po *AgentPayout) (bool, error) {
	totals, err := e.store.CommissionTotals(ctx, PayeeAgent, po.AgentID, p)
	if err != nil {
		return false, err
	}

	commission := money(totals.Commission)
	final := finalPayout(po.AgentType, po.BaseSalary, po.AttendanceDeduction, commission)
	if commission.Equal(po.TotalCommission) && final.Equal(po.FinalPayout) {
		return false, nil
	}

	e.log.InfoContext(ctx, "agent payout reconciled",
		logger.AgentID(po.AgentID),
		slog.String("commission_before", po.TotalCommission.StringFixed(2)),
		slog.String("commission_after", commission.StringFixed(2)),
	)
	po.TotalCommission = commission
	po.FinalPayout = final
	po.UpdatedAt = e.now()
	return true, e.store.UpdateAgentPayout(ctx, po)
}

func (e *Engine) settlePartners(ctx context.Context, p Period, rep *Report) error {
	partners, err := e.store.ListPartners(ctx)
	if err != nil {
		return err
	}

	for _, pt := range partners {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.settlePartner(ctx, p, pt, rep); err != nil {
			rep.fail("partner_payout", pt.ID, err)
			e.log.ErrorContext(ctx, "partner payout failed", logger.PartnerID(pt.ID), logger.Error(err))
		}
	}
	return nil
}

func (e *Engine) settlePartner(ctx context.Context, p Period, pt Partner, rep *Report) error {
	bookings, err := e.store.PartnerBookings(ctx, pt.ID, p)
	if err != nil {
		return err
	}
	if len(bookings) == 0 {
		return nil
	}

	rule, err := e.ruleFor(ctx, pt.Commission, pt.CommissionText, logger.PartnerID(pt.ID))
	if err != nil {
		return err
	}

	leads := make(map[uuid.UUID]struct{}, len(bookings))
	for _, b := range bookings {
		leads[b.LeadID] = struct{}{}
		entry := &CommissionLog{
			ID:         uuid.New(),
			BookingID:  b.ID,
			PayeeKind:  PayeePartner,
			PayeeID:    pt.ID,
			SaleAmount: b.SaleAmount,
			Amount:     money(rule.Apply(b.SaleAmount)),
			Rule:       rule.String(),
			Month:      p.Month,
			Year:       p.Year,
			CreatedAt:  e.now(),
		}
		switch err := e.store.InsertCommissionLog(ctx, entry); {
		case errors.Is(err, ErrDuplicateCommission):
		case err != nil:
			return fmt.Errorf("booking %s: %w", b.ID, err)
		default:
			rep.PartnerCommissions++
		}
	}

	totals, err := e.store.CommissionTotals(ctx, PayeePartner, pt.ID, p)
	if err != nil {
		return err
	}

	existing, err := e.store.GetPartnerPayout(ctx, pt.ID, p)
	if err != nil && !errors.Is(err, ErrPayoutNotFound) {
		return err
	}

	now := e.now()
	if existing == nil {
		po := &PartnerPayout{
			ID:              uuid.New(),
			PartnerID:       pt.ID,
			Month:           p.Month,
			Year:            p.Year,
			ConvertedLeads:  len(leads),
			TotalSales:      money(totals.Sales),
			TotalCommission: money(totals.Commission),
			FinalPayout:     money(totals.Commission),
			Status:          PayoutPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		switch err := e.store.InsertPartnerPayout(ctx, po); {
		case errors.Is(err, ErrDuplicatePayout):
			return nil
		case err != nil:
			return err
		}
		rep.PartnerPayoutsSaved++
		e.notifyPartner(ctx, pt, po)
		return nil
	}

	if existing.Status == PayoutPaid {
		return nil
	}
	sales, commission := money(totals.Sales), money(totals.Commission)
	if existing.ConvertedLeads == len(leads) && existing.TotalSales.Equal(sales) && existing.TotalCommission.Equal(commission) {
		return nil
	}
	existing.ConvertedLeads = len(leads)
	existing.TotalSales = sales
	existing.TotalCommission = commission
	existing.FinalPayout = commission
	existing.UpdatedAt = now
	if err := e.store.UpdatePartnerPayout(ctx, existing); err != nil {
		return err
	}
	rep.PartnerPayoutsSaved++
	return nil
}

func (e *Engine) notifyAgent(ctx context.Context, a Agent, po *AgentPayout) {
	e.notifier.Notify(ctx,
		notify.Recipient{Name: a.Name, Email: a.Email, Phone: a.Phone},
		notify.Notification{
			Kind:    "payout.agent",
			Subject: fmt.Sprintf("Your payout for %s", Period{Month: po.Month, Year: po.Year}),
			Body: fmt.Sprintf("Salary %s, deduction %s for %d absent days, commission %s. Total payable: %s.",
				po.BaseSalary.StringFixed(2), po.AttendanceDeduction.StringFixed(2), po.AbsentDays,
				po.TotalCommission.StringFixed(2), po.FinalPayout.StringFixed(2)),
			Data: map[string]string{"payout_id": po.ID.String()},
		})
}

func (e *Engine) notifyPartner(ctx context.Context, pt Partner, po *PartnerPayout) {
	e.notifier.Notify(ctx,
		notify.Recipient{Name: pt.Name, Email: pt.Email, Phone: pt.Phone},
		notify.Notification{
			Kind:    "payout.partner",
			Subject: fmt.Sprintf("Your commission for %s", Period{Month: po.Month, Year: po.Year}),
			Body: fmt.Sprintf("%d converted leads, sales %s. Commission payable: %s.",
				po.ConvertedLeads, po.TotalSales.StringFixed(2), po.FinalPayout.StringFixed(2)),
			Data: map[string]string{"payout_id": po.ID.String()},
		})
}
