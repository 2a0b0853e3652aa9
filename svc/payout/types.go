package payout

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AgentType decides how an agent is paid.
type AgentType string

const (
	AgentSalary     AgentType = "salary"
	AgentHybrid     AgentType = "hybrid"
	AgentCommission AgentType = "commission"
)

// ParseAgentType maps stored values. Unknown values are reported with
// ok=false and should be paid as salary.
func ParseAgentType(s string) (AgentType, bool) {
	switch t := AgentType(strings.ToLower(strings.TrimSpace(s))); t {
	case AgentSalary, AgentHybrid, AgentCommission:
		return t, true
	case "commission-only", "commission_only":
		return AgentCommission, true
	default:
		return AgentSalary, false
	}
}

// EarnsCommission reports whether bookings are attributed to this agent type.
func (t AgentType) EarnsCommission() bool {
	return t == AgentHybrid || t == AgentCommission
}

// PayeeKind separates agent and partner commission logs.
type PayeeKind string

const (
	PayeeAgent   PayeeKind = "agent"
	PayeePartner PayeeKind = "partner"
)

// PayoutStatus tracks a payout row after computation.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutPaid    PayoutStatus = "paid"
)

// ParsePayoutStatus maps a stored status, ignoring case and surrounding space.
func ParsePayoutStatus(s string) (PayoutStatus, error) {
	switch st := PayoutStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case PayoutPending, PayoutPaid:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPayoutStatus, s)
	}
}

// Agent is an employee or freelancer eligible for a payout.
type Agent struct {
	ID         uuid.UUID
	Name       string
	Email      string
	Phone      string
	Type       AgentType
	BaseSalary decimal.Decimal
	// Commission is the structured rule. When nil, CommissionText is parsed.
	Commission     *CommissionRule
	CommissionText string
}

// Partner is a channel partner paid on converted leads.
type Partner struct {
	ID             uuid.UUID
	Name           string
	Email          string
	Phone          string
	Commission     *CommissionRule
	CommissionText string
}

// BookingConfirmed is the only booking status that earns commission.
const BookingConfirmed = "confirmed"

// Booking is a property sale.
type Booking struct {
	ID         uuid.UUID
	LeadID     uuid.UUID
	SaleAmount decimal.Decimal
	Status     string
	BookedAt   time.Time
}

// CommissionLog attributes one booking to one payee. Immutable once written.
type CommissionLog struct {
	ID         uuid.UUID
	BookingID  uuid.UUID
	PayeeKind  PayeeKind
	PayeeID    uuid.UUID
	SaleAmount decimal.Decimal
	Amount     decimal.Decimal
	Rule       string
	Month      int
	Year       int
	CreatedAt  time.Time
}

// CommissionTotals aggregates a payee's logs for a month.
type CommissionTotals struct {
	Count      int
	Sales      decimal.Decimal
	Commission decimal.Decimal
}

// AgentPayout keeps every component of the computation for auditing.
type AgentPayout struct {
	ID                  uuid.UUID
	AgentID             uuid.UUID
	AgentType           AgentType
	Month               int
	Year                int
	BaseSalary          decimal.Decimal
	WorkingDays         int
	PresentDays         int
	AbsentDays          int
	AttendanceDeduction decimal.Decimal
	TotalCommission     decimal.Decimal
	FinalPayout         decimal.Decimal
	Status              PayoutStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PartnerPayout is a channel partner's monthly payout.
type PartnerPayout struct {
	ID              uuid.UUID
	PartnerID       uuid.UUID
	Month           int
	Year            int
	ConvertedLeads  int
	TotalSales      decimal.Decimal
	TotalCommission decimal.Decimal
	FinalPayout     decimal.Decimal
	Status          PayoutStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Period is a calendar month.
type Period struct {
	Month int
	Year  int
}

func NewPeriod(month, year int) (Period, error) {
	if month < 1 || month > 12 || year < 2000 || year > 9999 {
		return Period{}, fmt.Errorf("%w: %d/%d", ErrInvalidPeriod, month, year)
	}
	return Period{Month: month, Year: year}, nil
}

// PeriodOf returns the month containing t.
func PeriodOf(t time.Time) Period {
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// Start is midnight UTC on the first day of the month.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End is the exclusive upper bound of the month.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// Previous is the month before p.
func (p Period) Previous() Period {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// PayeeFailure describes a payee skipped during a run.
type PayeeFailure struct {
	Phase   string    `json:"phase"`
	PayeeID uuid.UUID `json:"payee_id"`
	Error   string    `json:"error"`
}

// Report summarises a payout run.
type Report struct {
	Period               Period         `json:"period"`
	CommissionsLogged    int            `json:"commissions_logged"`
	CommissionsExcluded  int            `json:"commissions_excluded"`
	CommissionsOrphaned  int            `json:"commissions_orphaned"`
	AgentPayoutsCreated  int            `json:"agent_payouts_created"`
	AgentPayoutsExisting int            `json:"agent_payouts_existing"`
	AgentPayoutsUpdated  int            `json:"agent_payouts_updated"`
	PartnerCommissions   int            `json:"partner_commissions"`
	PartnerPayoutsSaved  int            `json:"partner_payouts_saved"`
	Failed               int            `json:"failed"`
	Failures             []PayeeFailure `json:"failures,omitempty"`
	Duration             time.Duration  `json:"duration"`
}

func (r *Report) fail(phase string, payee uuid.UUID, err error) {
	r.Failed++
	r.Failures = append(r.Failures, PayeeFailure{Phase: phase, PayeeID: payee, Error: err.Error()})
}
