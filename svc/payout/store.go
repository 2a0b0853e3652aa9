package payout

import (
	"context"

	"github.com/google/uuid"
)

// Store is what the payout engine reads and writes. Natural keys are
// enforced by the store: inserting a second commission log for the same
// booking and payee kind returns ErrDuplicateCommission, a second payout for
// the same payee and period returns ErrDuplicatePayout.
type Store interface {
	// BookingsMissingAgentCommission lists confirmed bookings in the period
	// without an agent commission log.
	BookingsMissingAgentCommission(ctx context.Context, p Period) ([]Booking, error)

	// ResolveAgentForBooking follows lead, executive and user to the agent
	// with the same email. ErrAgentNotResolved when the chain breaks.
	ResolveAgentForBooking(ctx context.Context, bookingID uuid.UUID) (*Agent, error)

	InsertCommissionLog(ctx context.Context, log *CommissionLog) error
	CommissionTotals(ctx context.Context, kind PayeeKind, payeeID uuid.UUID, p Period) (CommissionTotals, error)

	ListAgents(ctx context.Context) ([]Agent, error)
	// PresentDays counts attendance rows with status present in the period.
	PresentDays(ctx context.Context, agentID uuid.UUID, p Period) (int, error)

	GetAgentPayout(ctx context.Context, agentID uuid.UUID, p Period) (*AgentPayout, error)
	ListAgentPayouts(ctx context.Context, p Period) ([]AgentPayout, error)
	InsertAgentPayout(ctx context.Context, payout *AgentPayout) error
	UpdateAgentPayout(ctx context.Context, payout *AgentPayout) error

	ListPartners(ctx context.Context) ([]Partner, error)
	// PartnerBookings lists confirmed bookings in the period for leads the
	// partner brought in.
	PartnerBookings(ctx context.Context, partnerID uuid.UUID, p Period) ([]Booking, error)

	GetPartnerPayout(ctx context.Context, partnerID uuid.UUID, p Period) (*PartnerPayout, error)
	InsertPartnerPayout(ctx context.Context, payout *PartnerPayout) error
	UpdatePartnerPayout(ctx context.Context, payout *PartnerPayout) error
}
