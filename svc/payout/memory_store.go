package payout

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type commissionKey struct {
	booking uuid.UUID
	kind    PayeeKind
}

type periodKey struct {
	id     uuid.UUID
	period Period
}

// MemoryStore is an in-process Store. The lead to agent chain is collapsed
// to the executive email recorded with each booking.
type MemoryStore struct {
	mu sync.RWMutex

	agents     map[uuid.UUID]Agent
	partners   map[uuid.UUID]Partner
	bookings   map[uuid.UUID]Booking
	executive  map[uuid.UUID]string    // booking -> executive email
	partnerOf  map[uuid.UUID]uuid.UUID // booking -> partner
	attendance map[uuid.UUID]map[time.Time]bool
	logs       map[commissionKey]CommissionLog
	agentPay   map[periodKey]AgentPayout
	partnerPay map[periodKey]PartnerPayout
	failAgents map[uuid.UUID]error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:     make(map[uuid.UUID]Agent),
		partners:   make(map[uuid.UUID]Partner),
		bookings:   make(map[uuid.UUID]Booking),
		executive:  make(map[uuid.UUID]string),
		partnerOf:  make(map[uuid.UUID]uuid.UUID),
		attendance: make(map[uuid.UUID]map[time.Time]bool),
		logs:       make(map[commissionKey]CommissionLog),
		agentPay:   make(map[periodKey]AgentPayout),
		partnerPay: make(map[periodKey]PartnerPayout),
		failAgents: make(map[uuid.UUID]error),
	}
}

func (m *MemoryStore) AddAgent(a Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
}

func (m *MemoryStore) AddPartner(p Partner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partners[p.ID] = p
}

// AddBooking records a booking handled by the executive with the given email
// and, when partnerID is not nil, brought in by that partner.
func (m *MemoryStore) AddBooking(b Booking, executiveEmail string, partnerID *uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
	if executiveEmail != "" {
		m.executive[b.ID] = strings.ToLower(executiveEmail)
	}
	if partnerID != nil {
		m.partnerOf[b.ID] = *partnerID
	}
}

// MarkPresent records present attendance for the agent on each day.
func (m *MemoryStore) MarkPresent(agentID uuid.UUID, days ...time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attendance[agentID] == nil {
		m.attendance[agentID] = make(map[time.Time]bool)
	}
	for _, d := range days {
		m.attendance[agentID][d.UTC().Truncate(24*time.Hour)] = true
	}
}

// FailAgent makes every per-agent read for id return err.
func (m *MemoryStore) FailAgent(id uuid.UUID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAgents[id] = err
}

// CommissionLogs returns all logs, oldest first.
func (m *MemoryStore) CommissionLogs() []CommissionLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CommissionLog, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b CommissionLog) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func inPeriod(t time.Time, p Period) bool {
	return !t.Before(p.Start()) && t.Before(p.End())
}

func (m *MemoryStore) BookingsMissingAgentCommission(_ context.Context, p Period) ([]Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Booking
	for _, b := range m.bookings {
		if b.Status != BookingConfirmed || !inPeriod(b.BookedAt, p) {
			continue
		}
		if _, ok := m.logs[commissionKey{b.ID, PayeeAgent}]; ok {
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b Booking) int { return a.BookedAt.Compare(b.BookedAt) })
	return out, nil
}

func (m *MemoryStore) ResolveAgentForBooking(_ context.Context, bookingID uuid.UUID) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	email, ok := m.executive[bookingID]
	if !ok {
		return nil, ErrAgentNotResolved
	}
	for _, a := range m.agents {
		if strings.EqualFold(a.Email, email) {
			return &a, nil
		}
	}
	return nil, ErrAgentNotResolved
}

func (m *MemoryStore) InsertCommissionLog(_ context.Context, l *CommissionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := commissionKey{l.BookingID, l.PayeeKind}
	if _, ok := m.logs[key]; ok {
		return ErrDuplicateCommission
	}
	m.logs[key] = *l
	return nil
}

func (m *MemoryStore) CommissionTotals(_ context.Context, kind PayeeKind, payeeID uuid.UUID, p Period) (CommissionTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failAgents[payeeID]; err != nil && kind == PayeeAgent {
		return CommissionTotals{}, err
	}
	t := CommissionTotals{Sales: decimal.Zero, Commission: decimal.Zero}
	for _, l := range m.logs {
		if l.PayeeKind != kind || l.PayeeID != payeeID || l.Month != p.Month || l.Year != p.Year {
			continue
		}
		t.Count++
		t.Sales = t.Sales.Add(l.SaleAmount)
		t.Commission = t.Commission.Add(l.Amount)
	}
	return t, nil
}

func (m *MemoryStore) ListAgents(context.Context) ([]Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Agent) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *MemoryStore) PresentDays(_ context.Context, agentID uuid.UUID, p Period) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failAgents[agentID]; err != nil {
		return 0, err
	}
	n := 0
	for day, present := range m.attendance[agentID] {
		if present && inPeriod(day, p) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetAgentPayout(_ context.Context, agentID uuid.UUID, p Period) (*AgentPayout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	po, ok := m.agentPay[periodKey{agentID, p}]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	return &po, nil
}

func (m *MemoryStore) ListAgentPayouts(_ context.Context, p Period) ([]AgentPayout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []AgentPayout
	for k, po := range m.agentPay {
		if k.period == p {
			out = append(out, po)
		}
	}
	slices.SortFunc(out, func(a, b AgentPayout) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (m *MemoryStore) InsertAgentPayout(_ context.Context, po *AgentPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := periodKey{po.AgentID, Period{po.Month, po.Year}}
	if _, ok := m.agentPay[key]; ok {
		return ErrDuplicatePayout
	}
	m.agentPay[key] = *po
	return nil
}

func (m *MemoryStore) UpdateAgentPayout(_ context.Context, po *AgentPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := periodKey{po.AgentID, Period{po.Month, po.Year}}
	if _, ok := m.agentPay[key]; !ok {
		return ErrPayoutNotFound
	}
	m.agentPay[key] = *po
	return nil
}

func (m *MemoryStore) ListPartners(context.Context) ([]Partner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Partner, 0, len(m.partners))
	for _, p := range m.partners {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Partner) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *MemoryStore) PartnerBookings(_ context.Context, partnerID uuid.UUID, p Period) ([]Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Booking
	for id, pid := range m.partnerOf {
		b := m.bookings[id]
		if pid == partnerID && b.Status == BookingConfirmed && inPeriod(b.BookedAt, p) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b Booking) int { return a.BookedAt.Compare(b.BookedAt) })
	return out, nil
}

func (m *MemoryStore) GetPartnerPayout(_ context.Context, partnerID uuid.UUID, p Period) (*PartnerPayout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	po, ok := m.partnerPay[periodKey{partnerID, p}]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	return &po, nil
}

func (m *MemoryStore) InsertPartnerPayout(_ context.Context, po *PartnerPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := periodKey{po.PartnerID, Period{po.Month, po.Year}}
	if _, ok := m.partnerPay[key]; ok {
		return ErrDuplicatePayout
	}
	m.partnerPay[key] = *po
	return nil
}

func (m *MemoryStore) UpdatePartnerPayout(_ context.Context, po *PartnerPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := periodKey{po.PartnerID, Period{po.Month, po.Year}}
	if _, ok := m.partnerPay[key]; !ok {
		return ErrPayoutNotFound
	}
	m.partnerPay[key] = *po
	return nil
}
