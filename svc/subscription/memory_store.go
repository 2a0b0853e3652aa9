package subscription

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	subs  map[uuid.UUID]Subscription
	txns  []Transaction
	evts  map[string]struct{}
	plans map[string]Plan
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(plans ...Plan) *MemoryStore {
	m := &MemoryStore{
		subs:  make(map[uuid.UUID]Subscription),
		evts:  make(map[string]struct{}),
		plans: make(map[string]Plan, len(plans)),
	}
	for _, p := range plans {
		m.plans[p.ID] = p
	}
	return m
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &s, nil
}

func (m *MemoryStore) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Subscription
	for _, s := range m.subs {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Subscription) int { return a.StartDate.Compare(b.StartDate) })
	return out, nil
}

func (m *MemoryStore) FindCurrent(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]Subscription, error) {
	all, _ := m.ListByTenant(ctx, tenantID)
	out := slices.DeleteFunc(all, func(s Subscription) bool { return !s.Current(now) })
	slices.SortFunc(out, func(a, b Subscription) int { return a.EndDate.Compare(b.EndDate) })
	return out, nil
}

func (m *MemoryStore) TenantsWithDueTransitions(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, s := range m.subs {
		due := (s.Status == StatusActive && !s.EndDate.After(now)) ||
			(s.Status == StatusScheduled && !s.StartDate.After(now))
		if _, ok := seen[s.TenantID]; due && !ok {
			seen[s.TenantID] = struct{}{}
			out = append(out, s.TenantID)
		}
	}
	return out, nil
}

func (m *MemoryStore) HasReversal(_ context.Context, subscriptionID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.txns {
		if t.SubscriptionID == subscriptionID && t.Type.Reverses() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ApplyTransitions(_ context.Context, ts []Transition) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	applied := 0
	for _, t := range ts {
		s, ok := m.subs[t.SubscriptionID]
		if !ok || s.Status != t.From {
			continue
		}
		s.Status = t.To
		s.UpdatedAt = t.At
		m.subs[s.ID] = s
		applied++
	}
	return applied, nil
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.addTxnLocked(txn); err != nil {
		return err
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *MemoryStore) Update(_ context.Context, sub *Subscription, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	if err := m.addTxnLocked(txn); err != nil {
		return err
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *MemoryStore) RecordTransaction(_ context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addTxnLocked(txn)
}

func (m *MemoryStore) addTxnLocked(txn *Transaction) error {
	if txn == nil {
		return nil
	}
	if txn.EventID != "" {
		if _, dup := m.evts[txn.EventID]; dup {
			return ErrEventAlreadyProcessed
		}
		m.evts[txn.EventID] = struct{}{}
	}
	m.txns = append(m.txns, *txn)
	return nil
}

// Transactions returns a copy of every recorded transaction.
func (m *MemoryStore) Transactions() []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.txns)
}

func (m *MemoryStore) GetPlan(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return &p, nil
}

func (m *MemoryStore) UpsertPlan(_ context.Context, p Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = p
	return nil
}
