package webhookqueue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and single-process runs.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[uuid.UUID]*Item
	events map[string]uuid.UUID
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[uuid.UUID]*Item),
		events: make(map[string]uuid.UUID),
	}
}

func (m *MemoryStore) Insert(_ context.Context, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[item.EventID]; ok {
		return ErrDuplicateEvent
	}
	cp := *item
	m.items[item.ID] = &cp
	m.events[item.EventID] = item.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (m *MemoryStore) ClaimDue(_ context.Context, owner uuid.UUID, now time.Time, lease time.Duration, limit int) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*Item
	for _, it := range m.items {
		if it.Due(now) {
			due = append(due, it)
		}
	}
	slices.SortFunc(due, func(a, b *Item) int { return nextRetry(a).Compare(nextRetry(b)) })
	if len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	out := make([]Item, 0, len(due))
	for _, it := range due {
		it.Status = StatusProcessing
		it.RetryCount++
		it.LockedBy = &owner
		it.LockedUntil = &until
		it.UpdatedAt = now
		out = append(out, *it)
	}
	return out, nil
}

func nextRetry(it *Item) time.Time {
	if it.NextRetryAt == nil {
		return it.CreatedAt
	}
	return *it.NextRetryAt
}

func (m *MemoryStore) Finish(_ context.Context, id, owner uuid.UUID, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return ErrItemNotFound
	}
	if it.Status != StatusProcessing || it.LockedBy == nil || *it.LockedBy != owner {
		return ErrLeaseLost
	}
	it.Status = o.Status
	it.NextRetryAt = o.NextRetryAt
	it.LastError = o.LastError
	it.LastStatusCode = o.LastStatusCode
	it.LockedBy = nil
	it.LockedUntil = nil
	it.UpdatedAt = o.At
	return nil
}

func (m *MemoryStore) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, it := range m.items {
		if it.Status != StatusProcessing || it.LockedUntil == nil || it.LockedUntil.After(now) {
			continue
		}
		to, err := transitions.Next(ctx, it.Status, evRelease, it)
		if err != nil {
			return n, err
		}
		it.Status = to
		it.LockedBy = nil
		it.LockedUntil = nil
		it.NextRetryAt = nil
		if to == StatusPending {
			next := now
			it.NextRetryAt = &next
		}
		it.UpdatedAt = now
		n++
	}
	return n, nil
}

func (m *MemoryStore) Requeue(_ context.Context, id uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return ErrItemNotFound
	}
	if it.Status != StatusFailed {
		return ErrNotRequeueable
	}
	it.Status = StatusPending
	it.RetryCount = 0
	it.NextRetryAt = &now
	it.UpdatedAt = now
	return nil
}

func (m *MemoryStore) PurgeSucceeded(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, it := range m.items {
		if it.Status == StatusSuccess && it.UpdatedAt.Before(cutoff) {
			delete(m.items, id)
			delete(m.events, it.EventID)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	for _, it := range m.items {
		switch it.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusSuccess:
			s.Success++
		case StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}
