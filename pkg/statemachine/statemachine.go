// Package statemachine validates status changes of persisted entities.
//
// Entities in this module keep their status in the store, not in memory, so
// a Table is stateless: it answers "given this status and this event, what is
// the next status" and lets guards veto the move.
package statemachine

import (
	"context"
	"sync"
)

// Guard decides whether a transition may proceed for the given payload.
type Guard[S ~string, E ~string] func(ctx context.Context, from S, event E, data any) bool

type transition[S ~string, E ~string] struct {
	to     S
	guards []Guard[S, E]
}

// Table holds transitions keyed by [from][event]. Several transitions may
// share a from/event pair, the first whose guards all pass wins.
type Table[S ~string, E ~string] struct {
	mu          sync.RWMutex
	transitions map[S]map[E][]transition[S, E]
}

func New[S ~string, E ~string]() *Table[S, E] {
	return &Table[S, E]{transitions: make(map[S]map[E][]transition[S, E])}
}

// Add registers from --event--> to. Returns the table for chaining.
func (t *Table[S, E]) Add(from S, event E, to S, guards ...Guard[S, E]) *Table[S, E] {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.transitions[from]; !ok {
		t.transitions[from] = make(map[E][]transition[S, E])
	}
	t.transitions[from][event] = append(t.transitions[from][event], transition[S, E]{to: to, guards: guards})
	return t
}

// Next returns the target status or an *ErrNoTransitionAvailable /
// *ErrTransitionRejected describing why the move is not allowed.
func (t *Table[S, E]) Next(ctx context.Context, from S, event E, data any) (S, error) {
	t.mu.RLock()
	candidates := t.transitions[from][event]
	t.mu.RUnlock()

	if len(candidates) == 0 {
		return from, NewErrNoTransitionAvailable(string(from), string(event))
	}

	for _, tr := range candidates {
		if passes(ctx, tr.guards, from, event, data) {
			return tr.to, nil
		}
	}
	return from, NewErrTransitionRejected(string(from), string(event))
}

// Can reports whether Next would succeed.
func (t *Table[S, E]) Can(ctx context.Context, from S, event E, data any) bool {
	_, err := t.Next(ctx, from, event, data)
	return err == nil
}

func passes[S ~string, E ~string](ctx context.Context, guards []Guard[S, E], from S, event E, data any) bool {
	for _, g := range guards {
		if g != nil && !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
