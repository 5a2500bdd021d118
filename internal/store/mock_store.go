// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu  sync.RWMutex
	ops []*Operation

	// FailWrites makes RecordOperation return an error.
	FailWrites bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// RecordOperation stores a copy of op.
func (m *MockStore) RecordOperation(ctx context.Context, op *Operation) error {
	if m.FailWrites {
		return errors.New("mock store: write failed")
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *op
	m.ops = append(m.ops, &cp)
	return nil
}

// ListOperations returns the newest entries for an agent, newest first.
func (m *MockStore) ListOperations(ctx context.Context, agentID string, limit int) ([]*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Operation
	for i := len(m.ops) - 1; i >= 0; i-- {
		if m.ops[i].AgentID == agentID {
			cp := *m.ops[i]
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// CountByOutcome returns the number of entries per outcome.
func (m *MockStore) CountByOutcome(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, op := range m.ops {
		counts[op.Outcome]++
	}
	return counts, nil
}

// Operations returns every recorded entry in insertion order.
func (m *MockStore) Operations() []*Operation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Operation, len(m.ops))
	copy(out, m.ops)
	return out
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var _ Store = (*MockStore)(nil)
var _ Store = (*SQLiteStore)(nil)
