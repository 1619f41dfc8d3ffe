package store

import (
	"context"
	"sync"
)

// Memory is a Backend keeping the collection in process memory.
type Memory[T Row[T]] struct {
	mu   sync.Mutex
	rows []T
}

// NewMemory returns a memory backend seeded with copies of rows.
func NewMemory[T Row[T]](rows ...T) *Memory[T] {
	return &Memory[T]{rows: cloneAll(rows)}
}

// Load implements Backend.
func (m *Memory[T]) Load(_ context.Context) ([]T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAll(m.rows), nil
}

// Save implements Backend.
func (m *Memory[T]) Save(_ context.Context, rows []T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = cloneAll(rows)
	return nil
}

func cloneAll[T Row[T]](rows []T) []T {
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
