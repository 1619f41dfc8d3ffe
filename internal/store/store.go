package store

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"slices"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// Row is implemented by the record types kept in a Store.
//
// T is expected to be a pointer type. Clone must return a copy that shares no
// mutable state with the receiver.
type Row[T any] interface {
	Clone() T
	GetID() int64
	SetID(id int64)
}

// Backend persists a whole collection.
//
// Load returns the records in creation order. Save replaces the persisted
// collection with rows. Implementations must not retain rows after Save
// returns; the store keeps mutating its own copies.
type Backend[T any] interface {
	Load(ctx context.Context) ([]T, error)
	Save(ctx context.Context, rows []T) error
}

// Store provides CRUD operations over a collection persisted by a Backend.
type Store[T Row[T]] struct {
	name    string
	backend Backend[T]
	mu      sync.Mutex
}

// New creates a store named name over backend.
//
// The name labels metrics and error messages.
func New[T Row[T]](name string, backend Backend[T]) *Store[T] {
	return &Store[T]{name: name, backend: backend}
}

// Name returns the store name.
func (s *Store[T]) Name() string {
	return s.name
}

// All returns all records in creation order.
func (s *Store[T]) All(ctx context.Context) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("all")
	return s.load(ctx)
}

// FindByID returns the record with the given ID.
//
// It returns the zero value and a nil error when no record matches.
func (s *Store[T]) FindByID(ctx context.Context, id int64) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("find")
	var zero T
	rows, err := s.load(ctx)
	if err != nil {
		return zero, err
	}
	if i := indexOf(rows, id); i >= 0 {
		return rows[i], nil
	}
	return zero, nil
}

// Create stores a copy of fields under the next ID and returns it.
//
// Any ID set on fields is ignored.
func (s *Store[T]) Create(ctx context.Context, fields T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("create")
	var zero T
	rows, err := s.load(ctx)
	if err != nil {
		return zero, err
	}
	id, err := nextID(rows)
	if err != nil {
		s.fail("create")
		return zero, fmt.Errorf("store %s: create: %w", s.name, err)
	}
	row := fields.Clone()
	row.SetID(id)
	rows = append(rows, row)
	if err := s.save(ctx, rows); err != nil {
		return zero, err
	}
	return row.Clone(), nil
}

// Update overwrites the fields of the record with the given ID and returns
// the updated record. The ID is kept.
//
// It returns the zero value and a nil error when no record matches.
func (s *Store[T]) Update(ctx context.Context, id int64, fields T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("update")
	var zero T
	rows, err := s.load(ctx)
	if err != nil {
		return zero, err
	}
	i := indexOf(rows, id)
	if i < 0 {
		return zero, nil
	}
	row := fields.Clone()
	row.SetID(id)
	rows[i] = row
	if err := s.save(ctx, rows); err != nil {
		return zero, err
	}
	return row.Clone(), nil
}

// Destroy removes the record with the given ID. A missing ID is a no-op.
func (s *Store[T]) Destroy(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("destroy")
	rows, err := s.load(ctx)
	if err != nil {
		return err
	}
	i := indexOf(rows, id)
	if i < 0 {
		return nil
	}
	return s.save(ctx, slices.Delete(rows, i, i+1))
}

// load reads the collection and sorts it by ID.
//
// Backends normally return sorted rows with unique positive IDs, but hand
// edited files and cookies can hold anything that decodes. Null rows and
// rows with an ID <= 0 are dropped. Of rows sharing an ID, the last one wins.
func (s *Store[T]) load(ctx context.Context) ([]T, error) {
	loaded, err := s.backend.Load(ctx)
	if err != nil {
		s.fail("load")
		return nil, fmt.Errorf("store %s: load: %w", s.name, err)
	}
	rows := make([]T, 0, len(loaded))
	for _, r := range loaded {
		if isNil(r) || r.GetID() <= 0 {
			continue
		}
		rows = append(rows, r)
	}
	slices.SortStableFunc(rows, func(a, b T) int {
		return cmp.Compare(a.GetID(), b.GetID())
	})
	out := rows[:0]
	for i, r := range rows {
		if i+1 < len(rows) && rows[i+1].GetID() == r.GetID() {
			continue
		}
		out = append(out, r)
	}
	if dropped := len(loaded) - len(out); dropped != 0 {
		slog.WarnContext(ctx, "Dropped invalid records", "store", s.name, "count", dropped)
	}
	return out, nil
}

func (s *Store[T]) save(ctx context.Context, rows []T) error {
	if err := s.backend.Save(ctx, rows); err != nil {
		s.fail("save")
		return fmt.Errorf("store %s: save: %w", s.name, err)
	}
	return nil
}

func (s *Store[T]) count(op string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`garage_store_ops_total{store=%q,op=%q}`, s.name, op)).Inc()
}

func (s *Store[T]) fail(op string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`garage_store_errors_total{store=%q,op=%q}`, s.name, op)).Inc()
}

// nextID returns one more than the largest ID, or 1 for an empty collection.
func nextID[T Row[T]](rows []T) (int64, error) {
	var maxID int64
	for _, r := range rows {
		maxID = max(maxID, r.GetID())
	}
	if maxID == math.MaxInt64 {
		return 0, ErrIDsExhausted
	}
	return maxID + 1, nil
}

// isNil reports whether r is nil, including a nil pointer.
func isNil[T any](r T) bool {
	v := reflect.ValueOf(r)
	return !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil())
}

func indexOf[T Row[T]](rows []T, id int64) int {
	return slices.IndexFunc(rows, func(r T) bool { return r.GetID() == id })
}
