package syncqueue

import (
	"context"
	"errors"
	"sync"
)

var ErrChangeNotFound = errors.New("change not found")

// Store persists pending changes in submission order plus the failure list.
type Store interface {
	Append(ctx context.Context, c Change) error
	// List returns pending changes oldest first.
	List(ctx context.Context) ([]Change, error)
	Update(ctx context.Context, c Change) error
	Remove(ctx context.Context, id string) error
	AddFailure(ctx context.Context, f Failure) error
	Failures(ctx context.Context) ([]Failure, error)
	DismissFailure(ctx context.Context, id string) error
	Close() error
}

// MemoryStore keeps everything in process. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	pending  []Change
	failures []Failure
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, c Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, c)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Change(nil), m.pending...), nil
}

func (m *MemoryStore) Update(ctx context.Context, c Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pending {
		if m.pending[i].ID == c.ID {
			m.pending[i] = c
			return nil
		}
	}
	return ErrChangeNotFound
}

func (m *MemoryStore) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pending {
		if m.pending[i].ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) AddFailure(ctx context.Context, f Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, f)
	return nil
}

func (m *MemoryStore) Failures(ctx context.Context) ([]Failure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Failure(nil), m.failures...), nil
}

func (m *MemoryStore) DismissFailure(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.failures {
		if m.failures[i].Change.ID == id {
			m.failures = append(m.failures[:i], m.failures[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
