package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/sqlmesh/core"
)

// InMemoryStore is a volatile ConnectionRegistry storing records in a process
// local map. It is safe for concurrent access. Returned records are copies so
// callers cannot mutate internal state.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[int64]core.ConnectionRecord
	nextID  int64

	// OpenErr, when set, makes Session fail. Used to simulate an unreachable registry.
	OpenErr error
}

// NewInMemoryStore constructs a store pre-populated with records.
func NewInMemoryStore(records ...core.ConnectionRecord) *InMemoryStore {
	s := &InMemoryStore{records: make(map[int64]core.ConnectionRecord)}
	for _, r := range records {
		_, _ = s.Put(r)
	}
	return s
}

// Put stores r. A zero ID is assigned the next free id. The stored id is returned.
func (s *InMemoryStore) Put(r core.ConnectionRecord) (int64, error) {
	if r.DBType == "" {
		return 0, fmt.Errorf("%w: db_type is required", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		s.nextID++
		r.ID = s.nextID
	} else if r.ID > s.nextID {
		s.nextID = r.ID
	}
	s.records[r.ID] = r
	return r.ID, nil
}

// Delete removes the record with id.
func (s *InMemoryStore) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("connection %d: %w", id, ErrNotFound)
	}
	delete(s.records, id)
	return nil
}

// List returns all records ordered by id.
func (s *InMemoryStore) List() []core.ConnectionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ConnectionRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Session implements core.ConnectionRegistry.
func (s *InMemoryStore) Session(_ context.Context) (core.RegistrySession, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return &memorySession{store: s}, nil
}

type memorySession struct {
	store  *InMemoryStore
	closed bool
}

func (m *memorySession) Get(_ context.Context, id int64) (*core.ConnectionRecord, error) {
	if m.closed {
		return nil, ErrSessionClosed
	}
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	r, ok := m.store.records[id]
	if !ok {
		return nil, fmt.Errorf("connection %d: %w", id, ErrNotFound)
	}
	return &r, nil
}

func (m *memorySession) Close() error {
	m.closed = true
	return nil
}
