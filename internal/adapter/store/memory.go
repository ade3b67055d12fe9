// Package store persists the contract state cells and the task index.
package store

import (
	"context"
	"sync"

	"croncat/internal/domain"
)

// MemoryStore is an in-process StateStore and TaskIndex. Loads and commits
// deep-copy the state so callers never share memory with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	state *domain.State
	tasks map[string]string // hash -> owner
	order []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]string)}
}

func (m *MemoryStore) Load(_ context.Context) (*domain.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil, domain.ErrGenesisMissing
	}
	return m.state.Clone(), nil
}

func (m *MemoryStore) Commit(_ context.Context, s *domain.State, tasks ...domain.TaskChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s.Clone()
	for _, tc := range tasks {
		if tc.Remove {
			if _, ok := m.tasks[tc.Hash]; ok {
				delete(m.tasks, tc.Hash)
				m.order = removeString(m.order, tc.Hash)
			}
			continue
		}
		if _, ok := m.tasks[tc.Hash]; !ok {
			m.order = append(m.order, tc.Hash)
		}
		m.tasks[tc.Hash] = tc.Owner
	}
	return nil
}

func (m *MemoryStore) Total(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.tasks)), nil
}

func (m *MemoryStore) HasTask(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tasks[hash]
	return ok, nil
}

// Tasks lists task hashes in insertion order.
func (m *MemoryStore) Tasks(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
