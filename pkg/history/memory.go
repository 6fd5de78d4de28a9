package history

import (
	"sync"

	"netmeter/pkg/model"
)

// MemoryStore is a simple in-memory implementation, intended for dev/demo.
type MemoryStore struct {
	mu      sync.RWMutex
	results []model.ProviderResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(r model.ProviderResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

func (m *MemoryStore) Recent(limit int) ([]model.ProviderResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.results)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.ProviderResult, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.results[i])
	}
	return out, nil
}

func (m *MemoryStore) Latest(provider string) (model.ProviderResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.results) - 1; i >= 0; i-- {
		if m.results[i].Provider == provider {
			return m.results[i], true, nil
		}
	}
	return model.ProviderResult{}, false, nil
}

func (m *MemoryStore) Close() error { return nil }
