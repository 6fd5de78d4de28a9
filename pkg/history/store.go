// Package history persists completed measurement results. It consumes the
// engine's result records read-only; the engine itself never imports it.
package history

import "netmeter/pkg/model"

// Store defines the persistence layer for past results.
type Store interface {
	Append(model.ProviderResult) error
	Recent(limit int) ([]model.ProviderResult, error)
	Latest(provider string) (model.ProviderResult, bool, error)
	Close() error
}

// NewMemory is a helper to construct the in-memory implementation.
func NewMemory() Store {
	return NewMemoryStore()
}
