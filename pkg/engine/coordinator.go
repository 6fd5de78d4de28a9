// Package engine sequences the measurement providers and aggregates their
// heterogeneous progress signals into one model.
package engine

import (
	"context"
	"log"
	"sync"

	"netmeter/pkg/model"
	"netmeter/pkg/provider"
)

// Coordinator runs one or all providers, strictly sequentially in
// registration order, exposing a live last-write-wins progress map and an
// ordered result list. One logical run at a time per instance.
type Coordinator struct {
	providers []provider.Provider

	mu        sync.Mutex
	results   []model.ProviderResult
	progress  map[string]model.ProgressUpdate
	running   bool
	current   string
	cancelled bool
}

// New builds a coordinator over the given providers. Registration order is
// run order.
func New(providers ...provider.Provider) *Coordinator {
	return &Coordinator{
		providers: providers,
		progress:  make(map[string]model.ProgressUpdate),
	}
}

// Providers returns the registered providers in run order.
func (c *Coordinator) Providers() []provider.Provider {
	return c.providers
}

// RunAll runs every provider in order and returns the ordered results. Each
// provider contributes exactly one result record, success or synthesized
// failure. The cancellation flag is checked before each provider starts;
// once set, the remaining sequence is abandoned but completed results are
// kept. A no-op when a run is already in progress.
func (c *Coordinator) RunAll(ctx context.Context) []model.ProviderResult {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.cancelled = false
	c.results = nil
	c.progress = make(map[string]model.ProgressUpdate, len(c.providers))
	for _, p := range c.providers {
		c.progress[p.Name()] = model.ProgressUpdate{
			Provider: p.Name(),
			Phase:    model.PhaseConnecting,
		}
	}
	c.mu.Unlock()

	for _, p := range c.providers {
		c.mu.Lock()
		if c.cancelled {
			c.mu.Unlock()
			break
		}
		c.current = p.Name()
		c.mu.Unlock()

		res := p.RunTest(ctx, c.record)

		c.mu.Lock()
		c.results = append(c.results, res)
		if res.Failed() {
			c.progress[p.Name()] = model.ProgressUpdate{
				Provider: p.Name(),
				Phase:    model.PhaseFailed,
				Progress: 1,
			}
		}
		c.mu.Unlock()
		if res.Failed() {
			log.Printf("provider %s failed: %s", p.Name(), res.Error)
		}
	}

	c.mu.Lock()
	c.running = false
	c.current = ""
	out := append([]model.ProviderResult(nil), c.results...)
	c.mu.Unlock()
	return out
}

// RunSingle runs only the named provider under the same per-provider
// contract. Skipped entirely when a run is in progress or the name is
// unknown.
func (c *Coordinator) RunSingle(ctx context.Context, name string) *model.ProviderResult {
	var target provider.Provider
	for _, p := range c.providers {
		if p.Name() == name {
			target = p
			break
		}
	}
	if target == nil {
		return nil
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.cancelled = false
	c.results = nil
	c.current = name
	c.progress = map[string]model.ProgressUpdate{
		name: {Provider: name, Phase: model.PhaseConnecting},
	}
	c.mu.Unlock()

	res := target.RunTest(ctx, c.record)

	c.mu.Lock()
	c.results = append(c.results, res)
	if res.Failed() {
		c.progress[name] = model.ProgressUpdate{
			Provider: name,
			Phase:    model.PhaseFailed,
			Progress: 1,
		}
	}
	c.running = false
	c.current = ""
	c.mu.Unlock()
	return &res
}

// Cancel sets the cancellation flag, fans out to every provider, and clears
// running state immediately without waiting for providers to unwind.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.running = false
	c.current = ""
	c.mu.Unlock()
	for _, p := range c.providers {
		p.Cancel()
	}
}

// Results returns a copy of the ordered result list so far.
func (c *Coordinator) Results() []model.ProviderResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ProviderResult(nil), c.results...)
}

// Progress returns a copy of the latest per-provider progress map.
func (c *Coordinator) Progress() map[string]model.ProgressUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]model.ProgressUpdate, len(c.progress))
	for k, v := range c.progress {
		out[k] = v
	}
	return out
}

// Running reports whether a run is in progress.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Current returns the name of the provider currently running, if any.
func (c *Coordinator) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Coordinator) record(u model.ProgressUpdate) {
	c.mu.Lock()
	c.progress[u.Provider] = u
	c.mu.Unlock()
}
