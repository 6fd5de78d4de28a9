// Package provider contains the speed-measurement backends. Each backend
// drives its own protocol but presents the same capability set: run one test
// emitting progress updates, return exactly one result, and support
// idempotent cancellation. Ordinary network failure is encoded in the
// returned result, never surfaced as an error.
package provider

import (
	"context"

	"netmeter/pkg/model"
)

// ProgressFunc receives live progress updates during a run. Callbacks may
// arrive from multiple goroutines; implementations must be safe for that.
type ProgressFunc func(model.ProgressUpdate)

// Provider is one speed-measurement backend.
type Provider interface {
	// Name returns the stable provider name used to key progress and results.
	Name() string
	// Icon returns a short symbolic tag for presentation layers.
	Icon() string
	// RunTest performs one measurement. It blocks until the test completes,
	// fails, or is cancelled, and always returns a result record.
	RunTest(ctx context.Context, progress ProgressFunc) model.ProviderResult
	// Cancel stops an in-flight test. Safe to call before, after, or never.
	Cancel()
}
