package model

import (
	"time"

	"github.com/google/uuid"
)

// ProviderResult is the single record a provider produces per run.
// A non-empty Error marks a logical failure; the record is still emitted so
// callers always get exactly one result per attempted provider.
type ProviderResult struct {
	ID           string      `json:"id"`
	Provider     string      `json:"provider"`
	DownloadMbps float64     `json:"downloadMbps"`
	UploadMbps   float64     `json:"uploadMbps"`
	LatencyMs    *float64    `json:"latencyMs,omitempty"`
	RPM          *int        `json:"rpm,omitempty"` // responsiveness, round-trips per minute
	Location     string      `json:"location,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
	Failure      FailureKind `json:"failure,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Failed reports whether the result records a logical failure.
func (r ProviderResult) Failed() bool {
	return r.Error != ""
}

// NewResult stamps a fresh successful result for a provider.
func NewResult(provider string) ProviderResult {
	return ProviderResult{
		ID:        uuid.NewString(),
		Provider:  provider,
		Timestamp: time.Now(),
	}
}

// FailedResult synthesizes a failed result carrying the failure class and a
// human-readable message. Throughput stays zero-valued.
func FailedResult(provider string, kind FailureKind, msg string) ProviderResult {
	r := NewResult(provider)
	r.Failure = kind
	r.Error = msg
	return r
}
