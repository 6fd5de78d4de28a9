package model

// FailureKind classifies how a provider run failed. Failures are carried on
// the result record, never thrown across the coordinator boundary.
type FailureKind string

const (
	FailureCommandNotFound FailureKind = "command_not_found"
	FailureExecution       FailureKind = "execution_failed"
	FailureParse           FailureKind = "parse_error"
	FailureCancelled       FailureKind = "cancelled"
	FailureDiscovery       FailureKind = "discovery_failed"
	FailureNetwork         FailureKind = "network_error"
	FailureTimeout         FailureKind = "timeout"
)
