package model

// RunMode selects how the wrapped tool exercises the link.
type RunMode string

const (
	ModeParallel     RunMode = "parallel"
	ModeSequential   RunMode = "sequential"
	ModeDownloadOnly RunMode = "download"
	ModeUploadOnly   RunMode = "upload"
)

// RunnerConfiguration is built once per test run and never mutated mid-run.
type RunnerConfiguration struct {
	Mode             RunMode `json:"mode"`
	Protocol         string  `json:"protocol,omitempty"` // h1/h2/h3, empty = tool default
	LowLatency       *bool   `json:"lowLatency,omitempty"`
	Interface        string  `json:"interface,omitempty"`
	CustomEndpoint   string  `json:"customEndpoint,omitempty"`
	MaxRunSeconds    int     `json:"maxRunSeconds,omitempty"`
	DisableTLSVerify bool    `json:"disableTlsVerify,omitempty"`
	UsePrivateRelay  bool    `json:"usePrivateRelay,omitempty"`
	Verbose          bool    `json:"verbose,omitempty"`
	StructuredOutput bool    `json:"structuredOutput,omitempty"`
}
