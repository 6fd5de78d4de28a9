package model

// Phase identifies where a provider currently is within a test run.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseDownload   Phase = "download"
	PhaseUpload     Phase = "upload"
	PhaseParallel   Phase = "parallel"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

// ProgressUpdate is emitted many times during a run; observers only care
// about the latest update per provider (last-write-wins).
type ProgressUpdate struct {
	Provider         string  `json:"provider"`
	Phase            Phase   `json:"phase"`
	Progress         float64 `json:"progress"` // fraction in [0,1]
	CurrentSpeedMbps float64 `json:"currentSpeedMbps,omitempty"`
	DownloadMbps     float64 `json:"downloadMbps,omitempty"`
	UploadMbps       float64 `json:"uploadMbps,omitempty"`
}
