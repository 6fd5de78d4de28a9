package provider

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"netmeter/pkg/model"
)

// Phase-progress curve constants. These approximate the wrapped tool's
// typical run length; they are heuristics, not protocol-reported progress.
const (
	sequentialRampSeconds = 12.0
	parallelRampSeconds   = 15.0
	downloadProgressCap   = 0.5
	uploadProgressCap     = 0.95
)

// CLITool wraps a local measurement executable. The tool only emits live
// progress lines when attached to a terminal, so it is launched through a
// tty helper (`script -q /dev/null <tool> <flags...>`) and its interleaved
// output is scraped incrementally.
type CLITool struct {
	cfg       model.RunnerConfiguration
	toolPath  string
	ttyHelper string

	mu        sync.Mutex
	cmd       *exec.Cmd
	cancelled bool
}

// NewCLITool builds the wrapper around toolPath (default "networkquality").
func NewCLITool(toolPath string, cfg model.RunnerConfiguration) *CLITool {
	if toolPath == "" {
		toolPath = "networkquality"
	}
	return &CLITool{cfg: cfg, toolPath: toolPath, ttyHelper: "script"}
}

func (t *CLITool) Name() string { return "networkQuality" }
func (t *CLITool) Icon() string { return "terminal" }

// BuildArgs maps a RunnerConfiguration onto the tool's flag list. Protocol
// and queuing discipline share the -f flag and are combined when both are
// set.
func BuildArgs(cfg model.RunnerConfiguration) []string {
	var args []string
	switch cfg.Mode {
	case model.ModeSequential:
		args = append(args, "-s")
	case model.ModeDownloadOnly:
		args = append(args, "-d")
	case model.ModeUploadOnly:
		args = append(args, "-u")
	}
	queuing := ""
	if cfg.LowLatency != nil {
		if *cfg.LowLatency {
			queuing = "L4S"
		} else {
			queuing = "noL4S"
		}
	}
	switch {
	case cfg.Protocol != "" && queuing != "":
		args = append(args, "-f", cfg.Protocol+","+queuing)
	case cfg.Protocol != "":
		args = append(args, "-f", cfg.Protocol)
	case queuing != "":
		args = append(args, "-f", queuing)
	}
	if cfg.Interface != "" {
		args = append(args, "-I", cfg.Interface)
	}
	if cfg.CustomEndpoint != "" {
		args = append(args, "-C", cfg.CustomEndpoint)
	}
	if cfg.MaxRunSeconds > 0 {
		args = append(args, "-M", strconv.Itoa(cfg.MaxRunSeconds))
	}
	if cfg.DisableTLSVerify {
		args = append(args, "-k")
	}
	if cfg.UsePrivateRelay {
		args = append(args, "-p")
	}
	if cfg.Verbose {
		args = append(args, "-v")
	}
	if cfg.StructuredOutput {
		args = append(args, "-c")
	}
	return args
}

// RunTest launches the tool, scrapes live Downlink/Uplink lines into
// progress updates, and parses the final summary when the process exits.
func (t *CLITool) RunTest(ctx context.Context, progress ProgressFunc) model.ProviderResult {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return model.FailedResult(t.Name(), model.FailureCancelled, "test cancelled")
	}
	t.mu.Unlock()

	if _, err := exec.LookPath(t.toolPath); err != nil {
		return model.FailedResult(t.Name(), model.FailureCommandNotFound,
			fmt.Sprintf("%s not found on PATH", t.toolPath))
	}

	args := append([]string{"-q", "/dev/null", t.toolPath}, BuildArgs(t.cfg)...)
	cmd := exec.Command(t.ttyHelper, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return model.FailedResult(t.Name(), model.FailureExecution, fmt.Sprintf("pipe failed: %v", err))
	}
	if err := cmd.Start(); err != nil {
		return model.FailedResult(t.Name(), model.FailureExecution, fmt.Sprintf("spawn failed: %v", err))
	}

	t.mu.Lock()
	t.cmd = cmd
	// Cancel may have landed between the entry check and Start; the flag and
	// the process handle are reconciled under the same lock so the child
	// never outlives a cancellation.
	if t.cancelled {
		_ = cmd.Process.Kill()
	}
	t.mu.Unlock()

	// Propagate context cancellation into Cancel so the child dies with it.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			t.Cancel()
		case <-watchDone:
		}
	}()

	live := newLiveScanner(t.cfg.Mode == model.ModeSequential)
	var output bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			output.Write(chunk)
			live.feed(string(chunk))
			if progress != nil {
				progress(live.update(t.Name()))
			}
		}
		if readErr != nil {
			break
		}
	}
	waitErr := cmd.Wait()

	t.mu.Lock()
	t.cmd = nil
	cancelled := t.cancelled
	t.mu.Unlock()

	if cancelled {
		return model.FailedResult(t.Name(), model.FailureCancelled, "test cancelled")
	}
	if waitErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = waitErr.Error()
		}
		return model.FailedResult(t.Name(), model.FailureExecution, detail)
	}
	if !utf8.Valid(output.Bytes()) {
		return model.FailedResult(t.Name(), model.FailureParse, "tool output is not valid text")
	}

	summary, ok := parseSummary(output.String())
	if !ok {
		return model.FailedResult(t.Name(), model.FailureParse, "no throughput values in tool output")
	}
	res := model.NewResult(t.Name())
	res.DownloadMbps = summary.DownloadMbps
	res.UploadMbps = summary.UploadMbps
	res.LatencyMs = summary.LatencyMs
	res.RPM = summary.RPM
	if progress != nil {
		progress(model.ProgressUpdate{
			Provider:     t.Name(),
			Phase:        model.PhaseComplete,
			Progress:     1,
			DownloadMbps: res.DownloadMbps,
			UploadMbps:   res.UploadMbps,
		})
	}
	if t.cfg.Verbose {
		log.Printf("cli run complete download=%.2f upload=%.2f", res.DownloadMbps, res.UploadMbps)
	}
	return res
}

// Cancel terminates the child process if running. Idempotent.
func (t *CLITool) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
}

// Reset clears the cancelled latch so the provider can run again.
func (t *CLITool) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = false
}

// liveScanner tracks the in-flight state derived from the tool's progress
// lines. In sequential mode the first uplink-speed sighting latches the
// upload phase; it never reverts to download.
type liveScanner struct {
	sequential   bool
	start        time.Time
	downloadMbps float64
	uploadMbps   float64
	uploadPhase  bool
	uploadStart  time.Time
}

func newLiveScanner(sequential bool) *liveScanner {
	return &liveScanner{sequential: sequential, start: time.Now()}
}

func (s *liveScanner) feed(chunk string) {
	for _, line := range strings.FieldsFunc(chunk, func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if m := downlinkLiveRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				s.downloadMbps = v
			}
		}
		if m := uplinkLiveRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				s.uploadMbps = v
				if s.sequential && !s.uploadPhase && v > 0 {
					s.uploadPhase = true
					s.uploadStart = time.Now()
				}
			}
		}
	}
}

func (s *liveScanner) update(provider string) model.ProgressUpdate {
	u := model.ProgressUpdate{
		Provider:     provider,
		DownloadMbps: s.downloadMbps,
		UploadMbps:   s.uploadMbps,
	}
	elapsed := time.Since(s.start).Seconds()
	if s.sequential {
		switch {
		case s.uploadPhase:
			up := time.Since(s.uploadStart).Seconds()
			u.Phase = model.PhaseUpload
			u.Progress = math.Min(0.5+up/sequentialRampSeconds*0.45, uploadProgressCap)
			u.CurrentSpeedMbps = s.uploadMbps
		case s.downloadMbps > 0:
			u.Phase = model.PhaseDownload
			u.Progress = math.Min(elapsed/sequentialRampSeconds*0.5, downloadProgressCap)
			u.CurrentSpeedMbps = s.downloadMbps
		default:
			u.Phase = model.PhaseConnecting
			u.Progress = 0.05
		}
		return u
	}
	if s.downloadMbps > 0 || s.uploadMbps > 0 {
		u.Phase = model.PhaseParallel
		u.CurrentSpeedMbps = s.downloadMbps
	} else {
		u.Phase = model.PhaseConnecting
	}
	u.Progress = math.Min(elapsed/parallelRampSeconds, uploadProgressCap)
	return u
}
