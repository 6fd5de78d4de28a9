package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"netmeter/pkg/model"
)

const defaultProbeBase = "https://speed.cloudflare.com"

var (
	probeDownloadSizes = []int{100_000, 1_000_000, 10_000_000, 25_000_000}
	probeUploadSizes   = []int{100_000, 1_000_000, 5_000_000}
)

const (
	latencyProbeCount   = 5
	latencyProbeTimeout = 5 * time.Second
	transferTimeout     = 40 * time.Second
)

// HTTPProbe estimates latency and throughput against a public HTTP origin
// using plain GET/POST probes of increasing size. Every request is
// independently best-effort: failed sizes are skipped, and an all-fail run
// yields zero speed rather than an error.
type HTTPProbe struct {
	base    string
	mode    model.RunMode
	verbose bool
	client  *http.Client

	bufOnce sync.Once
	buf     []byte

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewHTTPProbe builds the probe against base (default Cloudflare's origin).
func NewHTTPProbe(base string, cfg model.RunnerConfiguration) *HTTPProbe {
	if base == "" {
		base = defaultProbeBase
	}
	transport := &http.Transport{}
	if cfg.DisableTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &HTTPProbe{
		base:    base,
		mode:    cfg.Mode,
		verbose: cfg.Verbose,
		client:  &http.Client{Transport: transport},
	}
}

func (p *HTTPProbe) Name() string { return "Cloudflare" }
func (p *HTTPProbe) Icon() string { return "cloud" }

// RunTest measures latency, download, and upload in sequence.
func (p *HTTPProbe) RunTest(ctx context.Context, progress ProgressFunc) model.ProviderResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	emit := func(u model.ProgressUpdate) {
		if progress != nil {
			u.Provider = p.Name()
			progress(u)
		}
	}
	emit(model.ProgressUpdate{Phase: model.PhaseConnecting, Progress: 0.05})

	latency := p.measureLatency(ctx)

	var download, upload float64
	if p.mode != model.ModeUploadOnly {
		download = p.measureDownload(ctx, emit)
	}
	if p.mode != model.ModeDownloadOnly {
		upload = p.measureUpload(ctx, emit, download)
	}

	if ctx.Err() != nil {
		return model.FailedResult(p.Name(), model.FailureCancelled, "test cancelled")
	}

	res := model.NewResult(p.Name())
	res.DownloadMbps = download
	res.UploadMbps = upload
	res.LatencyMs = latency
	emit(model.ProgressUpdate{
		Phase:        model.PhaseComplete,
		Progress:     1,
		DownloadMbps: download,
		UploadMbps:   upload,
	})
	if p.verbose {
		log.Printf("http probe complete download=%.2f upload=%.2f", download, upload)
	}
	return res
}

// Cancel aborts in-flight requests. Idempotent.
func (p *HTTPProbe) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// measureLatency issues sequential zero-byte GETs and keeps the minimum
// round-trip of the successful ones. Returns nil when no probe succeeded;
// an unmeasured latency is not an error.
func (p *HTTPProbe) measureLatency(ctx context.Context) *float64 {
	var best *float64
	for i := 0; i < latencyProbeCount; i++ {
		if ctx.Err() != nil {
			break
		}
		reqCtx, cancel := context.WithTimeout(ctx, latencyProbeTimeout)
		start := time.Now()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.base+"/__down?bytes=0", nil)
		if err != nil {
			cancel()
			continue
		}
		resp, err := p.client.Do(req)
		if err != nil {
			cancel()
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		cancel()
		if resp.StatusCode >= 400 {
			continue
		}
		ms := float64(time.Since(start).Microseconds()) / 1000.0
		if best == nil || ms < *best {
			best = &ms
		}
	}
	return best
}

func (p *HTTPProbe) measureDownload(ctx context.Context, emit ProgressFunc) float64 {
	var totalBytes int64
	var totalDur time.Duration
	for i, size := range probeDownloadSizes {
		if ctx.Err() != nil {
			break
		}
		n, dur, err := p.fetch(ctx, size)
		if err != nil {
			if p.verbose {
				log.Printf("download probe size=%d failed: %v", size, err)
			}
			continue
		}
		totalBytes += n
		totalDur += dur
		emit(model.ProgressUpdate{
			Phase:            model.PhaseDownload,
			Progress:         0.1 + 0.4*float64(i+1)/float64(len(probeDownloadSizes)),
			CurrentSpeedMbps: mbps(n, dur),
			DownloadMbps:     mbps(totalBytes, totalDur),
		})
	}
	return mbps(totalBytes, totalDur)
}

func (p *HTTPProbe) measureUpload(ctx context.Context, emit ProgressFunc, download float64) float64 {
	p.bufOnce.Do(func() {
		p.buf = make([]byte, probeUploadSizes[len(probeUploadSizes)-1])
		_, _ = rand.Read(p.buf)
	})
	var totalBytes int64
	var totalDur time.Duration
	for i, size := range probeUploadSizes {
		if ctx.Err() != nil {
			break
		}
		dur, err := p.push(ctx, p.buf[:size])
		if err != nil {
			if p.verbose {
				log.Printf("upload probe size=%d failed: %v", size, err)
			}
			continue
		}
		totalBytes += int64(size)
		totalDur += dur
		emit(model.ProgressUpdate{
			Phase:            model.PhaseUpload,
			Progress:         0.55 + 0.4*float64(i+1)/float64(len(probeUploadSizes)),
			CurrentSpeedMbps: mbps(int64(size), dur),
			DownloadMbps:     download,
			UploadMbps:       mbps(totalBytes, totalDur),
		})
	}
	return mbps(totalBytes, totalDur)
}

func (p *HTTPProbe) fetch(ctx context.Context, size int) (int64, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()
	url := fmt.Sprintf("%s/__down?bytes=%d", p.base, size)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, 0, fmt.Errorf("status %s", resp.Status)
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, 0, err
	}
	return n, time.Since(start), nil
}

func (p *HTTPProbe) push(ctx context.Context, payload []byte) (time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.base+"/__up", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("status %s", resp.Status)
	}
	return time.Since(start), nil
}

// mbps converts a byte count over a duration into megabits per second.
func mbps(bytes int64, dur time.Duration) float64 {
	if bytes <= 0 || dur <= 0 {
		return 0
	}
	return float64(bytes) * 8 / dur.Seconds() / 1e6
}
