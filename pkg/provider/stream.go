package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"netmeter/pkg/model"
)

const (
	streamSubprotocol = "net.measurementlab.ndt.v7"
	downloadWindow    = 12 * time.Second
	uploadWindow      = 10 * time.Second
	uploadChunkSize   = 8192
	handshakeTimeout  = 10 * time.Second
)

// Streaming is a client for a throughput-measurement wire protocol over a
// persistent message-framed connection: binary frames are opaque payload,
// text frames are JSON measurement snapshots. A locate step resolves the
// server before each run.
type Streaming struct {
	locateURL string
	mode      model.RunMode
	verbose   bool
	dialer    *websocket.Dialer
	client    *http.Client

	// Fixed test windows; empirically matched to the reference servers.
	downloadWindow time.Duration
	uploadWindow   time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewStreaming builds the streaming client against locateURL (default
// M-Lab's locate service).
func NewStreaming(locateURL string, cfg model.RunnerConfiguration) *Streaming {
	if locateURL == "" {
		locateURL = defaultLocateURL
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{streamSubprotocol},
	}
	if cfg.DisableTLSVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Streaming{
		locateURL:      locateURL,
		mode:           cfg.Mode,
		verbose:        cfg.Verbose,
		dialer:         dialer,
		client:         &http.Client{Timeout: 15 * time.Second},
		downloadWindow: downloadWindow,
		uploadWindow:   uploadWindow,
	}
}

func (s *Streaming) Name() string { return "M-Lab" }
func (s *Streaming) Icon() string { return "antenna" }

// transferOutcome is what a single test direction resolves to.
type transferOutcome struct {
	mbps   float64
	minRTT *float64
}

// transferState is the single guarded owner of per-test accumulators; the
// receive loop, send loop, and timeout watcher all go through it.
type transferState struct {
	mu    sync.Mutex
	start time.Time
	bytes int64
	last  *model.StreamingMeasurement
}

func newTransferState() *transferState {
	return &transferState{start: time.Now()}
}

func (t *transferState) addBytes(n int) {
	t.mu.Lock()
	t.bytes += int64(n)
	t.mu.Unlock()
}

func (t *transferState) setLast(m model.StreamingMeasurement) {
	t.mu.Lock()
	t.last = &m
	t.mu.Unlock()
}

func (t *transferState) elapsed() time.Duration {
	return time.Since(t.start)
}

// outcome computes the speed from bytes-so-far over elapsed-so-far and pulls
// the minimum RTT out of the latest measurement snapshot, if any.
func (t *transferState) outcome() transferOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := transferOutcome{mbps: mbps(t.bytes, time.Since(t.start))}
	if t.last != nil {
		out.minRTT = t.last.MinRTTms()
	}
	return out
}

// RunTest discovers a server, then runs the download and upload subtests.
func (s *Streaming) RunTest(ctx context.Context, progress ProgressFunc) model.ProviderResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	emit := func(u model.ProgressUpdate) {
		if progress != nil {
			u.Provider = s.Name()
			progress(u)
		}
	}
	emit(model.ProgressUpdate{Phase: model.PhaseConnecting, Progress: 0.05})

	info, err := discoverServer(ctx, s.client, s.locateURL)
	if err != nil {
		if ctx.Err() != nil {
			return model.FailedResult(s.Name(), model.FailureCancelled, "test cancelled")
		}
		return model.FailedResult(s.Name(), model.FailureDiscovery, err.Error())
	}
	if s.verbose {
		log.Printf("streaming server located at %s", info.Location)
	}

	res := model.NewResult(s.Name())
	res.Location = info.Location

	if s.mode != model.ModeUploadOnly {
		out, err := s.download(ctx, info.DownloadURL, emit)
		if err != nil {
			if ctx.Err() != nil {
				return model.FailedResult(s.Name(), model.FailureCancelled, "test cancelled")
			}
			return model.FailedResult(s.Name(), model.FailureNetwork, err.Error())
		}
		res.DownloadMbps = out.mbps
		res.LatencyMs = out.minRTT
	}
	if s.mode != model.ModeDownloadOnly {
		out, err := s.upload(ctx, info.UploadURL, emit, res.DownloadMbps)
		if err != nil {
			if ctx.Err() != nil {
				return model.FailedResult(s.Name(), model.FailureCancelled, "test cancelled")
			}
			return model.FailedResult(s.Name(), model.FailureNetwork, err.Error())
		}
		res.UploadMbps = out.mbps
	}
	if ctx.Err() != nil {
		return model.FailedResult(s.Name(), model.FailureCancelled, "test cancelled")
	}

	emit(model.ProgressUpdate{
		Phase:        model.PhaseComplete,
		Progress:     1,
		DownloadMbps: res.DownloadMbps,
		UploadMbps:   res.UploadMbps,
	})
	return res
}

// Cancel aborts an in-flight run and closes the current connection.
// Idempotent.
func (s *Streaming) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Streaming) trackConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// download opens the negotiated connection and races a receive loop against
// a fixed timeout window; whichever fires first resolves the outcome exactly
// once from the state accumulated so far.
func (s *Streaming) download(ctx context.Context, url string, emit ProgressFunc) (transferOutcome, error) {
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return transferOutcome{}, err
	}
	s.trackConn(conn)

	state := newTransferState()
	done := newCompletion[transferOutcome]()
	finalize := func() {
		if done.resolve(state.outcome()) {
			closeNormally(conn)
		}
	}
	timer := time.AfterFunc(s.downloadWindow, finalize)
	defer timer.Stop()

	go func() {
		for {
			if ctx.Err() != nil {
				finalize()
				return
			}
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				finalize()
				return
			}
			switch msgType {
			case websocket.BinaryMessage:
				state.addBytes(len(data))
			case websocket.TextMessage:
				var m model.StreamingMeasurement
				if err := json.Unmarshal(data, &m); err == nil {
					state.setLast(m)
				}
			}
			if done.resolved() {
				continue
			}
			elapsed := state.elapsed().Seconds()
			out := state.outcome()
			emit(model.ProgressUpdate{
				Phase:            model.PhaseDownload,
				Progress:         math.Min(0.1+elapsed/10*0.4, 0.5),
				CurrentSpeedMbps: out.mbps,
				DownloadMbps:     out.mbps,
			})
		}
	}()

	return done.wait(), nil
}

// upload transmits fixed-size pseudo-random chunks back-to-back for the
// upload window. The send loop itself finalizes the result; a concurrent
// receive loop only tracks the latest measurement snapshot. A transport
// error during send finalizes with whatever speed was achieved.
func (s *Streaming) upload(ctx context.Context, url string, emit ProgressFunc, downloadMbps float64) (transferOutcome, error) {
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return transferOutcome{}, err
	}
	s.trackConn(conn)

	state := newTransferState()
	done := newCompletion[transferOutcome]()

	go func() {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.TextMessage {
				var m model.StreamingMeasurement
				if err := json.Unmarshal(data, &m); err == nil {
					state.setLast(m)
				}
			}
		}
	}()

	chunk := make([]byte, uploadChunkSize)
	_, _ = rand.Read(chunk)
	deadline := state.start.Add(s.uploadWindow)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			break
		}
		state.addBytes(uploadChunkSize)
		elapsed := state.elapsed().Seconds()
		out := state.outcome()
		emit(model.ProgressUpdate{
			Phase:            model.PhaseUpload,
			Progress:         math.Min(0.55+elapsed/10*0.4, 0.95),
			CurrentSpeedMbps: out.mbps,
			DownloadMbps:     downloadMbps,
			UploadMbps:       out.mbps,
		})
	}
	done.resolve(state.outcome())
	closeNormally(conn)
	return done.wait(), nil
}

// closeNormally sends a normal-closure frame before dropping the connection.
func closeNormally(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()
}
