package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"netmeter/pkg/model"
)

func wsTestServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{
		Subprotocols: []string{streamSubprotocol},
		CheckOrigin:  func(*http.Request) bool { return true },
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamingDownload(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		payload := make([]byte, 1<<13)
		for i := 0; i < 10; i++ {
			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
		}
		frame := `{"TCPInfo":{"MinRTT":12400,"RTT":13000,"BytesAcked":81920,"BytesSent":81920}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		closeNormally(conn)
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	s := NewStreaming("", model.RunnerConfiguration{})
	s.downloadWindow = 2 * time.Second
	var mu sync.Mutex
	sawDownload := false
	out, err := s.download(context.Background(), wsURL(srv), func(u model.ProgressUpdate) {
		mu.Lock()
		if u.Phase == model.PhaseDownload {
			sawDownload = true
			if u.Progress > 0.5 {
				t.Errorf("download progress = %v, must never exceed 0.5", u.Progress)
			}
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if out.mbps <= 0 {
		t.Errorf("mbps = %v, want > 0", out.mbps)
	}
	if out.minRTT == nil || *out.minRTT != 12.4 {
		t.Errorf("minRTT = %v, want 12.4 ms", out.minRTT)
	}
	mu.Lock()
	defer mu.Unlock()
	if !sawDownload {
		t.Error("no download progress emitted")
	}
}

func TestStreamingDownloadTimeoutFinalizes(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		// Send nothing; the client's window must still produce a result.
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	s := NewStreaming("", model.RunnerConfiguration{})
	s.downloadWindow = 200 * time.Millisecond
	start := time.Now()
	out, err := s.download(context.Background(), wsURL(srv), func(model.ProgressUpdate) {})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("download took %v, window expiry should have finalized it", elapsed)
	}
	if out.mbps != 0 {
		t.Errorf("mbps = %v, want 0 with no payload", out.mbps)
	}
}

func TestStreamingDownloadNoProgressAfterWindow(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		// Keep sending past the client's window until it drops the
		// connection.
		payload := make([]byte, 1<<10)
		for {
			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	})
	defer srv.Close()

	s := NewStreaming("", model.RunnerConfiguration{})
	s.downloadWindow = 150 * time.Millisecond
	var mu sync.Mutex
	updates := 0
	out, err := s.download(context.Background(), wsURL(srv), func(model.ProgressUpdate) {
		mu.Lock()
		updates++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if out.mbps <= 0 {
		t.Errorf("mbps = %v, want > 0", out.mbps)
	}

	mu.Lock()
	settled := updates
	mu.Unlock()
	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if updates != settled {
		t.Errorf("progress kept flowing after the window finalized: %d -> %d", settled, updates)
	}
}

func TestStreamingUpload(t *testing.T) {
	received := make(chan int64, 1)
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		var total int64
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				received <- total
				return
			}
			if msgType == websocket.BinaryMessage {
				total += int64(len(data))
			}
		}
	})
	defer srv.Close()

	s := NewStreaming("", model.RunnerConfiguration{})
	s.uploadWindow = 300 * time.Millisecond
	out, err := s.upload(context.Background(), wsURL(srv), func(u model.ProgressUpdate) {
		if u.Phase == model.PhaseUpload && u.Progress > 0.95 {
			t.Errorf("upload progress = %v, must never exceed 0.95", u.Progress)
		}
	}, 0)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if out.mbps <= 0 {
		t.Errorf("mbps = %v, want > 0", out.mbps)
	}
	select {
	case total := <-received:
		if total <= 0 {
			t.Error("server received no payload")
		}
	case <-time.After(3 * time.Second):
		t.Error("server never observed connection close")
	}
}

func TestStreamingRunTestEndToEnd(t *testing.T) {
	downSrv := wsTestServer(t, func(conn *websocket.Conn) {
		payload := make([]byte, 1<<12)
		for i := 0; i < 5; i++ {
			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"TCPInfo":{"MinRTT":9000}}`))
		closeNormally(conn)
		time.Sleep(100 * time.Millisecond)
	})
	defer downSrv.Close()
	upSrv := wsTestServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer upSrv.Close()

	locate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"results":[{"location":{"city":"Amsterdam","country":"NL"},`+
			`"urls":{"wss:///ndt/v7/download":%q,"wss:///ndt/v7/upload":%q}}]}`,
			wsURL(downSrv), wsURL(upSrv))
	}))
	defer locate.Close()

	s := NewStreaming(locate.URL, model.RunnerConfiguration{})
	s.downloadWindow = 2 * time.Second
	s.uploadWindow = 300 * time.Millisecond

	res := s.RunTest(context.Background(), func(model.ProgressUpdate) {})
	if res.Failed() {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if res.Location != "Amsterdam, NL" {
		t.Errorf("location = %q", res.Location)
	}
	if res.DownloadMbps <= 0 || res.UploadMbps <= 0 {
		t.Errorf("speeds = %v/%v, want both > 0", res.DownloadMbps, res.UploadMbps)
	}
	if res.LatencyMs == nil || *res.LatencyMs != 9 {
		t.Errorf("latency = %v, want 9 ms", res.LatencyMs)
	}
}

func TestStreamingDiscoveryFailure(t *testing.T) {
	locate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"location":{"city":"X","country":"Y"},"urls":{}}]}`))
	}))
	defer locate.Close()

	s := NewStreaming(locate.URL, model.RunnerConfiguration{})
	res := s.RunTest(context.Background(), nil)
	if res.Failure != model.FailureDiscovery {
		t.Errorf("failure = %v, want %v", res.Failure, model.FailureDiscovery)
	}
	if res.DownloadMbps != 0 || res.UploadMbps != 0 {
		t.Error("failed result must carry zero throughput")
	}
}
