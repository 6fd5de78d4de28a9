package history

import (
	"path/filepath"
	"testing"
	"time"

	"netmeter/pkg/model"
)

func TestSQLiteRoundTrip(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()

	latency := 12.5
	rpm := 900
	ok := model.ProviderResult{
		ID:           "r1",
		Provider:     "Cloudflare",
		DownloadMbps: 120.5,
		UploadMbps:   9.3,
		LatencyMs:    &latency,
		RPM:          &rpm,
		Location:     "Helsinki, FI",
		Timestamp:    time.Unix(1700000000, 0),
	}
	failed := model.FailedResult("M-Lab", model.FailureDiscovery, "no results")
	failed.Timestamp = time.Unix(1700000100, 0)

	if err := store.Append(ok); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(failed); err != nil {
		t.Fatalf("Append failed result: %v", err)
	}

	recent, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d rows, want 2", len(recent))
	}
	if recent[0].Provider != "M-Lab" {
		t.Errorf("newest first: got %q", recent[0].Provider)
	}
	if recent[0].Failure != model.FailureDiscovery || !recent[0].Failed() {
		t.Errorf("failure not preserved: %+v", recent[0])
	}

	got, found, err := store.Latest("Cloudflare")
	if err != nil || !found {
		t.Fatalf("Latest: found=%v err=%v", found, err)
	}
	if got.DownloadMbps != 120.5 || got.UploadMbps != 9.3 {
		t.Errorf("speeds = %v/%v", got.DownloadMbps, got.UploadMbps)
	}
	if got.LatencyMs == nil || *got.LatencyMs != 12.5 {
		t.Errorf("latency = %v", got.LatencyMs)
	}
	if got.RPM == nil || *got.RPM != 900 {
		t.Errorf("rpm = %v", got.RPM)
	}
	if got.Location != "Helsinki, FI" {
		t.Errorf("location = %q", got.Location)
	}

	if _, found, _ := store.Latest("unknown"); found {
		t.Error("Latest(unknown) should not find anything")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory()
	for i, name := range []string{"a", "b", "a"} {
		r := model.NewResult(name)
		r.DownloadMbps = float64(i)
		if err := store.Append(r); err != nil {
			t.Fatal(err)
		}
	}
	recent, err := store.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d, want 2", len(recent))
	}
	if recent[0].Provider != "a" || recent[0].DownloadMbps != 2 {
		t.Errorf("newest first: %+v", recent[0])
	}
	latest, found, err := store.Latest("a")
	if err != nil || !found {
		t.Fatalf("Latest: found=%v err=%v", found, err)
	}
	if latest.DownloadMbps != 2 {
		t.Errorf("latest a download = %v, want 2", latest.DownloadMbps)
	}
}
