package config

import (
	"os"
	"path/filepath"
	"testing"

	"netmeter/pkg/model"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Runner.Mode != string(model.ModeSequential) {
		t.Errorf("default mode = %q, want sequential", cfg.Runner.Mode)
	}
	if !cfg.Runner.StructuredOutput {
		t.Error("structured output should default on")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netmeter.yaml")
	data := `toolPath: /usr/bin/networkquality
probeBase: https://probe.example.com
locateUrl: https://locate.example.com/v2/nearest
historyDb: /tmp/netmeter.db
runner:
  mode: parallel
  protocol: h3
  lowLatency: true
  interface: en0
  maxRunSeconds: 20
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ToolPath != "/usr/bin/networkquality" {
		t.Errorf("toolPath = %q", cfg.ToolPath)
	}
	if cfg.ProbeBase != "https://probe.example.com" {
		t.Errorf("probeBase = %q", cfg.ProbeBase)
	}

	runner := cfg.RunnerConfiguration()
	if runner.Mode != model.ModeParallel {
		t.Errorf("mode = %q, want parallel", runner.Mode)
	}
	if runner.Protocol != "h3" {
		t.Errorf("protocol = %q, want h3", runner.Protocol)
	}
	if runner.LowLatency == nil || !*runner.LowLatency {
		t.Error("lowLatency should be set true")
	}
	if runner.MaxRunSeconds != 20 {
		t.Errorf("maxRunSeconds = %d, want 20", runner.MaxRunSeconds)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NETMETER_PROBE_BASE", "https://env.example.com")
	t.Setenv("NETMETER_MODE", "download")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProbeBase != "https://env.example.com" {
		t.Errorf("probeBase = %q, env should win", cfg.ProbeBase)
	}
	if cfg.Runner.Mode != "download" {
		t.Errorf("mode = %q, env should win", cfg.Runner.Mode)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}
