// Package config layers runner configuration from built-in defaults, an
// optional YAML file, and the environment (.env supported).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"netmeter/pkg/model"
)

// Config is everything the front-end needs to assemble a run.
type Config struct {
	ToolPath  string `yaml:"toolPath"`
	ProbeBase string `yaml:"probeBase"`
	LocateURL string `yaml:"locateUrl"`
	HistoryDB string `yaml:"historyDb"`
	Runner    Runner `yaml:"runner"`
}

// Runner mirrors model.RunnerConfiguration for the YAML file.
type Runner struct {
	Mode             string `yaml:"mode"`
	Protocol         string `yaml:"protocol"`
	LowLatency       *bool  `yaml:"lowLatency"`
	Interface        string `yaml:"interface"`
	CustomEndpoint   string `yaml:"customEndpoint"`
	MaxRunSeconds    int    `yaml:"maxRunSeconds"`
	DisableTLSVerify bool   `yaml:"disableTlsVerify"`
	UsePrivateRelay  bool   `yaml:"usePrivateRelay"`
	Verbose          bool   `yaml:"verbose"`
	StructuredOutput bool   `yaml:"structuredOutput"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Runner: Runner{Mode: string(model.ModeSequential), StructuredOutput: true},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables. A missing file at an explicit path is an
// error; an empty path just skips the file layer.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	// .env is optional; real environment wins over it either way.
	_ = godotenv.Load(".env")
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NETMETER_TOOL"); v != "" {
		cfg.ToolPath = v
	}
	if v := os.Getenv("NETMETER_PROBE_BASE"); v != "" {
		cfg.ProbeBase = v
	}
	if v := os.Getenv("NETMETER_LOCATE_URL"); v != "" {
		cfg.LocateURL = v
	}
	if v := os.Getenv("NETMETER_HISTORY_DB"); v != "" {
		cfg.HistoryDB = v
	}
	if v := os.Getenv("NETMETER_MODE"); v != "" {
		cfg.Runner.Mode = v
	}
}

// RunnerConfiguration converts the file/env view into the engine's value
// type.
func (c Config) RunnerConfiguration() model.RunnerConfiguration {
	return model.RunnerConfiguration{
		Mode:             model.RunMode(c.Runner.Mode),
		Protocol:         c.Runner.Protocol,
		LowLatency:       c.Runner.LowLatency,
		Interface:        c.Runner.Interface,
		CustomEndpoint:   c.Runner.CustomEndpoint,
		MaxRunSeconds:    c.Runner.MaxRunSeconds,
		DisableTLSVerify: c.Runner.DisableTLSVerify,
		UsePrivateRelay:  c.Runner.UsePrivateRelay,
		Verbose:          c.Runner.Verbose,
		StructuredOutput: c.Runner.StructuredOutput,
	}
}
