package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"netmeter/pkg/config"
	"netmeter/pkg/engine"
	"netmeter/pkg/history"
	"netmeter/pkg/model"
	"netmeter/pkg/provider"
	"netmeter/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	providerName := flag.String("provider", "", "run a single provider by name")
	mode := flag.String("mode", "", "run mode: parallel|sequential|download|upload")
	protocol := flag.String("protocol", "", "protocol for the wrapped tool: h1|h2|h3")
	queuing := flag.String("queuing", "", "queuing discipline for the wrapped tool: l4s|nol4s")
	iface := flag.StringP("interface", "I", "", "network interface to bind")
	endpoint := flag.String("endpoint", "", "custom endpoint for the wrapped tool")
	maxTime := flag.Int("max-time", 0, "max run time in seconds for the wrapped tool")
	insecure := flag.BoolP("insecure", "k", false, "skip TLS certificate verification")
	privateRelay := flag.Bool("private-relay", false, "run through the privacy relay")
	verbose := flag.BoolP("verbose", "v", false, "verbose logging")
	jsonOut := flag.Bool("json", false, "print results as JSON")
	historyDB := flag.String("history", "", "sqlite file to record results")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("netmeter version=%s\n", version.Build)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	runner := cfg.RunnerConfiguration()
	if *mode != "" {
		runner.Mode = model.RunMode(*mode)
	}
	if *protocol != "" {
		runner.Protocol = *protocol
	}
	switch *queuing {
	case "l4s":
		v := true
		runner.LowLatency = &v
	case "nol4s":
		v := false
		runner.LowLatency = &v
	case "":
	default:
		log.Fatalf("unknown queuing discipline %q", *queuing)
	}
	if *iface != "" {
		runner.Interface = *iface
	}
	if *endpoint != "" {
		runner.CustomEndpoint = *endpoint
	}
	if *maxTime > 0 {
		runner.MaxRunSeconds = *maxTime
	}
	if *insecure {
		runner.DisableTLSVerify = true
	}
	if *privateRelay {
		runner.UsePrivateRelay = true
	}
	if *verbose {
		runner.Verbose = true
	}

	coord := engine.New(
		provider.NewCLITool(cfg.ToolPath, runner),
		provider.NewHTTPProbe(cfg.ProbeBase, runner),
		provider.NewStreaming(cfg.LocateURL, runner),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("cancelling run")
		coord.Cancel()
	}()

	stopTick := make(chan struct{})
	if !*jsonOut {
		go printProgress(coord, stopTick)
	}

	ctx := context.Background()
	var results []model.ProviderResult
	if *providerName != "" {
		res := coord.RunSingle(ctx, *providerName)
		if res == nil {
			log.Fatalf("unknown provider %q", *providerName)
		}
		results = []model.ProviderResult{*res}
	} else {
		results = coord.RunAll(ctx)
	}
	close(stopTick)

	dbPath := cfg.HistoryDB
	if *historyDB != "" {
		dbPath = *historyDB
	}
	if dbPath != "" {
		recordHistory(dbPath, results)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			log.Fatalf("encode results: %v", err)
		}
		return
	}
	for _, r := range results {
		printResult(r)
	}
}

func printProgress(coord *engine.Coordinator, stop <-chan struct{}) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			cur := coord.Current()
			if cur == "" {
				continue
			}
			if u, ok := coord.Progress()[cur]; ok {
				log.Printf("%s phase=%s progress=%.0f%% speed=%.1f Mbps",
					cur, u.Phase, u.Progress*100, u.CurrentSpeedMbps)
			}
		}
	}
}

func printResult(r model.ProviderResult) {
	if r.Failed() {
		fmt.Printf("%-14s FAILED (%s): %s\n", r.Provider, r.Failure, r.Error)
		return
	}
	latency := "-"
	if r.LatencyMs != nil {
		latency = fmt.Sprintf("%.1f ms", *r.LatencyMs)
	}
	line := fmt.Sprintf("%-14s down=%.2f Mbps up=%.2f Mbps latency=%s",
		r.Provider, r.DownloadMbps, r.UploadMbps, latency)
	if r.RPM != nil {
		line += fmt.Sprintf(" responsiveness=%d RPM", *r.RPM)
	}
	if r.Location != "" {
		line += " server=" + r.Location
	}
	fmt.Println(line)
}

func recordHistory(path string, results []model.ProviderResult) {
	store, err := history.OpenSQLite(path)
	if err != nil {
		log.Printf("history open failed: %v", err)
		return
	}
	defer store.Close()
	for _, r := range results {
		if err := store.Append(r); err != nil {
			log.Printf("history append failed id=%s: %v", r.ID, err)
		}
	}
}
