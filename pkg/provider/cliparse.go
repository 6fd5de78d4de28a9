package provider

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	downlinkLiveRe = regexp.MustCompile(`Downlink:\s*([\d.]+)\s*Mbps`)
	uplinkLiveRe   = regexp.MustCompile(`Uplink:\s*([\d.]+)\s*Mbps`)

	downCapacityRe = regexp.MustCompile(`Downlink capacity:\s*([\d.]+)\s*Mbps`)
	upCapacityRe   = regexp.MustCompile(`Uplink capacity:\s*([\d.]+)\s*Mbps`)
	rpmRe          = regexp.MustCompile(`(\d+)\s*RPM`)
	idleLatencyRe  = regexp.MustCompile(`Idle Latency:\s*([\d.]+)`)
)

// cliSummary is the final measurement parsed from the tool's output.
type cliSummary struct {
	DownloadMbps float64
	UploadMbps   float64
	LatencyMs    *float64
	RPM          *int
}

// structuredOutput matches the tool's JSON summary. Throughput fields are in
// bits per second; responsiveness and base_rtt appear as integer or float,
// both of which decode into float64.
type structuredOutput struct {
	DlThroughput   *float64 `json:"dl_throughput"`
	UlThroughput   *float64 `json:"ul_throughput"`
	Responsiveness *float64 `json:"responsiveness"`
	BaseRTT        *float64 `json:"base_rtt"`
}

// parseSummary extracts the final result, preferring the structured JSON
// block over the text lines when both are present.
func parseSummary(out string) (cliSummary, bool) {
	if s, ok := parseStructured(out); ok {
		return s, true
	}
	return parseText(out)
}

func parseStructured(out string) (cliSummary, bool) {
	first := strings.Index(out, "{")
	last := strings.LastIndex(out, "}")
	if first < 0 || last <= first {
		return cliSummary{}, false
	}
	var so structuredOutput
	if err := json.Unmarshal([]byte(out[first:last+1]), &so); err != nil {
		return cliSummary{}, false
	}
	if so.DlThroughput == nil && so.UlThroughput == nil {
		return cliSummary{}, false
	}
	var s cliSummary
	if so.DlThroughput != nil {
		s.DownloadMbps = *so.DlThroughput / 1e6
	}
	if so.UlThroughput != nil {
		s.UploadMbps = *so.UlThroughput / 1e6
	}
	if so.Responsiveness != nil {
		rpm := int(*so.Responsiveness)
		s.RPM = &rpm
	}
	if so.BaseRTT != nil {
		ms := *so.BaseRTT
		s.LatencyMs = &ms
	}
	return s, true
}

func parseText(out string) (cliSummary, bool) {
	var s cliSummary
	found := false
	if m := downCapacityRe.FindStringSubmatch(out); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			s.DownloadMbps = v
			found = true
		}
	}
	if m := upCapacityRe.FindStringSubmatch(out); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			s.UploadMbps = v
			found = true
		}
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "Responsiveness") || !strings.Contains(line, "RPM") {
			continue
		}
		if m := rpmRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				s.RPM = &v
			}
		}
		break
	}
	if m := idleLatencyRe.FindStringSubmatch(out); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			s.LatencyMs = &v
		}
	}
	return s, found
}
