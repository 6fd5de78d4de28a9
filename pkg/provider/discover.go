package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"netmeter/pkg/model"
)

const defaultLocateURL = "https://locate.measurementlab.net/v2/nearest/ndt/ndt7"

// Endpoint keys inside a locate result's urls map.
const (
	downloadURLKey = "wss:///ndt/v7/download"
	uploadURLKey   = "wss:///ndt/v7/upload"
)

type locateDocument struct {
	Results []locateResult `json:"results"`
}

type locateResult struct {
	Location struct {
		City    string `json:"city"`
		Country string `json:"country"`
	} `json:"location"`
	URLs map[string]string `json:"urls"`
}

// discoverServer resolves the nearest measurement server once per run. Any
// missing piece of the first result entry is a discovery failure, not a
// crash.
func discoverServer(ctx context.Context, client *http.Client, locateURL string) (*model.ServerDiscoveryInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build locate request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("locate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("locate returned %s", resp.Status)
	}
	var doc locateDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode locate document: %w", err)
	}
	return serverFromLocate(doc)
}

func serverFromLocate(doc locateDocument) (*model.ServerDiscoveryInfo, error) {
	if len(doc.Results) == 0 {
		return nil, fmt.Errorf("locate document has no results")
	}
	first := doc.Results[0]
	download := first.URLs[downloadURLKey]
	upload := first.URLs[uploadURLKey]
	if download == "" || upload == "" {
		return nil, fmt.Errorf("locate result missing test endpoints")
	}
	return &model.ServerDiscoveryInfo{
		DownloadURL: download,
		UploadURL:   upload,
		Location:    fmt.Sprintf("%s, %s", first.Location.City, first.Location.Country),
	}, nil
}
