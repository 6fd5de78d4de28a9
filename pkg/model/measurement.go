package model

// ServerDiscoveryInfo is resolved once per streaming run from the locate API.
type ServerDiscoveryInfo struct {
	DownloadURL string `json:"downloadUrl"`
	UploadURL   string `json:"uploadUrl"`
	Location    string `json:"location"` // "City, Country"
}

// AppInfo carries application-level counters from a measurement frame.
type AppInfo struct {
	ElapsedTime int64 `json:"ElapsedTime"` // microseconds since subtest start
	NumBytes    int64 `json:"NumBytes"`
}

// TCPInfo carries kernel-level counters from a measurement frame. Times are
// in microseconds.
type TCPInfo struct {
	MinRTT     int64 `json:"MinRTT"`
	RTT        int64 `json:"RTT"`
	BytesAcked int64 `json:"BytesAcked"`
	BytesSent  int64 `json:"BytesSent"`
}

// StreamingMeasurement mirrors the JSON control frames the streaming server
// interleaves with binary payload frames. Only the most recent frame per
// direction is retained by the client.
type StreamingMeasurement struct {
	AppInfo *AppInfo `json:"AppInfo,omitempty"`
	TCPInfo *TCPInfo `json:"TCPInfo,omitempty"`
}

// MinRTTms returns the frame's minimum round-trip time converted to
// milliseconds, or nil when the frame carries no TCP counters.
func (m StreamingMeasurement) MinRTTms() *float64 {
	if m.TCPInfo == nil || m.TCPInfo.MinRTT <= 0 {
		return nil
	}
	ms := float64(m.TCPInfo.MinRTT) / 1000.0
	return &ms
}
