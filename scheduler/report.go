package scheduler

import (
	"time"

	"servermonitor/collector"
)

// Report summarises one cycle for live subscribers.
type Report struct {
	CycleID     string           `json:"cycle_id"`
	Timestamp   time.Time        `json:"timestamp"`
	CPUPercent  float64          `json:"cpu_percent"`
	MemPercent  float64          `json:"ram_percent"`
	DiskPercent float64          `json:"disk_percent"`
	BytesSent   uint64           `json:"bytes_sent"`
	BytesRecv   uint64           `json:"bytes_recv"`
	Endpoints   []EndpointReport `json:"endpoints"`
	Alerts      []string         `json:"alerts,omitempty"`
	Duration    time.Duration    `json:"duration_ns"`
}

// EndpointReport is one endpoint's share of a Report.
type EndpointReport struct {
	URL       string   `json:"url"`
	Available bool     `json:"available"`
	Latency   *float64 `json:"latency_seconds"`
	Persisted bool     `json:"persisted"`
}

func newEndpointReport(r collector.ProbeResult, persisted bool) EndpointReport {
	er := EndpointReport{URL: r.URL, Available: r.Available, Persisted: persisted}
	if secs, ok := r.LatencySeconds(); ok {
		er.Latency = &secs
	}
	return er
}
