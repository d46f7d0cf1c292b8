package collector

import "time"

// TimestampLayout is how sample times are printed and persisted (local time).
const TimestampLayout = "2006-01-02 15:04:05"

// Sample is one point-in-time reading of host resources.
type Sample struct {
	Timestamp    time.Time
	CPUPercent   float64 // blocking-interval average, [0,100]
	MemPercent   float64 // [0,100]
	DiskPercent  float64 // [0,100]
	NetBytesSent uint64  // cumulative since boot, not a rate
	NetBytesRecv uint64  // cumulative since boot, not a rate
}

// ProbeResult is the outcome of a single GET against one endpoint.
type ProbeResult struct {
	URL       string
	Available bool
	// Latency is the full round trip; only meaningful when Measured is set.
	Latency  time.Duration
	Measured bool
	// Err describes why the probe failed. Diagnostic only, never persisted.
	Err string
}

// LatencySeconds returns the latency in seconds and whether one was measured.
func (r ProbeResult) LatencySeconds() (float64, bool) {
	if !r.Measured {
		return 0, false
	}
	return r.Latency.Seconds(), true
}

// Observation is the persisted unit: one sample crossed with one probe result.
type Observation struct {
	Sample
	Endpoint  string
	Available bool
	// Latency is nil when the request failed or timed out.
	Latency *float64
}

// NewObservation combines s and r into a row.
func NewObservation(s Sample, r ProbeResult) Observation {
	o := Observation{
		Sample:    s,
		Endpoint:  r.URL,
		Available: r.Available,
	}
	if secs, ok := r.LatencySeconds(); ok {
		o.Latency = &secs
	}
	return o
}
