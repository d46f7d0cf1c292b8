// Package alert turns one sample and one probe result into console alerts.
package alert

import (
	"fmt"
	"strconv"

	"servermonitor/collector"
	"servermonitor/config"
)

// Category is what an alert is about.
type Category string

const (
	CategoryCPU          Category = "CPU"
	CategoryRAM          Category = "RAM"
	CategoryDisk         Category = "Disk"
	CategoryAvailability Category = "Availability"
	CategoryLatency      Category = "Latency"
)

// Severity is the alert tier.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Event is a single triggered alert.
type Event struct {
	Category Category
	Severity Severity
	Value    float64 // percent for resources, seconds for latency, 0 for availability
	Endpoint string  // empty for host resource alerts
	Message  string
}

// String renders the console line for e.
func (e Event) String() string {
	return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
}

// Evaluate applies th to s and r. Each category is judged independently;
// within a category critical wins over warning.
//
// Resource percentages use inclusive bounds (>=). Latency uses exclusive
// bounds (>), and is only judged when the endpoint answered 200 with a
// measured round trip: a down endpoint yields the availability alert alone.
func Evaluate(s collector.Sample, r collector.ProbeResult, th config.Thresholds) []Event {
	var events []Event

	events = appendResource(events, CategoryCPU, s.CPUPercent, th.CPU)
	events = appendResource(events, CategoryRAM, s.MemPercent, th.RAM)
	events = appendResource(events, CategoryDisk, s.DiskPercent, th.Disk)

	if !r.Available {
		return append(events, Event{
			Category: CategoryAvailability,
			Severity: SeverityCritical,
			Endpoint: r.URL,
			Message:  fmt.Sprintf("%s: endpoint down %s", CategoryAvailability, r.URL),
		})
	}

	latency, ok := r.LatencySeconds()
	if !ok {
		return events
	}
	var sev Severity
	switch {
	case latency > th.Latency.Critical:
		sev = SeverityCritical
	case latency > th.Latency.Warning:
		sev = SeverityWarning
	default:
		return events
	}
	return append(events, Event{
		Category: CategoryLatency,
		Severity: sev,
		Value:    latency,
		Endpoint: r.URL,
		Message:  fmt.Sprintf("%s: %s %.2f s", CategoryLatency, r.URL, latency),
	})
}

func appendResource(events []Event, cat Category, v float64, p config.Pair) []Event {
	var sev Severity
	switch {
	case v >= p.Critical:
		sev = SeverityCritical
	case v >= p.Warning:
		sev = SeverityWarning
	default:
		return events
	}
	return append(events, Event{
		Category: cat,
		Severity: sev,
		Value:    v,
		Message:  fmt.Sprintf("%s at %s%%", cat, FormatPercent(v)),
	})
}

// FormatPercent prints a percentage in its shortest exact form (91, 12.5).
func FormatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
