// Package metrics holds the agent's Prometheus registry. Each Registry owns
// its own prometheus.Registry so tests never share process-wide state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"servermonitor/collector"
)

// Registry holds every metric the agent exposes.
//
// Each gauge is updated atomically on its own; a scrape landing mid-cycle may
// see CPU from this cycle and an endpoint from the previous one.
type Registry struct {
	reg *prometheus.Registry

	// Host gauges, names kept for existing dashboards
	cpuPercent  prometheus.Gauge
	ramPercent  prometheus.Gauge
	diskPercent prometheus.Gauge
	netSent     prometheus.Gauge
	netRecv     prometheus.Gauge

	// Endpoint gauges, one series per endpoint url
	endpointUp      *prometheus.GaugeVec
	endpointLatency *prometheus.GaugeVec

	// Agent self-metrics
	cyclesTotal   prometheus.Counter
	cycleDuration prometheus.Histogram
	persistErrors prometheus.Counter
	sampleErrors  *prometheus.CounterVec
}

// NewRegistry creates and registers all metrics on a fresh registry.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "system_cpu_percent",
			Help: "CPU usage (%)",
		}),
		ramPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "system_ram_percent",
			Help: "RAM usage (%)",
		}),
		diskPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "system_disk_percent",
			Help: "Disk usage (%)",
		}),
		netSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "network_bytes_sent",
			Help: "Bytes sent over the network since boot",
		}),
		netRecv: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "network_bytes_recv",
			Help: "Bytes received over the network since boot",
		}),
		endpointUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "endpoint_up",
			Help: "Endpoint availability (1=OK, 0=down)",
		}, []string{"endpoint"}),
		endpointLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "endpoint_latency_seconds",
			Help: "Endpoint latency in seconds (0 when the request failed)",
		}, []string{"endpoint"}),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "monitor",
			Name:      "cycles_total",
			Help:      "Total number of completed sampling cycles",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of a sampling cycle, sleep excluded",
			Buckets:   []float64{0.5, 1, 1.5, 2, 5, 10, 20, 30, 60},
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "monitor",
			Name:      "persist_errors_total",
			Help:      "Total number of observation rows that could not be persisted",
		}),
		sampleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "monitor",
			Name:      "sample_errors_total",
			Help:      "Total number of failed host readings by metric",
		}, []string{"metric"}),
	}

	r.reg.MustRegister(
		r.cpuPercent, r.ramPercent, r.diskPercent, r.netSent, r.netRecv,
		r.endpointUp, r.endpointLatency,
		r.cyclesTotal, r.cycleDuration, r.persistErrors, r.sampleErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry, e.g. for testutil.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveSample implements collector.HostSink.
func (r *Registry) ObserveSample(s collector.Sample) {
	r.cpuPercent.Set(s.CPUPercent)
	r.ramPercent.Set(s.MemPercent)
	r.diskPercent.Set(s.DiskPercent)
	r.netSent.Set(float64(s.NetBytesSent))
	r.netRecv.Set(float64(s.NetBytesRecv))
}

// RecordSampleError implements collector.HostSink.
func (r *Registry) RecordSampleError(metric string) {
	r.sampleErrors.WithLabelValues(metric).Inc()
}

// ObserveProbe implements collector.EndpointSink.
func (r *Registry) ObserveProbe(res collector.ProbeResult) {
	up := 0.0
	if res.Available {
		up = 1
	}
	latency, _ := res.LatencySeconds()
	r.endpointUp.WithLabelValues(res.URL).Set(up)
	r.endpointLatency.WithLabelValues(res.URL).Set(latency)
}

// ObserveCycle records one completed cycle.
func (r *Registry) ObserveCycle(d time.Duration) {
	r.cyclesTotal.Inc()
	r.cycleDuration.Observe(d.Seconds())
}

// IncPersistErrors counts one failed observation append.
func (r *Registry) IncPersistErrors() {
	r.persistErrors.Inc()
}
