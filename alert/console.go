package alert

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"servermonitor/collector"
)

// Printer writes operator-facing lines to the console and mirrors alerts
// into the structured log. The console format is for humans only.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
	log *zap.Logger
}

// NewPrinter returns a Printer writing to out.
func NewPrinter(out io.Writer, log *zap.Logger) *Printer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Printer{out: out, log: log}
}

// Banner announces the agent and where it can be scraped.
func (p *Printer) Banner(scrapeURL string) {
	p.printf("=== Starting server monitor ===\n")
	p.printf("Prometheus metrics at: %s\n", scrapeURL)
	p.printf("Press Ctrl+C to stop...\n\n")
}

// Alerts prints one line per event.
func (p *Printer) Alerts(events []Event) {
	for _, e := range events {
		p.printf("%s\n", e)

		fields := []zap.Field{
			zap.String("category", string(e.Category)),
			zap.String("severity", string(e.Severity)),
			zap.Float64("value", e.Value),
		}
		if e.Endpoint != "" {
			fields = append(fields, zap.String("endpoint", e.Endpoint))
		}
		if e.Severity == SeverityCritical {
			p.log.Error("alert", fields...)
		} else {
			p.log.Warn("alert", fields...)
		}
	}
}

// Summary prints the one-line cycle recap.
func (p *Printer) Summary(s collector.Sample) {
	p.printf("[%s] CPU: %s%% | RAM: %s%% | Disk: %s%%\n",
		s.Timestamp.Format(collector.TimestampLayout),
		FormatPercent(s.CPUPercent), FormatPercent(s.MemPercent), FormatPercent(s.DiskPercent))
}

// Stopped prints the termination notice.
func (p *Printer) Stopped() {
	p.printf("\nMonitoring stopped by user.\n")
}

func (p *Printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintf(p.out, format, args...); err != nil {
		p.log.Warn("console write failed", zap.Error(err))
	}
}
