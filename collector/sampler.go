package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"servermonitor/logger"
)

// HostSink receives host readings as soon as they are taken.
type HostSink interface {
	ObserveSample(s Sample)
	RecordSampleError(metric string)
}

// Sampler reads host resource utilisation. It never fails: a reading the OS
// refuses to give keeps its last known value (zero before the first success),
// so a flaky counter never aborts a cycle.
type Sampler struct {
	host        HostStats
	sink        HostSink
	diskPath    string
	cpuInterval time.Duration
	log         *zap.Logger
	now         func() time.Time

	last Sample
}

// NewSampler returns a Sampler reading from host and pushing into sink.
func NewSampler(host HostStats, sink HostSink, diskPath string, cpuInterval time.Duration, log *zap.Logger) *Sampler {
	if diskPath == "" {
		diskPath = "/"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sampler{
		host:        host,
		sink:        sink,
		diskPath:    diskPath,
		cpuInterval: cpuInterval,
		log:         log,
		now:         time.Now,
	}
}

// Sample takes one reading. The CPU reading blocks for the configured
// interval so the value is an average, not a spot value. The timestamp is
// truncated to whole seconds, the resolution of TimestampLayout, so every
// store keeps the same instant.
func (s *Sampler) Sample(ctx context.Context) Sample {
	out := Sample{Timestamp: s.now().Truncate(time.Second)}

	if v, err := s.host.CPUPercent(ctx, s.cpuInterval); err != nil {
		s.degrade(ctx, "cpu", err)
		out.CPUPercent = s.last.CPUPercent
	} else {
		out.CPUPercent = v
	}

	if v, err := s.host.MemPercent(ctx); err != nil {
		s.degrade(ctx, "ram", err)
		out.MemPercent = s.last.MemPercent
	} else {
		out.MemPercent = v
	}

	if v, err := s.host.DiskPercent(ctx, s.diskPath); err != nil {
		s.degrade(ctx, "disk", err)
		out.DiskPercent = s.last.DiskPercent
	} else {
		out.DiskPercent = v
	}

	if sent, recv, err := s.host.NetCounters(ctx); err != nil {
		s.degrade(ctx, "network", err)
		out.NetBytesSent, out.NetBytesRecv = s.last.NetBytesSent, s.last.NetBytesRecv
	} else {
		out.NetBytesSent, out.NetBytesRecv = sent, recv
	}

	s.last = out
	if s.sink != nil {
		s.sink.ObserveSample(out)
	}
	return out
}

func (s *Sampler) degrade(ctx context.Context, metric string, err error) {
	logger.FromContext(ctx, s.log).Warn("host sampling failed, keeping last known value",
		zap.String("metric", metric), zap.Error(err))
	if s.sink != nil {
		s.sink.RecordSampleError(metric)
	}
}
