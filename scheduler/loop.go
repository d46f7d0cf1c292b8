package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"servermonitor/alert"
	"servermonitor/collector"
	"servermonitor/config"
	"servermonitor/logger"
	"servermonitor/storage"
)

// State is the loop lifecycle state.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Sampler takes one host reading per cycle.
type Sampler interface {
	Sample(ctx context.Context) collector.Sample
}

// Prober checks endpoints.
type Prober interface {
	Probe(ctx context.Context, url string) collector.ProbeResult
	ProbeAll(ctx context.Context, urls []string, workers int) []collector.ProbeResult
}

// Console shows alerts and the cycle summary to the operator.
type Console interface {
	Alerts(events []alert.Event)
	Summary(s collector.Sample)
}

// Recorder receives agent self-metrics.
type Recorder interface {
	ObserveCycle(d time.Duration)
	IncPersistErrors()
}

// Publisher receives a report after every cycle, e.g. live websocket clients.
type Publisher interface {
	Publish(r Report)
}

// Options are the static parameters of the loop.
type Options struct {
	Interval     time.Duration
	Endpoints    []string // probed in this order
	Thresholds   config.Thresholds
	ProbeWorkers int // <= 1 keeps probing strictly sequential
}

// Deps are the collaborators of the loop. Recorder and Publisher are optional.
type Deps struct {
	Sampler   Sampler
	Prober    Prober
	Store     storage.Store
	Console   Console
	Recorder  Recorder
	Publisher Publisher
	Log       *zap.Logger
}

// Loop runs sampling cycles until its context is cancelled.
type Loop struct {
	opts Options
	deps Deps

	state       atomic.Int32
	cycles      atomic.Uint64
	lastCycleAt atomic.Int64
}

// New returns a stopped loop.
func New(opts Options, deps Deps) *Loop {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Loop{opts: opts, deps: deps}
}

// State reports whether the loop is running. Safe for concurrent use.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Status is a point-in-time view of the loop for health reporting.
type Status struct {
	State       string    `json:"state"`
	Cycles      uint64    `json:"cycles"`
	LastCycleAt *time.Time `json:"last_cycle_at,omitempty"` // nil before the first cycle
}

// Status returns the current loop status. Safe for concurrent use.
func (l *Loop) Status() Status {
	st := Status{State: l.State().String(), Cycles: l.cycles.Load()}
	if v := l.lastCycleAt.Load(); v > 0 {
		at := time.Unix(0, v)
		st.LastCycleAt = &at
	}
	return st
}

// Run executes cycles back to back, sleeping Interval after each one.
// Cancellation is observed before a cycle starts and during the sleep only;
// a cycle in progress always finishes, so no observation is half-written.
func (l *Loop) Run(ctx context.Context) error {
	l.state.Store(int32(Running))
	defer l.state.Store(int32(Stopped))

	l.deps.Log.Info("monitoring loop started",
		zap.Duration("interval", l.opts.Interval),
		zap.Strings("endpoints", l.opts.Endpoints))

	for {
		if ctx.Err() != nil {
			break
		}
		l.RunCycle(ctx)
		if !sleepWithContext(ctx, l.opts.Interval) {
			break
		}
	}

	l.deps.Log.Info("monitoring loop stopped", zap.Uint64("cycles", l.cycles.Load()))
	return nil
}

// RunCycle performs exactly one cycle: sample, then for every endpoint in
// order probe, evaluate, print and append, then print the summary.
// ctx cancellation does not interrupt the cycle.
func (l *Loop) RunCycle(ctx context.Context) Report {
	start := time.Now()
	cycleID := uuid.NewString()
	log := logger.WithCycleID(l.deps.Log, cycleID)
	work := logger.WithContext(context.WithoutCancel(ctx), log)

	sample := l.deps.Sampler.Sample(work)

	var probed []collector.ProbeResult
	if l.opts.ProbeWorkers > 1 {
		probed = l.deps.Prober.ProbeAll(work, l.opts.Endpoints, l.opts.ProbeWorkers)
	}

	report := Report{
		CycleID:     cycleID,
		Timestamp:   sample.Timestamp,
		CPUPercent:  sample.CPUPercent,
		MemPercent:  sample.MemPercent,
		DiskPercent: sample.DiskPercent,
		BytesSent:   sample.NetBytesSent,
		BytesRecv:   sample.NetBytesRecv,
		Endpoints:   make([]EndpointReport, 0, len(l.opts.Endpoints)),
	}

	for i, url := range l.opts.Endpoints {
		var res collector.ProbeResult
		if probed != nil {
			res = probed[i]
		} else {
			res = l.deps.Prober.Probe(work, url)
		}

		events := alert.Evaluate(sample, res, l.opts.Thresholds)
		l.deps.Console.Alerts(events)

		persisted := true
		if err := l.deps.Store.Append(work, collector.NewObservation(sample, res)); err != nil {
			persisted = false
			log.Error("persist observation failed", zap.String("endpoint", url), zap.Error(err))
			if l.deps.Recorder != nil {
				l.deps.Recorder.IncPersistErrors()
			}
		}
		report.Endpoints = append(report.Endpoints, newEndpointReport(res, persisted))
		for _, e := range events {
			report.Alerts = append(report.Alerts, e.String())
		}
	}

	l.deps.Console.Summary(sample)

	report.Duration = time.Since(start)
	if l.deps.Recorder != nil {
		l.deps.Recorder.ObserveCycle(report.Duration)
	}
	l.cycles.Add(1)
	l.lastCycleAt.Store(time.Now().UnixNano())

	log.Info("cycle complete",
		zap.Float64("cpu_percent", sample.CPUPercent),
		zap.Float64("ram_percent", sample.MemPercent),
		zap.Float64("disk_percent", sample.DiskPercent),
		zap.String("net_sent", humanize.Bytes(sample.NetBytesSent)),
		zap.String("net_recv", humanize.Bytes(sample.NetBytesRecv)),
		zap.Int("alerts", len(report.Alerts)),
		zap.Duration("duration", report.Duration))

	if l.deps.Publisher != nil {
		l.deps.Publisher.Publish(report)
	}
	return report
}

// sleepWithContext waits for d and reports whether the loop should go on.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
