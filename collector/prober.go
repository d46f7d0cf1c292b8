package collector

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"servermonitor/logger"
)

// DefaultProbeTimeout bounds a single probe, connection setup included.
const DefaultProbeTimeout = 10 * time.Second

// EndpointSink receives each probe result as soon as it is known.
type EndpointSink interface {
	ObserveProbe(r ProbeResult)
}

// ProberOptions configures NewProber.
type ProberOptions struct {
	Timeout time.Duration
	// InsecureSkipVerify turns off TLS certificate checks. Unsafe; kept for
	// parity with the legacy agent, which probed self-signed hosts.
	InsecureSkipVerify bool
	UserAgent          string
}

// Prober issues single GET requests and classifies the outcome.
// Only an exact 200 counts as available; 201, 204, 3xx that are not
// followed, 4xx and 5xx are all reported as down.
type Prober struct {
	HTTP      *http.Client // injected for testability
	UserAgent string
	Sink      EndpointSink
	Log       *zap.Logger
}

// NewProber returns a ready-to-use prober.
func NewProber(opts ProberOptions, sink EndpointSink, log *zap.Logger) *Prober {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// A fresh connection per probe so latency always includes connection setup.
	transport.DisableKeepAlives = true
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}
	return &Prober{
		HTTP:      &http.Client{Timeout: opts.Timeout, Transport: transport},
		UserAgent: opts.UserAgent,
		Sink:      sink,
		Log:       log,
	}
}

// Probe performs exactly one attempt against url. It never returns an error:
// every failure is folded into ProbeResult.Available.
func (p *Prober) Probe(ctx context.Context, url string) ProbeResult {
	res := p.do(ctx, url)
	log := logger.FromContext(ctx, p.Log)
	if res.Err != "" {
		log.Debug("probe failed", zap.String("endpoint", url), zap.String("reason", res.Err))
	} else {
		log.Debug("probe done", zap.String("endpoint", url), zap.Duration("latency", res.Latency))
	}
	if p.Sink != nil {
		p.Sink.ObserveProbe(res)
	}
	return res
}

func (p *Prober) do(ctx context.Context, url string) ProbeResult {
	res := ProbeResult{URL: url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.Err = fmt.Sprintf("new request: %v", err)
		return res
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	start := time.Now()
	resp, err := p.HTTP.Do(req)
	if err != nil {
		res.Err = fmt.Sprintf("http do: %v", err)
		return res
	}
	defer resp.Body.Close()

	// The response counts as received once the body has been read.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		res.Err = fmt.Sprintf("read body: %v", err)
		return res
	}
	res.Latency = time.Since(start)
	res.Measured = true
	res.Available = resp.StatusCode == http.StatusOK
	if !res.Available {
		res.Err = fmt.Sprintf("unexpected status %s", resp.Status)
	}
	return res
}

// ProbeAll probes every url and returns the results in the order given.
// With workers <= 1 the probes run strictly one after another; otherwise at
// most workers probes are in flight at once.
func (p *Prober) ProbeAll(ctx context.Context, urls []string, workers int) []ProbeResult {
	results := make([]ProbeResult, len(urls))
	if workers <= 1 {
		for i, u := range urls {
			results[i] = p.Probe(ctx, u)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = p.Probe(ctx, u)
			return nil
		})
	}
	_ = g.Wait() // probes never fail
	return results
}
