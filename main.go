package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"servermonitor/alert"
	"servermonitor/collector"
	"servermonitor/config"
	"servermonitor/logger"
	"servermonitor/metrics"
	"servermonitor/scheduler"
	"servermonitor/server"
	"servermonitor/storage"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a yaml config file (default ./configs/config.yaml if present)")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}
	defer logger.Flush(log.Logger)
	log.Logger.Info("Logger initialized", zap.String("level", cfg.LogLevel))

	reg := metrics.NewRegistry()

	csvLog := storage.NewCSVLog(cfg.OutputPath, log.Logger)
	var (
		store   storage.Store = csvLog
		querier storage.Querier
	)
	if cfg.SQLite.Enabled {
		db, err := storage.NewSQLite(cfg.SQLite.Path, log.Logger)
		if err != nil {
			return fmt.Errorf("creating SQLite DB: %w", err)
		}
		store = storage.Multi{csvLog, db}
		querier = db
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Logger.Error("closing observation store", zap.Error(err))
		}
	}()

	sampler := collector.NewSampler(collector.GopsutilHost{}, reg,
		cfg.Sampler.DiskPath, cfg.Sampler.CPUInterval, log.Logger)
	prober := collector.NewProber(collector.ProberOptions{
		Timeout:            cfg.Probe.Timeout,
		InsecureSkipVerify: cfg.Probe.InsecureSkipVerify,
		UserAgent:          cfg.Probe.UserAgent,
	}, reg, log.Logger)
	if cfg.Probe.InsecureSkipVerify {
		log.Logger.Warn("TLS certificate verification is disabled for endpoint probes")
	}

	console := alert.NewPrinter(os.Stdout, log.Logger)
	hub := server.NewHub(log.Logger)

	loop := scheduler.New(scheduler.Options{
		Interval:     cfg.Interval,
		Endpoints:    cfg.Endpoints,
		Thresholds:   cfg.Thresholds,
		ProbeWorkers: cfg.Probe.Workers,
	}, scheduler.Deps{
		Sampler:   sampler,
		Prober:    prober,
		Store:     store,
		Console:   console,
		Recorder:  reg,
		Publisher: hub,
		Log:       log.Logger,
	})

	srv := server.New(server.Config{
		Addr:            cfg.ListenAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, reg.Handler(), loop, querier, hub, log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bind before the first cycle so no sample is ever unscrapeable.
	ln, err := srv.Listen()
	if err != nil {
		return err
	}
	console.Banner(scrapeURL(ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })
	g.Go(func() error { return loop.Run(gctx) })
	err = g.Wait()

	if errors.Is(ctx.Err(), context.Canceled) {
		console.Stopped()
	}
	return err
}

// scrapeURL turns a listener address into a URL an operator can open.
func scrapeURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/metrics"
	}
	if host == "" || host == "::" {
		host = "0.0.0.0"
	}
	return "http://" + net.JoinHostPort(host, port) + "/metrics"
}
