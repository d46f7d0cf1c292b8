package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure returned from Load.
var ErrInvalid = errors.New("invalid config")

// EnvPrefix prefixes every environment override, e.g. MONITOR_INTERVAL=30s.
const EnvPrefix = "MONITOR"

// Config holds every configurable value for the agent.
type Config struct {
	// Sampling cadence and targets
	Interval  time.Duration `mapstructure:"interval"`  // pause between cycles
	Endpoints []string      `mapstructure:"endpoints"` // probed in this order every cycle

	// Persistence
	OutputPath string       `mapstructure:"output_path"` // CSV observation log
	SQLite     SQLiteConfig `mapstructure:"sqlite"`

	// Server
	ListenAddr      string        `mapstructure:"listen_addr"` // scrape endpoint, e.g. ":8000"
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"` // debug|info|warn|error

	Sampler    SamplerConfig `mapstructure:"sampler"`
	Probe      ProbeConfig   `mapstructure:"probe"`
	Thresholds Thresholds    `mapstructure:"thresholds"`
}

// SamplerConfig tunes host resource sampling.
type SamplerConfig struct {
	DiskPath    string        `mapstructure:"disk_path"`    // filesystem whose usage is reported
	CPUInterval time.Duration `mapstructure:"cpu_interval"` // blocking window for the CPU average
}

// ProbeConfig tunes endpoint probing.
type ProbeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// InsecureSkipVerify disables TLS certificate verification. It defaults to
	// true to match the legacy agent, which leaves probes open to MITM. Set it
	// to false wherever the endpoints present valid certificates.
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	Workers            int    `mapstructure:"workers"` // 1 = strictly sequential
	UserAgent          string `mapstructure:"user_agent"`
}

// SQLiteConfig controls the optional queryable mirror of the CSV log.
type SQLiteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Pair is a warning/critical threshold pair.
type Pair struct {
	Warning  float64 `mapstructure:"warning"`
	Critical float64 `mapstructure:"critical"`
}

// Thresholds are the alerting limits. Resource pairs are percentages,
// the latency pair is in seconds.
type Thresholds struct {
	CPU     Pair `mapstructure:"cpu"`
	RAM     Pair `mapstructure:"ram"`
	Disk    Pair `mapstructure:"disk"`
	Latency Pair `mapstructure:"latency"`
}

// SetDefaults registers the legacy defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("interval", 10*time.Second)
	v.SetDefault("endpoints", []string{})
	v.SetDefault("output_path", "metrics.csv")
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("log_level", "info")

	v.SetDefault("sampler.disk_path", "/")
	v.SetDefault("sampler.cpu_interval", time.Second)

	v.SetDefault("probe.timeout", 10*time.Second)
	v.SetDefault("probe.insecure_skip_verify", true)
	v.SetDefault("probe.workers", 1)
	v.SetDefault("probe.user_agent", "server-monitor/1.0")

	v.SetDefault("thresholds.cpu.warning", 80)
	v.SetDefault("thresholds.cpu.critical", 90)
	v.SetDefault("thresholds.ram.warning", 75)
	v.SetDefault("thresholds.ram.critical", 90)
	v.SetDefault("thresholds.disk.warning", 80)
	v.SetDefault("thresholds.disk.critical", 95)
	v.SetDefault("thresholds.latency.warning", 2)
	v.SetDefault("thresholds.latency.critical", 5)

	v.SetDefault("sqlite.enabled", false)
	v.SetDefault("sqlite.path", "./data/observations.db")
}

// Load reads configuration from (in decreasing priority):
//  1. environment variables (e.g. MONITOR_LISTEN_ADDR, MONITOR_THRESHOLDS_CPU_WARNING)
//  2. the yaml file at path, or ./configs/config.yaml if path is empty and it exists
//  3. built-in defaults
//
// It returns a fully populated, validated *Config or an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	// Environment variables - nested keys map "." to "_"
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the rest of the agent relies on.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0", ErrInvalid)
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("%w: at least one endpoint is required", ErrInvalid)
	}
	for _, raw := range c.Endpoints {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: endpoint %q must be an absolute http(s) URL", ErrInvalid, raw)
		}
	}
	if strings.TrimSpace(c.OutputPath) == "" {
		return fmt.Errorf("%w: output_path must not be empty", ErrInvalid)
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr must not be empty", ErrInvalid)
	}
	if c.SQLite.Enabled && strings.TrimSpace(c.SQLite.Path) == "" {
		return fmt.Errorf("%w: sqlite.path is required when sqlite is enabled", ErrInvalid)
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("%w: probe.timeout must be > 0", ErrInvalid)
	}
	if c.Probe.Workers < 1 {
		return fmt.Errorf("%w: probe.workers must be >= 1", ErrInvalid)
	}
	if c.Sampler.CPUInterval < 0 {
		return fmt.Errorf("%w: sampler.cpu_interval must not be negative", ErrInvalid)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown_timeout must be > 0", ErrInvalid)
	}
	for name, p := range map[string]Pair{"cpu": c.Thresholds.CPU, "ram": c.Thresholds.RAM, "disk": c.Thresholds.Disk} {
		if p.Warning < 0 || p.Critical > 100 {
			return fmt.Errorf("%w: thresholds.%s must be within [0,100]", ErrInvalid, name)
		}
		if p.Warning > p.Critical {
			return fmt.Errorf("%w: thresholds.%s.warning must not exceed critical", ErrInvalid, name)
		}
	}
	if c.Thresholds.Latency.Warning <= 0 || c.Thresholds.Latency.Critical <= 0 {
		return fmt.Errorf("%w: thresholds.latency must be > 0", ErrInvalid)
	}
	if c.Thresholds.Latency.Warning > c.Thresholds.Latency.Critical {
		return fmt.Errorf("%w: thresholds.latency.warning must not exceed critical", ErrInvalid)
	}
	return nil
}
