package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/client"
)

// Config represents the complete application configuration, layered as:
// Layer 1: embedded defaults (defaults.yaml)
// Layer 2: user overrides (~/.config/searchlens/config.yaml)
// Layer 3: environment variables and runtime overrides
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Store        StoreConfig        `mapstructure:"store"`
	Cluster      ClusterConfig      `mapstructure:"cluster"`
	Backpressure BackpressureConfig `mapstructure:"backpressure"`
	Stats        StatsConfig        `mapstructure:"stats"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Health       HealthConfig       `mapstructure:"health"`
	Debug        DebugConfig        `mapstructure:"debug"`
	Workers      int                `mapstructure:"workers"`

	// ThrottleLimits caps requests per minute per endpoint address.
	ThrottleLimits map[string]int `mapstructure:"throttle_limits"`
	ThrottleMargin float64        `mapstructure:"throttle_margin"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// ClusterConfig describes how to reach the search cluster.
type ClusterConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	Scheme         string        `mapstructure:"scheme"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DiscoverNodes  bool          `mapstructure:"discover_nodes"`
	// RequestsPerSecond enables an outbound token bucket when positive.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// BackpressureConfig is the retry policy applied to throttled requests.
type BackpressureConfig struct {
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	MaxRetries       int           `mapstructure:"max_retries"`
	MaxElapsed       time.Duration `mapstructure:"max_elapsed"`
	JitterMin        float64       `mapstructure:"jitter_min"`
	JitterMax        float64       `mapstructure:"jitter_max"`
	TransportRetries int           `mapstructure:"transport_retries"`
	StatsWindow      time.Duration `mapstructure:"stats_window"`
}

// StatsConfig controls persistence of backpressure snapshots.
type StatsConfig struct {
	Persist          bool          `mapstructure:"persist"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// Policy converts the backpressure section into a client retry policy.
func (b BackpressureConfig) Policy() client.Policy {
	return client.Policy{
		BaseDelay:        b.BaseDelay,
		MaxDelay:         b.MaxDelay,
		MaxRetries:       b.MaxRetries,
		MaxElapsed:       b.MaxElapsed,
		JitterMin:        b.JitterMin,
		JitterMax:        b.JitterMax,
		TransportRetries: b.TransportRetries,
	}
}

// ParseEndpoints parses the configured endpoint list.
func (c ClusterConfig) ParseEndpoints() ([]core.Endpoint, error) {
	endpoints := make([]core.Endpoint, 0, len(c.Endpoints))
	for _, raw := range c.Endpoints {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		ep, err := core.ParseEndpoint(raw, c.Scheme)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("cluster.endpoints is empty")
	}
	return endpoints, nil
}

// Validate checks the sections that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := c.Cluster.ParseEndpoints(); err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	if err := c.Backpressure.Policy().Validate(); err != nil {
		return fmt.Errorf("backpressure: %w", err)
	}
	if c.Cluster.RequestsPerSecond < 0 {
		return fmt.Errorf("cluster: requests_per_second must not be negative")
	}
	if c.ThrottleMargin < 0 || c.ThrottleMargin > 1 {
		return fmt.Errorf("throttle_margin must be within [0, 1]")
	}
	return nil
}
