// Package config provides centralized configuration management for searchlens.
// It implements a three-layer config pattern:
// Layer 1: embedded defaults (defaults.yaml)
// Layer 2: user overrides (discovered via app identity)
// Layer 3: environment variables and runtime overrides
package config

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/searchlens/searchlens/internal/appid"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity

	// explicitConfigFile is set from the --config flag and wins over the
	// environment and XDG discovery.
	explicitConfigFile string
)

// SetConfigFile pins the layer 2 file. An empty path restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	explicitConfigFile = strings.TrimSpace(path)
}

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load loads configuration using the three-layer pattern. Later layers win:
// defaults < user config file < environment < runtime overrides.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	// "::" keeps dotted hostnames in throttle_limits keys intact
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultsYAML)); err != nil {
		return nil, fmt.Errorf("failed to read config defaults: %w", err)
	}

	path, err := userConfigFile()
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read user config %s: %w", path, err)
		}
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if envOverrides == nil {
		envOverrides = map[string]any{}
	}
	if err := applyFloatEnvOverrides(envPrefix(), envOverrides); err != nil {
		return nil, err
	}

	// Combine environment overrides with runtime overrides
	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)
	for _, overrides := range allOverrides {
		if len(overrides) == 0 {
			continue
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to merge overrides: %w", err)
		}
	}

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = defaultStorePath()
	}
	cfg.Cluster.Endpoints = trimList(cfg.Cluster.Endpoints)

	setConfig(cfg)

	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func envPrefix() string {
	if appIdentity == nil {
		return ""
	}
	prefix := appIdentity.EnvPrefix
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// getUserConfigPaths returns the list of user config file paths to check
// Uses gofulmen/config for XDG-compliant path discovery
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}

	appName := appIdentity.ConfigName
	if strings.TrimSpace(appName) == "" {
		appName = appIdentity.BinaryName
	}
	if strings.TrimSpace(appName) == "" {
		appName = "searchlens"
	}

	legacyNames := []string{}
	if appIdentity.BinaryName != "" && appIdentity.BinaryName != appName {
		legacyNames = append(legacyNames, appIdentity.BinaryName)
	}

	return gfconfig.GetAppConfigPaths(appName, legacyNames...)
}

// userConfigFile resolves the layer 2 file. SetConfigFile or {PREFIX}CONFIG name it
// explicitly and must exist; otherwise the first XDG candidate present wins.
func userConfigFile() (string, error) {
	configMu.RLock()
	pinned := explicitConfigFile
	configMu.RUnlock()
	if pinned != "" {
		if _, err := os.Stat(pinned); err != nil {
			return "", fmt.Errorf("config file %s: %w", pinned, err)
		}
		return pinned, nil
	}
	if prefix := envPrefix(); prefix != "" {
		if explicit := strings.TrimSpace(os.Getenv(prefix + "CONFIG")); explicit != "" {
			if _, err := os.Stat(explicit); err != nil {
				return "", fmt.Errorf("config file %s: %w", explicit, err)
			}
			return explicit, nil
		}
	}
	return firstExisting(getUserConfigPaths()), nil
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	if appIdentity == nil {
		return []EnvVarSpec{}
	}

	prefix := envPrefix()

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Cluster config; endpoints are comma separated
		{Name: prefix + "CLUSTER_ENDPOINTS", Path: []string{"cluster", "endpoints"}, Type: EnvString},
		{Name: prefix + "CLUSTER_SCHEME", Path: []string{"cluster", "scheme"}, Type: EnvString},
		{Name: prefix + "CLUSTER_USERNAME", Path: []string{"cluster", "username"}, Type: EnvString},
		{Name: prefix + "CLUSTER_PASSWORD", Path: []string{"cluster", "password"}, Type: EnvString},
		{Name: prefix + "CLUSTER_REQUEST_TIMEOUT", Path: []string{"cluster", "request_timeout"}, Type: EnvString},
		{Name: prefix + "CLUSTER_DISCOVER_NODES", Path: []string{"cluster", "discover_nodes"}, Type: EnvBool},
		{Name: prefix + "CLUSTER_BURST", Path: []string{"cluster", "burst"}, Type: EnvInt},

		// Backpressure policy
		{Name: prefix + "BACKPRESSURE_BASE_DELAY", Path: []string{"backpressure", "base_delay"}, Type: EnvString},
		{Name: prefix + "BACKPRESSURE_MAX_DELAY", Path: []string{"backpressure", "max_delay"}, Type: EnvString},
		{Name: prefix + "BACKPRESSURE_MAX_RETRIES", Path: []string{"backpressure", "max_retries"}, Type: EnvInt},
		{Name: prefix + "BACKPRESSURE_MAX_ELAPSED", Path: []string{"backpressure", "max_elapsed"}, Type: EnvString},
		{Name: prefix + "BACKPRESSURE_TRANSPORT_RETRIES", Path: []string{"backpressure", "transport_retries"}, Type: EnvInt},
		{Name: prefix + "BACKPRESSURE_STATS_WINDOW", Path: []string{"backpressure", "stats_window"}, Type: EnvString},

		{Name: prefix + "STATS_PERSIST", Path: []string{"stats", "persist"}, Type: EnvBool},
		{Name: prefix + "STATS_SNAPSHOT_INTERVAL", Path: []string{"stats", "snapshot_interval"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},

		// Workers
		{Name: prefix + "WORKERS", Path: []string{"workers"}, Type: EnvInt},
	}
}

// floatEnvVars are float-valued settings; gofulmen env specs only cover
// strings, ints and bools.
var floatEnvVars = map[string][]string{
	"CLUSTER_REQUESTS_PER_SECOND": {"cluster", "requests_per_second"},
	"BACKPRESSURE_JITTER_MIN":     {"backpressure", "jitter_min"},
	"BACKPRESSURE_JITTER_MAX":     {"backpressure", "jitter_max"},
	"THROTTLE_MARGIN":             {"throttle_margin"},
}

func applyFloatEnvOverrides(prefix string, envOverrides map[string]any) error {
	if prefix == "" {
		return nil
	}
	for suffix, path := range floatEnvVars {
		value := strings.TrimSpace(os.Getenv(prefix + suffix))
		if value == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", prefix, suffix, err)
		}
		parent := envOverrides
		for _, key := range path[:len(path)-1] {
			parent = ensureMap(parent, key)
		}
		parent[path[len(path)-1]] = parsed
	}
	return nil
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "searchlens" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "searchlens"
	binaryName = "searchlens"
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultCacheDir returns the XDG-compliant cache directory for the app.
func DefaultCacheDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppCacheDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

// defaultStorePath is an unexported alias for internal use.
func defaultStorePath() string {
	return DefaultStorePath()
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
