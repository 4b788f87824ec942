// Package config handles loading, validating, and writing the codexplusd
// proxy configuration from ~/.codexplus/config.yaml.
//
// The config defines:
//   - Server bind address (host:port)
//   - Upstream provider allow-list and base URL resolution
//   - Streaming/transform behavior
//   - Hook and slash-command directory search paths
//   - Performance thresholds, baseline, and monitoring settings
//   - Dashboard toggle
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level codexplusd configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Streaming   StreamingConfig   `yaml:"streaming"`
	Hooks       HooksConfig       `yaml:"hooks"`
	SlashCmd    SlashCmdConfig    `yaml:"slashCommands"`
	Logging     LoggingConfig     `yaml:"logging"`
	Performance PerformanceConfig `yaml:"performance"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// ServerConfig defines where the proxy listens.
// Default: 127.0.0.1:10000 (loopback only).
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxBodyBytes   int64  `yaml:"maxBodyBytes"`
}

// UpstreamConfig controls base URL resolution and dialect selection
// (spec.md §4.6, §6).
type UpstreamConfig struct {
	BaseURLFile  string   `yaml:"baseUrlFile"`
	DefaultURL   string   `yaml:"defaultUrl"`
	AllowedHosts []string `yaml:"allowedHosts"`
	ProviderMode string   `yaml:"providerMode"`
	Dialect      string   `yaml:"dialect"` // "responses" or "chat-completions": the upstream's wire dialect
}

// StreamingConfig controls transform/passthrough behavior and default
// field injection (spec.md §4.4 step 6).
type StreamingConfig struct {
	DefaultTemperature float64 `yaml:"defaultTemperature"`
	DefaultMaxTokens   int     `yaml:"defaultMaxTokens"`
}

// HooksConfig lists the ordered hook directories (spec.md §4.2, §6).
type HooksConfig struct {
	Directories    []string `yaml:"directories"`
	SubprocessTimeoutMs int `yaml:"subprocessTimeoutMs"`
}

// SlashCmdConfig lists the precedence-ordered slash-command directories
// (spec.md §4.3, §6).
type SlashCmdConfig struct {
	Directories []string `yaml:"directories"`
}

// LoggingConfig controls the request/response logger (C9) output root.
type LoggingConfig struct {
	Product string `yaml:"product"`
	Root    string `yaml:"root"`
}

// DashboardConfig controls the web dashboard served alongside the proxy.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses config.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.yaml with all fields populated
// and a comment header.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# codexplusd proxy configuration
#
# server: bind address and request body size limit
# upstream: base URL resolution (file > env > default) and host allow-list
# streaming: default fields injected when the payload transformer runs
# hooks: ordered hook directories, subprocess timeout
# slashCommands: precedence-ordered command directories
# performance: thresholds/baseline/monitoring for the metric sink

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// applyDefaults returns a Config with all fields set to their default
// values (spec.md §6).
func applyDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         10000,
			MaxBodyBytes: 8 * 1024 * 1024,
		},
		Upstream: UpstreamConfig{
			DefaultURL:   "https://chatgpt.com/backend-api/codex",
			AllowedHosts: []string{"chatgpt.com", "api.cerebras.ai", "api.openai.com"},
			ProviderMode: "openai",
			Dialect:      "chat-completions",
		},
		Streaming: StreamingConfig{
			DefaultTemperature: 0.2,
			DefaultMaxTokens:   4096,
		},
		Hooks: HooksConfig{
			Directories:         []string{".codexplus/hooks", ".claude/hooks"},
			SubprocessTimeoutMs: 10000,
		},
		SlashCmd: SlashCmdConfig{
			Directories: []string{".codexplus/commands", ".claude/commands"},
		},
		Logging: LoggingConfig{
			Product: "codexplus",
			Root:    "/tmp",
		},
		Performance: DefaultPerformanceConfig(),
		Dashboard: DashboardConfig{
			Enabled: true,
		},
	}
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.maxBodyBytes must be positive")
	}
	if len(cfg.Upstream.AllowedHosts) == 0 {
		return fmt.Errorf("upstream.allowedHosts must not be empty")
	}
	if cfg.Streaming.DefaultMaxTokens <= 0 {
		return fmt.Errorf("streaming.defaultMaxTokens must be positive")
	}
	return nil
}

// applyEnvOverrides applies the recognised environment variables
// (spec.md §6) on top of the parsed file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CODEX_PLUS_UPSTREAM_URL"); v != "" {
		cfg.Upstream.DefaultURL = v
	}
	if v := os.Getenv("CODEXPLUS_PROVIDER_BASE_URL_FILE"); v != "" {
		cfg.Upstream.BaseURLFile = v
	}
	if v := os.Getenv("CODEX_PLUS_PROVIDER_MODE"); v != "" {
		cfg.Upstream.ProviderMode = v
	}
	if v := os.Getenv("CODEX_PERFORMANCE_MONITORING"); v != "" {
		cfg.Performance.Monitoring.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CODEX_COORDINATION_THRESHOLD_MS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Performance.Thresholds.CoordinationOverheadCriticalMs = f
		}
	}
	if v := os.Getenv("CODEX_BASELINE_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Performance.Baseline.MinSamplesForBaseline = n
		}
	}
	if v := os.Getenv("CODEX_BASELINE_MEASUREMENT_HOURS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Performance.Baseline.MeasurementPeriodHours = f
		}
	}
	if v := os.Getenv("CODEX_CI_EXPORT_FILE"); v != "" {
		cfg.Performance.Monitoring.CIExportFile = v
	}
	if v := os.Getenv("CODEX_CI_FAIL_ON_VIOLATION"); v != "" {
		cfg.Performance.Monitoring.CIFailOnThresholdViolation = strings.EqualFold(v, "true")
	}
}
