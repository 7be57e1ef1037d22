// Package config loads ace configuration.
//
// Values come from a YAML file overlaid by ACE_-prefixed environment
// variables; anything left unset takes the defaults from Default.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ce-dot-net/ace/internal/pattern"
	"github.com/ce-dot-net/ace/internal/similarity"
)

// Config holds the complete ace configuration.
type Config struct {
	Curation   pattern.Thresholds `koanf:"curation"`
	Similarity similarity.Config  `koanf:"similarity"`
	Embeddings EmbeddingsConfig   `koanf:"embeddings"`
	Oracle     OracleConfig       `koanf:"oracle"`
	Evidence   EvidenceConfig     `koanf:"evidence"`
	Secrets    SecretsConfig      `koanf:"secrets"`
	Store      StoreConfig        `koanf:"store"`
	Playbook   PlaybookConfig     `koanf:"playbook"`
	Detect     DetectConfig       `koanf:"detect"`
	Logging    LoggingConfig      `koanf:"logging"`
	Telemetry  TelemetryConfig    `koanf:"telemetry"`
}

// EmbeddingsConfig selects the embedding backend used by semantic and
// blended similarity.
type EmbeddingsConfig struct {
	// Provider is "none", "tei" or "fastembed".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	CacheDir string `koanf:"cache_dir"`
}

// OracleConfig selects how verdicts are produced.
type OracleConfig struct {
	// Provider is "heuristic" or "anthropic".
	Provider string   `koanf:"provider"`
	Model    string   `koanf:"model"`
	BaseURL  string   `koanf:"base_url"`
	APIKey   Secret   `koanf:"api_key"`
	Timeout  Duration `koanf:"timeout"`
	// RateLimit is requests per second.
	RateLimit float64 `koanf:"rate_limit"`
	// MaxRounds bounds iterative refinement; 1 disables it.
	MaxRounds      int     `koanf:"max_rounds"`
	MinImprovement float64 `koanf:"min_improvement"`
}

// EvidenceConfig describes how test evidence is gathered.
type EvidenceConfig struct {
	// Command is the test command; empty means no evidence.
	Command []string `koanf:"command"`
	Timeout Duration `koanf:"timeout"`
}

// SecretsConfig controls redaction of code and test logs sent to a remote
// oracle.
type SecretsConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Replacement string `koanf:"replacement"`
	// Allow holds regexes; matches against them are never redacted.
	Allow []string `koanf:"allow_list"`
	// AllowlistFile is a gitleaks-style TOML file adding more regexes.
	AllowlistFile string `koanf:"allowlist_file"`
}

// StoreConfig selects the pattern library backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
}

// PlaybookConfig locates the published playbook.
type PlaybookConfig struct {
	Path        string `koanf:"path"`
	HistoryPath string `koanf:"history_path"`
	// Disabled skips publishing after a cycle.
	Disabled bool `koanf:"disabled"`
}

// DetectConfig points at an optional YAML rule catalog used instead of the
// builtin one, and lists the files whose paths cycles never inspect.
type DetectConfig struct {
	CatalogPath string `koanf:"catalog_path"`
	// IgnoreFiles are gitignore-style files read from the project root.
	IgnoreFiles []string `koanf:"ignore_files"`
	// Ignore holds extra patterns in the same syntax.
	Ignore []string `koanf:"ignore"`
}

// LoggingConfig holds the process logger settings.
type LoggingConfig struct {
	Level    string            `koanf:"level"`
	Format   string            `koanf:"format"`
	Sampling bool              `koanf:"sampling"`
	Fields   map[string]string `koanf:"fields"`
	// OTel also sends records to the global OpenTelemetry log provider.
	OTel bool `koanf:"otel"`
}

// TelemetryConfig controls OpenTelemetry trace and metric export.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	// Protocol is "grpc" or "http/protobuf".
	Protocol      string   `koanf:"protocol"`
	ServiceName   string   `koanf:"service_name"`
	Insecure      bool     `koanf:"insecure"`
	TLSSkipVerify bool     `koanf:"tls_skip_verify"`
	SampleRate    float64  `koanf:"sample_rate"`
	Metrics       bool     `koanf:"metrics"`
	Interval      Duration `koanf:"export_interval"`
	Shutdown      Duration `koanf:"shutdown_timeout"`
}

var ErrInvalidConfig = errors.New("invalid config")

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Curation:   pattern.DefaultThresholds(),
		Similarity: similarity.DefaultConfig(),
		Embeddings: EmbeddingsConfig{
			Provider: "none",
			Model:    "BAAI/bge-small-en-v1.5",
			BaseURL:  "http://localhost:8080",
		},
		Oracle: OracleConfig{
			Provider:       "heuristic",
			Timeout:        Duration(60 * time.Second),
			MaxRounds:      5,
			MinImprovement: 0.05,
		},
		Evidence: EvidenceConfig{Timeout: Duration(10 * time.Second)},
		Secrets:  SecretsConfig{Enabled: true, Replacement: "[REDACTED]", AllowlistFile: ".gitleaks.toml"},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    ".ace-memory/patterns.db",
		},
		Playbook: PlaybookConfig{
			Path:        "CLAUDE.md",
			HistoryPath: ".ace-memory/playbook_history.jsonl",
		},
		Detect: DetectConfig{
			IgnoreFiles: []string{".gitignore", ".aceignore"},
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "ace",
			Insecure:    true,
			SampleRate:  1,
			Metrics:     true,
			Interval:    Duration(15 * time.Second),
			Shutdown:    Duration(5 * time.Second),
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Curation.Validate(); err != nil {
		return fmt.Errorf("curation: %w", err)
	}
	if err := c.Similarity.Validate(); err != nil {
		return fmt.Errorf("similarity: %w", err)
	}

	switch c.Embeddings.Provider {
	case "", "none", "fastembed":
	case "tei":
		if c.Embeddings.BaseURL == "" {
			return fmt.Errorf("%w: embeddings.base_url required for tei", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown embeddings provider %q", ErrInvalidConfig, c.Embeddings.Provider)
	}

	switch c.Oracle.Provider {
	case "heuristic":
	case "anthropic":
		if !c.Oracle.APIKey.IsSet() {
			return fmt.Errorf("%w: oracle.api_key (or ANTHROPIC_API_KEY) required for anthropic", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown oracle provider %q", ErrInvalidConfig, c.Oracle.Provider)
	}
	if c.Oracle.MaxRounds < 1 {
		return fmt.Errorf("%w: oracle.max_rounds must be >= 1", ErrInvalidConfig)
	}
	if c.Oracle.MinImprovement < 0 {
		return fmt.Errorf("%w: oracle.min_improvement must be >= 0", ErrInvalidConfig)
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path required for sqlite", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}

	if !c.Playbook.Disabled && c.Playbook.Path == "" {
		return fmt.Errorf("%w: playbook.path required", ErrInvalidConfig)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: logging.format must be 'json' or 'console', got %q", ErrInvalidConfig, c.Logging.Format)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: telemetry: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validate checks the telemetry section. A disabled section is always valid.
func (t TelemetryConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	switch {
	case t.Endpoint == "":
		return errors.New("endpoint is required when telemetry is enabled")
	case t.ServiceName == "":
		return errors.New("service_name is required when telemetry is enabled")
	case t.Protocol != "grpc" && t.Protocol != "http/protobuf":
		return fmt.Errorf("protocol must be grpc or http/protobuf, got %q", t.Protocol)
	case t.Insecure && !isLocalEndpoint(t.Endpoint):
		return errors.New("insecure export is only allowed to localhost")
	case t.SampleRate < 0 || t.SampleRate > 1:
		return fmt.Errorf("sample_rate must be between 0 and 1, got %g", t.SampleRate)
	case t.Metrics && t.Interval.Duration() <= 0:
		return errors.New("export_interval must be positive")
	case t.Shutdown.Duration() <= 0:
		return errors.New("shutdown_timeout must be positive")
	}
	return nil
}

func isLocalEndpoint(endpoint string) bool {
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" || host == "::1" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
