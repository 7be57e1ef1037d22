package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
	envPrefix         = "ACE_"

	// ProjectDir is the per-project directory holding config and state.
	ProjectDir = ".ace"
)

// Load reads configuration from configPath, then overrides it with
// environment variables.
//
// Precedence (highest first):
//  1. ACE_ environment variables
//  2. the YAML file
//  3. Default()
//
// An empty configPath searches ./.ace/config.yaml and then
// ~/.config/ace/config.yaml; finding neither is not an error. An explicit
// configPath must exist.
//
// Config files must live in a .ace directory, ~/.config/ace/ or /etc/ace/,
// be mode 0600 or 0400 and be at most 1MB.
//
// Environment variables map onto keys by dropping the prefix, lowercasing
// and splitting on the first underscore:
//
//	ACE_CURATION_SIMILARITY_THRESHOLD -> curation.similarity_threshold
//	ACE_ORACLE_API_KEY                -> oracle.api_key
//
// ANTHROPIC_API_KEY is used when oracle.api_key is left unset.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	path, err := resolvePath(configPath)
	if err != nil {
		return nil, err
	}
	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if !cfg.Oracle.APIKey.IsSet() {
		cfg.Oracle.APIKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// resolvePath returns the config file to read, or "" when none applies.
func resolvePath(configPath string) (string, error) {
	if configPath != "" {
		if err := validateConfigPath(configPath); err != nil {
			return "", fmt.Errorf("config path validation failed: %w", err)
		}
		if _, err := os.Stat(configPath); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return configPath, nil
	}

	candidates := []string{filepath.Join(ProjectDir, "config.yaml")}
	if dir, err := userConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", nil
}

// readConfigFile validates the open file descriptor before reading so the
// checked file is the one read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ace"), nil
}

var errPathNotAllowed = errors.New("config file must be in a .ace directory, ~/.config/ace/ or /etc/ace/")

// validateConfigPath runs even if the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	if filepath.Base(filepath.Dir(resolved)) == ProjectDir {
		return nil
	}
	allowed := []string{"/etc/ace"}
	if dir, err := userConfigDir(); err == nil {
		allowed = append(allowed, dir)
	}
	for _, dir := range allowed {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return errPathNotAllowed
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
