// ABOUTME: Service configuration: defaults, optional YAML file, environment overrides.
// ABOUTME: Everything is overridable via SEQMILL_* variables; validation runs last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the service.
type Config struct {
	Addr           string        `yaml:"addr"`
	DataDir        string        `yaml:"data_dir"`
	IndexPath      string        `yaml:"index_path"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	MaxUploadMB    int           `yaml:"max_upload_mb"`
	LogTailBytes   int           `yaml:"log_tail_bytes"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	Workers        int           `yaml:"workers"`
	SkipPreflight  bool          `yaml:"skip_preflight"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:           ":8000",
		DataDir:        "data",
		LogLevel:       "info",
		LogFormat:      "text",
		MaxUploadMB:    1024,
		LogTailBytes:   5000,
		CommandTimeout: 2 * time.Hour,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// non-empty), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Addr = envStr("SEQMILL_ADDR", cfg.Addr)
	cfg.DataDir = envStr("SEQMILL_DATA_DIR", cfg.DataDir)
	cfg.IndexPath = envStr("SEQMILL_INDEX_PATH", cfg.IndexPath)
	cfg.LogLevel = envStr("SEQMILL_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envStr("SEQMILL_LOG_FORMAT", cfg.LogFormat)
	cfg.MaxUploadMB = envInt("SEQMILL_MAX_UPLOAD_MB", cfg.MaxUploadMB)
	cfg.LogTailBytes = envInt("SEQMILL_LOG_TAIL_BYTES", cfg.LogTailBytes)
	cfg.CommandTimeout = envDuration("SEQMILL_COMMAND_TIMEOUT", cfg.CommandTimeout)
	cfg.Workers = envInt("SEQMILL_NPROC", cfg.Workers)
	cfg.SkipPreflight = envBool("SEQMILL_SKIP_PREFLIGHT", cfg.SkipPreflight)

	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.DataDir, "sessions.db")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.LogTailBytes <= 0 {
		return fmt.Errorf("log_tail_bytes must be positive, got %d", c.LogTailBytes)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
