// Package config loads runtime settings from an optional YAML file with
// environment-variable overrides. Environment always wins so deployments can
// tweak a single knob without editing the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	DBPath         string        `yaml:"db_path"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxIngestBytes int64         `yaml:"max_ingest_bytes"`
	RateWindow     time.Duration `yaml:"rate_window"`
	RateMax        int           `yaml:"rate_max"`

	Jobs     JobsConfig     `yaml:"jobs"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
}

type JobsConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	QueueSize     int           `yaml:"queue_size"`
	KeepCompleted int           `yaml:"keep_completed"`
}

type AnalyzerConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

func Default() Config {
	return Config{
		ListenAddr:     ":8087",
		DBPath:         "inquest.db",
		AllowedOrigins: []string{"http://localhost:3000"},
		MaxIngestBytes: 1 << 20,
		RateWindow:     time.Minute,
		RateMax:        100,
		Jobs: JobsConfig{
			MaxConcurrent: 2,
			MaxAttempts:   3,
			BackoffBase:   time.Second,
			QueueSize:     100,
			KeepCompleted: 100,
		},
		Analyzer: AnalyzerConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   4096,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty or absent), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "INQUEST_LISTEN_ADDR")
	setString(&c.DBPath, "INQUEST_DB_PATH")
	setInt64(&c.MaxIngestBytes, "INQUEST_MAX_INGEST_BYTES")
	setDuration(&c.RateWindow, "INQUEST_RATE_WINDOW")
	setInt(&c.RateMax, "INQUEST_RATE_MAX")

	setInt(&c.Jobs.MaxConcurrent, "INQUEST_JOB_CONCURRENCY")
	setInt(&c.Jobs.MaxAttempts, "INQUEST_JOB_ATTEMPTS")
	setDuration(&c.Jobs.BackoffBase, "INQUEST_JOB_BACKOFF")

	setString(&c.Analyzer.APIKey, "INQUEST_ANALYZER_API_KEY")
	setString(&c.Analyzer.BaseURL, "INQUEST_ANALYZER_BASE_URL")
	setString(&c.Analyzer.Model, "INQUEST_ANALYZER_MODEL")
	setInt(&c.Analyzer.MaxTokens, "INQUEST_ANALYZER_MAX_TOKENS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
