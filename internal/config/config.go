package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Enricher struct {
		Model                     string  `yaml:"model"`
		Endpoint                  string  `yaml:"endpoint"`
		BatchSize                 int     `yaml:"batch_size"`
		MaxRetriesPerBatch        int     `yaml:"max_retries_per_batch"`
		RetryBackoffBaseSeconds   float64 `yaml:"retry_backoff_base_seconds"`
		InterBatchDelaySeconds    float64 `yaml:"inter_batch_delay_seconds"`
		CheckpointEveryBatches    int     `yaml:"checkpoint_every_batches"`
		RequestTimeoutSeconds     float64 `yaml:"request_timeout_seconds"`
		ReanalyzeMissingRationale bool    `yaml:"reanalyze_missing_rationale"`
	} `yaml:"enricher"`
	Uploader struct {
		Table                  string `yaml:"table"`
		AllowPartialEnrichment bool   `yaml:"allow_partial_enrichment"`
	} `yaml:"uploader"`
	Lock struct {
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		TTL           string `yaml:"ttl"`
	} `yaml:"lock"`

	// Secrets come from the environment only.
	APIKey      string `yaml:"-"`
	DatabaseURL string `yaml:"-"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	cfg.Enricher.Model = "gemini-2.5-flash"
	cfg.Enricher.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	cfg.Enricher.BatchSize = 5
	cfg.Enricher.MaxRetriesPerBatch = 3
	cfg.Enricher.RetryBackoffBaseSeconds = 5
	cfg.Enricher.InterBatchDelaySeconds = 1.5
	cfg.Enricher.CheckpointEveryBatches = 1
	cfg.Enricher.RequestTimeoutSeconds = 60
	cfg.Uploader.Table = "questions"
	cfg.Lock.TTL = "2h"
	return cfg
}

// Load reads YAML config from path on top of the defaults. An empty path
// yields the defaults. ANALYSIS_API_KEY and DATABASE_URL are read from the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.APIKey = os.Getenv("ANALYSIS_API_KEY")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// Seconds converts a fractional second count to a Duration. Negative values
// yield the fallback.
func Seconds(v float64, fallback time.Duration) time.Duration {
	if v < 0 {
		return fallback
	}
	return time.Duration(v * float64(time.Second))
}
