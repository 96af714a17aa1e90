package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Exam struct {
		SessionDuration string `yaml:"session_duration"` // countdown per attempt, default 1h
		SessionCacheTTL string `yaml:"session_cache_ttl"` // cached in-progress state expiry, default 24h
		TestSetTTL      string `yaml:"testset_ttl"`       // catalog cache TTL, default 10m
		RemoteTimeout   string `yaml:"remote_timeout"`    // per-call ledger timeout, default 10s
		// Full answer review is gated until every attempt is used. Product
		// policy, not a technical constraint, hence configurable.
		ReviewRequiresAllAttempts *bool `yaml:"review_requires_all_attempts"`
	} `yaml:"exam"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// ReviewGateEnabled resolves the review gate flag, defaulting to enabled.
func (c Config) ReviewGateEnabled() bool {
	if c.Exam.ReviewRequiresAllAttempts == nil {
		return true
	}
	return *c.Exam.ReviewRequiresAllAttempts
}
