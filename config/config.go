// Package config loads client configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/openrecord/hvlink/transport"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// RetryConfig bounds the transport's retry behavior.
type RetryConfig struct {
	MaxAttempts int
	Backoff     transport.BackoffConfig
}

// Config holds everything a client needs to reach and sign in to the
// service.
type Config struct {
	ServiceURL     string
	AppID          uuid.UUID
	AppSecret      string
	Culture        string
	MultiRecordApp bool
	RequestTimeout time.Duration
	Retry          RetryConfig
}

func Default() Config {
	return Config{
		Culture:        "en-US",
		RequestTimeout: 30 * time.Second,
		Retry: RetryConfig{
			MaxAttempts: 3,
			Backoff: transport.BackoffConfig{
				InitialDelay: 250 * time.Millisecond,
				Multiplier:   2.0,
				MaxDelay:     5 * time.Second,
				Jitter:       true,
			},
		},
	}
}

func (c Config) Validate() error {
	parsed, err := url.Parse(c.ServiceURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: bad service_url %q", ErrInvalidConfig, c.ServiceURL)
	}
	if c.AppID == uuid.Nil {
		return fmt.Errorf("%w: missing app_id", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.AppSecret) == "" {
		return fmt.Errorf("%w: missing app_secret", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Culture) == "" {
		return fmt.Errorf("%w: missing culture", ErrInvalidConfig)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry_max_attempts must be positive", ErrInvalidConfig)
	}
	return nil
}

// key mapping for the client config file; durations are milliseconds.
type fileConfig struct {
	ServiceURL          string  `toml:"service_url"`
	AppID               string  `toml:"app_id"`
	AppSecret           string  `toml:"app_secret"`
	Culture             string  `toml:"culture"`
	MultiRecordApp      bool    `toml:"multi_record_app"`
	RequestTimeoutMS    int64   `toml:"request_timeout_ms"`
	RetryMaxAttempts    int     `toml:"retry_max_attempts"`
	RetryInitialDelayMS int64   `toml:"retry_initial_delay_ms"`
	RetryMaxDelayMS     int64   `toml:"retry_max_delay_ms"`
	RetryMultiplier     float64 `toml:"retry_multiplier"`
	RetryJitter         bool    `toml:"retry_jitter"`
}

// Load reads a TOML config file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if meta.IsDefined("service_url") {
		cfg.ServiceURL = strings.TrimSpace(raw.ServiceURL)
	}
	if meta.IsDefined("app_id") {
		appID, err := uuid.Parse(strings.TrimSpace(raw.AppID))
		if err != nil {
			return Config{}, fmt.Errorf("%w: bad app_id: %v", ErrInvalidConfig, err)
		}
		cfg.AppID = appID
	}
	if meta.IsDefined("app_secret") {
		cfg.AppSecret = raw.AppSecret
	}
	if meta.IsDefined("culture") {
		cfg.Culture = strings.TrimSpace(raw.Culture)
	}
	if meta.IsDefined("multi_record_app") {
		cfg.MultiRecordApp = raw.MultiRecordApp
	}
	if meta.IsDefined("request_timeout_ms") {
		cfg.RequestTimeout = time.Duration(raw.RequestTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("retry_max_attempts") {
		cfg.Retry.MaxAttempts = raw.RetryMaxAttempts
	}
	if meta.IsDefined("retry_initial_delay_ms") {
		cfg.Retry.Backoff.InitialDelay = time.Duration(raw.RetryInitialDelayMS) * time.Millisecond
	}
	if meta.IsDefined("retry_max_delay_ms") {
		cfg.Retry.Backoff.MaxDelay = time.Duration(raw.RetryMaxDelayMS) * time.Millisecond
	}
	if meta.IsDefined("retry_multiplier") {
		cfg.Retry.Backoff.Multiplier = raw.RetryMultiplier
	}
	if meta.IsDefined("retry_jitter") {
		cfg.Retry.Backoff.Jitter = raw.RetryJitter
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
