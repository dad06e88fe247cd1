// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads AgriPortal settings.
//
// Values come from three layers, later ones winning:
//
//  1. Default()
//  2. an optional YAML file
//  3. AGRIPORTAL_* environment variables
//
// The result is checked with go-playground/validator before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AgriPortal/services/observability"
)

// Config is the complete AgriPortal configuration.
type Config struct {
	Store      StoreConfig                   `yaml:"store"`
	Live       LiveConfig                    `yaml:"live"`
	Resolver   ResolverConfig                `yaml:"resolver"`
	Generation GenerationConfig              `yaml:"generation"`
	Ingest     IngestConfig                  `yaml:"ingest"`
	Logging    LoggingConfig                 `yaml:"logging"`
	Server     ServerConfig                  `yaml:"server"`
	Telemetry  observability.TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig selects and configures the persisted store.
type StoreConfig struct {
	// Backend is "badger", "postgrest" or "influx".
	Backend   string          `yaml:"backend" validate:"required,oneof=badger postgrest influx"`
	Badger    BadgerConfig    `yaml:"badger"`
	PostgREST PostgRESTConfig `yaml:"postgrest"`
	Influx    InfluxConfig    `yaml:"influx"`
}

type BadgerConfig struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

type PostgRESTConfig struct {
	URL         string        `yaml:"url" validate:"omitempty,url"`
	APIKey      string        `yaml:"api_key"`
	Schema      string        `yaml:"schema"`
	RealtimeURL string        `yaml:"realtime_url" validate:"omitempty,url"`
	Heartbeat   time.Duration `yaml:"heartbeat" validate:"gte=0"`
}

type InfluxConfig struct {
	URL      string        `yaml:"url" validate:"omitempty,url"`
	Token    string        `yaml:"token"`
	Org      string        `yaml:"org"`
	Bucket   string        `yaml:"bucket"`
	Lookback time.Duration `yaml:"lookback" validate:"gte=0"`
}

// LiveConfig configures the Open-Meteo weather source.
type LiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	GeocodeURL    string        `yaml:"geocode_url" validate:"omitempty,url"`
	ForecastURL   string        `yaml:"forecast_url" validate:"omitempty,url"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	CacheTTL      time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	RatePerSecond float64       `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int           `yaml:"burst" validate:"gte=0"`
}

// ResolverConfig tunes the source cascade.
type ResolverConfig struct {
	CacheTTL     time.Duration `yaml:"cache_ttl" validate:"gt=0"`
	PollAttempts int           `yaml:"poll_attempts" validate:"gte=1,lte=60"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`

	// Seed fixes synthetic fallback data. Zero picks one at startup.
	Seed uint64 `yaml:"seed"`

	// Watch subscribes to store changes to keep the cache fresh.
	Watch bool `yaml:"watch"`
}

// GenerationConfig selects how on-demand rows are produced.
type GenerationConfig struct {
	// Mode is "local" (in-process functions), "http" (remote functions)
	// or "none".
	Mode         string        `yaml:"mode" validate:"required,oneof=local http none"`
	FunctionsURL string        `yaml:"functions_url" validate:"omitempty,url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`

	// Advisor is "rule" or "llm".
	Advisor string    `yaml:"advisor" validate:"required,oneof=rule llm"`
	LLM     LLMConfig `yaml:"llm"`
}

type LLMConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// IngestConfig tunes the batch writer.
type IngestConfig struct {
	BatchSize   int           `yaml:"batch_size" validate:"gte=1,lte=10000"`
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1,lte=20"`
	RetryDelay  time.Duration `yaml:"retry_delay" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir    string `yaml:"dir"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// Default returns settings that run entirely on one machine: an embedded
// badger store, in-process generation and the public Open-Meteo API.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Store: StoreConfig{
			Backend: "badger",
			Badger: BadgerConfig{
				Path:       filepath.Join(home, ".agriportal", "data"),
				GCInterval: 10 * time.Minute,
			},
			PostgREST: PostgRESTConfig{Schema: "public", Heartbeat: 25 * time.Second},
			Influx:    InfluxConfig{Org: "agriportal", Bucket: "agriportal", Lookback: 30 * 24 * time.Hour},
		},
		Live: LiveConfig{
			Enabled:       true,
			Timeout:       9 * time.Second,
			CacheTTL:      30 * time.Minute,
			RatePerSecond: 5,
			Burst:         5,
		},
		Resolver: ResolverConfig{
			CacheTTL:     10 * time.Minute,
			PollAttempts: 10,
			PollInterval: time.Second,
			Watch:        true,
		},
		Generation: GenerationConfig{
			Mode:    "local",
			Timeout: 15 * time.Second,
			Advisor: "rule",
			LLM:     LLMConfig{Model: "gpt-4o-mini", Timeout: 10 * time.Second},
		},
		Ingest: IngestConfig{
			BatchSize:   100,
			MaxAttempts: 3,
			RetryDelay:  2 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Telemetry: observability.DefaultTelemetryConfig(),
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the process environment, then validates it.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes Default() as YAML to path, creating its directory.
// An existing file is left untouched and reported with os.ErrExist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("write default config: %w", os.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// =============================================================================
// Environment overrides
// =============================================================================

type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *dst(c) = v; return nil }
}

func dur(dst func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func boolean(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func integer(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

var envBindings = []envBinding{
	{"AGRIPORTAL_STORE_BACKEND", str(func(c *Config) *string { return &c.Store.Backend })},
	{"AGRIPORTAL_BADGER_PATH", str(func(c *Config) *string { return &c.Store.Badger.Path })},
	{"AGRIPORTAL_BADGER_IN_MEMORY", boolean(func(c *Config) *bool { return &c.Store.Badger.InMemory })},
	{"AGRIPORTAL_POSTGREST_URL", str(func(c *Config) *string { return &c.Store.PostgREST.URL })},
	{"AGRIPORTAL_POSTGREST_API_KEY", str(func(c *Config) *string { return &c.Store.PostgREST.APIKey })},
	{"AGRIPORTAL_INFLUX_URL", str(func(c *Config) *string { return &c.Store.Influx.URL })},
	{"AGRIPORTAL_INFLUX_TOKEN", str(func(c *Config) *string { return &c.Store.Influx.Token })},
	{"AGRIPORTAL_INFLUX_ORG", str(func(c *Config) *string { return &c.Store.Influx.Org })},
	{"AGRIPORTAL_INFLUX_BUCKET", str(func(c *Config) *string { return &c.Store.Influx.Bucket })},
	{"AGRIPORTAL_LIVE_ENABLED", boolean(func(c *Config) *bool { return &c.Live.Enabled })},
	{"AGRIPORTAL_LIVE_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Live.Timeout })},
	{"AGRIPORTAL_CACHE_TTL", dur(func(c *Config) *time.Duration { return &c.Resolver.CacheTTL })},
	{"AGRIPORTAL_POLL_ATTEMPTS", integer(func(c *Config) *int { return &c.Resolver.PollAttempts })},
	{"AGRIPORTAL_POLL_INTERVAL", dur(func(c *Config) *time.Duration { return &c.Resolver.PollInterval })},
	{"AGRIPORTAL_SEED", func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		c.Resolver.Seed = n
		return nil
	}},
	{"AGRIPORTAL_WATCH", boolean(func(c *Config) *bool { return &c.Resolver.Watch })},
	{"AGRIPORTAL_GENERATION_MODE", str(func(c *Config) *string { return &c.Generation.Mode })},
	{"AGRIPORTAL_FUNCTIONS_URL", str(func(c *Config) *string { return &c.Generation.FunctionsURL })},
	{"AGRIPORTAL_FUNCTIONS_API_KEY", str(func(c *Config) *string { return &c.Generation.APIKey })},
	{"AGRIPORTAL_ADVISOR", str(func(c *Config) *string { return &c.Generation.Advisor })},
	{"AGRIPORTAL_OPENAI_API_KEY", str(func(c *Config) *string { return &c.Generation.LLM.APIKey })},
	{"AGRIPORTAL_OPENAI_BASE_URL", str(func(c *Config) *string { return &c.Generation.LLM.BaseURL })},
	{"AGRIPORTAL_OPENAI_MODEL", str(func(c *Config) *string { return &c.Generation.LLM.Model })},
	{"AGRIPORTAL_BATCH_SIZE", integer(func(c *Config) *int { return &c.Ingest.BatchSize })},
	{"AGRIPORTAL_LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"AGRIPORTAL_LOG_DIR", str(func(c *Config) *string { return &c.Logging.Dir })},
	{"AGRIPORTAL_LOG_FORMAT", str(func(c *Config) *string { return &c.Logging.Format })},
	{"AGRIPORTAL_SERVER_ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"AGRIPORTAL_TRACE_EXPORTER", str(func(c *Config) *string { return &c.Telemetry.TraceExporter })},
	{"AGRIPORTAL_METRIC_EXPORTER", str(func(c *Config) *string { return &c.Telemetry.MetricExporter })},
	{"AGRIPORTAL_OTLP_ENDPOINT", str(func(c *Config) *string { return &c.Telemetry.OTLPEndpoint })},
}

// EnvNames lists every recognized environment variable.
func EnvNames() []string {
	out := make([]string, len(envBindings))
	for i, b := range envBindings {
		out[i] = b.name
	}
	return out
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(c, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Validation
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(validateStore, StoreConfig{})
	v.RegisterStructValidation(validateGeneration, GenerationConfig{})
	return v
}

// validateStore requires the connection settings of the selected backend.
func validateStore(sl validator.StructLevel) {
	s := sl.Current().Interface().(StoreConfig)
	switch s.Backend {
	case "badger":
		if !s.Badger.InMemory && s.Badger.Path == "" {
			sl.ReportError(s.Badger.Path, "Badger.Path", "Path", "required_for_backend", "badger")
		}
	case "postgrest":
		if s.PostgREST.URL == "" {
			sl.ReportError(s.PostgREST.URL, "PostgREST.URL", "URL", "required_for_backend", "postgrest")
		}
	case "influx":
		if s.Influx.URL == "" {
			sl.ReportError(s.Influx.URL, "Influx.URL", "URL", "required_for_backend", "influx")
		}
		if s.Influx.Bucket == "" {
			sl.ReportError(s.Influx.Bucket, "Influx.Bucket", "Bucket", "required_for_backend", "influx")
		}
	}
}

func validateGeneration(sl validator.StructLevel) {
	g := sl.Current().Interface().(GenerationConfig)
	if g.Mode == "http" && g.FunctionsURL == "" {
		sl.ReportError(g.FunctionsURL, "FunctionsURL", "FunctionsURL", "required_for_mode", "http")
	}
	if g.Advisor == "llm" && g.LLM.APIKey == "" && g.LLM.BaseURL == "" {
		sl.ReportError(g.LLM.APIKey, "LLM.APIKey", "APIKey", "required_for_advisor", "llm")
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
