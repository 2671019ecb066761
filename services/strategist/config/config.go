// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the strategist service configuration
// from a YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/cache"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/providers"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/resilience"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "30s",
// "5m", "4h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ProviderConfig declares one AI backend in the routing pool.
type ProviderConfig struct {
	ID            string   `yaml:"id" validate:"required"`
	Backend       string   `yaml:"backend" validate:"required,oneof=openai anthropic ollama offline"`
	Model         string   `yaml:"model"`
	BaseURL       string   `yaml:"base_url"`
	APIKeyEnv     string   `yaml:"api_key_env"`
	APIKeyFile    string   `yaml:"api_key_file"`
	CostPerCall   float64  `yaml:"cost_per_call_usd" validate:"gte=0"`
	AvgLatency    Duration `yaml:"avg_latency"`
	Capabilities  []string `yaml:"capabilities"`
	RatePerMinute int      `yaml:"rate_per_minute" validate:"gte=0"`

	// MonthlyCeilingUSD caps spend for this provider per calendar month.
	// Zero means the provider is never admitted to a chain.
	MonthlyCeilingUSD float64 `yaml:"monthly_ceiling_usd" validate:"gte=0"`
}

// Settings converts the declaration into provider factory settings.
func (p ProviderConfig) Settings() providers.Settings {
	return providers.Settings{
		ID:            p.ID,
		Backend:       p.Backend,
		Model:         p.Model,
		BaseURL:       p.BaseURL,
		CostPerCall:   p.CostPerCall,
		AvgLatency:    p.AvgLatency.Std(),
		Capabilities:  p.Capabilities,
		RatePerMinute: p.RatePerMinute,
		APIKeyEnv:     p.APIKeyEnv,
		APIKeyFile:    p.APIKeyFile,
	}
}

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold" validate:"gte=1"`
	FailureWindow    Duration `yaml:"failure_window"`
	Cooldown         Duration `yaml:"cooldown"`
	MaxCooldown      Duration `yaml:"max_cooldown"`
}

// Resilience converts the YAML section into breaker settings.
func (b BreakerConfig) Resilience() resilience.BreakerConfig {
	cfg := resilience.DefaultBreakerConfig()
	if b.FailureThreshold > 0 {
		cfg.FailureThreshold = b.FailureThreshold
	}
	if b.FailureWindow > 0 {
		cfg.FailureWindow = b.FailureWindow.Std()
	}
	if b.Cooldown > 0 {
		cfg.Cooldown = b.Cooldown.Std()
	}
	if b.MaxCooldown > 0 {
		cfg.MaxCooldown = b.MaxCooldown.Std()
	}
	return cfg
}

// CacheConfig tunes response caching per analysis depth.
type CacheConfig struct {
	TTLQuick    Duration `yaml:"ttl_quick"`
	TTLStandard Duration `yaml:"ttl_standard"`
	TTLDeep     Duration `yaml:"ttl_deep"`
	SweepEvery  Duration `yaml:"sweep_every"`
}

// TTLTable builds the depth-to-TTL table, falling back to production
// defaults for unset entries.
func (c CacheConfig) TTLTable() cache.TTLTable {
	table := cache.DefaultTTLTable()
	if c.TTLQuick > 0 {
		table[datatypes.DepthQuick] = c.TTLQuick.Std()
	}
	if c.TTLStandard > 0 {
		table[datatypes.DepthStandard] = c.TTLStandard.Std()
	}
	if c.TTLDeep > 0 {
		table[datatypes.DepthDeep] = c.TTLDeep.Std()
	}
	return table
}

// TimeoutConfig sets per-depth deadlines for a single provider call.
type TimeoutConfig struct {
	Quick    Duration `yaml:"quick"`
	Standard Duration `yaml:"standard"`
	Deep     Duration `yaml:"deep"`
}

// StoreConfig locates the embedded ledger database.
type StoreConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port         int      `yaml:"port" validate:"gte=0,lte=65535"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// Config is the full strategist service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Providers []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
	Breaker   BreakerConfig    `yaml:"breaker"`
	Cache     CacheConfig      `yaml:"cache"`
	Timeouts  TimeoutConfig    `yaml:"timeouts"`
	Store     StoreConfig      `yaml:"store"`

	// OTLPEndpoint is the trace collector address; empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Default returns a configuration with production defaults and an
// offline-only provider pool, suitable as a base before loading YAML.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         8088,
			ReadTimeout:  Duration(15 * time.Second),
			WriteTimeout: Duration(0), // streaming endpoints manage their own deadlines
		},
		Providers: []ProviderConfig{
			{ID: "offline", Backend: "offline"},
		},
		Store:    StoreConfig{Path: "/data/strategist/ledger"},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. A missing file is not an error: the defaults
// plus environment overrides are returned so the service can start in a
// bare container.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural constraints and cross-field rules that
// struct tags cannot express.
func Validate(cfg Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if seen[p.ID] {
			return fmt.Errorf("config validation: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// Ceilings returns the provider-to-monthly-ceiling map for the ledger.
func (c Config) Ceilings() map[string]float64 {
	out := make(map[string]float64, len(c.Providers))
	for _, p := range c.Providers {
		if p.Backend == "offline" {
			continue // the fallback never spends
		}
		out[p.ID] = p.MonthlyCeilingUSD
	}
	return out
}

// applyEnvOverrides lets deployment environments adjust the listener and
// store without editing the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRATEGIST_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STRATEGIST_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("STRATEGIST_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("STRATEGIST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
