// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9000
  read_timeout: 20s

log_level: debug

store:
  path: /tmp/test-ledger

breaker:
  failure_threshold: 5
  cooldown: 30s

cache:
  ttl_quick: 1m
  ttl_deep: 2h

timeouts:
  quick: 5s

providers:
  - id: gpt
    backend: openai
    model: gpt-4o
    api_key_env: OPENAI_API_KEY
    cost_per_call_usd: 0.04
    avg_latency: 6s
    monthly_ceiling_usd: 100
    capabilities:
      - deep-reasoning
  - id: local
    backend: ollama
    base_url: http://localhost:11434
    model: llama3.1:8b
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Server.ReadTimeout.Std())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/test-ledger", cfg.Store.Path)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "gpt", cfg.Providers[0].ID)
	assert.Equal(t, 6*time.Second, cfg.Providers[0].AvgLatency.Std())

	breaker := cfg.Breaker.Resilience()
	assert.Equal(t, 5, breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, breaker.Cooldown)
	assert.Equal(t, 15*time.Minute, breaker.MaxCooldown, "unset fields keep defaults")

	ttl := cfg.Cache.TTLTable()
	assert.Equal(t, time.Minute, ttl[datatypes.DepthQuick])
	assert.Equal(t, 30*time.Minute, ttl[datatypes.DepthStandard], "unset depth keeps default")
	assert.Equal(t, 2*time.Hour, ttl[datatypes.DepthDeep])
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "offline", cfg.Providers[0].Backend)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STRATEGIST_PORT", "7777")
	t.Setenv("STRATEGIST_STORE_PATH", "/var/alt-ledger")
	t.Setenv("STRATEGIST_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port, "env beats file")
	assert.Equal(t, "/var/alt-ledger", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	_, err := Load(writeConfig(t, `
providers:
  - id: x
    backend: quantum
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestLoad_RejectsDuplicateProviderIDs(t *testing.T) {
	_, err := Load(writeConfig(t, `
providers:
  - id: gpt
    backend: openai
  - id: gpt
    backend: anthropic
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate provider id")
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
providers:
  - id: gpt
    backend: openai
    avg_latency: fast
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestConfig_Ceilings(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML+`
  - id: fallback
    backend: offline
`))
	require.NoError(t, err)

	ceilings := cfg.Ceilings()
	assert.Equal(t, 100.0, ceilings["gpt"])
	assert.Contains(t, ceilings, "local")
	assert.NotContains(t, ceilings, "fallback", "offline backend never spends")
}

func TestProviderConfig_Settings(t *testing.T) {
	pc := ProviderConfig{
		ID:            "gpt",
		Backend:       "openai",
		Model:         "gpt-4o",
		CostPerCall:   0.04,
		AvgLatency:    Duration(6 * time.Second),
		Capabilities:  []string{"deep-reasoning"},
		RatePerMinute: 60,
		APIKeyEnv:     "OPENAI_API_KEY",
	}
	s := pc.Settings()
	assert.Equal(t, "gpt", s.ID)
	assert.Equal(t, 6*time.Second, s.AvgLatency)
	assert.Equal(t, 60, s.RatePerMinute)
}
