package providers

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/time/rate"
)

// loadAPIKey resolves a provider credential from the configured env var,
// falling back to a mounted secret file (the container-secrets pattern).
func loadAPIKey(envVar, secretPath string) (string, error) {
	if envVar != "" {
		if key := os.Getenv(envVar); key != "" {
			return key, nil
		}
	}
	if secretPath != "" {
		if content, err := os.ReadFile(secretPath); err == nil {
			slog.Info("read provider API key from secret file", "path", secretPath)
			return strings.TrimSpace(string(content)), nil
		}
	}
	return "", fmt.Errorf("no API key: env %s unset and secret %s unreadable", envVar, secretPath)
}

// newLimiter builds the per-provider request limiter. Zero or negative
// rates mean unlimited.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}
