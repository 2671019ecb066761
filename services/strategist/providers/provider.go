// Package providers contains the uniform adapter interface over external
// AI services, one adapter per backend, plus the local degraded fallback.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
)

// Capability tags used by the router's scoring.
const (
	CapDeepReasoning     = "deep-reasoning"
	CapRealTimeRetrieval = "real-time-retrieval"
	CapLowLatency        = "low-latency"
)

// Profile is the static routing metadata for one provider.
type Profile struct {
	ID           string        `json:"id"`
	AvgLatency   time.Duration `json:"avg_latency_ms"`
	CostPerCall  float64       `json:"cost_per_call_usd"`
	Capabilities []string      `json:"capabilities"`
}

// HasCapability reports whether the profile carries the given tag.
func (p Profile) HasCapability(tag string) bool {
	for _, c := range p.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Provider is the uniform interface over one external AI service.
//
// Invoke translates the generic request into a provider-specific call and
// normalizes the response. Failures are returned as *ProviderError so the
// orchestrator can classify them; the adapter never enforces timeouts
// itself; deadline control belongs to the caller's context.
type Provider interface {
	ID() string
	Profile() Profile
	Invoke(ctx context.Context, req datatypes.AnalysisRequest) (*datatypes.AnalysisResult, error)
}

// =============================================================================
// Failure taxonomy
// =============================================================================

// ErrorKind classifies provider failures for the circuit breaker.
type ErrorKind int

const (
	// KindTimeout: the provider did not respond within the deadline.
	KindTimeout ErrorKind = iota

	// KindRejected: billing/quota/auth error. Systemic, trips the breaker
	// harder than a transient fault.
	KindRejected

	// KindMalformed: the response failed schema validation.
	KindMalformed

	// KindCancelled: the call was abandoned on our side before the
	// provider finished. Not the provider's fault and not billable.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRejected:
		return "rejected"
	case KindMalformed:
		return "malformed"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// ProviderError is a typed failure from a provider adapter.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Timeout wraps err as a timeout failure.
func Timeout(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindTimeout, Err: err}
}

// Rejected wraps err as a billing/quota/auth failure.
func Rejected(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindRejected, Err: err}
}

// Malformed wraps err as a schema-validation failure.
func Malformed(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindMalformed, Err: err}
}

// Cancelled wraps err as a locally-abandoned call.
func Cancelled(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindCancelled, Err: err}
}

// ctxFailure classifies a context-derived error observed before or
// during a provider call: an expired deadline means the provider was too
// slow, a cancellation means we walked away.
func ctxFailure(provider string, err error) *ProviderError {
	if errors.Is(err, context.Canceled) {
		return Cancelled(provider, err)
	}
	return Timeout(provider, err)
}

// KindOf extracts the failure kind from err. Context deadline errors from
// the orchestrator's per-attempt timeout classify as timeouts and
// cancellations as cancelled; anything unrecognized counts as malformed
// (a normal, single-weight failure).
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindMalformed
}

// =============================================================================
// Construction
// =============================================================================

// Settings configures one provider adapter. The config layer maps its
// YAML into this struct so adapters stay decoupled from file parsing.
type Settings struct {
	ID            string
	Backend       string
	Model         string
	BaseURL       string
	CostPerCall   float64
	AvgLatency    time.Duration
	Capabilities  []string
	RatePerMinute int
	APIKeyEnv     string
	APIKeyFile    string
}

// BuildPool constructs an adapter per settings entry and splits the
// routed pool from the offline fallback. Offline backends never spend
// and are never admitted by the budget ledger, so they must not occupy a
// selector slot; the orchestrator holds the fallback directly.
func BuildPool(settings []Settings) (pool []Provider, offline Provider, err error) {
	for _, s := range settings {
		p, perr := New(s)
		if perr != nil {
			return nil, nil, fmt.Errorf("provider %q: %w", s.ID, perr)
		}
		if s.Backend == "offline" {
			offline = p
			continue
		}
		pool = append(pool, p)
	}
	return pool, offline, nil
}

// New builds the adapter for a backend kind.
func New(s Settings) (Provider, error) {
	switch s.Backend {
	case "openai":
		return newOpenAIProvider(s)
	case "anthropic":
		return newAnthropicProvider(s)
	case "ollama":
		return newOllamaProvider(s)
	case "offline":
		return NewOfflineProvider(s.ID), nil
	default:
		return nil, fmt.Errorf("unknown provider backend %q", s.Backend)
	}
}
