package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ModelDescriptor is the static, operator-configured description of one
// deployed model. Identity is the composite {Provider, ID}, flattened to
// Key for use as a map key throughout the router and provider layers.
type ModelDescriptor struct {
	Provider          string          `json:"provider"`
	ID                string          `json:"id"`
	MaxTokens         int             `json:"max_tokens"`
	ContextLength     int             `json:"context_length"`
	CostPer1kTokens   decimal.Decimal `json:"cost_per_1k_tokens"`
	CapabilityScore   float64         `json:"capability_score"`
	SupportsStreaming bool            `json:"supports_streaming"`
	SupportsTools     bool            `json:"supports_tools"`
	SupportsVision    bool            `json:"supports_vision"`
}

// Key returns the "{provider}:{id}" composite identity used as a map key.
func (d ModelDescriptor) Key() string {
	return fmt.Sprintf("%s:%s", d.Provider, d.ID)
}

// PerformanceMetrics tracks EMA-smoothed success/latency/throughput for one
// model. Owned exclusively by the router.
type PerformanceMetrics struct {
	Total           int64
	Success         int64
	Failure         int64
	EMALatencySec   float64
	EMATokensPerSec float64
	LastUpdated     time.Time
}

// SuccessRate returns Success/Total, or 0 if no requests have landed yet.
// The router's score does not call it for newly-seen models; it gives
// them a fixed 0.5 performance factor instead.
func (p *PerformanceMetrics) SuccessRate() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Success) / float64(p.Total)
}

// FailureRate returns Failure/Total, or 0 if no requests have landed yet.
func (p *PerformanceMetrics) FailureRate() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Failure) / float64(p.Total)
}

// LoadMetrics tracks in-flight concurrency for one model. Owned
// exclusively by the router.
type LoadMetrics struct {
	CurrentConcurrent int32
	MaxConcurrent     int32
	LastRequestTime   time.Time
}

// LoadFactor returns CurrentConcurrent/MaxConcurrent, clamped to [0,1].
// A MaxConcurrent of zero is treated as unconstrained (load factor 0).
func (l *LoadMetrics) LoadFactor() float64 {
	if l.MaxConcurrent <= 0 {
		return 0
	}
	factor := float64(l.CurrentConcurrent) / float64(l.MaxConcurrent)
	if factor > 1 {
		return 1
	}
	if factor < 0 {
		return 0
	}
	return factor
}

// CircuitState is the per-model breaker state. Owned exclusively by the
// router.
type CircuitState struct {
	Open      bool
	TrippedAt time.Time
}
