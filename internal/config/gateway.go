package config

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/llmgateway/gateway/internal/budget"
	"github.com/llmgateway/gateway/internal/contextengine"
	"github.com/llmgateway/gateway/internal/modelrouter"
)

// ToRouterConfig translates the wire config into modelrouter.Config.
func (c AdaptiveRouterConfig) ToRouterConfig() modelrouter.Config {
	return modelrouter.Config{
		PerformanceResetIdle: c.PerformanceResetIdle,
		CircuitResetIdle:     c.CircuitResetIdle,
		MetricsSweepInterval: c.MetricsSweepInterval,
		CircuitSweepInterval: c.CircuitSweepInterval,
	}
}

// ToEngineConfig translates the wire config into contextengine.Config.
func (c ContextEngineConfig) ToEngineConfig() contextengine.Config {
	return contextengine.Config{
		KnowledgeInjectionEnabled: c.KnowledgeInjectionEnabled,
		MemoryRetrievalEnabled:    c.MemoryRetrievalEnabled,
		MaxContextLength:          c.MaxContextLength,
		CompressionThreshold:      c.CompressionThreshold,
		TemplateCacheSize:         c.TemplateCacheSize,
		KnowledgeCollection:       c.KnowledgeCollection,
		EmbeddingDimensions:       c.EmbeddingDimensions,
		MemoryCleanupInterval:     c.MemoryCleanupInterval,
		TemplateCleanupInterval:   c.TemplateCleanupInterval,
		MemoryCacheTTL:            c.MemoryCacheTTL,
	}
}

// ToBudgetConfig translates the wire config into budget.Config, converting
// float64 money fields to decimal.Decimal and resolving the reset timezone
// name to a *time.Location (falling back to UTC on an unknown name). Model
// pricing itself is never read from here: Estimate and CalcCost both price
// from the model descriptor the router selected, so reservation and
// settlement always agree on what a model costs.
func (c BudgetSettings) ToBudgetConfig() budget.Config {
	loc, err := time.LoadLocation(c.ResetTimezone)
	if err != nil || c.ResetTimezone == "" {
		loc = time.UTC
	}

	return budget.Config{
		CostTrackingEnabled:      c.CostTrackingEnabled,
		BudgetEnforcementEnabled: c.BudgetEnforcementEnabled,
		DefaultBudget:            decimal.NewFromFloat(c.DefaultBudget),
		ReservationTTL:           c.ReservationTTL,
		CacheReloadPeriod:        c.CacheReloadPeriod,
		AggregationPeriod:        c.AggregationPeriod,
		ResetCheckPeriod:         c.ResetCheckPeriod,
		ResetLocation:            loc,
	}
}
