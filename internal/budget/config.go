package budget

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the BudgetConfig design-note struct: explicit, enumerated
// settings in place of open-ended keyword configuration.
type Config struct {
	CostTrackingEnabled      bool
	BudgetEnforcementEnabled bool
	DefaultBudget            decimal.Decimal

	ReservationTTL    time.Duration // default 5m
	CacheReloadPeriod time.Duration // default 5m
	AggregationPeriod time.Duration // default 1h
	ResetCheckPeriod  time.Duration // default 1h (checks for local-midnight/month-start crossings)
	ResetLocation     *time.Location
}

func (c Config) withDefaults() Config {
	if c.ReservationTTL == 0 {
		c.ReservationTTL = 5 * time.Minute
	}
	if c.CacheReloadPeriod == 0 {
		c.CacheReloadPeriod = 5 * time.Minute
	}
	if c.AggregationPeriod == 0 {
		c.AggregationPeriod = time.Hour
	}
	if c.ResetCheckPeriod == 0 {
		c.ResetCheckPeriod = time.Hour
	}
	if c.ResetLocation == nil {
		c.ResetLocation = time.UTC
	}
	return c
}

// costMultiplier applies the documented per-model-class output multiplier:
// GPT-4-class models double completion cost, Claude-Opus-class models
// triple it. Everything else is unmultiplied.
func costMultiplier(modelID string) decimal.Decimal {
	lower := strings.ToLower(modelID)
	switch {
	case strings.Contains(lower, "gpt-4"):
		return decimal.NewFromInt(2)
	case strings.Contains(lower, "claude-3-opus"):
		return decimal.NewFromInt(3)
	default:
		return decimal.NewFromInt(1)
	}
}
