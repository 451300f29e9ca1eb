package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenBudget is the per (tenant,user) budget ledger row. Owned
// exclusively by the Token/Budget Manager; Usage is append-only from the
// serving pipeline.
type TokenBudget struct {
	BaseModel
	TenantID     string           `gorm:"not null;index:idx_token_budget_tenant_user,unique" json:"tenant_id"`
	UserID       string           `gorm:"not null;index:idx_token_budget_tenant_user,unique" json:"user_id"`
	TotalBudget  decimal.Decimal  `gorm:"type:decimal(18,6);not null" json:"total_budget"`
	UsedBudget   decimal.Decimal  `gorm:"type:decimal(18,6);not null;default:0" json:"used_budget"`
	DailyLimit   *decimal.Decimal `gorm:"type:decimal(18,6)" json:"daily_limit,omitempty"`
	MonthlyLimit *decimal.Decimal `gorm:"type:decimal(18,6)" json:"monthly_limit,omitempty"`
	LastReset    time.Time        `json:"last_reset"`
}

// RemainingBudget returns TotalBudget - UsedBudget.
func (b *TokenBudget) RemainingBudget() decimal.Decimal {
	return b.TotalBudget.Sub(b.UsedBudget)
}

// Utilization returns UsedBudget/TotalBudget, or zero when TotalBudget is
// zero.
func (b *TokenBudget) Utilization() decimal.Decimal {
	if b.TotalBudget.IsZero() {
		return decimal.Zero
	}
	return b.UsedBudget.Div(b.TotalBudget)
}

// TokenUsageRecord is the append-only audit row inserted once per
// successful call. RequestID is unique: a duplicate insert is the
// settlement-idempotence no-op the budget manager relies on.
type TokenUsageRecord struct {
	BaseModel
	TenantID         string          `gorm:"not null;index" json:"tenant_id"`
	UserID           string          `gorm:"not null;index" json:"user_id"`
	RequestID        string          `gorm:"not null;uniqueIndex" json:"request_id"`
	Model            string          `gorm:"not null;index" json:"model"`
	Provider         string          `gorm:"not null;index" json:"provider"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	CostUSD          decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"cost_usd"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// UsageAggregate is one hourly rollup row for /metrics/usage/{period}.
type UsageAggregate struct {
	BaseModel
	TenantID   string          `gorm:"not null;index:idx_usage_agg,unique" json:"tenant_id"`
	UserID     string          `gorm:"not null;index:idx_usage_agg,unique" json:"user_id"`
	BucketHour time.Time       `gorm:"not null;index:idx_usage_agg,unique" json:"bucket_hour"`
	Requests   int64           `json:"requests"`
	TotalCost  decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0" json:"total_cost"`
}

// AlertSeverity classifies a threshold-crossing budget alert.
type AlertSeverity string

const (
	AlertWarning     AlertSeverity = "warning"
	AlertLimitReached AlertSeverity = "limit_reached"
	AlertExceeded    AlertSeverity = "exceeded"
)

// TokenBudgetAlert is one persisted, threshold-crossing alert row for a
// (tenant,user) pair. Distinct from the team/user-tier BudgetAlert used by
// the admin budget service — this one tracks the gateway's own
// tenant/user token budgets.
type TokenBudgetAlert struct {
	BaseModel
	TenantID       string        `gorm:"not null;index" json:"tenant_id"`
	UserID         string        `gorm:"not null;index" json:"user_id"`
	Threshold      float64       `json:"threshold"`
	UtilizationPct float64       `json:"utilization_pct"`
	Severity       AlertSeverity `json:"severity"`
	SentAt         time.Time     `json:"sent_at"`
}

// UsagePeriod restricts usage-statistics queries to a fixed, safe set of
// rollup windows -- never built from caller-controlled interval strings.
type UsagePeriod string

const (
	PeriodDay   UsagePeriod = "day"
	PeriodWeek  UsagePeriod = "week"
	PeriodMonth UsagePeriod = "month"
)
