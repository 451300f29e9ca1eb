// Package gatewaystore adapts the teacher's gorm/go-redis persistence
// stack to the narrow ports the budget manager, context engine, and
// pipeline depend on.
package gatewaystore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/llmgateway/gateway/internal/models"
)

// Relational is a gorm-backed ports.RelationalPort.
type Relational struct {
	db *gorm.DB
}

func NewRelational(db *gorm.DB) *Relational {
	return &Relational{db: db}
}

func (r *Relational) GetOrCreateTokenBudget(ctx context.Context, tenantID, userID string, defaultBudget decimal.Decimal) (*models.TokenBudget, error) {
	var budget models.TokenBudget
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		First(&budget).Error
	if err == nil {
		return &budget, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	budget = models.TokenBudget{
		TenantID:    tenantID,
		UserID:      userID,
		TotalBudget: defaultBudget,
		LastReset:   time.Now(),
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&budget).Error; err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		First(&budget).Error; err != nil {
		return nil, err
	}
	return &budget, nil
}

func (r *Relational) UpdateTokenBudgetUsed(ctx context.Context, tenantID, userID string, delta decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&models.TokenBudget{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Update("used_budget", gorm.Expr("used_budget + ?", delta)).Error
}

func (r *Relational) SumUsageSince(ctx context.Context, tenantID, userID string, since time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&models.TokenUsageRecord{}).
		Where("tenant_id = ? AND user_id = ? AND occurred_at >= ?", tenantID, userID, since).
		Select("COALESCE(SUM(cost_usd), 0)").
		Row().Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (r *Relational) InsertUsageRecord(ctx context.Context, rec *models.TokenUsageRecord) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			DoNothing: true,
		}).
		Create(rec)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Relational) InsertBudgetAlert(ctx context.Context, alert *models.TokenBudgetAlert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *Relational) ResetBudgetUsed(ctx context.Context, tenantID, userID string) error {
	return r.db.WithContext(ctx).
		Model(&models.TokenBudget{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Updates(map[string]interface{}{"used_budget": decimal.Zero, "last_reset": time.Now()}).Error
}

func (r *Relational) UpsertUsageAggregate(ctx context.Context, tenantID, userID string, bucketHour time.Time, cost decimal.Decimal) error {
	agg := models.UsageAggregate{
		TenantID:   tenantID,
		UserID:     userID,
		BucketHour: bucketHour,
		Requests:   1,
		TotalCost:  cost,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}, {Name: "bucket_hour"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"requests":   gorm.Expr("usage_aggregates.requests + 1"),
				"total_cost": gorm.Expr("usage_aggregates.total_cost + ?", cost),
			}),
		}).
		Create(&agg).Error
}

func (r *Relational) FetchRecentMemory(ctx context.Context, userID, sessionID string, limit int) ([]models.MemoryEntry, error) {
	var rows []models.ConversationMemoryRow
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]models.MemoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, models.MemoryEntry{
			UserID:      row.UserID,
			SessionID:   row.SessionID,
			Content:     row.Content,
			Timestamp:   row.OccurredAt,
			Importance:  row.Importance,
			AccessCount: row.AccessCount,
		})
	}
	return entries, nil
}

func (r *Relational) StoreMemory(ctx context.Context, entry models.MemoryEntry) error {
	row := models.ConversationMemoryRow{
		UserID:      entry.UserID,
		SessionID:   entry.SessionID,
		Content:     entry.Content,
		Importance:  entry.Importance,
		AccessCount: entry.AccessCount,
		OccurredAt:  entry.Timestamp,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Relational) PruneMemory(ctx context.Context, olderThan time.Time, minImportance float64, hardCutoff time.Time) error {
	return r.db.WithContext(ctx).
		Where("occurred_at < ? AND importance < ?", olderThan, minImportance).
		Or("occurred_at < ?", hardCutoff).
		Delete(&models.ConversationMemoryRow{}).Error
}

func (r *Relational) UsageStatistics(ctx context.Context, tenantID, userID string, period models.UsagePeriod) (decimal.Decimal, int64, error) {
	since := usagePeriodStart(period)

	var result struct {
		Total decimal.NullDecimal
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.TokenUsageRecord{}).
		Where("tenant_id = ? AND user_id = ? AND occurred_at >= ?", tenantID, userID, since).
		Select("COALESCE(SUM(cost_usd), 0) AS total, COUNT(*) AS count").
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, 0, err
	}
	if !result.Total.Valid {
		return decimal.Zero, result.Count, nil
	}
	return result.Total.Decimal, result.Count, nil
}

// usagePeriodStart maps an allow-listed period to its starting instant.
// period is always one of the models.Period* constants -- never built
// from caller-controlled strings.
func usagePeriodStart(period models.UsagePeriod) time.Time {
	now := time.Now()
	switch period {
	case models.PeriodWeek:
		return now.AddDate(0, 0, -7)
	case models.PeriodMonth:
		return now.AddDate(0, -1, 0)
	default:
		return now.AddDate(0, 0, -1)
	}
}
