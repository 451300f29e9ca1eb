package gatewaystore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/llmgateway/gateway/internal/models"
)

func newTestRelational(t *testing.T) (*Relational, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	return NewRelational(gdb), mock
}

func TestGetOrCreateTokenBudget_ReturnsExisting(t *testing.T) {
	r, mock := newTestRelational(t)
	ctx := context.Background()

	id := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "user_id", "total_budget", "used_budget", "last_reset"}).
		AddRow(id, "tenant-1", "user-1", "100", "10", time.Now())
	mock.ExpectQuery(`SELECT \* FROM "token_budgets"`).WillReturnRows(rows)

	budget, err := r.GetOrCreateTokenBudget(ctx, "tenant-1", "user-1", decimal.NewFromInt(50))
	require.NoError(t, err)
	require.Equal(t, "tenant-1", budget.TenantID)
	require.Equal(t, "100", budget.TotalBudget.String())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertUsageRecord_DetectsDuplicateViaRowsAffected(t *testing.T) {
	r, mock := newTestRelational(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "token_usage_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	rec := &models.TokenUsageRecord{
		TenantID:  "tenant-1",
		UserID:    "user-1",
		RequestID: "req-1",
		Model:     "gpt-4",
		Provider:  "openai",
		CostUSD:   decimal.NewFromFloat(0.01),
	}

	inserted, err := r.InsertUsageRecord(ctx, rec)
	require.NoError(t, err)
	require.False(t, inserted, "zero rows returned from RETURNING means the conflict clause no-op'd")
}

func TestUsageStatistics_AllowListedPeriod(t *testing.T) {
	r, mock := newTestRelational(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"total", "count"}).AddRow("12.5", 3)
	mock.ExpectQuery(`SELECT COALESCE`).WillReturnRows(rows)

	total, count, err := r.UsageStatistics(ctx, "tenant-1", "user-1", models.PeriodWeek)
	require.NoError(t, err)
	require.Equal(t, "12.5", total.String())
	require.Equal(t, int64(3), count)
}

func TestUsagePeriodStart_Allowlist(t *testing.T) {
	now := time.Now()

	day := usagePeriodStart(models.PeriodDay)
	require.WithinDuration(t, now.AddDate(0, 0, -1), day, time.Second)

	week := usagePeriodStart(models.PeriodWeek)
	require.WithinDuration(t, now.AddDate(0, 0, -7), week, time.Second)

	month := usagePeriodStart(models.PeriodMonth)
	require.WithinDuration(t, now.AddDate(0, -1, 0), month, time.Second)
}
