package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/gateway/internal/models"
)

type fakeRelational struct {
	mu      sync.Mutex
	budgets map[string]*models.TokenBudget
	records map[string]*models.TokenUsageRecord
	alerts  []*models.TokenBudgetAlert
	aggs    map[string]decimal.Decimal
	resets  int
}

func newFakeRelational() *fakeRelational {
	return &fakeRelational{
		budgets: make(map[string]*models.TokenBudget),
		records: make(map[string]*models.TokenUsageRecord),
		aggs:    make(map[string]decimal.Decimal),
	}
}

func (f *fakeRelational) key(tenantID, userID string) string { return tenantID + ":" + userID }

func (f *fakeRelational) GetOrCreateTokenBudget(ctx context.Context, tenantID, userID string, defaultBudget decimal.Decimal) (*models.TokenBudget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(tenantID, userID)
	// Return a copy, as the gorm store returns a freshly scanned row.
	if b, ok := f.budgets[k]; ok {
		cp := *b
		return &cp, nil
	}
	b := &models.TokenBudget{
		TenantID:    tenantID,
		UserID:      userID,
		TotalBudget: defaultBudget,
		UsedBudget:  decimal.Zero,
		LastReset:   time.Now(),
	}
	f.budgets[k] = b
	cp := *b
	return &cp, nil
}

func (f *fakeRelational) UpdateTokenBudgetUsed(ctx context.Context, tenantID, userID string, delta decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.budgets[f.key(tenantID, userID)]
	b.UsedBudget = b.UsedBudget.Add(delta)
	return nil
}

func (f *fakeRelational) SumUsageSince(ctx context.Context, tenantID, userID string, since time.Time) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, r := range f.records {
		if r.TenantID == tenantID && r.UserID == userID && r.OccurredAt.After(since) {
			total = total.Add(r.CostUSD)
		}
	}
	return total, nil
}

func (f *fakeRelational) InsertUsageRecord(ctx context.Context, rec *models.TokenUsageRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.records[rec.RequestID]; exists {
		return false, nil
	}
	f.records[rec.RequestID] = rec
	return true, nil
}

func (f *fakeRelational) InsertBudgetAlert(ctx context.Context, alert *models.TokenBudgetAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeRelational) ResetBudgetUsed(ctx context.Context, tenantID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	b := f.budgets[f.key(tenantID, userID)]
	b.UsedBudget = decimal.Zero
	return nil
}

func (f *fakeRelational) UpsertUsageAggregate(ctx context.Context, tenantID, userID string, bucketHour time.Time, cost decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggs[f.key(tenantID, userID)] = cost
	return nil
}

func (f *fakeRelational) FetchRecentMemory(ctx context.Context, userID, sessionID string, limit int) ([]models.MemoryEntry, error) {
	return nil, nil
}
func (f *fakeRelational) StoreMemory(ctx context.Context, entry models.MemoryEntry) error { return nil }
func (f *fakeRelational) PruneMemory(ctx context.Context, olderThan time.Time, minImportance float64, hardCutoff time.Time) error {
	return nil
}

func (f *fakeRelational) UsageStatistics(ctx context.Context, tenantID, userID string, period models.UsagePeriod) (decimal.Decimal, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	var count int64
	for _, r := range f.records {
		if r.TenantID == tenantID && r.UserID == userID {
			total = total.Add(r.CostUSD)
			count++
		}
	}
	return total, count, nil
}

type fakeKV struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{values: make(map[string]string)} }

func (f *fakeKV) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *fakeKV) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	return 0, nil
}

func newTestManager(defaultBudget decimal.Decimal) (*Manager, *fakeRelational, *fakeKV) {
	rel := newFakeRelational()
	kv := newFakeKV()
	cfg := Config{
		BudgetEnforcementEnabled: true,
		DefaultBudget:            defaultBudget,
	}
	return New(cfg, rel, kv, nil), rel, kv
}

// gpt4Descriptor is the test fixture's stand-in for the model descriptor
// the router would have selected; Settle/CalcCost price from it directly.
func gpt4Descriptor() models.ModelDescriptor {
	return models.ModelDescriptor{Provider: "openai", ID: "gpt-4", CostPer1kTokens: decimal.NewFromFloat(0.03)}
}

func TestReserveThenSettle_DecrementsRemainingAndInsertsRecord(t *testing.T) {
	m, rel, _ := newTestManager(decimal.NewFromInt(10))
	ctx := context.Background()

	ok, err := m.Reserve(ctx, "tenant1", "user1", decimal.NewFromFloat(1.0), "req-1")
	require.NoError(t, err)
	assert.True(t, ok)

	usage := models.TokenUsage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500}
	cost, err := m.Settle(ctx, "tenant1", "user1", "req-1", usage, gpt4Descriptor())
	require.NoError(t, err)
	assert.True(t, cost.IsPositive())

	rel.mu.Lock()
	rec, ok := rel.records["req-1"]
	rel.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, cost, rec.CostUSD)
}

func TestSettle_IsIdempotentOnDuplicateRequestID(t *testing.T) {
	m, rel, _ := newTestManager(decimal.NewFromInt(10))
	ctx := context.Background()
	usage := models.TokenUsage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500}

	cost1, err := m.Settle(ctx, "tenant1", "user1", "req-dup", usage, gpt4Descriptor())
	require.NoError(t, err)
	cost2, err := m.Settle(ctx, "tenant1", "user1", "req-dup", usage, gpt4Descriptor())
	require.NoError(t, err)
	assert.Equal(t, cost1, cost2)

	rel.mu.Lock()
	b := rel.budgets["tenant1:user1"]
	rel.mu.Unlock()
	assert.Equal(t, cost1, b.UsedBudget, "duplicate settle must not double-charge used budget")
}

func TestReserve_RejectsWhenInsufficientRemaining(t *testing.T) {
	m, _, _ := newTestManager(decimal.NewFromFloat(0.01))
	ctx := context.Background()

	ok, err := m.Reserve(ctx, "tenant1", "user1", decimal.NewFromInt(5), "req-big")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelease_RefundsReservationAndIsNoOpOnUnknownRequest(t *testing.T) {
	m, _, kv := newTestManager(decimal.NewFromInt(10))
	ctx := context.Background()

	ok, err := m.Reserve(ctx, "tenant1", "user1", decimal.NewFromFloat(2.0), "req-2")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Release(ctx, "tenant1", "user1", "req-2"))

	_, exists, _ := kv.Get(ctx, reservationKey("tenant1", "user1", "req-2"))
	assert.False(t, exists)

	// Releasing again (now unknown) must not error.
	assert.NoError(t, m.Release(ctx, "tenant1", "user1", "req-2"))

	ok, err = m.Reserve(ctx, "tenant1", "user1", decimal.NewFromFloat(9.0), "req-3")
	require.NoError(t, err)
	assert.True(t, ok, "refunded reservation must free up capacity for a later, larger reserve")
}

func TestSettle_EmitsAlertOnThresholdCross(t *testing.T) {
	m, rel, _ := newTestManager(decimal.NewFromFloat(0.05))
	ctx := context.Background()

	// 1000 prompt tokens * 0.03/1000 = 0.03 against a 0.05 budget: 60% crosses the 50% threshold.
	usage := models.TokenUsage{PromptTokens: 1000, CompletionTokens: 0, TotalTokens: 1000}
	_, err := m.Settle(ctx, "tenant1", "user1", "req-alert", usage, gpt4Descriptor())
	require.NoError(t, err)

	rel.mu.Lock()
	defer rel.mu.Unlock()
	require.NotEmpty(t, rel.alerts)
}

func TestCalcCost_AppliesGPT4CompletionMultiplier(t *testing.T) {
	m, _, _ := newTestManager(decimal.NewFromInt(10))
	usage := models.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000}
	cost := m.CalcCost(gpt4Descriptor(), usage)
	// 1000 prompt tokens * 0.03/1000 = 0.03; 1000 completion tokens * 2 * 0.03/1000 = 0.06
	assert.True(t, cost.Equal(decimal.NewFromFloat(0.09)))
}

func TestUsageStatistics_RejectsUnlistedPeriod(t *testing.T) {
	m, _, _ := newTestManager(decimal.NewFromInt(10))
	_, _, err := m.UsageStatistics(context.Background(), "tenant1", "user1", models.UsagePeriod("1 day; DROP TABLE usage"))
	assert.Error(t, err)
}
