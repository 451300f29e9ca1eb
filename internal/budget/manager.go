// Package budget implements the Token/Budget Manager: pre-flight
// estimation and reservation, post-flight settlement, tier-limit
// enforcement, and threshold alerting. All money arithmetic uses
// shopspring/decimal; floating point never touches a settlement path.
package budget

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/apperrors"
	"github.com/llmgateway/gateway/internal/models"
	"github.com/llmgateway/gateway/internal/ports"
)

var alertThresholds = []float64{0.50, 0.80, 0.90, 0.95, 1.00}

// cachedBudget is the fast-path, process-local view of one (tenant,user)
// budget. reservedTotal tracks outstanding reservations so RemainingBudget
// accounts for money that is held but not yet settled.
type cachedBudget struct {
	mu               sync.Mutex
	budget           *models.TokenBudget
	reservedTotal    decimal.Decimal
	lastAlertThresh  float64
}

func (c *cachedBudget) remaining() decimal.Decimal {
	return c.budget.RemainingBudget().Sub(c.reservedTotal)
}

// Manager is the Token/Budget Manager.
type Manager struct {
	cfg        Config
	relational ports.RelationalPort
	kv         ports.EphemeralKVPort
	logger     *zap.Logger

	mu     sync.Mutex
	cache  map[string]*cachedBudget
	locks  map[string]*sync.Mutex
	lockMu sync.Mutex
}

// New constructs a Manager.
func New(cfg Config, relational ports.RelationalPort, kv ports.EphemeralKVPort, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg.withDefaults(),
		relational: relational,
		kv:         kv,
		logger:     logger,
		cache:      make(map[string]*cachedBudget),
		locks:      make(map[string]*sync.Mutex),
	}
}

// Start launches the background reconciliation, aggregation, and reset
// goroutines. They stop when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go m.cacheReloadLoop(ctx)
	go m.aggregationLoop(ctx)
	go m.resetLoop(ctx)
}

func cacheKey(tenantID, userID string) string { return tenantID + ":" + userID }

func reservationKey(tenantID, userID, requestID string) string {
	return fmt.Sprintf("budget_reservation:%s:%s:%s", tenantID, userID, requestID)
}

func (m *Manager) userLock(tenantID, userID string) *sync.Mutex {
	key := cacheKey(tenantID, userID)
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

func (m *Manager) loadCached(ctx context.Context, tenantID, userID string) (*cachedBudget, error) {
	key := cacheKey(tenantID, userID)

	m.mu.Lock()
	c, ok := m.cache[key]
	m.mu.Unlock()
	if ok {
		return c, nil
	}

	b, err := m.relational.GetOrCreateTokenBudget(ctx, tenantID, userID, m.cfg.DefaultBudget)
	if err != nil {
		return nil, apperrors.Internal("load token budget", err)
	}

	c = &cachedBudget{budget: b, reservedTotal: decimal.Zero}
	m.mu.Lock()
	m.cache[key] = c
	m.mu.Unlock()
	return c, nil
}

// Estimate computes a pre-flight cost estimate in USD for the given
// request against the selected model descriptor.
func (m *Manager) Estimate(req *models.ChatRequest, descriptor models.ModelDescriptor) decimal.Decimal {
	promptChars := 0
	for _, msg := range req.Messages {
		promptChars += len(msg.Content)
	}
	promptTokens := promptChars/4 + 10*len(req.Messages)
	if len(req.Tools) > 0 {
		promptTokens += estimatedToolTokens(req.Tools)
	}

	completionTokens := 500
	if req.MaxTokens != nil {
		completionTokens = *req.MaxTokens
	}

	return m.cost(descriptor.ID, descriptor.CostPer1kTokens, promptTokens, completionTokens)
}

func estimatedToolTokens(tools []models.Tool) int {
	total := 0
	for _, t := range tools {
		total += len(t.Function.Name) + len(t.Function.Description) + 32
	}
	return total / 4
}

// CalcCost computes the actual cost in USD for a completed call's usage,
// priced from the same model descriptor Estimate used for the pre-flight
// reservation, so reserve and settle never disagree about a model's price.
func (m *Manager) CalcCost(descriptor models.ModelDescriptor, usage models.TokenUsage) decimal.Decimal {
	return m.cost(descriptor.ID, descriptor.CostPer1kTokens, usage.PromptTokens, usage.CompletionTokens)
}

// cost applies the per-model completion multiplier and rounds half-up to
// 6 fractional digits (1 microdollar), per the money design note.
func (m *Manager) cost(modelID string, pricePer1k decimal.Decimal, promptTokens, completionTokens int) decimal.Decimal {
	multiplier := costMultiplier(modelID)

	promptCost := decimal.NewFromInt(int64(promptTokens)).Mul(pricePer1k).Div(decimal.NewFromInt(1000))
	completionCost := decimal.NewFromInt(int64(completionTokens)).Mul(multiplier).Mul(pricePer1k).Div(decimal.NewFromInt(1000))

	total := promptCost.Add(completionCost)
	return total.Round(6)
}

// Reserve attempts to hold `amount` against the (tenant,user) budget. It
// is the pipeline's step 3: a false return with a nil error means
// insufficient budget, not a system failure.
func (m *Manager) Reserve(ctx context.Context, tenantID, userID string, amount decimal.Decimal, requestID string) (bool, error) {
	lock := m.userLock(tenantID, userID)
	lock.Lock()
	defer lock.Unlock()

	cached, err := m.loadCached(ctx, tenantID, userID)
	if err != nil {
		return false, err
	}

	cached.mu.Lock()
	if m.cfg.BudgetEnforcementEnabled {
		if cached.remaining().LessThan(amount) {
			cached.mu.Unlock()
			return false, nil
		}
	}
	cached.mu.Unlock()

	if m.cfg.BudgetEnforcementEnabled && cached.budget.DailyLimit != nil {
		ok, err := m.withinCap(ctx, tenantID, userID, amount, *cached.budget.DailyLimit, startOfDay(m.cfg.ResetLocation))
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if m.cfg.BudgetEnforcementEnabled && cached.budget.MonthlyLimit != nil {
		ok, err := m.withinCap(ctx, tenantID, userID, amount, *cached.budget.MonthlyLimit, startOfMonth(m.cfg.ResetLocation))
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if err := m.kv.SetWithTTL(ctx, reservationKey(tenantID, userID, requestID), amount.String(), m.cfg.ReservationTTL); err != nil {
		return false, apperrors.Internal("write budget reservation", err)
	}

	cached.mu.Lock()
	cached.reservedTotal = cached.reservedTotal.Add(amount)
	cached.mu.Unlock()

	return true, nil
}

func (m *Manager) withinCap(ctx context.Context, tenantID, userID string, amount, cap decimal.Decimal, since time.Time) (bool, error) {
	used, err := m.relational.SumUsageSince(ctx, tenantID, userID, since)
	if err != nil {
		return false, apperrors.Internal("sum usage for cap check", err)
	}
	return used.Add(amount).LessThanOrEqual(cap), nil
}

// Settle converts a reservation into a durable UsageRecord plus a
// used_budget increment. Idempotent: a duplicate request_id is a no-op
// that still returns the (already-settled) cost.
func (m *Manager) Settle(ctx context.Context, tenantID, userID, requestID string, usage models.TokenUsage, descriptor models.ModelDescriptor) (decimal.Decimal, error) {
	actualCost := m.CalcCost(descriptor, usage)

	lock := m.userLock(tenantID, userID)
	lock.Lock()
	defer lock.Unlock()

	rec := &models.TokenUsageRecord{
		TenantID:         tenantID,
		UserID:           userID,
		RequestID:        requestID,
		Model:            descriptor.ID,
		Provider:         descriptor.Provider,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		CostUSD:          actualCost,
		OccurredAt:       time.Now(),
	}

	inserted, err := m.relational.InsertUsageRecord(ctx, rec)
	if err != nil {
		return decimal.Zero, apperrors.Internal("insert usage record", err)
	}

	resKey := reservationKey(tenantID, userID, requestID)
	reservedAmount := decimal.Zero
	if raw, ok, err := m.kv.Get(ctx, resKey); err == nil && ok {
		if parsed, perr := decimal.NewFromString(raw); perr == nil {
			reservedAmount = parsed
		}
	}

	if !inserted {
		// Duplicate request_id: settlement already happened once. Still
		// release the reservation bookkeeping if it somehow lingered, but
		// never double-charge used_budget.
		_ = m.kv.Delete(ctx, resKey)
		return actualCost, nil
	}

	cached, err := m.loadCached(ctx, tenantID, userID)
	if err != nil {
		return actualCost, err
	}

	if err := m.relational.UpdateTokenBudgetUsed(ctx, tenantID, userID, actualCost); err != nil {
		return decimal.Zero, apperrors.Internal("update used budget", err)
	}
	_ = m.kv.Delete(ctx, resKey)

	cached.mu.Lock()
	cached.reservedTotal = cached.reservedTotal.Sub(reservedAmount)
	if cached.reservedTotal.IsNegative() {
		cached.reservedTotal = decimal.Zero
	}
	cached.budget.UsedBudget = cached.budget.UsedBudget.Add(actualCost)
	utilization := cached.budget.Utilization()
	crossed, severity := nextAlertCrossed(cached.lastAlertThresh, utilization.InexactFloat64())
	if crossed > 0 {
		cached.lastAlertThresh = crossed
	}
	cached.mu.Unlock()

	if crossed > 0 {
		m.emitAlert(ctx, tenantID, userID, crossed, utilization.InexactFloat64(), severity)
	}

	return actualCost, nil
}

// Release refunds a reservation. Releasing an unknown request_id is a
// documented no-op, not an error.
func (m *Manager) Release(ctx context.Context, tenantID, userID, requestID string) error {
	resKey := reservationKey(tenantID, userID, requestID)

	raw, ok, err := m.kv.Get(ctx, resKey)
	if err != nil {
		return apperrors.Internal("read reservation", err)
	}
	if !ok {
		return nil
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		amount = decimal.Zero
	}

	if err := m.kv.Delete(ctx, resKey); err != nil {
		return apperrors.Internal("delete reservation", err)
	}

	lock := m.userLock(tenantID, userID)
	lock.Lock()
	defer lock.Unlock()

	cached, err := m.loadCached(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	cached.mu.Lock()
	cached.reservedTotal = cached.reservedTotal.Sub(amount)
	if cached.reservedTotal.IsNegative() {
		cached.reservedTotal = decimal.Zero
	}
	cached.mu.Unlock()
	return nil
}

// nextAlertCrossed returns the highest threshold in alertThresholds that
// utilization has reached but lastAlert has not, or 0 if none.
func nextAlertCrossed(lastAlert float64, utilization float64) (float64, models.AlertSeverity) {
	crossed := 0.0
	for _, t := range alertThresholds {
		if utilization >= t && t > lastAlert {
			crossed = t
		}
	}
	if crossed == 0 {
		return 0, ""
	}
	return crossed, severityFor(crossed)
}

func severityFor(threshold float64) models.AlertSeverity {
	switch {
	case threshold >= 1.00:
		return models.AlertExceeded
	case threshold >= 0.90:
		return models.AlertLimitReached
	default:
		return models.AlertWarning
	}
}

func (m *Manager) emitAlert(ctx context.Context, tenantID, userID string, threshold, utilization float64, severity models.AlertSeverity) {
	alert := &models.TokenBudgetAlert{
		TenantID:       tenantID,
		UserID:         userID,
		Threshold:      threshold,
		UtilizationPct: utilization * 100,
		Severity:       severity,
		SentAt:         time.Now(),
	}
	if err := m.relational.InsertBudgetAlert(ctx, alert); err != nil {
		if m.logger != nil {
			m.logger.Error("failed to persist budget alert", zap.Error(err))
		}
	}
	if m.logger != nil {
		m.logger.Warn("budget threshold crossed",
			zap.String("tenant_id", tenantID),
			zap.String("user_id", userID),
			zap.Float64("threshold", threshold),
			zap.String("severity", string(severity)))
	}
}

// UsageStatistics returns the total cost and request count for a
// (tenant,user) pair over a fixed, allow-listed rollup window. The window
// enum (not a caller-supplied string) prevents the kind of unsafe SQL
// interval construction this was ported away from.
func (m *Manager) UsageStatistics(ctx context.Context, tenantID, userID string, period models.UsagePeriod) (decimal.Decimal, int64, error) {
	switch period {
	case models.PeriodDay, models.PeriodWeek, models.PeriodMonth:
	default:
		return decimal.Zero, 0, apperrors.Validation("unsupported usage period: "+string(period), nil)
	}
	return m.relational.UsageStatistics(ctx, tenantID, userID, period)
}

func (m *Manager) cacheReloadLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CacheReloadPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcileCache(ctx)
		}
	}
}

func (m *Manager) reconcileCache(ctx context.Context) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, key := range keys {
		parts := strings.SplitN(key, ":", 2)
		if len(parts) != 2 {
			continue
		}
		tenantID, userID := parts[0], parts[1]
		fresh, err := m.relational.GetOrCreateTokenBudget(ctx, tenantID, userID, m.cfg.DefaultBudget)
		if err != nil {
			if m.logger != nil {
				m.logger.Error("budget cache reload failed", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		m.mu.Lock()
		if cached, ok := m.cache[key]; ok {
			cached.mu.Lock()
			cached.budget = fresh
			cached.mu.Unlock()
		}
		m.mu.Unlock()
	}
}

func (m *Manager) aggregationLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.AggregationPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.rollupAggregates(ctx)
		}
	}
}

func (m *Manager) rollupAggregates(ctx context.Context) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	bucket := time.Now().Truncate(time.Hour)
	for _, key := range keys {
		parts := strings.SplitN(key, ":", 2)
		if len(parts) != 2 {
			continue
		}
		tenantID, userID := parts[0], parts[1]
		m.mu.Lock()
		cached := m.cache[key]
		m.mu.Unlock()
		if cached == nil {
			continue
		}
		cached.mu.Lock()
		cost := cached.budget.UsedBudget
		cached.mu.Unlock()
		if err := m.relational.UpsertUsageAggregate(ctx, tenantID, userID, bucket, cost); err != nil && m.logger != nil {
			m.logger.Error("usage aggregate rollup failed", zap.Error(err))
		}
	}
}

func (m *Manager) resetLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ResetCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.applyScheduledResets(ctx)
		}
	}
}

// applyScheduledResets zeroes used_budget for accounts whose reset
// boundary (local midnight for daily caps, first-of-month for monthly
// caps) has just passed. Total budget is never auto-reset.
func (m *Manager) applyScheduledResets(ctx context.Context) {
	now := time.Now().In(m.cfg.ResetLocation)

	m.mu.Lock()
	keys := make([]string, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, key := range keys {
		parts := strings.SplitN(key, ":", 2)
		if len(parts) != 2 {
			continue
		}
		tenantID, userID := parts[0], parts[1]

		m.mu.Lock()
		cached := m.cache[key]
		m.mu.Unlock()
		if cached == nil {
			continue
		}

		cached.mu.Lock()
		b := cached.budget
		needsReset := false
		if b.DailyLimit != nil && b.LastReset.In(m.cfg.ResetLocation).Day() != now.Day() {
			needsReset = true
		}
		if b.MonthlyLimit != nil && b.LastReset.In(m.cfg.ResetLocation).Month() != now.Month() {
			needsReset = true
		}
		cached.mu.Unlock()

		if !needsReset {
			continue
		}
		if err := m.relational.ResetBudgetUsed(ctx, tenantID, userID); err != nil {
			if m.logger != nil {
				m.logger.Error("scheduled budget reset failed", zap.Error(err))
			}
			continue
		}
		cached.mu.Lock()
		cached.budget.UsedBudget = decimal.Zero
		cached.budget.LastReset = now
		cached.lastAlertThresh = 0
		cached.mu.Unlock()
	}
}

func startOfDay(loc *time.Location) time.Time {
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

func startOfMonth(loc *time.Location) time.Time {
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
}
