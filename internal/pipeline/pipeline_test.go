package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/gateway/internal/apperrors"
	"github.com/llmgateway/gateway/internal/budget"
	"github.com/llmgateway/gateway/internal/contextengine"
	"github.com/llmgateway/gateway/internal/modelrouter"
	"github.com/llmgateway/gateway/internal/models"
	"github.com/llmgateway/gateway/internal/ports"
)

type fakeProvider struct {
	name       string
	reply      string
	failErr    error
	streamFail error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req *models.ChatRequest, d models.ModelDescriptor) (*models.ChatResponse, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	return &models.ChatResponse{
		Model:    d.ID,
		Provider: d.Provider,
		Choices:  []models.Choice{{Message: models.Message{Role: models.RoleAssistant, Content: f.reply}}},
		Usage:    models.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeProvider) StreamComplete(ctx context.Context, req *models.ChatRequest, d models.ModelDescriptor) (<-chan ports.ProviderStreamEvent, error) {
	ch := make(chan ports.ProviderStreamEvent, 4)
	go func() {
		defer close(ch)
		if f.streamFail != nil {
			ch <- ports.ProviderStreamEvent{Err: f.streamFail}
			return
		}
		ch <- ports.ProviderStreamEvent{Delta: "hel"}
		ch <- ports.ProviderStreamEvent{Delta: "lo", FinishReason: "stop"}
	}()
	return ch, nil
}

func (f *fakeProvider) ListModels(ctx context.Context) ([]models.ModelDescriptor, error) { return nil, nil }
func (f *fakeProvider) HealthCheck(ctx context.Context) error                            { return nil }

func descriptor(provider, id string) models.ModelDescriptor {
	return models.ModelDescriptor{
		Provider:          provider,
		ID:                id,
		MaxTokens:         4096,
		ContextLength:     8192,
		CostPer1kTokens:   decimal.NewFromFloat(0.01),
		CapabilityScore:   0.9,
		SupportsStreaming: true,
		SupportsTools:     true,
	}
}

// fakeRelational is an in-memory ports.RelationalPort covering both the
// budget and memory methods the pipeline's dependencies need.
type fakeRelational struct {
	mu     sync.Mutex
	budget map[string]*models.TokenBudget
	memory map[string][]models.MemoryEntry
	usage  []*models.TokenUsageRecord
}

func newFakeRelational() *fakeRelational {
	return &fakeRelational{
		budget: make(map[string]*models.TokenBudget),
		memory: make(map[string][]models.MemoryEntry),
	}
}

func (f *fakeRelational) key(tenantID, userID string) string { return tenantID + ":" + userID }

func (f *fakeRelational) GetOrCreateTokenBudget(ctx context.Context, tenantID, userID string, defaultBudget decimal.Decimal) (*models.TokenBudget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(tenantID, userID)
	if b, ok := f.budget[k]; ok {
		return b, nil
	}
	b := &models.TokenBudget{TenantID: tenantID, UserID: userID, TotalBudget: defaultBudget, LastReset: time.Now()}
	f.budget[k] = b
	return b, nil
}

func (f *fakeRelational) UpdateTokenBudgetUsed(ctx context.Context, tenantID, userID string, delta decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.budget[f.key(tenantID, userID)]
	b.UsedBudget = b.UsedBudget.Add(delta)
	return nil
}

func (f *fakeRelational) SumUsageSince(ctx context.Context, tenantID, userID string, since time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeRelational) InsertUsageRecord(ctx context.Context, rec *models.TokenUsageRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.usage {
		if existing.RequestID == rec.RequestID {
			return false, nil
		}
	}
	f.usage = append(f.usage, rec)
	return true, nil
}

func (f *fakeRelational) InsertBudgetAlert(ctx context.Context, alert *models.TokenBudgetAlert) error {
	return nil
}

func (f *fakeRelational) ResetBudgetUsed(ctx context.Context, tenantID, userID string) error {
	return nil
}

func (f *fakeRelational) UpsertUsageAggregate(ctx context.Context, tenantID, userID string, bucketHour time.Time, cost decimal.Decimal) error {
	return nil
}

func (f *fakeRelational) FetchRecentMemory(ctx context.Context, userID, sessionID string, limit int) ([]models.MemoryEntry, error) {
	return f.memory[userID+":"+sessionID], nil
}

func (f *fakeRelational) StoreMemory(ctx context.Context, entry models.MemoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := entry.UserID + ":" + entry.SessionID
	f.memory[key] = append(f.memory[key], entry)
	return nil
}

func (f *fakeRelational) PruneMemory(ctx context.Context, olderThan time.Time, minImportance float64, hardCutoff time.Time) error {
	return nil
}

func (f *fakeRelational) UsageStatistics(ctx context.Context, tenantID, userID string, period models.UsagePeriod) (decimal.Decimal, int64, error) {
	return decimal.Zero, 0, nil
}

type fakeKV struct {
	mu sync.Mutex
	m  map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{m: make(map[string]string)} }

func (f *fakeKV) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[key] = value
	return nil
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.m[key]
	return v, ok, nil
}

func (f *fakeKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, key)
	return nil
}

func (f *fakeKV) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	return 0, nil
}

func newTestPipeline(t *testing.T, provider *fakeProvider, withContext bool) (*Pipeline, *fakeRelational) {
	t.Helper()
	router := modelrouter.New(modelrouter.Config{}, nil)
	router.Register(descriptor("openai", "gpt-4"), provider)

	rel := newFakeRelational()
	kv := newFakeKV()
	budgetMgr := budget.New(budget.Config{
		BudgetEnforcementEnabled: true,
		DefaultBudget:            decimal.NewFromInt(100),
	}, rel, kv, nil)

	var ctxEngine *contextengine.Engine
	if withContext {
		ctxEngine = contextengine.New(contextengine.Config{}, nil, nil, rel, nil)
	}

	return New(router, ctxEngine, budgetMgr, nil), rel
}

func TestExecute_HappyPathSettlesBudgetAndStoresMemory(t *testing.T) {
	provider := &fakeProvider{name: "openai", reply: "hi there"}
	p, rel := newTestPipeline(t, provider, true)

	req := &models.ChatRequest{
		UserID:   "user1",
		TenantID: "tenant1",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	}

	resp, err := p.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Choices[0].Message.Content)
	assert.True(t, resp.CostUSD.GreaterThan(decimal.Zero))
	assert.NotEmpty(t, resp.ExecutionID)

	assert.NotEmpty(t, rel.memory["user1:"])
}

func TestExecute_ReleasesBudgetOnProviderError(t *testing.T) {
	provider := &fakeProvider{name: "openai", failErr: errors.New("upstream exploded")}
	p, _ := newTestPipeline(t, provider, false)

	req := &models.ChatRequest{
		UserID:   "user1",
		TenantID: "tenant1",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	}

	_, err := p.Execute(context.Background(), req)
	require.Error(t, err)

	// A second request must still be admitted: the failed request's
	// reservation must have been released, not left outstanding.
	req2 := &models.ChatRequest{
		UserID:   "user1",
		TenantID: "tenant1",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello again"}},
	}
	provider.failErr = nil
	provider.reply = "ok"
	_, err = p.Execute(context.Background(), req2)
	require.NoError(t, err)
}

func TestExecute_RejectsEmptyMessages(t *testing.T) {
	provider := &fakeProvider{name: "openai"}
	p, _ := newTestPipeline(t, provider, false)

	req := &models.ChatRequest{UserID: "user1", TenantID: "tenant1"}
	_, err := p.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestExecute_InjectsEngineeredSystemInstructionsWhenContextIDSet(t *testing.T) {
	provider := &fakeProvider{name: "openai", reply: "ok"}
	p, _ := newTestPipeline(t, provider, true)

	req := &models.ChatRequest{
		UserID:    "user1",
		TenantID:  "tenant1",
		ContextID: "ctx-1",
		Messages:  []models.Message{{Role: models.RoleUser, Content: "help me write a function"}},
	}

	_, err := p.Execute(context.Background(), req)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(req.Messages), 2)
	assert.Equal(t, models.RoleSystem, req.Messages[0].Role)
	assert.NotEmpty(t, req.Messages[0].Content)
}

func TestExecuteStream_EmitsChunksThenUsageThenDone(t *testing.T) {
	provider := &fakeProvider{name: "openai"}
	p, _ := newTestPipeline(t, provider, false)

	req := &models.ChatRequest{
		UserID:   "user1",
		TenantID: "tenant1",
		Stream:   true,
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	}

	events, err := p.ExecuteStream(context.Background(), req)
	require.NoError(t, err)

	var chunks []string
	var sawFinal, sawDone bool
	for ev := range events {
		switch {
		case ev.Chunk != nil:
			chunks = append(chunks, ev.Chunk.Choices[0].Delta.Content)
		case ev.Final != nil:
			sawFinal = true
			assert.True(t, ev.Final.CostUSD.GreaterThan(decimal.Zero))
		case ev.Done:
			sawDone = true
		}
	}

	assert.Equal(t, []string{"hel", "lo"}, chunks)
	assert.True(t, sawFinal)
	assert.True(t, sawDone)
}

func TestExecuteStream_ReleasesBudgetOnMidStreamError(t *testing.T) {
	provider := &fakeProvider{name: "openai", streamFail: errors.New("connection dropped")}
	p, _ := newTestPipeline(t, provider, false)

	req := &models.ChatRequest{
		UserID:   "user1",
		TenantID: "tenant1",
		Stream:   true,
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	}

	events, err := p.ExecuteStream(context.Background(), req)
	require.NoError(t, err)

	var sawErr, sawDone bool
	for ev := range events {
		if ev.Err != nil {
			sawErr = true
		}
		if ev.Done {
			sawDone = true
		}
	}
	assert.True(t, sawErr)
	assert.True(t, sawDone)

	// Budget must have been released, not settled: a follow-up request
	// should still be admitted against the same tenant/user.
	req2 := &models.ChatRequest{
		UserID:   "user1",
		TenantID: "tenant1",
		Messages: []models.Message{{Role: models.RoleUser, Content: "try again"}},
	}
	provider.streamFail = nil
	provider.failErr = nil
	provider.reply = "recovered"
	_, err = p.Execute(context.Background(), req2)
	require.NoError(t, err)
}
