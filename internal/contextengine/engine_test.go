package contextengine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/gateway/internal/models"
	"github.com/llmgateway/gateway/internal/ports"
)

type fakeVector struct {
	matches []ports.VectorMatch
}

func (f *fakeVector) Search(ctx context.Context, collection string, embedding []float32, topK int, scoreThreshold float64) ([]ports.VectorMatch, error) {
	return f.matches, nil
}

func (f *fakeVector) Upsert(ctx context.Context, collection string, chunk models.KnowledgeChunk) error {
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

// fakeRelational is a minimal in-memory ports.RelationalPort. Only the
// memory-related methods are exercised by these tests; the budget-related
// methods are no-ops present solely to satisfy the interface.
type fakeRelational struct {
	memory map[string][]models.MemoryEntry
}

func newFakeRelational() *fakeRelational {
	return &fakeRelational{memory: make(map[string][]models.MemoryEntry)}
}

func (f *fakeRelational) seed(userID, sessionID string, entries []models.MemoryEntry) {
	f.memory[memoryCacheKey(userID, sessionID)] = entries
}

func (f *fakeRelational) FetchRecentMemory(ctx context.Context, userID, sessionID string, limit int) ([]models.MemoryEntry, error) {
	return f.memory[memoryCacheKey(userID, sessionID)], nil
}

func (f *fakeRelational) StoreMemory(ctx context.Context, entry models.MemoryEntry) error {
	key := memoryCacheKey(entry.UserID, entry.SessionID)
	f.memory[key] = append(f.memory[key], entry)
	return nil
}

func (f *fakeRelational) PruneMemory(ctx context.Context, olderThan time.Time, minImportance float64, hardCutoff time.Time) error {
	return nil
}

func (f *fakeRelational) GetOrCreateTokenBudget(ctx context.Context, tenantID, userID string, defaultBudget decimal.Decimal) (*models.TokenBudget, error) {
	return &models.TokenBudget{TenantID: tenantID, UserID: userID, TotalBudget: defaultBudget}, nil
}

func (f *fakeRelational) UpdateTokenBudgetUsed(ctx context.Context, tenantID, userID string, delta decimal.Decimal) error {
	return nil
}

func (f *fakeRelational) SumUsageSince(ctx context.Context, tenantID, userID string, since time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeRelational) InsertUsageRecord(ctx context.Context, rec *models.TokenUsageRecord) (bool, error) {
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

func (f *fakeRelational) UsageStatistics(ctx context.Context, tenantID, userID string, period models.UsagePeriod) (decimal.Decimal, int64, error) {
	return decimal.Zero, 0, nil
}

func TestSystemInstructions_AppliesTaskAndPreferenceAdaptations(t *testing.T) {
	e := New(Config{}, nil, nil, newFakeRelational(), nil)
	req := models.ContextRequest{
		TaskType: models.TaskCodeGeneration,
		Preferences: models.UserPreferences{
			CommunicationStyle: "formal",
			DetailLevel:        "high",
			ExpertiseLevel:     "expert",
		},
	}

	instr := e.systemInstructions(req)
	assert.Contains(t, instr, "clean, efficient")
	assert.Contains(t, instr, "formal language")
	assert.Contains(t, instr, "detailed explanations")
	assert.Contains(t, instr, "technical terminology")
}

func TestSystemInstructions_IsCached(t *testing.T) {
	e := New(Config{}, nil, nil, newFakeRelational(), nil)
	req := models.ContextRequest{TaskType: models.TaskResearch}

	first := e.systemInstructions(req)
	e.templateMu.RLock()
	_, ok := e.templateCache[templateCacheKey(req.TaskType, req.Preferences)]
	e.templateMu.RUnlock()
	require.True(t, ok)

	second := e.systemInstructions(req)
	assert.Equal(t, first, second)
}

func TestSelectTools_IntersectsTaskMappingWithAvailable(t *testing.T) {
	e := New(Config{}, nil, nil, newFakeRelational(), nil)
	req := models.ContextRequest{
		TaskType:       models.TaskCodeGeneration,
		AvailableTools: []string{"code_executor", "unrelated_tool"},
	}

	tools := e.selectTools(req)
	require.Len(t, tools, 1)
	assert.Equal(t, "code_executor", tools[0].Function.Name)
}

func TestRetrieveKnowledge_FormatsSourceAndRelevance(t *testing.T) {
	vec := &fakeVector{matches: []ports.VectorMatch{
		{ID: "1", Content: "Go channels provide communication between goroutines.", Source: "docs", Score: 0.92},
	}}
	e := New(Config{KnowledgeInjectionEnabled: true}, vec, fakeEmbedder{}, newFakeRelational(), nil)
	req := models.ContextRequest{Query: "how do channels work", KnowledgeBudget: 1000}

	knowledge := e.retrieveKnowledge(context.Background(), req)
	assert.Contains(t, knowledge, "Source: docs (Relevance: 0.92)")
	assert.Contains(t, knowledge, "Go channels provide")
}

func TestRetrieveKnowledge_DropsBelowThreshold(t *testing.T) {
	vec := &fakeVector{matches: []ports.VectorMatch{
		{ID: "1", Content: "low relevance chunk", Source: "docs", Score: 0.5},
	}}
	e := New(Config{KnowledgeInjectionEnabled: true}, vec, fakeEmbedder{}, newFakeRelational(), nil)
	req := models.ContextRequest{Query: "q", KnowledgeBudget: 1000}

	knowledge := e.retrieveKnowledge(context.Background(), req)
	assert.Empty(t, knowledge)
}

func TestRetrieveMemory_SplitsByImportanceAndOrdersByRecency(t *testing.T) {
	rel := newFakeRelational()
	now := time.Now()
	rel.seed("user1", "sess1", []models.MemoryEntry{
		{UserID: "user1", SessionID: "sess1", Content: "trivial", Importance: 0.2, Timestamp: now.Add(-time.Hour)},
		{UserID: "user1", SessionID: "sess1", Content: "critical fact", Importance: 0.9, Timestamp: now},
	})
	e := New(Config{MemoryRetrievalEnabled: true}, nil, nil, rel, nil)
	req := models.ContextRequest{UserID: "user1", SessionID: "sess1"}

	important, recent := e.retrieveMemory(context.Background(), req)
	require.Len(t, important, 1)
	assert.Equal(t, "critical fact", important[0].Content)
	require.Len(t, recent, 1)
	assert.Equal(t, "trivial", recent[0].Content)
}

func TestImportanceScore_BoostsQuestionsPreferencesAndUrgency(t *testing.T) {
	assert.Greater(t, importanceScore("What is your favorite approach, and why?"), importanceScore("ok"))
	assert.Greater(t, importanceScore("I always prefer concise answers"), 0.5)
	assert.Greater(t, importanceScore("please remember this is critical"), 0.8)
}

func TestEngineer_CompressesWhenOverBudget(t *testing.T) {
	rel := newFakeRelational()
	e := New(Config{MaxContextLength: 10, CompressionThreshold: 0.8}, nil, nil, rel, nil)
	req := models.ContextRequest{TaskType: models.TaskGeneral}

	ctx, err := e.Engineer(context.Background(), req)
	require.NoError(t, err)
	assert.LessOrEqual(t, ctx.CompressionRatio, 1.0)
}

func TestStoreConversationMemory_PersistsAndPopulatesCache(t *testing.T) {
	rel := newFakeRelational()
	e := New(Config{MemoryRetrievalEnabled: true}, nil, nil, rel, nil)

	e.StoreConversationMemory(context.Background(), "user1", "sess1", []models.Message{
		{Role: models.RoleUser, Content: "remember that I prefer dark mode"},
	})

	e.memoryMu.RLock()
	cached := e.memoryCache[memoryCacheKey("user1", "sess1")]
	e.memoryMu.RUnlock()
	require.Len(t, cached, 1)
	assert.Greater(t, cached[0].Importance, 0.5)
}
