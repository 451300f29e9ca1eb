// Package ports defines the narrow interfaces the core subsystems depend
// on instead of concrete stores or provider SDKs. Concrete adapters live
// in internal/providers, internal/vectorstore, and internal/gatewaystore;
// the router, context engine, budget manager, and pipeline only ever see
// these interfaces.
package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/llmgateway/gateway/internal/models"
)

// ProviderPort is the uniform contract every LLM backend is adapted to.
type ProviderPort interface {
	Complete(ctx context.Context, req *models.ChatRequest, descriptor models.ModelDescriptor) (*models.ChatResponse, error)
	StreamComplete(ctx context.Context, req *models.ChatRequest, descriptor models.ModelDescriptor) (<-chan ProviderStreamEvent, error)
	ListModels(ctx context.Context) ([]models.ModelDescriptor, error)
	HealthCheck(ctx context.Context) error
	Name() string
}

// ProviderStreamEvent is one item yielded from a provider's stream. Err is
// set exactly when the stream terminates abnormally; Delta carries
// incremental content otherwise. FinishReason non-empty marks the last
// content event.
type ProviderStreamEvent struct {
	Delta        string
	FinishReason string
	Err          error
}

// VectorMatch is one similarity-search hit.
type VectorMatch struct {
	ID      string
	Content string
	Source  string
	Score   float64
}

// VectorPort is the narrow contract over a vector store.
type VectorPort interface {
	Search(ctx context.Context, collection string, embedding []float32, topK int, scoreThreshold float64) ([]VectorMatch, error)
	Upsert(ctx context.Context, collection string, chunk models.KnowledgeChunk) error
}

// EmbedderPort turns text into a fixed-size vector.
type EmbedderPort interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EphemeralKVPort is the narrow contract over the reservation/counter
// store (Redis in this deployment).
type EphemeralKVPort interface {
	SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
}

// RelationalPort is the narrow transactional contract over the relational
// store used by the budget manager and context engine.
type RelationalPort interface {
	GetOrCreateTokenBudget(ctx context.Context, tenantID, userID string, defaultBudget decimal.Decimal) (*models.TokenBudget, error)
	UpdateTokenBudgetUsed(ctx context.Context, tenantID, userID string, delta decimal.Decimal) error
	SumUsageSince(ctx context.Context, tenantID, userID string, since time.Time) (decimal.Decimal, error)
	InsertUsageRecord(ctx context.Context, rec *models.TokenUsageRecord) (inserted bool, err error)
	InsertBudgetAlert(ctx context.Context, alert *models.TokenBudgetAlert) error
	ResetBudgetUsed(ctx context.Context, tenantID, userID string) error
	UpsertUsageAggregate(ctx context.Context, tenantID, userID string, bucketHour time.Time, cost decimal.Decimal) error

	FetchRecentMemory(ctx context.Context, userID, sessionID string, limit int) ([]models.MemoryEntry, error)
	StoreMemory(ctx context.Context, entry models.MemoryEntry) error
	PruneMemory(ctx context.Context, olderThan time.Time, minImportance float64, hardCutoff time.Time) error

	UsageStatistics(ctx context.Context, tenantID, userID string, period models.UsagePeriod) (decimal.Decimal, int64, error)
}
