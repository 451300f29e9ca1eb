package modelrouter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/gateway/internal/models"
	"github.com/llmgateway/gateway/internal/ports"
)

type fakeProvider struct {
	name    string
	fail    bool
	latency time.Duration
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req *models.ChatRequest, d models.ModelDescriptor) (*models.ChatResponse, error) {
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	if f.fail {
		return nil, errors.New("upstream failure")
	}
	return &models.ChatResponse{
		Model:    d.ID,
		Provider: d.Provider,
		Usage:    models.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeProvider) StreamComplete(ctx context.Context, req *models.ChatRequest, d models.ModelDescriptor) (<-chan ports.ProviderStreamEvent, error) {
	ch := make(chan ports.ProviderStreamEvent, 1)
	close(ch)
	return ch, nil
}

func (f *fakeProvider) ListModels(ctx context.Context) ([]models.ModelDescriptor, error) { return nil, nil }
func (f *fakeProvider) HealthCheck(ctx context.Context) error                            { return nil }

func descriptor(provider, id string, capability float64) models.ModelDescriptor {
	return models.ModelDescriptor{
		Provider:          provider,
		ID:                id,
		MaxTokens:         4096,
		ContextLength:     8192,
		CostPer1kTokens:   decimal.NewFromFloat(0.01),
		CapabilityScore:   capability,
		SupportsStreaming: true,
		SupportsTools:     true,
	}
}

func TestSelectOptimal_PicksHighestScoringFeasibleModel(t *testing.T) {
	r := New(Config{}, nil)
	r.Register(descriptor("openai", "gpt-4", 0.9), &fakeProvider{name: "openai"})
	r.Register(descriptor("anthropic", "claude-3-haiku", 0.5), &fakeProvider{name: "anthropic"})

	req := &models.ChatRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}}}
	sel, err := r.SelectOptimal(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4", sel.Key)
}

func TestSelectOptimal_CostStrategyPrefersCheaperModel(t *testing.T) {
	r := New(Config{}, nil)
	expensive := descriptor("openai", "gpt-4", 0.9)
	expensive.CostPer1kTokens = decimal.NewFromFloat(0.06)
	cheap := descriptor("anthropic", "claude-3-haiku", 0.85)
	cheap.CostPer1kTokens = decimal.NewFromFloat(0.001)
	r.Register(expensive, &fakeProvider{name: "openai"})
	r.Register(cheap, &fakeProvider{name: "anthropic"})

	req := &models.ChatRequest{
		Messages:             []models.Message{{Role: models.RoleUser, Content: "hi"}},
		OptimizationStrategy: models.StrategyCost,
	}
	sel, err := r.SelectOptimal(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "anthropic:claude-3-haiku", sel.Key, "cost strategy must prefer the cheaper model despite lower capability")
}

func TestCostFactor_DecreasesAsPriceIncreases(t *testing.T) {
	cheap := descriptor("openai", "gpt-4", 0.9)
	cheap.CostPer1kTokens = decimal.NewFromFloat(0.001)
	expensive := descriptor("openai", "gpt-4", 0.9)
	expensive.CostPer1kTokens = decimal.NewFromFloat(0.1)

	assert.Greater(t, costFactor(cheap, 1000), costFactor(expensive, 1000))
}

func TestSelectOptimal_FiltersOutCircuitOpenModels(t *testing.T) {
	r := New(Config{}, nil)
	r.Register(descriptor("openai", "gpt-4", 0.9), &fakeProvider{name: "openai", fail: true})
	r.Register(descriptor("anthropic", "claude-3-sonnet", 0.7), &fakeProvider{name: "anthropic"})

	req := &models.ChatRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}}}

	for i := 0; i < 11; i++ {
		sel, err := r.SelectOptimal(context.Background(), req)
		require.NoError(t, err)
		if sel.Key != "openai:gpt-4" {
			break
		}
		_, _ = r.Execute(context.Background(), sel, req)
	}

	sel, err := r.SelectOptimal(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "anthropic:claude-3-sonnet", sel.Key)
}

func TestSelectOptimal_NoFeasibleModelReturnsCircuitOpen(t *testing.T) {
	r := New(Config{}, nil)
	maxTok := 100000
	req := &models.ChatRequest{
		Messages:  []models.Message{{Role: models.RoleUser, Content: "hi"}},
		MaxTokens: &maxTok,
	}
	_, err := r.SelectOptimal(context.Background(), req)
	assert.Error(t, err)
}

func TestExecute_DecrementsConcurrencyOnEveryPath(t *testing.T) {
	r := New(Config{}, nil)
	r.Register(descriptor("openai", "gpt-4", 0.9), &fakeProvider{name: "openai", fail: true})

	req := &models.ChatRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}}}
	sel := Selection{Key: "openai:gpt-4", Descriptor: descriptor("openai", "gpt-4", 0.9), Provider: &fakeProvider{name: "openai", fail: true}}

	_, err := r.Execute(context.Background(), sel, req)
	assert.Error(t, err)

	stats := r.GetModelStats()
	assert.Equal(t, int32(0), stats["openai:gpt-4"].Load.CurrentConcurrent)
	assert.Equal(t, int64(1), stats["openai:gpt-4"].Perf.Failure)
}

func TestCircuitTripsAt11Of21Failures_NotAt10Of20(t *testing.T) {
	r := New(Config{}, nil)
	r.Register(descriptor("openai", "gpt-4", 0.9), &fakeProvider{name: "openai"})
	failSel := Selection{Key: "openai:gpt-4", Descriptor: descriptor("openai", "gpt-4", 0.9), Provider: &fakeProvider{name: "openai", fail: true}}
	okSel := Selection{Key: "openai:gpt-4", Descriptor: descriptor("openai", "gpt-4", 0.9), Provider: &fakeProvider{name: "openai"}}

	for i := 0; i < 10; i++ {
		_, _ = r.Execute(context.Background(), failSel, &models.ChatRequest{})
		_, _ = r.Execute(context.Background(), okSel, &models.ChatRequest{})
	}
	assert.False(t, r.GetModelStats()["openai:gpt-4"].Circuit.Open, "10/20 failures must not trip the circuit")

	_, _ = r.Execute(context.Background(), failSel, &models.ChatRequest{})
	assert.True(t, r.GetModelStats()["openai:gpt-4"].Circuit.Open, "11/21 failures must trip the circuit")
}
