package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/gateway/internal/models"
	"github.com/llmgateway/gateway/internal/services/providers"
	"github.com/llmgateway/gateway/internal/services/retry"
)

type fakeClient struct {
	name       string
	completeFn func(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error)
	streamFn   func(ctx context.Context, req *providers.ChatRequest) (<-chan providers.StreamResponse, error)
	attempts   int
}

func (f *fakeClient) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	f.attempts++
	return f.completeFn(ctx, req)
}
func (f *fakeClient) ChatCompletionStream(ctx context.Context, req *providers.ChatRequest) (<-chan providers.StreamResponse, error) {
	return f.streamFn(ctx, req)
}
func (f *fakeClient) Completion(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	return nil, nil
}
func (f *fakeClient) CompletionStream(ctx context.Context, req *providers.CompletionRequest) (<-chan providers.StreamResponse, error) {
	return nil, nil
}
func (f *fakeClient) Embeddings(ctx context.Context, req *providers.EmbeddingsRequest) (*providers.EmbeddingsResponse, error) {
	return nil, nil
}
func (f *fakeClient) GetType() string             { return "openai" }
func (f *fakeClient) GetName() string             { return f.name }
func (f *fakeClient) GetPriority() int             { return 0 }
func (f *fakeClient) IsHealthy() bool              { return true }
func (f *fakeClient) SupportsModel(model string) bool { return true }
func (f *fakeClient) ListModels() []string         { return []string{"gpt-4"} }
func (f *fakeClient) HealthCheck(ctx context.Context) error { return nil }

func descriptor() models.ModelDescriptor {
	return models.ModelDescriptor{Provider: "openai", ID: "gpt-4"}
}

func TestComplete_TranslatesRequestAndResponse(t *testing.T) {
	client := &fakeClient{
		name: "openai",
		completeFn: func(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
			assert.Equal(t, "gpt-4", req.Model)
			require.Len(t, req.Messages, 1)
			assert.Equal(t, "hello", req.Messages[0].Content)
			return &providers.ChatResponse{
				ID:      "chatcmpl-1",
				Model:   "gpt-4",
				Choices: []providers.Choice{{Index: 0, Message: providers.Message{Role: "assistant", Content: "hi there"}, FinishReason: "stop"}},
				Usage:   providers.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8},
			}, nil
		},
	}
	adapter := New(client, retry.DefaultConfig(), nil)

	req := &models.ChatRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}}}
	resp, err := adapter.Complete(context.Background(), req, descriptor())
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi there", resp.Choices[0].Message.Content)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}

func TestComplete_RetriesOn5xx(t *testing.T) {
	client := &fakeClient{
		name: "openai",
		completeFn: func(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
			if client.attempts < 2 {
				return nil, errors.New("upstream 503 service unavailable")
			}
			return &providers.ChatResponse{Choices: []providers.Choice{{Message: providers.Message{Content: "ok"}}}}, nil
		},
	}
	cfg := &retry.Config{MaxAttempts: 3, InitialDelay: 0, MaxDelay: 0, Multiplier: 1, Jitter: false}
	adapter := New(client, cfg, nil)

	req := &models.ChatRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}}}
	_, err := adapter.Complete(context.Background(), req, descriptor())
	require.NoError(t, err)
	assert.Equal(t, 2, client.attempts)
}

func TestComplete_DoesNotRetry4xx(t *testing.T) {
	client := &fakeClient{
		name: "openai",
		completeFn: func(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
			return nil, errors.New("request failed: 400 bad request")
		},
	}
	adapter := New(client, retry.DefaultConfig(), nil)

	req := &models.ChatRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}}}
	_, err := adapter.Complete(context.Background(), req, descriptor())
	require.Error(t, err)
	assert.Equal(t, 1, client.attempts)
}
