package providers

import (
	"context"
	"fmt"
)

// Azure Provider
type AzureProvider struct {
	*BaseProvider
}

func NewAzureProvider(name string, cfg ProviderConfig) (*AzureProvider, error) {
	return &AzureProvider{
		BaseProvider: NewBaseProvider(name, "azure", cfg.Priority, cfg.Models),
	}, nil
}

func (p *AzureProvider) ChatCompletion(ctx context.Context, request *ChatRequest) (*ChatResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *AzureProvider) ChatCompletionStream(ctx context.Context, request *ChatRequest) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *AzureProvider) Completion(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *AzureProvider) CompletionStream(ctx context.Context, request *CompletionRequest) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *AzureProvider) Embeddings(ctx context.Context, request *EmbeddingsRequest) (*EmbeddingsResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *AzureProvider) HealthCheck(ctx context.Context) error {
	p.SetHealthy(true)
	return nil
}

// Bedrock Provider
type BedrockProvider struct {
	*BaseProvider
}

func NewBedrockProvider(name string, cfg ProviderConfig) (*BedrockProvider, error) {
	return &BedrockProvider{
		BaseProvider: NewBaseProvider(name, "bedrock", cfg.Priority, cfg.Models),
	}, nil
}

func (p *BedrockProvider) ChatCompletion(ctx context.Context, request *ChatRequest) (*ChatResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *BedrockProvider) ChatCompletionStream(ctx context.Context, request *ChatRequest) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *BedrockProvider) Completion(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *BedrockProvider) CompletionStream(ctx context.Context, request *CompletionRequest) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *BedrockProvider) Embeddings(ctx context.Context, request *EmbeddingsRequest) (*EmbeddingsResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *BedrockProvider) HealthCheck(ctx context.Context) error {
	p.SetHealthy(true)
	return nil
}

// VertexAI Provider
type VertexAIProvider struct {
	*BaseProvider
}

func NewVertexAIProvider(name string, cfg ProviderConfig) (*VertexAIProvider, error) {
	return &VertexAIProvider{
		BaseProvider: NewBaseProvider(name, "vertex", cfg.Priority, cfg.Models),
	}, nil
}

func (p *VertexAIProvider) ChatCompletion(ctx context.Context, request *ChatRequest) (*ChatResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *VertexAIProvider) ChatCompletionStream(ctx context.Context, request *ChatRequest) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *VertexAIProvider) Completion(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *VertexAIProvider) CompletionStream(ctx context.Context, request *CompletionRequest) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *VertexAIProvider) Embeddings(ctx context.Context, request *EmbeddingsRequest) (*EmbeddingsResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *VertexAIProvider) HealthCheck(ctx context.Context) error {
	p.SetHealthy(true)
	return nil
}

// Cohere Provider
type CohereProvider struct {
	*BaseProvider
}

func NewCohereProvider(name string, cfg ProviderConfig) (*CohereProvider, error) {
	return &CohereProvider{
		BaseProvider: NewBaseProvider(name, "cohere", cfg.Priority, cfg.Models),
	}, nil
}

func (p *CohereProvider) ChatCompletion(ctx context.Context, request *ChatRequest) (*ChatResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *CohereProvider) ChatCompletionStream(ctx context.Context, request *ChatRequest) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *CohereProvider) Completion(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *CohereProvider) CompletionStream(ctx context.Context, request *CompletionRequest) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *CohereProvider) Embeddings(ctx context.Context, request *EmbeddingsRequest) (*EmbeddingsResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *CohereProvider) HealthCheck(ctx context.Context) error {
	p.SetHealthy(true)
	return nil
}

// HuggingFace Provider
type HuggingFaceProvider struct {
	*BaseProvider
}

func NewHuggingFaceProvider(name string, cfg ProviderConfig) (*HuggingFaceProvider, error) {
	return &HuggingFaceProvider{
		BaseProvider: NewBaseProvider(name, "huggingface", cfg.Priority, cfg.Models),
	}, nil
}

func (p *HuggingFaceProvider) ChatCompletion(ctx context.Context, request *ChatRequest) (*ChatResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *HuggingFaceProvider) ChatCompletionStream(ctx context.Context, request *ChatRequest) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *HuggingFaceProvider) Completion(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *HuggingFaceProvider) CompletionStream(ctx context.Context, request *CompletionRequest) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *HuggingFaceProvider) Embeddings(ctx context.Context, request *EmbeddingsRequest) (*EmbeddingsResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *HuggingFaceProvider) HealthCheck(ctx context.Context) error {
	p.SetHealthy(true)
	return nil
}

// Custom Provider
type CustomProvider struct {
	*BaseProvider
}

func NewCustomProvider(name string, cfg ProviderConfig) (*CustomProvider, error) {
	return &CustomProvider{
		BaseProvider: NewBaseProvider(name, "custom", cfg.Priority, cfg.Models),
	}, nil
}

func (p *CustomProvider) ChatCompletion(ctx context.Context, request *ChatRequest) (*ChatResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *CustomProvider) ChatCompletionStream(ctx context.Context, request *ChatRequest) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *CustomProvider) Completion(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *CustomProvider) CompletionStream(ctx context.Context, request *CompletionRequest) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *CustomProvider) Embeddings(ctx context.Context, request *EmbeddingsRequest) (*EmbeddingsResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *CustomProvider) HealthCheck(ctx context.Context) error {
	p.SetHealthy(true)
	return nil
}
