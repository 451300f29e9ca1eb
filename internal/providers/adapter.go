// Package providers adapts this gateway's uniform ports.ProviderPort
// contract onto the concrete, OpenAI/Anthropic/Azure/Bedrock/Vertex/
// OpenRouter clients in internal/services/providers. The adapter owns
// retry and the translation between the gateway's types and the clients'
// OpenAI-shaped types; the wrapped clients own wire-format and transport
// details, including any provider-specific message layout.
package providers

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/apperrors"
	"github.com/llmgateway/gateway/internal/models"
	"github.com/llmgateway/gateway/internal/ports"
	"github.com/llmgateway/gateway/internal/services/providers"
	"github.com/llmgateway/gateway/internal/services/retry"
)

// Adapter wraps one concrete provider client as a ports.ProviderPort.
type Adapter struct {
	client      providers.Provider
	retryConfig *retry.Config
	logger      *zap.Logger
}

// New wraps client. retryConfig may be nil to use retry.DefaultConfig().
func New(client providers.Provider, retryConfig *retry.Config, logger *zap.Logger) *Adapter {
	return &Adapter{client: client, retryConfig: retryConfig, logger: logger}
}

func (a *Adapter) Name() string { return a.client.GetName() }

func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.client.HealthCheck(ctx)
}

func (a *Adapter) ListModels(ctx context.Context) ([]models.ModelDescriptor, error) {
	names := a.client.ListModels()
	descriptors := make([]models.ModelDescriptor, 0, len(names))
	for _, name := range names {
		descriptors = append(descriptors, models.ModelDescriptor{
			Provider: a.client.GetType(),
			ID:       name,
		})
	}
	return descriptors, nil
}

// Complete implements ports.ProviderPort. Retries transient failures with
// exponential backoff; 4xx-shaped errors are never retried.
func (a *Adapter) Complete(ctx context.Context, req *models.ChatRequest, descriptor models.ModelDescriptor) (*models.ChatResponse, error) {
	wireReq := toProviderRequest(req, descriptor)

	var resp *providers.ChatResponse
	err := retry.Do(ctx, a.retryConfig, func(ctx context.Context) error {
		var callErr error
		resp, callErr = a.client.ChatCompletion(ctx, wireReq)
		return callErr
	}, isRetryableProviderError)

	if err != nil {
		return nil, classifyError(err)
	}
	return fromProviderResponse(resp, descriptor), nil
}

// StreamComplete implements ports.ProviderPort. Streaming calls are not
// retried once started. The wrapped clients' stream channels carry no
// error value, so this adapter never sets ProviderStreamEvent.Err: a
// stream that fails mid-way closes the returned channel just as a normal
// end of stream does.
func (a *Adapter) StreamComplete(ctx context.Context, req *models.ChatRequest, descriptor models.ModelDescriptor) (<-chan ports.ProviderStreamEvent, error) {
	wireReq := toProviderRequest(req, descriptor)
	wireReq.Stream = true

	upstream, err := a.client.ChatCompletionStream(ctx, wireReq)
	if err != nil {
		return nil, classifyError(err)
	}

	out := make(chan ports.ProviderStreamEvent, 4)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := ""
			if s, ok := choice.Delta.Content.(string); ok {
				delta = s
			}
			select {
			case out <- ports.ProviderStreamEvent{Delta: delta, FinishReason: choice.FinishReason}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func toProviderRequest(req *models.ChatRequest, descriptor models.ModelDescriptor) *providers.ChatRequest {
	messages := make([]providers.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, toProviderMessage(m, descriptor.Provider))
	}

	wire := &providers.ChatRequest{
		Model:    descriptor.ID,
		Messages: messages,
		Stream:   req.Stream,
	}
	if req.MaxTokens != nil {
		wire.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		wire.Temperature = &t
	}
	if req.TopP != nil {
		p := float32(*req.TopP)
		wire.TopP = &p
	}
	if len(req.Stop) > 0 {
		wire.Stop = req.Stop
	}
	if len(req.Tools) > 0 {
		wire.Tools = toProviderTools(req.Tools)
		wire.ToolChoice = req.ToolChoice
	}
	return wire
}

// toProviderMessage copies one message into the wrapped clients' flat,
// OpenAI-shaped message list. providerName is not consulted: every client
// gets the same shape, and the Anthropic client itself moves system
// messages into its separate system field.
func toProviderMessage(m models.Message, providerName string) providers.Message {
	return providers.Message{
		Role:       string(m.Role),
		Content:    m.Content,
		Name:       m.Name,
		ToolCalls:  toProviderToolCalls(m.ToolCalls),
		ToolCallID: m.ToolCallID,
	}
}

func toProviderToolCalls(calls []models.ToolCall) []providers.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]providers.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, providers.ToolCall{
			ID:   c.ID,
			Type: c.Type,
			Function: providers.FunctionCall{
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			},
		})
	}
	return out
}

func toProviderTools(tools []models.Tool) []providers.Tool {
	out := make([]providers.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, providers.Tool{
			Type: t.Type,
			Function: providers.Function{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}

func fromProviderResponse(resp *providers.ChatResponse, descriptor models.ModelDescriptor) *models.ChatResponse {
	choices := make([]models.Choice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		content, _ := c.Message.Content.(string)
		choices = append(choices, models.Choice{
			Index: c.Index,
			Message: models.Message{
				Role:    models.MessageRole(c.Message.Role),
				Content: content,
			},
			FinishReason: c.FinishReason,
		})
	}

	return &models.ChatResponse{
		ID:       resp.ID,
		Object:   resp.Object,
		Created:  resp.Created,
		Model:    resp.Model,
		Provider: descriptor.Provider,
		Choices:  choices,
		Usage: models.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}

// isRetryableProviderError retries transport-level and 5xx failures; it
// never retries a 4xx-shaped error (bad request, auth, not-found, rate
// limit).
func isRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, code := range []string{"400", "401", "403", "404", "422", "429"} {
		if strings.Contains(msg, code) {
			return false
		}
	}
	return retry.DefaultIsRetryable(err)
}

func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "400"), strings.Contains(msg, "401"),
		strings.Contains(msg, "403"), strings.Contains(msg, "404"), strings.Contains(msg, "422"):
		return apperrors.ProviderFatal(fmt.Sprintf("provider rejected request: %v", err), err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return apperrors.Timeout("provider call timed out", err)
	default:
		return apperrors.ProviderTransient("provider call failed", err)
	}
}

var _ ports.ProviderPort = (*Adapter)(nil)
