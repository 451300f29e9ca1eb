package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/apperrors"
	"github.com/llmgateway/gateway/internal/middleware"
	gwmodels "github.com/llmgateway/gateway/internal/models"
	"github.com/llmgateway/gateway/internal/services/providers"
)

// chatCompletionsViaPipeline serves a chat completion through the Adaptive
// Model Router / Context Engineering Engine / Token Budget Manager
// pipeline instead of the static priority-based fallback.
func (h *LLMHandler) chatCompletionsViaPipeline(w http.ResponseWriter, r *http.Request, request *providers.ChatRequest) {
	userID, tenantID := requestIdentity(r)
	gwReq := toGatewayRequest(request, userID, tenantID)

	if request.Stream {
		h.streamChatCompletionsViaPipeline(w, r, gwReq)
		return
	}

	resp, err := h.pipeline.Execute(r.Context(), gwReq)
	if err != nil {
		h.logger.Error("pipeline execution failed", zap.Error(err), zap.String("model", request.Model))
		h.sendError(w, apperrors.HTTPStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(fromGatewayResponse(resp)); err != nil {
		h.logger.Error("Failed to encode LLM response", zap.Error(err))
	}
}

func (h *LLMHandler) streamChatCompletionsViaPipeline(w http.ResponseWriter, r *http.Request, gwReq *gwmodels.ChatRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("Streaming not supported - Writer type: %T", w))
		return
	}

	events, err := h.pipeline.ExecuteStream(r.Context(), gwReq)
	if err != nil {
		h.logger.Error("pipeline stream setup failed", zap.Error(err), zap.String("model", gwReq.Model))
		_, _ = fmt.Fprintf(w, "data: {\"error\": {\"message\": \"%s\"}}\n\n", err.Error())
		flusher.Flush()
		return
	}

	for event := range events {
		switch {
		case event.Chunk != nil:
			data, err := json.Marshal(fromGatewayStreamChunk(event.Chunk))
			if err != nil {
				h.logger.Error("Failed to marshal streaming chunk", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				h.logger.Debug("Client disconnected during streaming", zap.String("model", gwReq.Model))
				return
			}
			flusher.Flush()
		case event.Err != nil:
			_, _ = fmt.Fprintf(w, "data: {\"error\": {\"message\": \"%s\", \"type\": \"%s\"}}\n\n", event.Err.Message, event.Err.Type)
			flusher.Flush()
		case event.Done:
			_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
			flusher.Flush()
		}
	}
}

// requestIdentity extracts the caller's user and tenant identity from the
// auth context populated by middleware.NewAuthMiddleware. Callers without
// a team are their own tenant; callers with no user identity (such as the
// master key) get a fresh random ID per request as both user and tenant.
func requestIdentity(r *http.Request) (userID, tenantID string) {
	ctx := r.Context()
	if id, ok := middleware.GetUserID(ctx); ok {
		userID = id.String()
	}
	if id, ok := middleware.GetTeamID(ctx); ok {
		tenantID = id.String()
	} else {
		tenantID = userID
	}
	if userID == "" {
		userID = uuid.NewString()
		tenantID = userID
	}
	return userID, tenantID
}

func toGatewayRequest(req *providers.ChatRequest, userID, tenantID string) *gwmodels.ChatRequest {
	messages := make([]gwmodels.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		content, _ := m.Content.(string)
		messages = append(messages, gwmodels.Message{
			Role:       gwmodels.MessageRole(m.Role),
			Content:    content,
			Name:       m.Name,
			ToolCalls:  toGatewayToolCalls(m.ToolCalls),
			ToolCallID: m.ToolCallID,
		})
	}

	tools := make([]gwmodels.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, gwmodels.Tool{
			Type: t.Type,
			Function: gwmodels.ToolFunction{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}

	return &gwmodels.ChatRequest{
		Messages:    messages,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32PtrToFloat64Ptr(req.Temperature),
		TopP:        float32PtrToFloat64Ptr(req.TopP),
		Stop:        req.Stop,
		Stream:      req.Stream,
		Tools:       tools,
		ToolChoice:  req.ToolChoice,
		UserID:      userID,
		TenantID:    tenantID,
	}
}

func toGatewayToolCalls(calls []providers.ToolCall) []gwmodels.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]gwmodels.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, gwmodels.ToolCall{
			ID:   c.ID,
			Type: c.Type,
			Function: gwmodels.ToolCallFunction{
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			},
		})
	}
	return out
}

func fromGatewayToolCalls(calls []gwmodels.ToolCall) []providers.ToolCall {
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

func float32PtrToFloat64Ptr(v *float32) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

func fromGatewayResponse(resp *gwmodels.ChatResponse) *providers.ChatResponse {
	choices := make([]providers.Choice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, providers.Choice{
			Index: c.Index,
			Message: providers.Message{
				Role:      string(c.Message.Role),
				Content:   c.Message.Content,
				ToolCalls: fromGatewayToolCalls(c.Message.ToolCalls),
			},
			FinishReason: c.FinishReason,
		})
	}

	return &providers.ChatResponse{
		ID:      resp.ID,
		Object:  resp.Object,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: choices,
		Usage: providers.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}

func fromGatewayStreamChunk(chunk *gwmodels.StreamChunk) *providers.StreamResponse {
	choices := make([]providers.StreamChoice, 0, len(chunk.Choices))
	for _, c := range chunk.Choices {
		choices = append(choices, providers.StreamChoice{
			Index:        c.Index,
			Delta:        providers.Message{Role: string(c.Delta.Role), Content: c.Delta.Content},
			FinishReason: c.FinishReason,
		})
	}
	return &providers.StreamResponse{
		ID:      chunk.ID,
		Object:  chunk.Object,
		Created: chunk.Created,
		Model:   chunk.Model,
		Choices: choices,
	}
}
