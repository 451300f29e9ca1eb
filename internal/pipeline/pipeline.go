// Package pipeline wires the Adaptive Model Router, Context Engineering
// Engine, and Token/Budget Manager into the serving pipeline: validate,
// select a model, reserve budget, engineer context, execute, settle or
// release, store conversation memory.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/apperrors"
	"github.com/llmgateway/gateway/internal/budget"
	"github.com/llmgateway/gateway/internal/contextengine"
	"github.com/llmgateway/gateway/internal/modelrouter"
	"github.com/llmgateway/gateway/internal/models"
	"github.com/llmgateway/gateway/internal/ports"
)

const maxEstimatedPromptTokens = 100000
const defaultKnowledgeBudget = 2000

// Pipeline orchestrates a single request end to end.
type Pipeline struct {
	router  *modelrouter.Router
	context *contextengine.Engine
	budget  *budget.Manager
	logger  *zap.Logger
}

// New constructs a Pipeline. context may be nil to skip context
// engineering entirely (every request then flows straight from
// validation to model selection).
func New(router *modelrouter.Router, contextEngine *contextengine.Engine, budgetMgr *budget.Manager, logger *zap.Logger) *Pipeline {
	return &Pipeline{router: router, context: contextEngine, budget: budgetMgr, logger: logger}
}

func validate(req *models.ChatRequest) error {
	if len(req.Messages) == 0 {
		return apperrors.Validation("messages cannot be empty", nil)
	}
	if req.UserID == "" || req.TenantID == "" {
		return apperrors.Validation("user_id and tenant_id are required", nil)
	}

	totalChars := 0
	for _, m := range req.Messages {
		totalChars += len(m.Content)
	}
	if totalChars/4 > maxEstimatedPromptTokens {
		return apperrors.Validation("request too large: reduce the content length", nil)
	}
	return nil
}

// engineerContext builds and injects a system instruction, retrieved
// knowledge, and tool hints into req in place, mirroring the gateway's
// historical request-mutation behavior: an existing system message is
// overwritten, knowledge is appended to the last user message, and tool
// hints only apply when the caller didn't already specify tools.
func (p *Pipeline) engineerContext(ctx context.Context, req *models.ChatRequest) error {
	if p.context == nil || req.ContextID == "" {
		return nil
	}

	query := ""
	if last := req.LastUserMessage(); last != nil {
		query = last.Content
	}

	availableTools := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		availableTools = append(availableTools, t.Function.Name)
	}

	knowledgeBudget := req.KnowledgeBudget
	if knowledgeBudget <= 0 {
		knowledgeBudget = defaultKnowledgeBudget
	}

	engineered, err := p.context.Engineer(ctx, models.ContextRequest{
		Query:           query,
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		TaskType:        models.TaskGeneral,
		KnowledgeBudget: knowledgeBudget,
		AvailableTools:  availableTools,
	})
	if err != nil {
		return apperrors.Internal("context engineering failed", err)
	}

	if engineered.SystemInstructions != "" {
		if idx := req.SystemMessageIndex(); idx >= 0 {
			req.Messages[idx].Content = engineered.SystemInstructions
		} else {
			req.Messages = append([]models.Message{{Role: models.RoleSystem, Content: engineered.SystemInstructions}}, req.Messages...)
		}
	}

	if engineered.Knowledge != "" {
		if last := req.LastUserMessage(); last != nil {
			last.Content += "\n\nRelevant context:\n" + engineered.Knowledge
		}
	}

	if len(engineered.Tools) > 0 && len(req.Tools) == 0 {
		req.Tools = engineered.Tools
	}

	return nil
}

// Execute runs the non-streaming serving pipeline to completion.
func (p *Pipeline) Execute(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	start := time.Now()
	requestID := uuid.NewString()

	if err := validate(req); err != nil {
		return nil, err
	}

	selection, err := p.router.SelectOptimal(ctx, req)
	if err != nil {
		return nil, err
	}

	estimatedCost := p.budget.Estimate(req, selection.Descriptor)
	reserved, err := p.budget.Reserve(ctx, req.TenantID, req.UserID, estimatedCost, requestID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, apperrors.Budget("insufficient budget for request", nil)
	}

	settled := false
	defer func() {
		if !settled {
			if relErr := p.budget.Release(ctx, req.TenantID, req.UserID, requestID); relErr != nil && p.logger != nil {
				p.logger.Error("failed to release budget reservation", zap.Error(relErr))
			}
		}
	}()

	if err := p.engineerContext(ctx, req); err != nil {
		return nil, err
	}

	resp, err := p.router.Execute(ctx, selection, req)
	if err != nil {
		return nil, err
	}

	cost, err := p.budget.Settle(ctx, req.TenantID, req.UserID, requestID, resp.Usage, selection.Descriptor)
	if err != nil {
		return nil, err
	}
	settled = true

	resp.CostUSD = cost
	resp.ExecutionID = requestID
	resp.LatencyMS = time.Since(start).Milliseconds()

	p.storeMemory(ctx, req, resp)

	return resp, nil
}

func (p *Pipeline) storeMemory(ctx context.Context, req *models.ChatRequest, resp *models.ChatResponse) {
	if p.context == nil || len(resp.Choices) == 0 {
		return
	}
	messages := append(append([]models.Message{}, req.Messages...), resp.Choices[0].Message)
	p.context.StoreConversationMemory(ctx, req.UserID, req.SessionID, messages)
}

// ExecuteStream runs the streaming serving pipeline. The returned channel
// carries content chunks followed by exactly one trailing usage frame (or
// error frame) and a final Done event; settlement happens once streaming
// finishes, mirroring Execute's reserve-before-execute,
// execute-before-settle-or-release ordering.
func (p *Pipeline) ExecuteStream(ctx context.Context, req *models.ChatRequest) (<-chan models.StreamEvent, error) {
	start := time.Now()
	requestID := uuid.NewString()

	if err := validate(req); err != nil {
		return nil, err
	}

	selection, err := p.router.SelectOptimal(ctx, req)
	if err != nil {
		return nil, err
	}

	estimatedCost := p.budget.Estimate(req, selection.Descriptor)
	reserved, err := p.budget.Reserve(ctx, req.TenantID, req.UserID, estimatedCost, requestID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, apperrors.Budget("insufficient budget for request", nil)
	}

	if err := p.engineerContext(ctx, req); err != nil {
		_ = p.budget.Release(ctx, req.TenantID, req.UserID, requestID)
		return nil, err
	}

	upstream, finalize, err := p.router.ExecuteStream(ctx, selection, req)
	if err != nil {
		_ = p.budget.Release(ctx, req.TenantID, req.UserID, requestID)
		return nil, err
	}

	out := make(chan models.StreamEvent, 4)
	go p.pumpStream(ctx, req, selection, requestID, start, upstream, finalize, out)
	return out, nil
}

func (p *Pipeline) pumpStream(
	ctx context.Context,
	req *models.ChatRequest,
	selection modelrouter.Selection,
	requestID string,
	start time.Time,
	upstream <-chan ports.ProviderStreamEvent,
	finalize func(success bool, duration time.Duration),
	out chan<- models.StreamEvent,
) {
	defer close(out)

	settled := false
	defer func() {
		if !settled {
			if err := p.budget.Release(ctx, req.TenantID, req.UserID, requestID); err != nil && p.logger != nil {
				p.logger.Error("failed to release budget reservation", zap.Error(err))
			}
		}
	}()

	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4
	}
	completionTokens := 0
	streamErr := false
	var content strings.Builder

	for event := range upstream {
		if event.Err != nil {
			streamErr = true
			out <- models.StreamEvent{Err: &models.StreamErrorFrame{Message: event.Err.Error(), Type: "stream_error"}}
			break
		}
		content.WriteString(event.Delta)
		completionTokens += len(event.Delta) / 4
		out <- models.StreamEvent{Chunk: &models.StreamChunk{
			ID:      requestID,
			Object:  "chat.completion.chunk",
			Created: models.NowUnix(),
			Model:   selection.Descriptor.ID,
			Choices: []models.StreamChoice{{
				Index:        0,
				Delta:        models.StreamDelta{Content: event.Delta},
				FinishReason: event.FinishReason,
			}},
		}}
		if event.FinishReason != "" {
			break
		}
	}

	finalize(!streamErr, time.Since(start))

	if streamErr {
		out <- models.StreamEvent{Done: true}
		return
	}

	usage := models.TokenUsage{PromptTokens: promptTokens, CompletionTokens: completionTokens, TotalTokens: promptTokens + completionTokens}
	cost, err := p.budget.Settle(ctx, req.TenantID, req.UserID, requestID, usage, selection.Descriptor)
	if err != nil {
		out <- models.StreamEvent{Err: &models.StreamErrorFrame{Message: fmt.Sprintf("settlement failed: %v", err), Type: "settlement_error"}}
		out <- models.StreamEvent{Done: true}
		return
	}
	settled = true

	out <- models.StreamEvent{Final: &models.StreamUsageFrame{
		ID:        requestID,
		Object:    "chat.completion.chunk",
		Created:   models.NowUnix(),
		Model:     selection.Descriptor.ID,
		Usage:     usage,
		CostUSD:   cost,
		LatencyMS: time.Since(start).Milliseconds(),
	}}
	out <- models.StreamEvent{Done: true}

	p.storeMemory(ctx, req, &models.ChatResponse{
		Choices: []models.Choice{{Message: models.Message{Role: models.RoleAssistant, Content: content.String()}}},
	})
}
