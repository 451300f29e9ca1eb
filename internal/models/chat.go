package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MessageRole identifies who authored a Message in a ChatRequest.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// OptimizationStrategy names the weight vector the router scores candidates
// with. Balanced is the default when a request does not specify one.
type OptimizationStrategy string

const (
	StrategyCost         OptimizationStrategy = "cost"
	StrategyPerformance  OptimizationStrategy = "performance"
	StrategyAvailability OptimizationStrategy = "availability"
	StrategyBalanced     OptimizationStrategy = "balanced"
)

// ContentPart carries one segment of a multi-part message (text or image).
// Most messages are plain text and only populate Text.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ToolFunction describes a callable tool's name, purpose, and JSON schema.
type ToolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

// Tool is a single function-calling tool a request may advertise.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolCallFunction is the concrete invocation an assistant message proposes.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one entry of Message.ToolCalls.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// Message is a single turn in a ChatRequest's conversation.
type Message struct {
	Role         MessageRole   `json:"role"`
	Content      string        `json:"content"`
	ContentParts []ContentPart `json:"content_parts,omitempty"`
	Name         string        `json:"name,omitempty"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID   string        `json:"tool_call_id,omitempty"`
}

// ChatRequest is the validated, immutable (except for context injection)
// input to the serving pipeline.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  interface{} `json:"tool_choice,omitempty"`

	UserID               string               `json:"user_id"`
	TenantID             string               `json:"tenant_id"`
	SessionID            string               `json:"session_id,omitempty"`
	ContextID            string               `json:"context_id,omitempty"`
	OptimizationStrategy OptimizationStrategy `json:"optimization_strategy,omitempty"`
	BudgetLimit          *decimal.Decimal     `json:"budget_limit,omitempty"`

	// KnowledgeBudget bounds how many tokens of retrieved knowledge the
	// context engine may inject; the pipeline substitutes its default of
	// 2000 when zero.
	KnowledgeBudget int `json:"knowledge_budget,omitempty"`
}

// Strategy returns the request's optimization strategy, defaulting to
// balanced when unset.
func (r *ChatRequest) Strategy() OptimizationStrategy {
	if r.OptimizationStrategy == "" {
		return StrategyBalanced
	}
	return r.OptimizationStrategy
}

// LastUserMessage returns a pointer to the last message with role=user, or
// nil if none exists.
func (r *ChatRequest) LastUserMessage() *Message {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return &r.Messages[i]
		}
	}
	return nil
}

// SystemMessageIndex returns the index of the first system message, or -1.
func (r *ChatRequest) SystemMessageIndex() int {
	for i := range r.Messages {
		if r.Messages[i].Role == RoleSystem {
			return i
		}
	}
	return -1
}

// TokenUsage reports token counts for a completed (or synthesized, for
// streaming) exchange.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is a single completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// ChatResponse is the non-streaming output of the serving pipeline.
type ChatResponse struct {
	ID          string          `json:"id"`
	Object      string          `json:"object"`
	Created     int64           `json:"created"`
	Model       string          `json:"model"`
	Provider    string          `json:"provider"`
	Choices     []Choice        `json:"choices"`
	Usage       TokenUsage      `json:"usage"`
	CostUSD     decimal.Decimal `json:"cost_usd"`
	ExecutionID string          `json:"execution_id"`
	LatencyMS   int64           `json:"latency_ms"`
	Cached      bool            `json:"cached"`
}

// StreamDelta is the incremental content carried by one stream chunk.
type StreamDelta struct {
	Role    MessageRole `json:"role,omitempty"`
	Content string      `json:"content,omitempty"`
}

// StreamChoice is a single choice within a streaming chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// StreamEvent is one frame of the SSE sequence the pipeline emits for a
// streaming request. Each event carries exactly one of Chunk, Final, Err,
// or Done.
type StreamEvent struct {
	Chunk *StreamChunk
	Final *StreamUsageFrame
	Err   *StreamErrorFrame
	Done  bool
}

// StreamChunk mirrors a non-stream ChatResponse shape with a delta field.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// StreamUsageFrame is the trailing usage/cost frame emitted after content
// chunks and before the terminal [DONE] sentinel.
type StreamUsageFrame struct {
	ID        string          `json:"id"`
	Object    string          `json:"object"`
	Created   int64           `json:"created"`
	Model     string          `json:"model"`
	Usage     TokenUsage      `json:"usage"`
	CostUSD   decimal.Decimal `json:"cost_usd"`
	LatencyMS int64           `json:"latency_ms"`
}

// StreamErrorFrame is the single structured error chunk emitted when an
// upstream stream fails before completion.
type StreamErrorFrame struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NowUnix is a small helper shared by response constructors.
func NowUnix() int64 { return time.Now().Unix() }
