// Package contextengine implements the Context Engineering Engine:
// task- and preference-adapted system instructions, retrieval-augmented
// knowledge injection, tool hinting, and importance-scored conversation
// memory, all packed into a caller-specified token budget.
package contextengine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/llmgateway/gateway/internal/models"
	"github.com/llmgateway/gateway/internal/ports"
)

// Engine is the Context Engineering Engine.
type Engine struct {
	cfg        Config
	vector     ports.VectorPort
	embedder   ports.EmbedderPort
	relational ports.RelationalPort
	logger     *zap.Logger

	templateMu    sync.RWMutex
	templateCache map[string]string

	memoryMu    sync.RWMutex
	memoryCache map[string][]models.MemoryEntry
}

// New constructs an Engine. vector and embedder may be nil to disable
// knowledge injection entirely (config's KnowledgeInjectionEnabled is
// also checked, so both gates must agree).
func New(cfg Config, vector ports.VectorPort, embedder ports.EmbedderPort, relational ports.RelationalPort, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:           cfg.withDefaults(),
		vector:        vector,
		embedder:      embedder,
		relational:    relational,
		logger:        logger,
		templateCache: make(map[string]string),
		memoryCache:   make(map[string][]models.MemoryEntry),
	}
}

// Start launches the background memory-GC and template-cache-eviction
// loops. They stop when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go e.memoryCleanupLoop(ctx)
	go e.templateCacheCleanupLoop(ctx)
}

// Engineer builds the full context for a request: system instructions,
// retrieved knowledge, hinted tools, and recalled memory, compressed to
// fit within the configured context window when necessary.
func (e *Engine) Engineer(ctx context.Context, req models.ContextRequest) (*models.EngineeredContext, error) {
	systemInstructions := e.systemInstructions(req)
	knowledge := e.retrieveKnowledge(ctx, req)
	tools := e.selectTools(req)
	important, recent := e.retrieveMemory(ctx, req)

	tokenCount := estimateTokens(systemInstructions, knowledge, important, recent)
	compressionRatio := 1.0

	if tokenCount > e.cfg.MaxContextLength {
		target := int(float64(e.cfg.MaxContextLength) * e.cfg.CompressionThreshold)
		compressedKnowledge, compressedImportant, compressedRecent := compress(knowledge, important, recent, target)
		newTokenCount := estimateTokens(systemInstructions, compressedKnowledge, compressedImportant, compressedRecent)
		if tokenCount > 0 {
			compressionRatio = float64(newTokenCount) / float64(tokenCount)
		}
		knowledge = compressedKnowledge
		important = compressedImportant
		recent = compressedRecent
		tokenCount = newTokenCount
	}

	return &models.EngineeredContext{
		SystemInstructions: systemInstructions,
		Knowledge:          knowledge,
		Tools:              tools,
		ImportantFacts:     important,
		RecentInteractions: recent,
		TokenCount:         tokenCount,
		CompressionRatio:   compressionRatio,
	}, nil
}

func estimateTokens(systemInstructions, knowledge string, important, recent []models.MemoryEntry) int {
	total := len(systemInstructions) + len(knowledge)
	for _, entry := range important {
		total += len(entry.Content)
	}
	for _, entry := range recent {
		total += len(entry.Content)
	}
	return total / 4
}
