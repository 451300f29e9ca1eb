package contextengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/llmgateway/gateway/internal/models"
)

const knowledgeScoreThreshold = 0.7
const knowledgeSearchLimit = 10

// retrieveKnowledge embeds the query, searches the knowledge collection,
// and greedily packs results into the caller's token budget, most
// relevant first (results already arrive score-sorted from the store).
func (e *Engine) retrieveKnowledge(ctx context.Context, req models.ContextRequest) string {
	if !e.cfg.KnowledgeInjectionEnabled || e.vector == nil || e.embedder == nil {
		return ""
	}

	embedding, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("query embedding failed")
		}
		return ""
	}

	matches, err := e.vector.Search(ctx, e.cfg.KnowledgeCollection, embedding, knowledgeSearchLimit, knowledgeScoreThreshold)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("knowledge search failed")
		}
		return ""
	}

	budget := req.KnowledgeBudget
	if budget <= 0 {
		return ""
	}

	var sections []string
	totalTokens := 0
	for _, match := range matches {
		if match.Score < knowledgeScoreThreshold {
			continue
		}
		if totalTokens >= budget {
			break
		}
		chunkTokens := len(match.Content) / 4
		if totalTokens+chunkTokens > budget {
			continue
		}
		sections = append(sections, formatKnowledgeSection(match.Source, match.Score, match.Content))
		totalTokens += chunkTokens
	}

	return strings.Join(sections, "\n\n")
}

func formatKnowledgeSection(source string, score float64, content string) string {
	return fmt.Sprintf("Source: %s (Relevance: %.2f)\n%s", source, score, content)
}
