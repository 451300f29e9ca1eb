package contextengine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/llmgateway/gateway/internal/models"
)

var interrogativeWords = []string{"?", "how", "what", "why", "when", "where"}
var preferenceWords = []string{"prefer", "like", "dislike", "always", "never"}
var urgentWords = []string{"important", "critical", "urgent", "remember", "note"}

func containsAny(content string, words []string) bool {
	for _, w := range words {
		if strings.Contains(content, w) {
			return true
		}
	}
	return false
}

// importanceScore heuristically scores a message's worth recalling later.
func importanceScore(content string) float64 {
	lower := strings.ToLower(content)
	score := 0.5

	if containsAny(lower, interrogativeWords) {
		score += 0.2
	}
	if containsAny(lower, preferenceWords) {
		score += 0.3
	}
	if containsAny(lower, urgentWords) {
		score += 0.4
	}
	if len(lower) < 10 {
		score -= 0.2
	}
	if len(lower) > 100 {
		score += 0.1
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func memoryCacheKey(userID, sessionID string) string { return userID + ":" + sessionID }

// retrieveMemory returns the top important facts and recent interactions
// for a user/session, consulting and populating the process-local memory
// cache before falling back to the durable store.
func (e *Engine) retrieveMemory(ctx context.Context, req models.ContextRequest) (important, recent []models.MemoryEntry) {
	if !e.cfg.MemoryRetrievalEnabled {
		return nil, nil
	}

	key := memoryCacheKey(req.UserID, req.SessionID)

	e.memoryMu.RLock()
	entries, ok := e.memoryCache[key]
	e.memoryMu.RUnlock()

	if !ok {
		fetched, err := e.relational.FetchRecentMemory(ctx, req.UserID, req.SessionID, 50)
		if err != nil {
			if e.logger != nil {
				e.logger.Error("memory fetch failed")
			}
			return nil, nil
		}
		entries = fetched
		e.memoryMu.Lock()
		e.memoryCache[key] = entries
		e.memoryMu.Unlock()
	}

	sorted := make([]models.MemoryEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Importance != sorted[j].Importance {
			return sorted[i].Importance > sorted[j].Importance
		}
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	for _, entry := range sorted {
		if entry.Importance > 0.7 {
			if len(important) < 10 {
				important = append(important, entry)
			}
		} else if len(recent) < 10 {
			recent = append(recent, entry)
		}
	}
	return important, recent
}

// StoreConversationMemory persists each message as a scored memory entry
// and updates the process-local cache, trimming it to the most recent 50
// entries once it exceeds 100.
func (e *Engine) StoreConversationMemory(ctx context.Context, userID, sessionID string, messages []models.Message) {
	key := memoryCacheKey(userID, sessionID)

	for _, msg := range messages {
		score := importanceScore(msg.Content)
		entry := models.MemoryEntry{
			UserID:     userID,
			SessionID:  sessionID,
			Content:    msg.Content,
			Timestamp:  time.Now(),
			Importance: score,
		}

		if err := e.relational.StoreMemory(ctx, entry); err != nil && e.logger != nil {
			e.logger.Error("failed to store conversation memory")
		}

		e.memoryMu.Lock()
		e.memoryCache[key] = append(e.memoryCache[key], entry)
		if len(e.memoryCache[key]) > 100 {
			e.memoryCache[key] = e.memoryCache[key][len(e.memoryCache[key])-50:]
		}
		e.memoryMu.Unlock()
	}
}

func (e *Engine) memoryCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.MemoryCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cleanupMemory(ctx)
		}
	}
}

func (e *Engine) cleanupMemory(ctx context.Context) {
	now := time.Now()
	softCutoff := now.Add(-e.cfg.MemorySoftDeleteAge)
	hardCutoff := now.Add(-e.cfg.MemoryHardDeleteAge)

	if err := e.relational.PruneMemory(ctx, softCutoff, 0.3, hardCutoff); err != nil && e.logger != nil {
		e.logger.Error("memory prune failed")
	}

	e.memoryMu.Lock()
	defer e.memoryMu.Unlock()
	for key, entries := range e.memoryCache {
		var recent []models.MemoryEntry
		for _, entry := range entries {
			if now.Sub(entry.Timestamp) < e.cfg.MemoryCacheTTL {
				recent = append(recent, entry)
			}
		}
		if len(recent) == 0 {
			delete(e.memoryCache, key)
		} else {
			e.memoryCache[key] = recent
		}
	}
}

func (e *Engine) templateCacheCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TemplateCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cleanupTemplateCache()
		}
	}
}

// cleanupTemplateCache evicts roughly 20% of cached templates once the
// cache exceeds its configured size. Eviction order is unspecified (Go
// map iteration), matching the teacher's own admission this is a "simple
// LRU-like" cleanup rather than true LRU.
func (e *Engine) cleanupTemplateCache() {
	e.templateMu.Lock()
	defer e.templateMu.Unlock()

	if len(e.templateCache) <= e.cfg.TemplateCacheSize {
		return
	}
	removeCount := len(e.templateCache) / 5
	for key := range e.templateCache {
		if removeCount <= 0 {
			break
		}
		delete(e.templateCache, key)
		removeCount--
	}
}
