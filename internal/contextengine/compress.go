package contextengine

import (
	"strings"

	"github.com/llmgateway/gateway/internal/models"
)

// compress fits the engineered context into targetTokens, keeping system
// instructions whole, allocating half the budget to knowledge (most
// relevant sections first, already packed that way by retrieveKnowledge)
// and a quarter to memory (important facts first, then recent
// interactions with whatever budget remains).
func compress(knowledge string, important, recent []models.MemoryEntry, targetTokens int) (string, []models.MemoryEntry, []models.MemoryEntry) {
	knowledgeBudget := targetTokens / 2
	compressedKnowledge := truncateSections(knowledge, knowledgeBudget)

	memoryBudget := targetTokens / 4
	usedTokens := 0

	var keptImportant []models.MemoryEntry
	for _, entry := range important {
		entryTokens := len(entry.Content) / 4
		if usedTokens+entryTokens > memoryBudget {
			break
		}
		keptImportant = append(keptImportant, entry)
		usedTokens += entryTokens
	}

	var keptRecent []models.MemoryEntry
	remaining := memoryBudget - usedTokens
	for _, entry := range recent {
		entryTokens := len(entry.Content) / 4
		if entryTokens > remaining {
			break
		}
		keptRecent = append(keptRecent, entry)
		remaining -= entryTokens
	}

	return compressedKnowledge, keptImportant, keptRecent
}

func truncateSections(knowledge string, budget int) string {
	if knowledge == "" || budget <= 0 {
		return ""
	}
	sections := strings.Split(knowledge, "\n\n")
	var kept []string
	tokens := 0
	for _, section := range sections {
		sectionTokens := len(section) / 4
		if tokens+sectionTokens > budget {
			break
		}
		kept = append(kept, section)
		tokens += sectionTokens
	}
	return strings.Join(kept, "\n\n")
}
