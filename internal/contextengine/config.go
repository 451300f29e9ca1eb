package contextengine

import "time"

// Config is the ContextConfig design-note struct.
type Config struct {
	KnowledgeInjectionEnabled bool
	MemoryRetrievalEnabled    bool

	MaxContextLength     int     // default 8000
	CompressionThreshold float64 // default 0.8
	TemplateCacheSize    int     // default 500

	KnowledgeCollection string // default "knowledge_base"
	EmbeddingDimensions  int    // default 384 (all-MiniLM-L6-v2)

	MemoryCleanupInterval   time.Duration // default 1h
	TemplateCleanupInterval time.Duration // default 30m
	MemoryCacheTTL          time.Duration // default 24h
	MemorySoftDeleteAge     time.Duration // default 30 * 24h, importance < 0.3
	MemoryHardDeleteAge     time.Duration // default 90 * 24h, unconditional
}

func (c Config) withDefaults() Config {
	if c.MaxContextLength == 0 {
		c.MaxContextLength = 8000
	}
	if c.CompressionThreshold == 0 {
		c.CompressionThreshold = 0.8
	}
	if c.TemplateCacheSize == 0 {
		c.TemplateCacheSize = 500
	}
	if c.KnowledgeCollection == "" {
		c.KnowledgeCollection = "knowledge_base"
	}
	if c.EmbeddingDimensions == 0 {
		c.EmbeddingDimensions = 384
	}
	if c.MemoryCleanupInterval == 0 {
		c.MemoryCleanupInterval = time.Hour
	}
	if c.TemplateCleanupInterval == 0 {
		c.TemplateCleanupInterval = 30 * time.Minute
	}
	if c.MemoryCacheTTL == 0 {
		c.MemoryCacheTTL = 24 * time.Hour
	}
	if c.MemorySoftDeleteAge == 0 {
		c.MemorySoftDeleteAge = 30 * 24 * time.Hour
	}
	if c.MemoryHardDeleteAge == 0 {
		c.MemoryHardDeleteAge = 90 * 24 * time.Hour
	}
	return c
}
