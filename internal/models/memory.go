package models

import "time"

// ConversationMemoryRow is the durable backing store for MemoryEntry,
// owned exclusively by the Context Engineering Engine.
type ConversationMemoryRow struct {
	BaseModel
	UserID      string    `gorm:"not null;index:idx_conv_memory_user_session" json:"user_id"`
	SessionID   string    `gorm:"not null;index:idx_conv_memory_user_session" json:"session_id"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Importance  float64   `json:"importance"`
	AccessCount int       `json:"access_count"`
	OccurredAt  time.Time `gorm:"index" json:"occurred_at"`
}
