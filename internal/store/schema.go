package store

import "time"

// SessionRecord summarizes one observed session.
type SessionRecord struct {
	ID             uint   `gorm:"primaryKey"`
	SessionID      string `gorm:"uniqueIndex;not null"`
	TranscriptPath string
	StartedAt      time.Time
	FinalizedAt    *time.Time
	MessageCount   int64 `gorm:"default:0"`
}

// HookRecord is one batched message delivered for a session.
type HookRecord struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index;not null"`
	Kind      string
	ToolName  string
	Timestamp time.Time
	Payload   string
	CreatedAt time.Time
}
