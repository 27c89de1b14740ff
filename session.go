package flume

import "time"

// Session represents a conversation thread held in memory for the duration
// of a client run. Nothing here is persisted.
type Session struct {
	ID           string
	Messages     []Message
	SystemPrompt string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
