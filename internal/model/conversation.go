package model

import "time"

// Conversation is a chat thread about the profile's records. Messages bump
// the conversations counter, not a counter of their own.
type Conversation struct {
	ID        string    `json:"id"`
	ProfileID int64     `json:"profile_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is a single turn within a conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
}
