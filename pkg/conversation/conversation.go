// Package conversation defines the core conversation data model: a durable,
// append-only, ordered log of messages identified by a conversation id.
package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/switchboardhq/switchboard/pkg/llm"
)

// Conversation is a full conversation snapshot: metadata plus the ordered
// message log. Message order is append order and is authoritative.
type Conversation struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []llm.Message `json:"messages"`
}

// Summary is the listing view of a conversation, without the message log.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// New creates a fresh empty conversation with a generated uuid and matching
// created/updated timestamps.
func New(title string) *Conversation {
	now := time.Now().UTC()

	return &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Summary returns the listing view of the conversation.
func (c *Conversation) Summary() Summary {
	return Summary{
		ID:           c.ID,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}
