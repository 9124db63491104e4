// Package storage
package storage

import (
	"context"

	"github.com/switchboardhq/switchboard/pkg/conversation"
	"github.com/switchboardhq/switchboard/pkg/llm"
)

// Store defines the interface for persisting and retrieving conversations in
// a storage backend. The message log is append-only: backends never update or
// delete individual message rows, only whole conversations.
type Store interface {
	// CreateConversation persists a new empty conversation.
	CreateConversation(ctx context.Context, conv *conversation.Conversation) error

	// GetConversation loads a full conversation snapshot, messages in append
	// order. Returns NotFoundError if the id does not exist.
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)

	// ListConversations returns summaries of all conversations, most recently
	// updated first.
	ListConversations(ctx context.Context) ([]conversation.Summary, error)

	// DeleteConversation removes a conversation and its messages.
	// Returns NotFoundError if the id does not exist.
	DeleteConversation(ctx context.Context, id string) error

	// AppendMessages atomically appends messages to the end of a
	// conversation's log and bumps its updated_at. Either every message lands
	// with contiguous sequence numbers or none do.
	AppendMessages(ctx context.Context, id string, msgs []llm.Message) error

	// Close closes the store and releases any resources.
	Close() error
}
