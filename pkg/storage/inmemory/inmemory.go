// Package inmemory provides a map-backed Store for tests and dev mode.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/switchboardhq/switchboard/pkg/conversation"
	"github.com/switchboardhq/switchboard/pkg/llm"
	"github.com/switchboardhq/switchboard/pkg/storage"
)

// Store implements storage.Store using an in-memory map.
type Store struct {
	// mu is a read write sync mutex for locking the mapping of conversations
	mu sync.RWMutex

	// conversations is the in memory map of conversations keyed by id
	conversations map[string]*conversation.Conversation
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*conversation.Conversation),
	}
}

// CreateConversation persists a new conversation.
func (s *Store) CreateConversation(_ context.Context, conv *conversation.Conversation) error {
	if conv == nil {
		return errors.New("cannot store nil conversation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conv.ID]; ok {
		return errors.New("conversation already exists: " + conv.ID)
	}

	s.conversations[conv.ID] = snapshot(conv)
	return nil
}

// GetConversation retrieves a conversation snapshot by id.
func (s *Store) GetConversation(_ context.Context, id string) (*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, storage.NotFoundError{ID: id}
	}

	return snapshot(conv), nil
}

// ListConversations returns summaries ordered most recently updated first.
func (s *Store) ListConversations(_ context.Context) ([]conversation.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]conversation.Summary, 0, len(s.conversations))
	for _, conv := range s.conversations {
		summaries = append(summaries, conv.Summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	return summaries, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return storage.NotFoundError{ID: id}
	}

	delete(s.conversations, id)
	return nil
}

// AppendMessages appends messages to the conversation's log under the write
// lock, so the batch lands contiguously or not at all.
func (s *Store) AppendMessages(_ context.Context, id string, msgs []llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return storage.NotFoundError{ID: id}
	}

	conv.Messages = append(conv.Messages, msgs...)
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// Count returns the number of conversations in the in-memory store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// snapshot deep-copies a conversation so callers never share the internal
// message slice with the store.
func snapshot(conv *conversation.Conversation) *conversation.Conversation {
	out := *conv
	out.Messages = make([]llm.Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return &out
}
