// Package history provides the conversation manager: lifecycle operations
// plus serialized, redacted appends on top of a storage.Store.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/switchboardhq/switchboard/pkg/conversation"
	"github.com/switchboardhq/switchboard/pkg/llm"
	"github.com/switchboardhq/switchboard/pkg/redact"
	"github.com/switchboardhq/switchboard/pkg/storage"
)

// Manager owns conversation lifecycle and the append path. Appends to the
// same conversation are serialized through a per-conversation mutex, so a
// turn's messages land as one contiguous block even when turns on different
// conversations run concurrently.
type Manager struct {
	store    storage.Store
	redactor redact.Redactor
	logger   *zap.Logger

	// mu guards locks. Per-conversation mutexes live for the process
	// lifetime; conversation counts are small enough that we never reap.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager over the given store. A nil redactor disables
// redaction.
func NewManager(store storage.Store, redactor redact.Redactor, logger *zap.Logger) *Manager {
	if redactor == nil {
		redactor = redact.Nop{}
	}

	return &Manager{
		store:    store,
		redactor: redactor,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Create starts a new empty conversation and persists it.
func (m *Manager) Create(ctx context.Context, title string) (*conversation.Conversation, error) {
	conv := conversation.New(title)

	if err := m.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	m.logger.Debug("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("title", conv.Title),
	)

	return conv, nil
}

// List returns conversation summaries, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]conversation.Summary, error) {
	return m.store.ListConversations(ctx)
}

// Get loads a full conversation snapshot.
func (m *Manager) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	return m.store.GetConversation(ctx, id)
}

// Delete removes a conversation and its messages.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteConversation(ctx, id)
}

// Messages returns the conversation's message log in append order.
func (m *Manager) Messages(ctx context.Context, id string) ([]llm.Message, error) {
	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	return conv.Messages, nil
}

// Append atomically appends messages to the conversation's log. Every text
// field is redacted before it reaches the store. The batch either lands in
// full or not at all; on error the caller must abort the turn.
func (m *Manager) Append(ctx context.Context, id string, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	redacted := make([]llm.Message, len(msgs))
	for i, msg := range msgs {
		redacted[i] = m.redactMessage(msg)
	}

	if err := m.store.AppendMessages(ctx, id, redacted); err != nil {
		return fmt.Errorf("appending to conversation %s: %w", id, err)
	}

	return nil
}

// redactMessage returns a copy of msg with every persisted text field run
// through the redactor: content, tool-result payload and error, and tool-call
// arguments. The result and call slice are copied so the caller's message is
// never mutated.
func (m *Manager) redactMessage(msg llm.Message) llm.Message {
	msg.Content = m.redactor.Redact(msg.Content)

	if msg.ToolResult != nil {
		result := *msg.ToolResult
		result.Payload = m.redactor.Redact(result.Payload)
		result.Error = m.redactor.Redact(result.Error)
		msg.ToolResult = &result
	}

	if len(msg.ToolCalls) > 0 {
		calls := make([]llm.ToolCall, len(msg.ToolCalls))
		copy(calls, msg.ToolCalls)
		for i := range calls {
			calls[i].Arguments = json.RawMessage(m.redactor.Redact(string(calls[i].Arguments)))
		}
		msg.ToolCalls = calls
	}

	return msg
}

// lockFor returns the mutex serializing appends to one conversation,
// creating it on first use.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}

	return lock
}
