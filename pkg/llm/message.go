package llm

import (
	"encoding/json"
	"time"
)

// Message roles. The gateway speaks the OpenAI-compatible chat role set.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single unit of conversation content. Messages are immutable
// once appended to a conversation — corrections happen by appending new
// messages, never by mutating old ones.
//
// The JSON shape is the persisted record format:
//
//	{role, content, tool_calls: [{id, name, arguments}], tool_result: {call_id, payload|error}, timestamp}
type Message struct {
	Role string `json:"role"`

	// Content is the textual content. Empty when the message is purely a
	// tool-call request.
	Content string `json:"content,omitempty"`

	// ToolCalls is the ordered sequence of tool invocations requested by the
	// assistant in this message. Order is the order the model issued them and
	// is preserved through execution and persistence.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResult links a role=tool message back to the call it answers.
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	Timestamp time.Time `json:"timestamp,omitzero"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	// ID is the call identifier, unique within a turn. Tool-result messages
	// reference it so multi-call rounds stay unambiguous.
	ID   string `json:"id"`
	Name string `json:"name"`

	// Arguments is the raw JSON argument object as produced by the model.
	// Kept raw so a malformed payload can be carried to the dispatch layer
	// and reported back to the model instead of crashing parsing.
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of one tool call. Exactly one of Payload or
// Error is set.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewTextMessage creates a plain text message with the given role.
func NewTextMessage(role, text string) Message {
	return Message{
		Role:      role,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolCallMessage creates the assistant message recording a round of
// requested tool calls. Content carries any text the model emitted before
// deciding to call tools.
func NewToolCallMessage(content string, calls []ToolCall) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   content,
		ToolCalls: calls,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolResultMessage creates the tool message answering callID with a
// success payload.
func NewToolResultMessage(callID, payload string) Message {
	return Message{
		Role:       RoleTool,
		Content:    payload,
		ToolResult: &ToolResult{CallID: callID, Payload: payload},
		Timestamp:  time.Now().UTC(),
	}
}

// NewToolErrorMessage creates the tool message answering callID with a
// failure reason. The reason is placed in Content so the model sees it and
// can react (retry with different arguments, apologize, and so on).
func NewToolErrorMessage(callID, reason string) Message {
	return Message{
		Role:       RoleTool,
		Content:    "Error: " + reason,
		ToolResult: &ToolResult{CallID: callID, Error: reason},
		Timestamp:  time.Now().UTC(),
	}
}

// HasToolCalls reports whether the message requests any tool invocations.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}
