package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/switchboardhq/switchboard/pkg/conversation"
	"github.com/switchboardhq/switchboard/pkg/llm"
)

// Gateway is the completion surface the orchestrator drives.
type Gateway interface {
	Complete(ctx context.Context, msgs []llm.Message, tools []llm.ToolDescriptor) (*llm.Message, error)
	Stream(ctx context.Context, msgs []llm.Message, tools []llm.ToolDescriptor) (CompletionStream, error)
}

// CompletionStream is an in-flight streamed completion. Recv yields text
// deltas until io.EOF; Message returns the assembled assistant message
// afterwards.
type CompletionStream interface {
	Recv() (llm.StreamDelta, error)
	Message() (*llm.Message, error)
	Close() error
}

// Dispatcher routes tool calls to their servers and advertises the full tool
// schema. Dispatch failures come back as toolclient.ToolError.
type Dispatcher interface {
	Schema() []llm.ToolDescriptor
	Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// History is the conversation surface the orchestrator persists through.
type History interface {
	Get(ctx context.Context, id string) (*conversation.Conversation, error)
	Append(ctx context.Context, id string, msgs ...llm.Message) error
}

// FragmentWriter receives incremental answer text during a streamed turn.
// Returning an error marks the consumer gone: the orchestrator stops writing
// but finishes the turn so history stays consistent.
type FragmentWriter func(text string) error
