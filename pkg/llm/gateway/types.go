package gateway

import (
	"encoding/json"

	"github.com/switchboardhq/switchboard/pkg/llm"
)

// chatRequest represents the OpenAI-compatible chat completions request.
// The model is addressed via the deployment path segment, not the body.
type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// chatMessage represents a message in the wire format.
type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

// chatToolCall represents a tool call in the wire format. Arguments is a
// JSON-encoded string per the OpenAI convention, not a nested object.
type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// chatTool advertises one callable function to the model.
type chatTool struct {
	Type     string          `json:"type"`
	Function chatToolHeading `json:"function"`
}

type chatToolHeading struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// chatResponse represents the buffered completion response.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// chatStreamChunk represents one SSE data frame of a streamed completion.
type chatStreamChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int             `json:"index"`
		Delta        chatStreamDelta `json:"delta"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
}

// chatStreamDelta carries the incremental fields of one chunk. Tool-call
// fragments are keyed by Index; the id and function name arrive on the first
// fragment, argument text accumulates across subsequent fragments.
type chatStreamDelta struct {
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	ToolCalls []struct {
		Index    int          `json:"index"`
		ID       string       `json:"id,omitempty"`
		Type     string       `json:"type,omitempty"`
		Function chatFunction `json:"function"`
	} `json:"tool_calls,omitempty"`
}

// encodeMessages converts the internal message log to the wire format.
func encodeMessages(msgs []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))

	for _, msg := range msgs {
		wire := chatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}

		for _, call := range msg.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, chatToolCall{
				ID:   call.ID,
				Type: "function",
				Function: chatFunction{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}

		if msg.Role == llm.RoleTool && msg.ToolResult != nil {
			wire.ToolCallID = msg.ToolResult.CallID
		}

		out = append(out, wire)
	}

	return out
}

// encodeTools converts tool descriptors to the OpenAI function format.
func encodeTools(tools []llm.ToolDescriptor) []chatTool {
	if len(tools) == 0 {
		return nil
	}

	out := make([]chatTool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, chatTool{
			Type: "function",
			Function: chatToolHeading{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	return out
}

// decodeToolCalls converts wire tool calls back to the internal shape,
// rejecting calls the model left structurally incomplete.
func decodeToolCalls(calls []chatToolCall) ([]llm.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	out := make([]llm.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call.Function.Name == "" {
			return nil, MalformedToolCallError{Reason: "tool call missing function name"}
		}
		if call.ID == "" {
			return nil, MalformedToolCallError{Reason: "tool call missing id"}
		}

		args := call.Function.Arguments
		if args == "" {
			args = "{}"
		}

		out = append(out, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}

	return out, nil
}
