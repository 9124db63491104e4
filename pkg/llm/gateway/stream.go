package gateway

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/switchboardhq/switchboard/pkg/llm"
	"github.com/switchboardhq/switchboard/pkg/sse"
)

// partialCall accumulates one tool call's fragments across stream chunks.
// The id and name arrive on the first fragment for an index; argument text
// accumulates in arrival order.
type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// CompletionStream is an in-flight streamed completion. Recv yields text
// deltas until io.EOF; tool-call fragments are absorbed silently and only
// surface on the assembled Message.
type CompletionStream struct {
	body   io.ReadCloser
	reader *sse.Reader

	content strings.Builder
	calls   map[int]*partialCall
	order   []int
	finish  string
	done    bool
}

// Recv returns the next text delta. It returns io.EOF when the stream has
// terminated (either via the [DONE] sentinel or source exhaustion).
func (s *CompletionStream) Recv() (llm.StreamDelta, error) {
	if s.done {
		return llm.StreamDelta{}, io.EOF
	}

	for {
		event, err := s.reader.Next()
		if err != nil {
			return llm.StreamDelta{}, GatewayError{Message: "reading stream: " + err.Error()}
		}
		if event == nil || event.IsDone() {
			s.done = true
			return llm.StreamDelta{}, io.EOF
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
			return llm.StreamDelta{}, GatewayError{Message: "decoding stream chunk: " + err.Error()}
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]

		for _, fragment := range choice.Delta.ToolCalls {
			s.absorb(fragment.Index, fragment.ID, fragment.Function)
		}

		if choice.FinishReason != "" {
			s.finish = choice.FinishReason
		}

		if choice.Delta.Content != "" {
			s.content.WriteString(choice.Delta.Content)
			return llm.StreamDelta{Text: choice.Delta.Content, FinishReason: choice.FinishReason}, nil
		}

		// Tool-call-only or housekeeping chunk: keep reading.
	}
}

// absorb merges one tool-call fragment into the per-index accumulator.
func (s *CompletionStream) absorb(index int, id string, fn chatFunction) {
	call, ok := s.calls[index]
	if !ok {
		call = &partialCall{}
		s.calls[index] = call
		s.order = append(s.order, index)
	}

	if id != "" {
		call.id = id
	}
	if fn.Name != "" {
		call.name = fn.Name
	}
	call.args.WriteString(fn.Arguments)
}

// Message returns the assembled assistant message. Call only after Recv has
// returned io.EOF; calling earlier returns what has accumulated so far.
func (s *CompletionStream) Message() (*llm.Message, error) {
	calls := make([]chatToolCall, 0, len(s.order))
	for _, index := range s.order {
		partial := s.calls[index]
		calls = append(calls, chatToolCall{
			ID:   partial.id,
			Type: "function",
			Function: chatFunction{
				Name:      partial.name,
				Arguments: partial.args.String(),
			},
		})
	}

	decoded, err := decodeToolCalls(calls)
	if err != nil {
		return nil, err
	}

	return &llm.Message{
		Role:      llm.RoleAssistant,
		Content:   s.content.String(),
		ToolCalls: decoded,
		Timestamp: time.Now().UTC(),
	}, nil
}

// FinishReason returns the terminal finish reason reported by the stream.
func (s *CompletionStream) FinishReason() string {
	return s.finish
}

// Close releases the underlying response body.
func (s *CompletionStream) Close() error {
	return s.body.Close()
}
