package llm

// StreamDelta is one incremental fragment of a streamed completion.
// Text fragments arrive as they are generated. Tool calls are never
// surfaced incrementally: the stream layer coalesces tool-call deltas and
// exposes them only on the final assembled message.
type StreamDelta struct {
	// Text is the incremental text fragment, possibly empty for
	// housekeeping chunks.
	Text string

	// FinishReason is set on the last delta of a completion:
	// "stop", "tool_calls", "length", etc.
	FinishReason string
}
