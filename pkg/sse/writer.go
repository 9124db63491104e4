package sse

import (
	"encoding/json"
	"fmt"
	"io"
)

// Writer emits SSE events to a destination io.Writer. The destination is
// typically the write end of an io.Pipe backing a streaming HTTP response.
type Writer struct {
	dest io.Writer
}

// NewWriter returns a Writer emitting SSE frames to dest.
func NewWriter(dest io.Writer) *Writer {
	return &Writer{dest: dest}
}

// WriteData marshals v to JSON and emits it as a single data frame.
func (w *Writer) WriteData(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling sse payload: %w", err)
	}

	return w.WriteRaw(string(payload))
}

// WriteRaw emits a pre-encoded payload as a single data frame.
func (w *Writer) WriteRaw(data string) error {
	if _, err := fmt.Fprintf(w.dest, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing sse frame: %w", err)
	}

	return nil
}

// WriteDone emits the stream terminator frame.
func (w *Writer) WriteDone() error {
	return w.WriteRaw(Done)
}
