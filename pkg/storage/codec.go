package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/switchboardhq/switchboard/pkg/llm"
)

// EncodeToolCalls marshals a message's tool calls to a nullable JSON column
// value. Empty call lists are stored as NULL, not "[]".
func EncodeToolCalls(calls []llm.ToolCall) (sql.NullString, error) {
	if len(calls) == 0 {
		return sql.NullString{}, nil
	}

	data, err := json.Marshal(calls)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding tool calls: %w", err)
	}

	return sql.NullString{String: string(data), Valid: true}, nil
}

// DecodeToolCalls unmarshals the tool_calls column back into the message.
func DecodeToolCalls(col sql.NullString) ([]llm.ToolCall, error) {
	if !col.Valid {
		return nil, nil
	}

	var calls []llm.ToolCall
	if err := json.Unmarshal([]byte(col.String), &calls); err != nil {
		return nil, fmt.Errorf("decoding tool calls: %w", err)
	}

	return calls, nil
}

// EncodeToolResult marshals a message's tool result to a nullable JSON column
// value.
func EncodeToolResult(result *llm.ToolResult) (sql.NullString, error) {
	if result == nil {
		return sql.NullString{}, nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding tool result: %w", err)
	}

	return sql.NullString{String: string(data), Valid: true}, nil
}

// DecodeToolResult unmarshals the tool_result column back into the message.
func DecodeToolResult(col sql.NullString) (*llm.ToolResult, error) {
	if !col.Valid {
		return nil, nil
	}

	result := &llm.ToolResult{}
	if err := json.Unmarshal([]byte(col.String), result); err != nil {
		return nil, fmt.Errorf("decoding tool result: %w", err)
	}

	return result, nil
}
