package llm

import "encoding/json"

// ToolDescriptor describes one callable tool as advertised to the model:
// name, human description, and a JSON Schema for the argument object.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}
