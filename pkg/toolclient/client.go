// Package toolclient connects the gateway to external tool servers over the
// Model Context Protocol and exposes them to the orchestrator through a
// name-keyed registry. Two transports are supported: streamable HTTP for
// remote servers and stdio for subprocess servers (including docker-launched
// ones).
package toolclient

import (
	"context"
	"encoding/json"

	"github.com/switchboardhq/switchboard/pkg/llm"
)

// Client is one connected tool server. Implementations are safe for
// concurrent CallTool use; the underlying MCP session correlates in-flight
// requests by JSON-RPC id, so calls do not serialize behind each other.
type Client interface {
	// Name returns the configured server name, used in logs and errors.
	Name() string

	// Connect establishes the session and performs the protocol handshake.
	Connect(ctx context.Context) error

	// ListTools returns the server's advertised tools.
	ListTools(ctx context.Context) ([]llm.ToolDescriptor, error)

	// CallTool invokes one tool and returns its textual payload. Tool-level
	// failures surface as InvocationError; transport-level failures as
	// ConnectionError.
	CallTool(ctx context.Context, name string, args json.RawMessage) (string, error)

	// Close tears down the session. Pending calls fail with ConnectionError.
	Close() error
}
