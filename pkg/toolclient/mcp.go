package toolclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/switchboardhq/switchboard/pkg/llm"
	"github.com/switchboardhq/switchboard/pkg/utils"
)

// transportFactory builds a fresh transport for each connection attempt.
// Stdio transports wrap an exec.Cmd that can only be started once, so
// reconnects need a new instance.
type transportFactory func(ctx context.Context) (mcpsdk.Transport, error)

// MCPClient implements Client over the official MCP SDK. One MCPClient holds
// one session; the session multiplexes concurrent tool calls by JSON-RPC id.
type MCPClient struct {
	name      string
	transport transportFactory

	mu      sync.Mutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
}

// NewStreamableHTTPClient creates a client for a remote MCP server speaking
// streamable HTTP at the given endpoint.
func NewStreamableHTTPClient(name, endpoint string) *MCPClient {
	return newMCPClient(name, func(_ context.Context) (mcpsdk.Transport, error) {
		if strings.TrimSpace(endpoint) == "" {
			return nil, fmt.Errorf("empty endpoint for server %s", name)
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: endpoint}, nil
	})
}

// NewCommandClient creates a client for a subprocess MCP server speaking
// JSON-RPC over stdio. The subprocess lifetime is bound to the session.
func NewCommandClient(name, command string, args ...string) *MCPClient {
	return newMCPClient(name, func(ctx context.Context) (mcpsdk.Transport, error) {
		if strings.TrimSpace(command) == "" {
			return nil, fmt.Errorf("empty command for server %s", name)
		}
		// #nosec G204 -- command originates from trusted tool server config
		cmd := exec.CommandContext(ctx, command, args...)
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	})
}

// NewDockerClient creates a stdio client whose server runs inside a
// container: docker run --rm -i <image>. The -i flag keeps stdin open for
// the duplex channel and --rm reaps the container when the session closes.
func NewDockerClient(name, image string) *MCPClient {
	return NewCommandClient(name, "docker", "run", "--rm", "-i", image)
}

func newMCPClient(name string, factory transportFactory) *MCPClient {
	return &MCPClient{
		name:      name,
		transport: factory,
		client: mcpsdk.NewClient(&mcpsdk.Implementation{
			Name:    "switchboard",
			Version: utils.Version,
		}, nil),
	}
}

// Name returns the configured server name.
func (c *MCPClient) Name() string {
	return c.name
}

// Connect establishes the MCP session. Connecting an already-connected
// client is a no-op.
func (c *MCPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil
	}

	transport, err := c.transport(ctx)
	if err != nil {
		return ConnectionError{Server: c.name, Err: err}
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return ConnectionError{Server: c.name, Err: err}
	}

	c.session = session
	return nil
}

// ListTools returns the server's advertised tools in advertisement order.
func (c *MCPClient) ListTools(ctx context.Context) ([]llm.ToolDescriptor, error) {
	session, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	var tools []llm.ToolDescriptor
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, ConnectionError{Server: c.name, Err: err}
		}

		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("encoding schema for tool %s: %w", tool.Name, err)
		}

		tools = append(tools, llm.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schema,
		})
	}

	return tools, nil
}

// CallTool invokes one tool and returns the concatenated text content of the
// result. A result flagged IsError becomes an InvocationError carrying the
// server's failure text.
func (c *MCPClient) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	session, err := c.currentSession(ctx)
	if err != nil {
		return "", err
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", ConnectionError{Server: c.name, Err: err}
	}

	payload := textContent(result.Content)

	if result.IsError {
		reason := payload
		if reason == "" {
			reason = "tool reported failure without detail"
		}
		return "", InvocationError{Server: c.name, Tool: name, Reason: reason}
	}

	return payload, nil
}

// Close tears down the session. Safe to call on a never-connected client.
func (c *MCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}

	err := c.session.Close()
	c.session = nil
	return err
}

// currentSession returns the live session, lazily reconnecting if the client
// was closed or never connected.
func (c *MCPClient) currentSession(ctx context.Context) (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session != nil {
		return session, nil
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, nil
}

// textContent concatenates the text blocks of a tool result, newline-joined.
// Non-text content (images, resources) is ignored.
func textContent(content []mcpsdk.Content) string {
	var parts []string
	for _, block := range content {
		if text, ok := block.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}

	return strings.Join(parts, "\n")
}
