package toolclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/switchboardhq/switchboard/pkg/llm"
)

// registration binds one advertised tool to the client that serves it.
type registration struct {
	client     Client
	descriptor llm.ToolDescriptor
}

// Registry is the name-keyed routing table over all registered tool clients.
// Tool names are globally unique across clients; Register refuses conflicts
// wholesale rather than partially adopting a client's tools.
type Registry struct {
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	clients []Client
	tools   map[string]registration
	order   []string
}

// NewRegistry creates an empty registry. timeout bounds each dispatched
// call; zero means calls are bounded only by the caller's context.
func NewRegistry(timeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		timeout: timeout,
		logger:  logger,
		tools:   make(map[string]registration),
	}
}

// Register connects the client, lists its tools, and adds them to the
// routing table. If any advertised name collides with an already-registered
// tool, Register returns ToolConflictError and registers none of them.
func (r *Registry) Register(ctx context.Context, client Client) error {
	if err := client.Connect(ctx); err != nil {
		return err
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		// Connected above; close so the rejected client doesn't leak its
		// session or subprocess.
		_ = client.Close()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Stage first: conflict detection against both existing registrations
	// and duplicates within the incoming list.
	staged := make(map[string]registration, len(tools))
	for _, tool := range tools {
		if existing, ok := r.tools[tool.Name]; ok {
			_ = client.Close()
			return ToolConflictError{
				Tool:     tool.Name,
				Existing: existing.client.Name(),
				Incoming: client.Name(),
			}
		}
		if _, ok := staged[tool.Name]; ok {
			_ = client.Close()
			return ToolConflictError{
				Tool:     tool.Name,
				Existing: client.Name(),
				Incoming: client.Name(),
			}
		}
		staged[tool.Name] = registration{client: client, descriptor: tool}
	}

	for _, tool := range tools {
		r.tools[tool.Name] = staged[tool.Name]
		r.order = append(r.order, tool.Name)
	}
	r.clients = append(r.clients, client)

	r.logger.Info("tool server registered",
		zap.String("server", client.Name()),
		zap.Int("tools", len(tools)),
	)

	return nil
}

// Resolve returns the client serving the named tool.
func (r *Registry) Resolve(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.tools[name]
	if !ok {
		return nil, false
	}

	return reg.client, true
}

// Schema returns every registered tool descriptor in registration order,
// ready to advertise to the model.
func (r *Registry) Schema() []llm.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].descriptor)
	}

	return out
}

// Dispatch routes one tool call to its client and normalizes every failure
// mode into ToolError so the orchestrator can hand it to the model as a tool
// result. The call is bounded by the registry timeout.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error) {
	client, ok := r.Resolve(name)
	if !ok {
		return "", ToolError{Tool: name, Reason: UnknownToolError{Tool: name}.Error()}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	payload, err := client.CallTool(ctx, name, args)
	if err != nil {
		return "", r.normalize(name, client.Name(), err)
	}

	return payload, nil
}

// normalize converts a transport or invocation failure into a ToolError.
func (r *Registry) normalize(tool, server string, err error) ToolError {
	r.logger.Warn("tool dispatch failed",
		zap.String("tool", tool),
		zap.String("server", server),
		zap.Error(err),
	)

	var invocation InvocationError
	if errors.As(err, &invocation) {
		return ToolError{Tool: tool, Reason: invocation.Reason}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ToolError{Tool: tool, Reason: "tool call timed out"}
	}

	var connection ConnectionError
	if errors.As(err, &connection) {
		return ToolError{Tool: tool, Reason: "tool server unavailable"}
	}

	return ToolError{Tool: tool, Reason: err.Error()}
}

// Close closes every registered client, returning the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, client := range r.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
