package toolclient

import "fmt"

// ConnectionError is returned when a tool server cannot be reached or its
// session dies mid-call.
type ConnectionError struct {
	Server string
	Err    error
}

func (e ConnectionError) Error() string {
	return fmt.Sprintf("tool server %s unreachable: %v", e.Server, e.Err)
}

func (e ConnectionError) Unwrap() error {
	return e.Err
}

// InvocationError is returned when a tool ran but reported failure.
type InvocationError struct {
	Server string
	Tool   string
	Reason string
}

func (e InvocationError) Error() string {
	return fmt.Sprintf("tool %s on server %s failed: %s", e.Tool, e.Server, e.Reason)
}

// ToolConflictError is returned by Register when an incoming client
// advertises a tool name already owned by another client. Registration is
// all-or-nothing, so none of the incoming client's tools are registered.
type ToolConflictError struct {
	Tool     string
	Existing string
	Incoming string
}

func (e ToolConflictError) Error() string {
	return fmt.Sprintf("tool %s already registered by server %s (incoming server %s)",
		e.Tool, e.Existing, e.Incoming)
}

// ToolError is the normalized dispatch failure handed back to the model as a
// tool result. Reason is model-readable: it names what went wrong without
// leaking transport internals.
type ToolError struct {
	Tool   string
	Reason string
}

func (e ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Reason)
}

// UnknownToolError is returned by Dispatch when the model requested a tool
// no registered server advertises.
type UnknownToolError struct {
	Tool string
}

func (e UnknownToolError) Error() string {
	return "unknown tool: " + e.Tool
}
