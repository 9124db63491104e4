package gateway

import "fmt"

// GatewayError is returned when the upstream completion endpoint answers
// with a non-2xx status or an unusable body.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e GatewayError) Error() string {
	if e.StatusCode == 0 {
		return "gateway: " + e.Message
	}

	return fmt.Sprintf("gateway: upstream returned %d: %s", e.StatusCode, e.Message)
}

// MalformedToolCallError is returned when the model produced a tool call the
// gateway cannot turn into a well-formed invocation (missing name, missing
// id). Callers recover by reporting the rejection back to the model and
// retrying within the round budget, never by crashing the turn.
type MalformedToolCallError struct {
	Reason string
}

func (e MalformedToolCallError) Error() string {
	return "malformed tool call: " + e.Reason
}
