package llm

// ErrorResponse is the standard JSON error body returned by HTTP surfaces.
type ErrorResponse struct {
	Error string `json:"error"`
}
