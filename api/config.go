// Package api provides the HTTP boundary of the switchboard gateway:
// conversation management plus the chat endpoint driving the orchestrator.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string
}
