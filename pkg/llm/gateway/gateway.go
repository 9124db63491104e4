// Package gateway provides the OpenAI-compatible chat completions client the
// orchestrator speaks through. It supports buffered and streamed completions
// with tool calling; streamed tool-call deltas are coalesced so tool calls
// only ever surface fully assembled.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/switchboardhq/switchboard/pkg/llm"
	"github.com/switchboardhq/switchboard/pkg/sse"
)

// Config holds the gateway connection settings.
type Config struct {
	// Endpoint is the base URL of the completion service.
	Endpoint string

	// Model is the deployment name addressed in the URL path.
	Model string

	// APIKey is sent in the Api-Key header. Empty disables the header
	// (local endpoints).
	APIKey string

	// Temperature defaults to 0 so tool-driven turns stay deterministic.
	Temperature float64
}

// Client is the HTTP client for one configured completion endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a gateway client. The HTTP client has no overall
// timeout; streamed completions are bounded by the request context instead.
func NewClient(config Config, logger *zap.Logger) *Client {
	return &Client{
		config:     config,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// completionsURL builds the deployment-scoped chat completions URL.
func (c *Client) completionsURL() string {
	return c.config.Endpoint + "/openai/deployments/" + c.config.Model + "/chat/completions"
}

// Complete runs a buffered (non-streaming) completion and returns the
// assistant message, with any tool calls fully decoded.
func (c *Client) Complete(ctx context.Context, msgs []llm.Message, tools []llm.ToolDescriptor) (*llm.Message, error) {
	resp, err := c.post(ctx, msgs, tools, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, GatewayError{Message: "reading response body: " + err.Error()}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, GatewayError{Message: "decoding response: " + err.Error()}
	}

	if len(parsed.Choices) == 0 {
		return nil, GatewayError{Message: "response contained no choices"}
	}

	choice := parsed.Choices[0]
	calls, err := decodeToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	msg := llm.Message{
		Role:      llm.RoleAssistant,
		Content:   choice.Message.Content,
		ToolCalls: calls,
		Timestamp: time.Now().UTC(),
	}

	c.logger.Debug("completion received",
		zap.String("finish_reason", choice.FinishReason),
		zap.Int("tool_calls", len(calls)),
	)

	return &msg, nil
}

// Stream starts a streamed completion. The caller must drain the returned
// stream via Recv until io.EOF and then Close it; the assembled assistant
// message is available from Message afterwards.
func (c *Client) Stream(ctx context.Context, msgs []llm.Message, tools []llm.ToolDescriptor) (*CompletionStream, error) {
	resp, err := c.post(ctx, msgs, tools, true)
	if err != nil {
		return nil, err
	}

	return &CompletionStream{
		body:   resp.Body,
		reader: sse.NewReader(resp.Body),
		calls:  make(map[int]*partialCall),
	}, nil
}

// post sends the completion request and returns the raw response after
// status validation. The caller owns the body.
func (c *Client) post(ctx context.Context, msgs []llm.Message, tools []llm.ToolDescriptor, stream bool) (*http.Response, error) {
	temperature := c.config.Temperature

	payload := chatRequest{
		Messages:    encodeMessages(msgs),
		Temperature: &temperature,
		Tools:       encodeTools(tools),
		Stream:      stream,
	}
	if len(tools) > 0 {
		payload.ToolChoice = "auto"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Api-Key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, GatewayError{Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, GatewayError{StatusCode: resp.StatusCode, Message: string(detail)}
	}

	return resp, nil
}
