// Package orchestrator runs the tool-use loop at the center of the gateway:
// user message in, zero or more bounded rounds of concurrent tool execution,
// final assistant answer out, everything persisted as one atomic batch.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/switchboardhq/switchboard/pkg/eventstream"
	"github.com/switchboardhq/switchboard/pkg/llm"
	"github.com/switchboardhq/switchboard/pkg/llm/gateway"
)

// ErrToolRoundLimit marks a turn that hit the configured tool round cap.
// The turn still completes with a degraded answer; the sentinel is used for
// logging and event status, not surfaced to API callers.
var ErrToolRoundLimit = errors.New("tool round limit reached")

// degradedAnswer is the assistant text used when the round cap cuts a turn
// short. The model's last tool request is dropped rather than half-executed,
// so the log never contains a tool call without its results.
const degradedAnswer = "I couldn't complete this request within the allowed number of tool rounds. Here is what I have so far; please narrow the request and try again."

// DefaultSystemPrompt seeds fresh conversations when no prompt is configured.
const DefaultSystemPrompt = "You are a helpful assistant. Use the available tools when they help you answer accurately, and say so plainly when you cannot help."

// Config holds the loop limits.
type Config struct {
	// MaxToolRounds caps how many tool rounds one turn may execute.
	MaxToolRounds int

	// ToolConcurrency bounds how many tool calls of one round run at once.
	ToolConcurrency int

	// SystemPrompt is injected as the first message of a fresh conversation.
	// Empty selects DefaultSystemPrompt.
	SystemPrompt string
}

// Result summarizes one completed turn.
type Result struct {
	ConversationID string
	Text           string
	Rounds         int
	ToolCalls      int
	RoundLimitHit  bool
}

// Orchestrator drives turns against one gateway, dispatcher, and history.
type Orchestrator struct {
	gateway Gateway
	tools   Dispatcher
	history History
	events  eventstream.Publisher
	logger  *zap.Logger
	config  Config
}

// New creates an Orchestrator. events may be nil to disable publishing.
func New(gw Gateway, tools Dispatcher, history History, events eventstream.Publisher, config Config, logger *zap.Logger) *Orchestrator {
	if config.MaxToolRounds <= 0 {
		config.MaxToolRounds = 8
	}
	if config.ToolConcurrency <= 0 {
		config.ToolConcurrency = 4
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}

	return &Orchestrator{
		gateway: gw,
		tools:   tools,
		history: history,
		events:  events,
		logger:  logger,
		config:  config,
	}
}

// Turn runs one full user turn against the conversation. When sink is
// non-nil the assistant's text is forwarded fragment by fragment as it
// streams; when nil the turn runs buffered. Either way the returned Result
// carries the complete final text.
//
// The turn's messages are appended to history as a single atomic batch after
// the loop finishes. A persistence failure aborts the turn with an error and
// leaves the log untouched.
func (o *Orchestrator) Turn(ctx context.Context, conversationID, userText string, sink FragmentWriter) (*Result, error) {
	started := time.Now().UTC()

	conv, err := o.history.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	working := make([]llm.Message, 0, len(conv.Messages)+4)
	working = append(working, conv.Messages...)

	var pending []llm.Message

	// Fresh conversations get the system prompt as their first message.
	if len(conv.Messages) == 0 {
		system := llm.NewTextMessage(llm.RoleSystem, o.config.SystemPrompt)
		working = append(working, system)
		pending = append(pending, system)
	}

	user := llm.NewTextMessage(llm.RoleUser, userText)
	working = append(working, user)
	pending = append(pending, user)

	result := &Result{ConversationID: conversationID}
	schema := o.tools.Schema()
	streaming := sink != nil

	for {
		assistant, err := o.complete(ctx, working, schema, &sink)

		var malformed gateway.MalformedToolCallError
		if err != nil && !errors.As(err, &malformed) {
			return nil, err
		}

		if err == nil && !assistant.HasToolCalls() {
			pending = append(pending, *assistant)
			result.Text = assistant.Content
			break
		}

		if result.Rounds >= o.config.MaxToolRounds {
			// Drop the unexecuted tool request and answer degraded, so a
			// tool-call message never persists without its results.
			o.logger.Warn("turn hit tool round limit",
				zap.String("conversation_id", conversationID),
				zap.Int("rounds", result.Rounds),
				zap.Error(ErrToolRoundLimit),
			)

			degraded := llm.NewTextMessage(llm.RoleAssistant, degradedAnswer)
			pending = append(pending, degraded)
			result.Text = degraded.Content
			result.RoundLimitHit = true

			if sink != nil {
				if err := sink(degraded.Content); err != nil {
					sink = nil
				}
			}
			break
		}

		if err != nil {
			// The model produced a tool call the gateway could not decode.
			// The undecodable message is dropped; a correction goes back so
			// the model can retry or answer directly, within the round budget.
			o.logger.Warn("recovering from malformed tool call",
				zap.String("conversation_id", conversationID),
				zap.String("reason", malformed.Reason),
			)

			correction := llm.NewTextMessage(llm.RoleSystem,
				"Your previous tool call was rejected: "+malformed.Reason+". Answer directly or issue a well-formed tool call.")
			pending = append(pending, correction)
			working = append(working, correction)
			result.Rounds++
			continue
		}

		pending = append(pending, *assistant)
		working = append(working, *assistant)

		results := o.executeRound(ctx, assistant.ToolCalls)
		pending = append(pending, results...)
		working = append(working, results...)

		result.Rounds++
		result.ToolCalls += len(assistant.ToolCalls)
	}

	if err := o.history.Append(ctx, conversationID, pending...); err != nil {
		return nil, fmt.Errorf("persisting turn: %w", err)
	}

	o.publish(ctx, result, streaming, started)

	return result, nil
}

// complete runs one model round, streamed when a sink is present. The sink
// is passed by pointer so a mid-stream consumer disconnect sticks for the
// rest of the turn: later rounds fall back to buffered completions.
func (o *Orchestrator) complete(ctx context.Context, working []llm.Message, schema []llm.ToolDescriptor, sink *FragmentWriter) (*llm.Message, error) {
	if *sink == nil {
		return o.gateway.Complete(ctx, working, schema)
	}

	stream, err := o.gateway.Stream(ctx, working, schema)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if delta.Text == "" || *sink == nil {
			continue
		}

		if err := (*sink)(delta.Text); err != nil {
			// Consumer is gone. Keep draining so the turn, and with it the
			// conversation log, still completes.
			o.logger.Debug("stream consumer disconnected", zap.Error(err))
			*sink = nil
		}
	}

	return stream.Message()
}

// executeRound dispatches every call of one round with bounded concurrency
// and returns one tool-result message per call, in the order the model
// issued the calls. Single-call failures become tool-error messages; the
// round itself never fails.
func (o *Orchestrator) executeRound(ctx context.Context, calls []llm.ToolCall) []llm.Message {
	results := make([]llm.Message, len(calls))

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.config.ToolConcurrency)

	for i, call := range calls {
		if reason, ok := o.invalid(call); ok {
			results[i] = llm.NewToolErrorMessage(call.ID, reason)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()

			payload, err := o.tools.Dispatch(ctx, call.Name, call.Arguments)
			if err != nil {
				results[i] = llm.NewToolErrorMessage(call.ID, err.Error())
				return
			}

			results[i] = llm.NewToolResultMessage(call.ID, payload)
		}(i, call)
	}

	wg.Wait()

	return results
}

// invalid pre-validates a tool call before dispatch. Malformed calls are
// reported back to the model as tool errors instead of crashing the turn.
func (o *Orchestrator) invalid(call llm.ToolCall) (string, bool) {
	if call.Name == "" {
		return "malformed tool call: missing function name", true
	}
	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		return fmt.Sprintf("malformed tool call: arguments for %s are not valid JSON", call.Name), true
	}

	return "", false
}

// publish emits the turn event, best effort.
func (o *Orchestrator) publish(ctx context.Context, result *Result, streaming bool, started time.Time) {
	if o.events == nil {
		return
	}

	status := eventstream.StatusOK
	if result.RoundLimitHit {
		status = eventstream.StatusRoundLimit
	}

	event := eventstream.NewTurnCompletedEvent(result.ConversationID, status)
	event.Rounds = result.Rounds
	event.ToolCalls = result.ToolCalls
	event.Streaming = streaming
	event.StartedAt = started
	event.CompletedAt = time.Now().UTC()
	event.DurationMs = event.CompletedAt.Sub(started).Milliseconds()

	if err := o.events.PublishTurn(ctx, event); err != nil {
		o.logger.Warn("publishing turn event failed",
			zap.String("conversation_id", result.ConversationID),
			zap.Error(err),
		)
	}
}
