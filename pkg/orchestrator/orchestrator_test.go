package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/switchboardhq/switchboard/pkg/conversation"
	"github.com/switchboardhq/switchboard/pkg/eventstream"
	"github.com/switchboardhq/switchboard/pkg/history"
	"github.com/switchboardhq/switchboard/pkg/llm"
	"github.com/switchboardhq/switchboard/pkg/llm/gateway"
	"github.com/switchboardhq/switchboard/pkg/orchestrator"
	"github.com/switchboardhq/switchboard/pkg/redact"
	"github.com/switchboardhq/switchboard/pkg/storage/inmemory"
	"github.com/switchboardhq/switchboard/pkg/toolclient"
)

// fakeGateway replays a script of assistant messages, one per model round.
// It records every request payload so specs can assert what the model saw.
type fakeGateway struct {
	script   []llm.Message
	requests [][]llm.Message
	err      error
	errOnce  error

	round     int
	completes int
	streams   int
}

func (g *fakeGateway) next() (*llm.Message, error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.errOnce != nil {
		err := g.errOnce
		g.errOnce = nil
		return nil, err
	}
	if g.round >= len(g.script) {
		return nil, errors.New("fake gateway script exhausted")
	}
	msg := g.script[g.round]
	g.round++
	return &msg, nil
}

func (g *fakeGateway) Complete(_ context.Context, msgs []llm.Message, _ []llm.ToolDescriptor) (*llm.Message, error) {
	g.requests = append(g.requests, append([]llm.Message(nil), msgs...))
	g.completes++
	return g.next()
}

func (g *fakeGateway) Stream(_ context.Context, msgs []llm.Message, _ []llm.ToolDescriptor) (orchestrator.CompletionStream, error) {
	g.requests = append(g.requests, append([]llm.Message(nil), msgs...))
	g.streams++
	msg, err := g.next()
	if err != nil {
		return nil, err
	}
	return newFakeStream(msg), nil
}

// fakeStream yields the message's content in small deltas, then EOF.
type fakeStream struct {
	deltas []string
	msg    *llm.Message
	closed bool
}

func newFakeStream(msg *llm.Message) *fakeStream {
	var deltas []string
	for content := msg.Content; content != ""; {
		n := min(4, len(content))
		deltas = append(deltas, content[:n])
		content = content[n:]
	}
	return &fakeStream{deltas: deltas, msg: msg}
}

func (s *fakeStream) Recv() (llm.StreamDelta, error) {
	if len(s.deltas) == 0 {
		return llm.StreamDelta{}, io.EOF
	}
	text := s.deltas[0]
	s.deltas = s.deltas[1:]
	return llm.StreamDelta{Text: text}, nil
}

func (s *fakeStream) Message() (*llm.Message, error) { return s.msg, nil }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeDispatcher resolves tool calls against a handler map.
type fakeDispatcher struct {
	schema   []llm.ToolDescriptor
	handlers map[string]func(args json.RawMessage) (string, error)

	mu    sync.Mutex
	calls []string
}

func (d *fakeDispatcher) Schema() []llm.ToolDescriptor { return d.schema }

func (d *fakeDispatcher) Dispatch(_ context.Context, name string, args json.RawMessage) (string, error) {
	d.mu.Lock()
	d.calls = append(d.calls, name)
	d.mu.Unlock()

	handler, ok := d.handlers[name]
	if !ok {
		return "", toolclient.ToolError{Tool: name, Reason: "unknown tool: " + name}
	}
	return handler(args)
}

// capturePublisher records published events.
type capturePublisher struct {
	events []*eventstream.TurnCompletedEvent
	err    error
}

func (p *capturePublisher) PublishTurn(_ context.Context, event *eventstream.TurnCompletedEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func toolCallMessage(calls ...llm.ToolCall) llm.Message {
	return llm.NewToolCallMessage("", calls)
}

// appendFailingHistory lets reads through but fails every append.
type appendFailingHistory struct {
	inner *history.Manager
}

func (h *appendFailingHistory) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	return h.inner.Get(ctx, id)
}

func (h *appendFailingHistory) Append(context.Context, string, ...llm.Message) error {
	return errors.New("disk full")
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx        context.Context
		store      *inmemory.Store
		manager    *history.Manager
		gw         *fakeGateway
		dispatcher *fakeDispatcher
		events     *capturePublisher
		convID     string
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewStore()
		manager = history.NewManager(store, redact.Nop{}, zap.NewNop())
		gw = &fakeGateway{}
		dispatcher = &fakeDispatcher{
			handlers: map[string]func(json.RawMessage) (string, error){},
		}
		events = &capturePublisher{}

		conv, err := manager.Create(ctx, "test")
		Expect(err).NotTo(HaveOccurred())
		convID = conv.ID
	})

	newOrchestrator := func(config orchestrator.Config) *orchestrator.Orchestrator {
		return orchestrator.New(gw, dispatcher, manager, events, config, zap.NewNop())
	}

	Describe("Turn without tool calls", func() {
		BeforeEach(func() {
			gw.script = []llm.Message{
				llm.NewTextMessage(llm.RoleAssistant, "Hello there!"),
			}
		})

		It("returns the final text with zero rounds", func() {
			orch := newOrchestrator(orchestrator.Config{})
			result, err := orch.Turn(ctx, convID, "hi", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("Hello there!"))
			Expect(result.Rounds).To(BeZero())
			Expect(result.ToolCalls).To(BeZero())
			Expect(result.RoundLimitHit).To(BeFalse())
			Expect(result.ConversationID).To(Equal(convID))
		})

		It("persists system, user, and assistant messages for a fresh conversation", func() {
			orch := newOrchestrator(orchestrator.Config{SystemPrompt: "be brief"})
			_, err := orch.Turn(ctx, convID, "hi", nil)
			Expect(err).NotTo(HaveOccurred())

			msgs, err := manager.Messages(ctx, convID)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(3))
			Expect(msgs[0].Role).To(Equal(llm.RoleSystem))
			Expect(msgs[0].Content).To(Equal("be brief"))
			Expect(msgs[1].Role).To(Equal(llm.RoleUser))
			Expect(msgs[1].Content).To(Equal("hi"))
			Expect(msgs[2].Role).To(Equal(llm.RoleAssistant))
			Expect(msgs[2].Content).To(Equal("Hello there!"))
		})

		It("does not re-inject the system prompt on later turns", func() {
			gw.script = []llm.Message{
				llm.NewTextMessage(llm.RoleAssistant, "first"),
				llm.NewTextMessage(llm.RoleAssistant, "second"),
			}

			orch := newOrchestrator(orchestrator.Config{})
			_, err := orch.Turn(ctx, convID, "one", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.Turn(ctx, convID, "two", nil)
			Expect(err).NotTo(HaveOccurred())

			msgs, err := manager.Messages(ctx, convID)
			Expect(err).NotTo(HaveOccurred())

			var systems int
			for _, msg := range msgs {
				if msg.Role == llm.RoleSystem {
					systems++
				}
			}
			Expect(systems).To(Equal(1))
		})

		It("publishes a turn completed event with status ok", func() {
			orch := newOrchestrator(orchestrator.Config{})
			_, err := orch.Turn(ctx, convID, "hi", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(events.events).To(HaveLen(1))
			event := events.events[0]
			Expect(event.ConversationID).To(Equal(convID))
			Expect(event.Status).To(Equal(eventstream.StatusOK))
			Expect(event.Streaming).To(BeFalse())
		})

		It("still succeeds when publishing fails", func() {
			events.err = errors.New("broker down")
			orch := newOrchestrator(orchestrator.Config{})

			result, err := orch.Turn(ctx, convID, "hi", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("Hello there!"))
		})
	})

	Describe("Turn with one tool round", func() {
		BeforeEach(func() {
			gw.script = []llm.Message{
				toolCallMessage(llm.ToolCall{
					ID: "call_1", Name: "get_account", Arguments: json.RawMessage(`{"id":"a-1"}`),
				}),
				llm.NewTextMessage(llm.RoleAssistant, "Account a-1 is active."),
			}
			dispatcher.handlers["get_account"] = func(args json.RawMessage) (string, error) {
				return `{"id":"a-1","status":"active"}`, nil
			}
		})

		It("executes the call and feeds the result into the next round", func() {
			orch := newOrchestrator(orchestrator.Config{})
			result, err := orch.Turn(ctx, convID, "is a-1 active?", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("Account a-1 is active."))
			Expect(result.Rounds).To(Equal(1))
			Expect(result.ToolCalls).To(Equal(1))
			Expect(dispatcher.calls).To(ConsistOf("get_account"))

			// The second model request must include the tool result.
			Expect(gw.requests).To(HaveLen(2))
			second := gw.requests[1]
			last := second[len(second)-1]
			Expect(last.Role).To(Equal(llm.RoleTool))
			Expect(last.Content).To(Equal(`{"id":"a-1","status":"active"}`))
			Expect(last.ToolResult.CallID).To(Equal("call_1"))
		})

		It("persists the full turn as one ordered block", func() {
			orch := newOrchestrator(orchestrator.Config{})
			_, err := orch.Turn(ctx, convID, "is a-1 active?", nil)
			Expect(err).NotTo(HaveOccurred())

			msgs, err := manager.Messages(ctx, convID)
			Expect(err).NotTo(HaveOccurred())
			// system, user, assistant tool call, tool result, final answer
			Expect(msgs).To(HaveLen(5))
			Expect(msgs[2].HasToolCalls()).To(BeTrue())
			Expect(msgs[3].Role).To(Equal(llm.RoleTool))
			Expect(msgs[4].Content).To(Equal("Account a-1 is active."))
		})
	})

	Describe("Turn with parallel tool calls", func() {
		BeforeEach(func() {
			gw.script = []llm.Message{
				toolCallMessage(
					llm.ToolCall{ID: "call_1", Name: "get_account", Arguments: json.RawMessage(`{"id":"a"}`)},
					llm.ToolCall{ID: "call_2", Name: "get_balance", Arguments: json.RawMessage(`{"id":"a"}`)},
					llm.ToolCall{ID: "call_3", Name: "get_history", Arguments: json.RawMessage(`{"id":"a"}`)},
				),
				llm.NewTextMessage(llm.RoleAssistant, "done"),
			}
			dispatcher.handlers["get_account"] = func(json.RawMessage) (string, error) { return "account", nil }
			dispatcher.handlers["get_balance"] = func(json.RawMessage) (string, error) { return "balance", nil }
			dispatcher.handlers["get_history"] = func(json.RawMessage) (string, error) { return "history", nil }
		})

		It("returns results in the order the model issued the calls", func() {
			orch := newOrchestrator(orchestrator.Config{ToolConcurrency: 2})
			result, err := orch.Turn(ctx, convID, "check account a", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.ToolCalls).To(Equal(3))

			msgs, err := manager.Messages(ctx, convID)
			Expect(err).NotTo(HaveOccurred())
			// system, user, tool-call message, three results, final
			Expect(msgs).To(HaveLen(7))
			Expect(msgs[3].ToolResult.CallID).To(Equal("call_1"))
			Expect(msgs[3].Content).To(Equal("account"))
			Expect(msgs[4].ToolResult.CallID).To(Equal("call_2"))
			Expect(msgs[4].Content).To(Equal("balance"))
			Expect(msgs[5].ToolResult.CallID).To(Equal("call_3"))
			Expect(msgs[5].Content).To(Equal("history"))
		})
	})

	Describe("tool failures", func() {
		It("converts a dispatch failure into a tool error the model sees", func() {
			gw.script = []llm.Message{
				toolCallMessage(llm.ToolCall{
					ID: "call_1", Name: "get_account", Arguments: json.RawMessage(`{"id":"x"}`),
				}),
				llm.NewTextMessage(llm.RoleAssistant, "I could not find that account."),
			}
			dispatcher.handlers["get_account"] = func(json.RawMessage) (string, error) {
				return "", toolclient.ToolError{Tool: "get_account", Reason: "account not found"}
			}

			orch := newOrchestrator(orchestrator.Config{})
			result, err := orch.Turn(ctx, convID, "find x", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("I could not find that account."))

			second := gw.requests[1]
			last := second[len(second)-1]
			Expect(last.Role).To(Equal(llm.RoleTool))
			Expect(last.Content).To(ContainSubstring("Error:"))
			Expect(last.Content).To(ContainSubstring("account not found"))
			Expect(last.ToolResult.Error).NotTo(BeEmpty())
		})

		It("rejects invalid JSON arguments before dispatch", func() {
			gw.script = []llm.Message{
				toolCallMessage(llm.ToolCall{
					ID: "call_1", Name: "get_account", Arguments: json.RawMessage(`{not json`),
				}),
				llm.NewTextMessage(llm.RoleAssistant, "sorry"),
			}

			orch := newOrchestrator(orchestrator.Config{})
			_, err := orch.Turn(ctx, convID, "hi", nil)
			Expect(err).NotTo(HaveOccurred())

			// The malformed call never reaches the dispatcher.
			Expect(dispatcher.calls).To(BeEmpty())

			second := gw.requests[1]
			last := second[len(second)-1]
			Expect(last.Content).To(ContainSubstring("malformed tool call"))
		})

		It("rejects calls missing a function name before dispatch", func() {
			gw.script = []llm.Message{
				toolCallMessage(llm.ToolCall{
					ID: "call_1", Name: "", Arguments: json.RawMessage(`{}`),
				}),
				llm.NewTextMessage(llm.RoleAssistant, "sorry"),
			}

			orch := newOrchestrator(orchestrator.Config{})
			_, err := orch.Turn(ctx, convID, "hi", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(dispatcher.calls).To(BeEmpty())
		})
	})

	Describe("malformed completions", func() {
		It("recovers with a correction round instead of aborting the turn", func() {
			gw.errOnce = gateway.MalformedToolCallError{Reason: "tool call missing function name"}
			gw.script = []llm.Message{
				llm.NewTextMessage(llm.RoleAssistant, "recovered answer"),
			}

			orch := newOrchestrator(orchestrator.Config{})
			result, err := orch.Turn(ctx, convID, "hi", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("recovered answer"))
			Expect(result.Rounds).To(Equal(1))

			// The retry request carries the rejection so the model can react.
			Expect(gw.requests).To(HaveLen(2))
			second := gw.requests[1]
			last := second[len(second)-1]
			Expect(last.Role).To(Equal(llm.RoleSystem))
			Expect(last.Content).To(ContainSubstring("rejected"))
			Expect(last.Content).To(ContainSubstring("missing function name"))

			// The whole exchange persists, correction included.
			msgs, err := manager.Messages(ctx, convID)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs[len(msgs)-2].Content).To(ContainSubstring("rejected"))
			Expect(msgs[len(msgs)-1].Content).To(Equal("recovered answer"))
		})

		It("degrades at the round cap when the model never produces a decodable call", func() {
			gw.err = gateway.MalformedToolCallError{Reason: "tool call missing id"}

			orch := newOrchestrator(orchestrator.Config{MaxToolRounds: 2})
			result, err := orch.Turn(ctx, convID, "hi", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.RoundLimitHit).To(BeTrue())
			Expect(result.Rounds).To(Equal(2))
			Expect(result.Text).NotTo(BeEmpty())

			msgs, err := manager.Messages(ctx, convID)
			Expect(err).NotTo(HaveOccurred())
			last := msgs[len(msgs)-1]
			Expect(last.Role).To(Equal(llm.RoleAssistant))
			Expect(last.HasToolCalls()).To(BeFalse())
		})

		It("recovers end to end through the gateway client", func() {
			var requests int
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				requests++
				w.Header().Set("Content-Type", "application/json")
				if requests == 1 {
					fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"","arguments":"{}"}}]},"finish_reason":"tool_calls"}]}`)
					return
				}
				fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"recovered answer"},"finish_reason":"stop"}]}`)
			}))
			defer server.Close()

			client := gateway.NewClient(gateway.Config{
				Endpoint: server.URL,
				Model:    "gpt-4o",
			}, zap.NewNop())

			orch := orchestrator.New(orchestrator.NewGateway(client), dispatcher, manager, events, orchestrator.Config{}, zap.NewNop())
			result, err := orch.Turn(ctx, convID, "hi", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("recovered answer"))
			Expect(requests).To(Equal(2))

			msgs, err := manager.Messages(ctx, convID)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs[len(msgs)-1].Content).To(Equal("recovered answer"))
		})
	})

	Describe("round limit", func() {
		BeforeEach(func() {
			// The model asks for tools forever.
			call := toolCallMessage(llm.ToolCall{
				ID: "call_loop", Name: "dig", Arguments: json.RawMessage(`{}`),
			})
			gw.script = []llm.Message{call, call, call, call}
			dispatcher.handlers["dig"] = func(json.RawMessage) (string, error) { return "deeper", nil }
		})

		It("stops at the cap with a degraded answer and no error", func() {
			orch := newOrchestrator(orchestrator.Config{MaxToolRounds: 2})
			result, err := orch.Turn(ctx, convID, "dig forever", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.RoundLimitHit).To(BeTrue())
			Expect(result.Rounds).To(Equal(2))
			Expect(result.Text).NotTo(BeEmpty())
			Expect(dispatcher.calls).To(HaveLen(2))
		})

		It("never persists a tool-call message without its results", func() {
			orch := newOrchestrator(orchestrator.Config{MaxToolRounds: 2})
			_, err := orch.Turn(ctx, convID, "dig forever", nil)
			Expect(err).NotTo(HaveOccurred())

			msgs, err := manager.Messages(ctx, convID)
			Expect(err).NotTo(HaveOccurred())

			// Every persisted tool-call message must be followed by one result
			// per call before the next non-tool message.
			for i, msg := range msgs {
				if !msg.HasToolCalls() {
					continue
				}
				for j, call := range msg.ToolCalls {
					resultIdx := i + 1 + j
					Expect(resultIdx).To(BeNumerically("<", len(msgs)))
					Expect(msgs[resultIdx].Role).To(Equal(llm.RoleTool))
					Expect(msgs[resultIdx].ToolResult.CallID).To(Equal(call.ID))
				}
			}

			// The log ends with the degraded assistant answer.
			last := msgs[len(msgs)-1]
			Expect(last.Role).To(Equal(llm.RoleAssistant))
			Expect(last.HasToolCalls()).To(BeFalse())
		})

		It("publishes the round_limit status", func() {
			orch := newOrchestrator(orchestrator.Config{MaxToolRounds: 2})
			_, err := orch.Turn(ctx, convID, "dig forever", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(events.events).To(HaveLen(1))
			Expect(events.events[0].Status).To(Equal(eventstream.StatusRoundLimit))
			Expect(events.events[0].Rounds).To(Equal(2))
		})
	})

	Describe("streaming", func() {
		BeforeEach(func() {
			gw.script = []llm.Message{
				llm.NewTextMessage(llm.RoleAssistant, "streamed answer text"),
			}
		})

		It("forwards fragments to the sink and returns the full text", func() {
			var fragments []string
			sink := func(text string) error {
				fragments = append(fragments, text)
				return nil
			}

			orch := newOrchestrator(orchestrator.Config{})
			result, err := orch.Turn(ctx, convID, "hi", sink)

			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Join(fragments, "")).To(Equal("streamed answer text"))
			Expect(result.Text).To(Equal("streamed answer text"))
		})

		It("marks the published event as streaming", func() {
			orch := newOrchestrator(orchestrator.Config{})
			_, err := orch.Turn(ctx, convID, "hi", func(string) error { return nil })
			Expect(err).NotTo(HaveOccurred())

			Expect(events.events).To(HaveLen(1))
			Expect(events.events[0].Streaming).To(BeTrue())
		})

		It("finishes and persists the turn when the consumer disconnects mid-stream", func() {
			var received int
			sink := func(text string) error {
				received++
				if received >= 2 {
					return errors.New("client went away")
				}
				return nil
			}

			orch := newOrchestrator(orchestrator.Config{})
			result, err := orch.Turn(ctx, convID, "hi", sink)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("streamed answer text"))

			msgs, err := manager.Messages(ctx, convID)
			Expect(err).NotTo(HaveOccurred())
			last := msgs[len(msgs)-1]
			Expect(last.Content).To(Equal("streamed answer text"))
		})

		It("falls back to buffered completions for rounds after a disconnect", func() {
			gw.script = []llm.Message{
				llm.NewToolCallMessage("checking", []llm.ToolCall{
					{ID: "call_1", Name: "dig", Arguments: json.RawMessage(`{}`)},
				}),
				llm.NewTextMessage(llm.RoleAssistant, "final answer"),
			}
			dispatcher.handlers["dig"] = func(json.RawMessage) (string, error) { return "dirt", nil }

			// Fail on the very first write; the first round streams the text
			// "checking", drops the consumer, and the second round runs buffered.
			sink := func(string) error { return errors.New("gone") }

			orch := newOrchestrator(orchestrator.Config{})
			result, err := orch.Turn(ctx, convID, "hi", sink)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("final answer"))
			Expect(gw.streams).To(Equal(1))
			Expect(gw.completes).To(Equal(1))
		})
	})

	Describe("failures", func() {
		It("propagates gateway errors", func() {
			gw.err = errors.New("upstream down")
			orch := newOrchestrator(orchestrator.Config{})

			_, err := orch.Turn(ctx, convID, "hi", nil)
			Expect(err).To(MatchError(ContainSubstring("upstream down")))
		})

		It("errors for an unknown conversation", func() {
			orch := newOrchestrator(orchestrator.Config{})
			_, err := orch.Turn(ctx, "missing", "hi", nil)
			Expect(err).To(HaveOccurred())
		})

		It("aborts with a persistence error when the append fails", func() {
			gw.script = []llm.Message{
				llm.NewTextMessage(llm.RoleAssistant, "answer"),
			}

			broken := &appendFailingHistory{inner: manager}
			orch := orchestrator.New(gw, dispatcher, broken, events, orchestrator.Config{}, zap.NewNop())

			_, err := orch.Turn(ctx, convID, "hi", nil)
			Expect(err).To(MatchError(ContainSubstring("persisting turn")))

			// Nothing published for an aborted turn.
			Expect(events.events).To(BeEmpty())
		})
	})
})
