package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/switchboardhq/switchboard/pkg/llm"
	"github.com/switchboardhq/switchboard/pkg/llm/gateway"
)

// capture records what the fake upstream saw for assertions.
type capture struct {
	path    string
	headers http.Header
	body    map[string]any
}

func newClient(endpoint string) *gateway.Client {
	return gateway.NewClient(gateway.Config{
		Endpoint: endpoint,
		Model:    "gpt-4o",
		APIKey:   "test-key",
	}, zap.NewNop())
}

var _ = Describe("Client", func() {
	var (
		ctx      context.Context
		captured *capture
	)

	BeforeEach(func() {
		ctx = context.Background()
		captured = &capture{}
	})

	record := func(r *http.Request) {
		captured.path = r.URL.Path
		captured.headers = r.Header.Clone()
		data, err := io.ReadAll(r.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(data, &captured.body)).To(Succeed())
	}

	Describe("Complete", func() {
		Context("with a plain text answer", func() {
			It("decodes the assistant message", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					record(r)
					fmt.Fprint(w, `{
						"id": "chatcmpl-1",
						"model": "gpt-4o",
						"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}]
					}`)
				}))
				defer server.Close()

				client := newClient(server.URL)
				msg, err := client.Complete(ctx, []llm.Message{
					llm.NewTextMessage(llm.RoleUser, "hi"),
				}, nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(msg.Role).To(Equal(llm.RoleAssistant))
				Expect(msg.Content).To(Equal("Hello!"))
				Expect(msg.HasToolCalls()).To(BeFalse())
			})

			It("addresses the deployment in the URL path", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					record(r)
					fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`)
				}))
				defer server.Close()

				client := newClient(server.URL)
				_, err := client.Complete(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(captured.path).To(Equal("/openai/deployments/gpt-4o/chat/completions"))
			})

			It("sends the Api-Key header", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					record(r)
					fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`)
				}))
				defer server.Close()

				client := newClient(server.URL)
				_, err := client.Complete(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(captured.headers.Get("Api-Key")).To(Equal("test-key"))
				Expect(captured.headers.Get("Content-Type")).To(Equal("application/json"))
			})

			It("omits the Api-Key header when no key is configured", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					record(r)
					fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`)
				}))
				defer server.Close()

				client := gateway.NewClient(gateway.Config{
					Endpoint: server.URL,
					Model:    "gpt-4o",
				}, zap.NewNop())

				_, err := client.Complete(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(captured.headers.Values("Api-Key")).To(BeEmpty())
			})

			It("always sends a temperature, defaulting to zero", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					record(r)
					fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`)
				}))
				defer server.Close()

				client := newClient(server.URL)
				_, err := client.Complete(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(captured.body).To(HaveKeyWithValue("temperature", float64(0)))
			})
		})

		Context("with tools advertised", func() {
			It("encodes the tool schema and requests auto tool choice", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					record(r)
					fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`)
				}))
				defer server.Close()

				tools := []llm.ToolDescriptor{{
					Name:        "get_account",
					Description: "Look up an account",
					Parameters:  json.RawMessage(`{"type":"object"}`),
				}}

				client := newClient(server.URL)
				_, err := client.Complete(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, tools)
				Expect(err).NotTo(HaveOccurred())

				Expect(captured.body).To(HaveKeyWithValue("tool_choice", "auto"))
				wireTools := captured.body["tools"].([]any)
				Expect(wireTools).To(HaveLen(1))
				first := wireTools[0].(map[string]any)
				Expect(first).To(HaveKeyWithValue("type", "function"))
				fn := first["function"].(map[string]any)
				Expect(fn).To(HaveKeyWithValue("name", "get_account"))
			})
		})

		Context("when the model requests tool calls", func() {
			It("decodes them with raw arguments", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{
						"choices": [{
							"message": {
								"role": "assistant",
								"content": "",
								"tool_calls": [{
									"id": "call_1",
									"type": "function",
									"function": {"name": "get_account", "arguments": "{\"id\":\"a-1\"}"}
								}]
							},
							"finish_reason": "tool_calls"
						}]
					}`)
				}))
				defer server.Close()

				client := newClient(server.URL)
				msg, err := client.Complete(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(msg.HasToolCalls()).To(BeTrue())
				Expect(msg.ToolCalls).To(HaveLen(1))
				Expect(msg.ToolCalls[0].ID).To(Equal("call_1"))
				Expect(msg.ToolCalls[0].Name).To(Equal("get_account"))
				Expect(string(msg.ToolCalls[0].Arguments)).To(MatchJSON(`{"id":"a-1"}`))
			})

			It("rejects calls missing the function name", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{
						"choices": [{
							"message": {
								"role": "assistant",
								"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "", "arguments": "{}"}}]
							}
						}]
					}`)
				}))
				defer server.Close()

				client := newClient(server.URL)
				_, err := client.Complete(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)

				var malformed gateway.MalformedToolCallError
				Expect(errors.As(err, &malformed)).To(BeTrue())
			})

			It("rejects calls missing the call id", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{
						"choices": [{
							"message": {
								"role": "assistant",
								"tool_calls": [{"id": "", "type": "function", "function": {"name": "get_account", "arguments": "{}"}}]
							}
						}]
					}`)
				}))
				defer server.Close()

				client := newClient(server.URL)
				_, err := client.Complete(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)

				var malformed gateway.MalformedToolCallError
				Expect(errors.As(err, &malformed)).To(BeTrue())
			})
		})

		Context("when sending tool results back", func() {
			It("wires tool_call_id on role=tool messages", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					record(r)
					fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "done"}}]}`)
				}))
				defer server.Close()

				client := newClient(server.URL)
				_, err := client.Complete(ctx, []llm.Message{
					llm.NewTextMessage(llm.RoleUser, "hi"),
					llm.NewToolCallMessage("", []llm.ToolCall{{ID: "call_1", Name: "f", Arguments: []byte(`{}`)}}),
					llm.NewToolResultMessage("call_1", `{"ok":true}`),
				}, nil)
				Expect(err).NotTo(HaveOccurred())

				messages := captured.body["messages"].([]any)
				Expect(messages).To(HaveLen(3))
				toolMsg := messages[2].(map[string]any)
				Expect(toolMsg).To(HaveKeyWithValue("role", "tool"))
				Expect(toolMsg).To(HaveKeyWithValue("tool_call_id", "call_1"))
			})
		})

		Context("with upstream failures", func() {
			It("returns a GatewayError carrying the status and body", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusTooManyRequests)
					fmt.Fprint(w, `{"error": "rate limited"}`)
				}))
				defer server.Close()

				client := newClient(server.URL)
				_, err := client.Complete(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)

				var gwErr gateway.GatewayError
				Expect(errors.As(err, &gwErr)).To(BeTrue())
				Expect(gwErr.StatusCode).To(Equal(http.StatusTooManyRequests))
				Expect(gwErr.Message).To(ContainSubstring("rate limited"))
			})

			It("returns a GatewayError when the response has no choices", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `{"choices": []}`)
				}))
				defer server.Close()

				client := newClient(server.URL)
				_, err := client.Complete(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)

				var gwErr gateway.GatewayError
				Expect(errors.As(err, &gwErr)).To(BeTrue())
			})
		})
	})

	Describe("Stream", func() {
		writeSSE := func(w http.ResponseWriter, frames ...string) {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, frame := range frames {
				fmt.Fprintf(w, "data: %s\n\n", frame)
			}
		}

		drain := func(stream *gateway.CompletionStream) []string {
			var deltas []string
			for {
				delta, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					return deltas
				}
				Expect(err).NotTo(HaveOccurred())
				deltas = append(deltas, delta.Text)
			}
		}

		Context("with a plain text stream", func() {
			It("yields each content delta and assembles the message", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					record(r)
					writeSSE(w,
						`{"choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
						`{"choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
						`{"choices":[{"index":0,"delta":{"content":"lo!"}}]}`,
						`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
						`[DONE]`,
					)
				}))
				defer server.Close()

				client := newClient(server.URL)
				stream, err := client.Stream(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)
				Expect(err).NotTo(HaveOccurred())
				defer stream.Close()

				deltas := drain(stream)
				Expect(deltas).To(Equal([]string{"Hel", "lo!"}))

				msg, err := stream.Message()
				Expect(err).NotTo(HaveOccurred())
				Expect(msg.Content).To(Equal("Hello!"))
				Expect(msg.HasToolCalls()).To(BeFalse())
				Expect(stream.FinishReason()).To(Equal("stop"))
				Expect(captured.body).To(HaveKeyWithValue("stream", true))
			})
		})

		Context("with streamed tool-call fragments", func() {
			It("coalesces fragments by index into full calls", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeSSE(w,
						`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_account","arguments":""}}]}}]}`,
						`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"id\":"}}]}}]}`,
						`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a-1\"}"}}]}}]}`,
						`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
						`[DONE]`,
					)
				}))
				defer server.Close()

				client := newClient(server.URL)
				stream, err := client.Stream(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)
				Expect(err).NotTo(HaveOccurred())
				defer stream.Close()

				deltas := drain(stream)
				Expect(deltas).To(BeEmpty(), "tool fragments must not surface as text")

				msg, err := stream.Message()
				Expect(err).NotTo(HaveOccurred())
				Expect(msg.ToolCalls).To(HaveLen(1))
				Expect(msg.ToolCalls[0].ID).To(Equal("call_1"))
				Expect(msg.ToolCalls[0].Name).To(Equal("get_account"))
				Expect(string(msg.ToolCalls[0].Arguments)).To(MatchJSON(`{"id":"a-1"}`))
				Expect(stream.FinishReason()).To(Equal("tool_calls"))
			})

			It("keeps interleaved calls separated and ordered", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeSSE(w,
						`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"first","arguments":"{"}}]}}]}`,
						`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"second","arguments":"{}"}}]}}]}`,
						`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"}"}}]}}]}`,
						`[DONE]`,
					)
				}))
				defer server.Close()

				client := newClient(server.URL)
				stream, err := client.Stream(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)
				Expect(err).NotTo(HaveOccurred())
				defer stream.Close()

				drain(stream)

				msg, err := stream.Message()
				Expect(err).NotTo(HaveOccurred())
				Expect(msg.ToolCalls).To(HaveLen(2))
				Expect(msg.ToolCalls[0].ID).To(Equal("call_a"))
				Expect(msg.ToolCalls[0].Name).To(Equal("first"))
				Expect(msg.ToolCalls[1].ID).To(Equal("call_b"))
				Expect(msg.ToolCalls[1].Name).To(Equal("second"))
			})
		})

		Context("with text before tool calls", func() {
			It("surfaces the text and absorbs the calls", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeSSE(w,
						`{"choices":[{"index":0,"delta":{"content":"Let me check."}}]}`,
						`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup","arguments":"{}"}}]}}]}`,
						`[DONE]`,
					)
				}))
				defer server.Close()

				client := newClient(server.URL)
				stream, err := client.Stream(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)
				Expect(err).NotTo(HaveOccurred())
				defer stream.Close()

				deltas := drain(stream)
				Expect(deltas).To(Equal([]string{"Let me check."}))

				msg, err := stream.Message()
				Expect(err).NotTo(HaveOccurred())
				Expect(msg.Content).To(Equal("Let me check."))
				Expect(msg.ToolCalls).To(HaveLen(1))
			})
		})

		Context("when the stream ends without [DONE]", func() {
			It("returns io.EOF on exhaustion", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeSSE(w, `{"choices":[{"index":0,"delta":{"content":"partial"}}]}`)
				}))
				defer server.Close()

				client := newClient(server.URL)
				stream, err := client.Stream(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)
				Expect(err).NotTo(HaveOccurred())
				defer stream.Close()

				deltas := drain(stream)
				Expect(deltas).To(Equal([]string{"partial"}))
			})
		})

		Context("with upstream failures", func() {
			It("returns a GatewayError before any stream is produced", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusUnauthorized)
					fmt.Fprint(w, "bad key")
				}))
				defer server.Close()

				client := newClient(server.URL)
				_, err := client.Stream(ctx, []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}, nil)

				var gwErr gateway.GatewayError
				Expect(errors.As(err, &gwErr)).To(BeTrue())
				Expect(gwErr.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})
	})
})
