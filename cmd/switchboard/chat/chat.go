// Package chatcmder provides the chat command for interactive sessions
// against a running switchboard gateway.
package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/switchboardhq/switchboard/pkg/cliui"
	"github.com/switchboardhq/switchboard/pkg/config"
	"github.com/switchboardhq/switchboard/pkg/logger"
	"github.com/switchboardhq/switchboard/pkg/sse"
	"github.com/switchboardhq/switchboard/pkg/utils"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
)

type chatCommander struct {
	apiTarget      string
	conversationID string
	title          string
	markdown       bool
	debug          bool

	logger *zap.Logger
}

// chatRequest is the gateway's chat endpoint request body.
type chatRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

// createConversationRequest is the gateway's conversation creation body.
type createConversationRequest struct {
	Title string `json:"title,omitempty"`
}

type conversationResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// chatResponse is the gateway's buffered (non-streaming) chat reply.
type chatResponse struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
}

// streamChunk mirrors the chunk frames the gateway emits over SSE.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error string `json:"error"`
}

const chatLongDesc string = `Start an interactive chat session against a running switchboard gateway.

Each message runs a full turn on the server: the model may call tools from
the connected tool servers before producing its answer. The whole turn is
persisted server-side, so resuming a conversation picks up exactly where
it left off.

Examples:
  switchboard chat
  switchboard chat --title "billing question"
  switchboard chat --conversation 6f1c9c2e-6f55-4ab2-9a1d-0c79a9b7e1aa`

const chatShortDesc string = "Interactive chat against a switchboard gateway"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			cfger, err := config.NewConfiger(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("api-target") {
				cmder.apiTarget = cfg.Client.APITarget
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVarP(&cmder.apiTarget, "api-target", "a", defaults.Client.APITarget, "Switchboard API server URL")
	cmd.Flags().StringVarP(&cmder.conversationID, "conversation", "c", "", "Resume an existing conversation by ID")
	cmd.Flags().StringVarP(&cmder.title, "title", "t", "", "Title for a new conversation")
	cmd.Flags().BoolVarP(&cmder.markdown, "markdown", "m", false, "Render each reply as markdown (buffers the reply instead of streaming it)")

	return cmd
}

func (c *chatCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	httpClient := &http.Client{
		// Tool-heavy turns can be slow
		Timeout: 5 * time.Minute,
	}

	fmt.Println()
	if c.conversationID == "" {
		conv, err := c.createConversation(httpClient)
		if err != nil {
			return err
		}
		c.conversationID = conv.ID
		fmt.Printf("  %s New conversation %s\n",
			cliui.SuccessMark,
			cliui.DimStyle.Render(utils.Truncate(conv.ID, 16)),
		)
	} else {
		fmt.Printf("  %s Resuming %s\n",
			cliui.SuccessMark,
			cliui.DimStyle.Render(utils.Truncate(c.conversationID, 16)),
		)
	}

	fmt.Printf("  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(userPrompt)
		if !scanner.Scan() {
			// EOF or error
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}

		send := c.sendAndStream
		if c.markdown {
			send = c.sendAndRender
		}

		if err := send(httpClient, input); err != nil {
			fmt.Fprintf(os.Stderr, "  %s %v\n", cliui.FailMark, err)
			continue
		}

		fmt.Println()
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Println()
	return nil
}

// createConversation asks the gateway for a fresh conversation.
func (c *chatCommander) createConversation(client *http.Client) (*conversationResponse, error) {
	body, err := json.Marshal(createConversationRequest{Title: c.title})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.apiTarget + "/conversations"
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var conv conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return nil, fmt.Errorf("decoding conversation: %w", err)
	}

	return &conv, nil
}

// sendAndRender runs one buffered turn and prints the reply rendered as
// markdown.
func (c *chatCommander) sendAndRender(client *http.Client, message string) error {
	body, err := json.Marshal(chatRequest{Message: message, Stream: false})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	url := c.apiTarget + "/conversations/" + c.conversationID + "/chat"
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sending request to gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var reply chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}

	rendered, err := cliui.RenderMarkdown(reply.Content)
	if err != nil {
		c.logger.Debug("markdown rendering failed, printing raw", zap.Error(err))
		rendered = reply.Content
	}

	fmt.Println(assistantPrompt)
	fmt.Print(rendered)
	return nil
}

// sendAndStream runs one turn against the gateway and prints content deltas
// to stdout as they arrive.
func (c *chatCommander) sendAndStream(client *http.Client, message string) error {
	body, err := json.Marshal(chatRequest{Message: message, Stream: true})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("sending chat request",
		zap.String("api_target", c.apiTarget),
		zap.String("conversation_id", c.conversationID),
	)

	url := c.apiTarget + "/conversations/" + c.conversationID + "/chat"
	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request to gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	fmt.Print(assistantPrompt)

	reader := sse.NewReader(resp.Body)
	for {
		event, err := reader.Next()
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
		if event == nil || event.IsDone() {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
			c.logger.Debug("failed to parse stream chunk",
				zap.Error(err),
				zap.String("data", event.Data),
			)
			continue
		}

		if chunk.Error != "" {
			return fmt.Errorf("turn failed: %s", chunk.Error)
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				fmt.Print(choice.Delta.Content)
			}
		}
	}

	return nil
}
