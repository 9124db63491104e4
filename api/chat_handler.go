package api

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/switchboardhq/switchboard/pkg/llm"
	"github.com/switchboardhq/switchboard/pkg/sse"
	"github.com/switchboardhq/switchboard/pkg/storage"
)

// ChatRequest is the body for POST /conversations/:id/chat.
type ChatRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

// ChatResponse is the non-streaming chat reply.
type ChatResponse struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
}

// streamChunk mirrors the OpenAI delta frame shape chat clients expect.
type streamChunk struct {
	Choices []streamChoice `json:"choices"`
}

type streamChoice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamDelta struct {
	Content string `json:"content,omitempty"`
}

func contentChunk(text string) streamChunk {
	return streamChunk{Choices: []streamChoice{{Delta: streamDelta{Content: text}}}}
}

func finishChunk() streamChunk {
	reason := "stop"
	return streamChunk{Choices: []streamChoice{{FinishReason: &reason}}}
}

// handleChat handles POST /conversations/:id/chat, dispatching to the
// buffered or streaming turn path.
func (s *Server) handleChat(c *fiber.Ctx) error {
	id := c.Params("id")

	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{
			Error: "invalid request body",
		})
	}

	if strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{
			Error: "message is required",
		})
	}

	// Resolve the conversation up front so both paths can 404 cleanly.
	if _, err := s.manager.Get(c.Context(), id); err != nil {
		var notFound storage.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{
				Error: "conversation not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{
			Error: "failed to load conversation",
		})
	}

	if req.Stream {
		return s.handleStreamingChat(c, id, req.Message)
	}

	result, err := s.orchestrator.Turn(c.Context(), id, req.Message, nil)
	if err != nil {
		s.logger.Error("turn failed",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{
			Error: "turn failed",
		})
	}

	return c.JSON(ChatResponse{
		Content:        result.Text,
		ConversationID: result.ConversationID,
	})
}

// handleStreamingChat runs the turn in a goroutine and streams SSE frames
// through an io.Pipe.
//
// io.Pipe + SetBodyStream is used instead of SetBodyStreamWriter:
// SetBodyStreamWriter's internal PipeConns buffers chunks in memory, while
// pw.Write blocks until fasthttp's chunked writer has flushed to the socket,
// giving direct backpressure and true per-chunk streaming.
func (s *Server) handleStreamingChat(c *fiber.Ctx, id, message string) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	pr, pw := io.Pipe()

	// context.Background() instead of c.Context(): fasthttp recycles its
	// RequestCtx after the handler returns, but the turn runs asynchronously
	// and must keep its upstream connections open.
	go s.streamTurn(context.Background(), pw, id, message)

	// Unknown size (-1) triggers chunked transfer encoding in fasthttp.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// streamTurn drives one streamed turn, writing the wire frames: conversation
// id first, then delta chunks, a finish chunk, and the [DONE] sentinel.
func (s *Server) streamTurn(ctx context.Context, pw *io.PipeWriter, id, message string) {
	defer pw.Close()

	writer := sse.NewWriter(pw)

	if err := writer.WriteData(fiber.Map{"conversation_id": id}); err != nil {
		return
	}

	sink := func(text string) error {
		return writer.WriteData(contentChunk(text))
	}

	if _, err := s.orchestrator.Turn(ctx, id, message, sink); err != nil {
		s.logger.Error("streamed turn failed",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		_ = writer.WriteData(llm.ErrorResponse{Error: "turn failed"})
		return
	}

	if err := writer.WriteData(finishChunk()); err != nil {
		return
	}
	_ = writer.WriteDone()
}
