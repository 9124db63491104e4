package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/switchboardhq/switchboard/pkg/llm"
	"github.com/switchboardhq/switchboard/pkg/storage"
)

// CreateConversationRequest is the body for POST /conversations.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleCreateConversation handles POST /conversations.
func (s *Server) handleCreateConversation(c *fiber.Ctx) error {
	var req CreateConversationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{
				Error: "invalid request body",
			})
		}
	}

	conv, err := s.manager.Create(c.Context(), req.Title)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{
			Error: "failed to create conversation",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(conv)
}

// handleListConversations handles GET /conversations.
func (s *Server) handleListConversations(c *fiber.Ctx) error {
	summaries, err := s.manager.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{
			Error: "failed to list conversations",
		})
	}

	return c.JSON(fiber.Map{
		"count":         len(summaries),
		"conversations": summaries,
	})
}

// handleGetConversation handles GET /conversations/:id.
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	id := c.Params("id")

	conv, err := s.manager.Get(c.Context(), id)
	if err != nil {
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

	return c.JSON(conv)
}

// handleDeleteConversation handles DELETE /conversations/:id.
func (s *Server) handleDeleteConversation(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := s.manager.Delete(c.Context(), id); err != nil {
		var notFound storage.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{
				Error: "conversation not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{
			Error: "failed to delete conversation",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
