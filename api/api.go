package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/switchboardhq/switchboard/pkg/history"
	"github.com/switchboardhq/switchboard/pkg/orchestrator"
)

// Server is the API server for the switchboard gateway.
type Server struct {
	config       Config
	manager      *history.Manager
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
	app          *fiber.App
}

// NewServer creates a new API server. The manager and orchestrator are
// injected so they can be shared with other components (e.g. the CLI when
// run in-process).
func NewServer(config Config, manager *history.Manager, orch *orchestrator.Orchestrator, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:       config,
		manager:      manager,
		orchestrator: orch,
		logger:       logger,
		app:          app,
	}

	app.Get("/ping", s.handlePing)
	app.Post("/conversations", s.handleCreateConversation)
	app.Get("/conversations", s.handleListConversations)
	app.Get("/conversations/:id", s.handleGetConversation)
	app.Delete("/conversations/:id", s.handleDeleteConversation)
	app.Post("/conversations/:id/chat", s.handleChat)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
