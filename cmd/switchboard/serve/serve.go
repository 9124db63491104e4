// Package servecmder provides the serve command running the gateway.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/switchboardhq/switchboard/api"
	"github.com/switchboardhq/switchboard/pkg/config"
	"github.com/switchboardhq/switchboard/pkg/dotdir"
	"github.com/switchboardhq/switchboard/pkg/eventstream"
	"github.com/switchboardhq/switchboard/pkg/eventstream/kafka"
	"github.com/switchboardhq/switchboard/pkg/eventstream/nop"
	"github.com/switchboardhq/switchboard/pkg/history"
	"github.com/switchboardhq/switchboard/pkg/llm/gateway"
	"github.com/switchboardhq/switchboard/pkg/logger"
	"github.com/switchboardhq/switchboard/pkg/orchestrator"
	"github.com/switchboardhq/switchboard/pkg/redact"
	"github.com/switchboardhq/switchboard/pkg/storage"
	"github.com/switchboardhq/switchboard/pkg/storage/inmemory"
	"github.com/switchboardhq/switchboard/pkg/storage/postgres"
	"github.com/switchboardhq/switchboard/pkg/storage/sqlite"
	"github.com/switchboardhq/switchboard/pkg/toolclient"
)

// serveFlags is the flag registry for the serve command.
var serveFlags = config.FlagSet{
	config.FlagAPIListen: {
		Name: "api-listen", Shorthand: "a",
		ViperKey:    "api.listen",
		Description: "Address for the API server to listen on",
	},
	config.FlagEndpoint: {
		Name: "endpoint", Shorthand: "e",
		ViperKey:    "gateway.endpoint",
		Description: "Completion service base URL",
	},
	config.FlagModel: {
		Name: "model", Shorthand: "m",
		ViperKey:    "gateway.model",
		Description: "Model deployment name",
	},
	config.FlagStorageDriver: {
		Name:        "storage-driver",
		ViperKey:    "storage.driver",
		Description: "Storage driver (inmemory, sqlite, postgres)",
	},
	config.FlagSQLite: {
		Name: "sqlite", Shorthand: "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to the SQLite database",
	},
	config.FlagPostgres: {
		Name:        "postgres",
		ViperKey:    "storage.postgres_url",
		Description: "PostgreSQL connection URL",
	},
}

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagEndpoint,
	config.FlagModel,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgres,
}

type ServeCommander struct {
	apiListen     string
	endpoint      string
	model         string
	storageDriver string
	sqlitePath    string
	postgresURL   string
	configDir     string
	debug         bool
	logger        *zap.Logger
}

const serveLongDesc string = `Run the switchboard gateway.

Starts the API server, connects the configured tool servers, and wires the
orchestrator to the completion endpoint. Conversations persist in the
configured storage backend.

Tool servers come from [[tool_servers]] tables in config.toml:

  [[tool_servers]]
  name = "accounts"
  transport = "http"
  endpoint = "http://localhost:9000/mcp"

  [[tool_servers]]
  name = "search"
  transport = "docker"
  docker_image = "example/search-mcp:latest"`

const serveShortDesc string = "Run the switchboard gateway"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagAPIListen, &cmder.apiListen)
	config.AddStringFlag(cmd, serveFlags, config.FlagEndpoint, &cmder.endpoint)
	config.AddStringFlag(cmd, serveFlags, config.FlagModel, &cmder.model)
	config.AddStringFlag(cmd, serveFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgres, &cmder.postgresURL)

	return cmd
}

func (c *ServeCommander) run(cmd *cobra.Command) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	v, err := config.InitViper(c.configDir)
	if err != nil {
		return err
	}
	config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)

	cfg, err := config.UnmarshalConfig(v)
	if err != nil {
		return err
	}

	// The gateway reads config once at startup. Surface edits so operators
	// know a restart is needed.
	v.OnConfigChange(func(event fsnotify.Event) {
		c.logger.Warn("config file changed, restart to apply",
			zap.String("file", event.Name),
		)
	})
	v.WatchConfig()

	store, err := c.newStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	manager := history.NewManager(store, redact.NewStandard(), c.logger)

	registry := toolclient.NewRegistry(
		time.Duration(cfg.Orchestrator.ToolTimeoutSeconds)*time.Second,
		c.logger,
	)
	defer registry.Close()

	if err := c.registerToolServers(cfg, registry); err != nil {
		return err
	}

	gwClient := gateway.NewClient(gateway.Config{
		Endpoint:    cfg.Gateway.Endpoint,
		Model:       cfg.Gateway.Model,
		APIKey:      os.Getenv(cfg.Gateway.APIKeyEnv),
		Temperature: cfg.Gateway.Temperature,
	}, c.logger)

	events, err := c.newPublisher(cfg)
	if err != nil {
		return err
	}
	defer events.Close()

	orch := orchestrator.New(
		orchestrator.NewGateway(gwClient),
		registry,
		manager,
		events,
		orchestrator.Config{
			MaxToolRounds:   int(cfg.Orchestrator.MaxToolRounds),
			ToolConcurrency: int(cfg.Orchestrator.ToolConcurrency),
		},
		c.logger,
	)

	apiServer := api.NewServer(api.Config{
		ListenAddr: cfg.API.Listen,
	}, manager, orch, c.logger)

	c.logger.Info("starting gateway",
		zap.String("api_addr", cfg.API.Listen),
		zap.String("endpoint", cfg.Gateway.Endpoint),
		zap.String("model", cfg.Gateway.Model),
		zap.String("storage", cfg.Storage.Driver),
	)

	// Channel to capture errors from goroutines
	errChan := make(chan error, 1)

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return apiServer.Shutdown()
	}
}

// newStore builds the configured storage backend.
func (c *ServeCommander) newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "inmemory":
		c.logger.Info("using in-memory storage")
		return inmemory.NewStore(), nil

	case "sqlite":
		path := cfg.Storage.SQLitePath
		if path == "" {
			target, err := dotdir.NewManager().Target(c.configDir)
			if err != nil {
				return nil, fmt.Errorf("resolving sqlite path: %w", err)
			}
			path = filepath.Join(target, "switchboard.db")
		}

		store, err := sqlite.NewStore(path)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite store: %w", err)
		}
		c.logger.Info("using SQLite storage", zap.String("path", path))
		return store, nil

	case "postgres":
		store, err := postgres.NewStore(context.Background(), cfg.Storage.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		c.logger.Info("using PostgreSQL storage")
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
}

// registerToolServers connects every configured tool server. Unreachable
// servers are skipped with a warning so one dead server doesn't take the
// gateway down; conflicting tool names abort startup because they mean the
// config itself is wrong.
func (c *ServeCommander) registerToolServers(cfg *config.Config, registry *toolclient.Registry) error {
	ctx := context.Background()

	for _, server := range cfg.ToolServers {
		var client toolclient.Client

		switch server.Transport {
		case "http":
			client = toolclient.NewStreamableHTTPClient(server.Name, server.Endpoint)
		case "stdio":
			client = toolclient.NewCommandClient(server.Name, server.Command, server.Args...)
		case "docker":
			client = toolclient.NewDockerClient(server.Name, server.Image)
		default:
			return fmt.Errorf("tool server %s: unknown transport %q", server.Name, server.Transport)
		}

		if err := registry.Register(ctx, client); err != nil {
			var conflict toolclient.ToolConflictError
			if errors.As(err, &conflict) {
				return err
			}

			c.logger.Warn("skipping unreachable tool server",
				zap.String("server", server.Name),
				zap.Error(err),
			)
		}
	}

	return nil
}

// newPublisher builds the configured eventstream backend.
func (c *ServeCommander) newPublisher(cfg *config.Config) (eventstream.Publisher, error) {
	switch cfg.EventStream.Provider {
	case "", "nop":
		return nop.NewPublisher(), nil

	case "kafka":
		publisher, err := kafka.NewPublisher(cfg.EventStream.Brokers, cfg.EventStream.Topic)
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		c.logger.Info("publishing turn events to kafka",
			zap.Strings("brokers", cfg.EventStream.Brokers),
			zap.String("topic", cfg.EventStream.Topic),
		)
		return publisher, nil

	default:
		return nil, fmt.Errorf("unknown eventstream provider: %q", cfg.EventStream.Provider)
	}
}
