package config

const (
	defaultGatewayEndpoint = "http://localhost:11434"
	defaultGatewayModel    = "gpt-4o"
	defaultAPIKeyEnv       = "SWITCHBOARD_GATEWAY_API_KEY"

	defaultAPIListen       = ":8081"
	defaultClientAPITarget = "http://localhost:8081"

	defaultStorageDriver = "sqlite"

	defaultMaxToolRounds      = 8
	defaultToolConcurrency    = 4
	defaultToolTimeoutSeconds = 30

	defaultEventStreamProvider = "nop"
	defaultEventStreamTopic    = "switchboard.turns"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
//
// Gateway temperature defaults to 0 so tool-call behavior stays
// deterministic; the zero value is intentional and not back-filled.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Gateway: GatewayConfig{
			Endpoint:  defaultGatewayEndpoint,
			Model:     defaultGatewayModel,
			APIKeyEnv: defaultAPIKeyEnv,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		Orchestrator: OrchestratorConfig{
			MaxToolRounds:      defaultMaxToolRounds,
			ToolConcurrency:    defaultToolConcurrency,
			ToolTimeoutSeconds: defaultToolTimeoutSeconds,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
		},
	}
}
