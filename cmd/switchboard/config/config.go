// Package configcmder provides the config command for managing persistent
// switchboard configuration stored in the .switchboard/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent switchboard configuration.

Configuration is stored as config.toml in the .switchboard/ directory and
provides default values for command flags. CLI flags always take precedence
over config file values.

Keys use dotted notation matching the TOML section structure:
  gateway.endpoint, gateway.model, gateway.api_key_env, gateway.temperature,
  api.listen, client.api_target,
  storage.driver, storage.sqlite_path, storage.postgres_url,
  orchestrator.max_tool_rounds, orchestrator.tool_concurrency,
  orchestrator.tool_timeout_seconds,
  eventstream.provider, eventstream.topic

Tool servers are configured as [[tool_servers]] tables in the file directly.

Use subcommands to get, set, or list configuration values:
  switchboard config set <key> <value>    Set a configuration value
  switchboard config get <key>            Get a configuration value
  switchboard config list                 List all configuration values

Examples:
  switchboard config set gateway.model gpt-4o
  switchboard config set storage.driver postgres
  switchboard config get gateway.endpoint
  switchboard config list`

const configShortDesc string = "Manage persistent switchboard configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
