// Package switchboardcmder
package switchboardcmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/switchboardhq/switchboard/cmd/switchboard/chat"
	configcmder "github.com/switchboardhq/switchboard/cmd/switchboard/config"
	initcmder "github.com/switchboardhq/switchboard/cmd/switchboard/init"
	servecmder "github.com/switchboardhq/switchboard/cmd/switchboard/serve"
	versioncmder "github.com/switchboardhq/switchboard/cmd/version"
)

const switchboardLongDesc string = `Switchboard is a conversational agent gateway.

It sits between chat clients and an LLM completion service, wiring the
model to external tool servers over the Model Context Protocol and keeping
a durable log of every conversation.

Common commands:
  switchboard serve    Run the gateway
  switchboard chat     Chat against a running gateway
  switchboard init     Initialize a local .switchboard/ directory`

const switchboardShortDesc string = "Switchboard - Conversational Agent Gateway"

func NewSwitchboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switchboard",
		Short: switchboardShortDesc,
		Long:  switchboardLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .switchboard/ directory location")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
