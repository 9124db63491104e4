// Package initcmder provides the init command for initializing a local
// .switchboard directory in the current working directory.
package initcmder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/switchboardhq/switchboard/pkg/cliui"
	"github.com/switchboardhq/switchboard/pkg/config"
)

const (
	dirName = ".switchboard"
)

const initLongDesc string = `Initialize a new .switchboard/ directory in the current working directory.

Creates a local .switchboard/ directory with a default config.toml. The
local directory takes precedence over the default ~/.switchboard/ directory
for configuration and sqlite storage.

This is useful for maintaining separate gateway state per project or directory.

Examples:
  switchboard init`

const initShortDesc string = "Initialize a local .switchboard/ directory"

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runInit()
		},
	}

	return cmd
}

func runInit() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	info, err := os.Stat(dir)
	if err == nil && info.IsDir() {
		fmt.Printf("Already initialized: %s\n", dir)
		return nil
	}

	err = cliui.Step(os.Stdout, "Writing "+filepath.Join(dirName, "config.toml"), func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .switchboard directory: %w", err)
		}

		cfger, err := config.NewConfiger(dir)
		if err != nil {
			return fmt.Errorf("preparing config: %w", err)
		}

		if err := cfger.SaveConfig(config.NewDefaultConfig()); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Initialized .switchboard directory: %s\n", dir)
	return nil
}
