package main

import (
	"os"

	switchboardcmder "github.com/switchboardhq/switchboard/cmd/switchboard"
)

func main() {
	cmd := switchboardcmder.NewSwitchboardCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
