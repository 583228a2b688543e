package main

import (
	"os"

	"github.com/kiosk404/mcpweave/internal/mcpweave/cmd"
)

func main() {
	command := cmd.NewDefaultMCPWeaveCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
