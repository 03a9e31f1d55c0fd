package main

import (
	"os"

	"github.com/minisv/minisv/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
