package main

import (
	"os"

	"github.com/dvloznov/momoney/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
