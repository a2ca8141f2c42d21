// Package main is the entry point for the apkhunter CLI.
package main

import (
	"os"

	"github.com/jmylchreest/apkhunter/cmd/apkhunter/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
