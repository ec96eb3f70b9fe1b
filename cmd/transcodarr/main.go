// Package main is the entry point for the transcodarr application.
package main

import (
	"os"

	"github.com/rcoury/transcodarr/cmd/transcodarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
