// Package main provides the entry point for the docindexer CLI.
package main

import (
	"os"

	"github.com/serhiybutz/docindexer/cmd/docindexer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
