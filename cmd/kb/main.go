// Package main provides the entry point for the kb CLI.
package main

import (
	"os"

	"github.com/tyouritsugun/curated-heuristic-loop/cmd/kb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
