// Package main is the CLI entry point for the Paige coaching backend.
//
// Paige sits between a web UI and an AI host: it serves the UI's websocket
// at /ws, exposes a read-only MCP tool surface over stdio, and runs the
// observer, planning, review, and reflection stages against the Anthropic
// API.
//
// # Basic Usage
//
// Start the backend for a project:
//
//	PROJECT_DIR=/path/to/project paige serve
//
// # Environment Variables
//
//   - PROJECT_DIR: workspace root (required)
//   - DATA_DIR: SQLite and memory index location (default ~/.paige)
//   - PORT: HTTP/websocket listen port (default 3001)
//   - ANTHROPIC_API_KEY: enables model-backed features
//   - LOG_LEVEL: debug|info|warn|error
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "paige",
		Short:         "Paige coaching session backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("paige %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
