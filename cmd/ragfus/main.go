// Package main implements the ragfus CLI: the HTTP server, the MCP stdio
// server and local document operations against the SQLite store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides ~/.config/ragfus/config.yaml
	configPath string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ragfus",
	Short: "Local document embedding and semantic retrieval",
	Long: `ragfus extracts text from documents, embeds it with a local ONNX
transformer model and stores it in SQLite for similarity search.

It can run as an HTTP API (serve), as an MCP server over stdio (mcp), or
operate on the store directly (ingest, search, list, preview, delete, rebuild).

Configuration is read from ~/.config/ragfus/config.yaml and RAGFUS_*
environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/ragfus/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ragfus %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

// commandContext returns the command's context, which carries signal
// cancellation when run from main.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printSummary(cmd *cobra.Command, verb string, processed, failed int) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d files (%d failed)\n", verb, processed, failed)
}
