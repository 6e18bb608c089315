//go:build cgo

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragfus/internal/embeddings"
)

var (
	forceDownload bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&forceDownload, "force", "f", false, "Force re-download even if ONNX runtime exists")
}

// initCmd initializes ragfus dependencies
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize ragfus dependencies",
	Long: `Initialize ragfus by downloading required dependencies.

This downloads the ONNX runtime library required for local embeddings.
The library is installed to:
  ~/.config/ragfus/lib/

If ONNX_PATH environment variable is set, that path takes precedence.
The embedding model itself is downloaded on first use.

Examples:
  # Initialize ragfus (download ONNX runtime)
  ragfus init

  # Force re-download even if already installed
  ragfus init --force`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if !forceDownload {
		if path := embeddings.GetONNXLibraryPath(); path != "" {
			fmt.Fprintf(out, "ONNX runtime already installed at: %s\n", path)
			fmt.Fprintln(out, "Use --force to re-download.")
			return nil
		}
	}

	fmt.Fprintf(out, "Downloading ONNX runtime v%s...\n", embeddings.DefaultONNXRuntimeVersion)

	if err := embeddings.DownloadONNXRuntime(commandContext(cmd), ""); err != nil {
		return fmt.Errorf("failed to download ONNX runtime: %w", err)
	}

	path := embeddings.GetONNXLibraryPath()
	if path == "" {
		return fmt.Errorf("download completed but library not found")
	}

	fmt.Fprintf(out, "Successfully installed ONNX runtime to: %s\n", path)
	return nil
}
