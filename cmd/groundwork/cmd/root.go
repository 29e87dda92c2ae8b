// Package cmd provides the CLI commands for the groundwork demo binary.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/groundwork-rag/groundwork/internal/logging"
	"github.com/groundwork-rag/groundwork/pkg/version"
)

var (
	dataDir   string
	debugMode bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the groundwork demo binary.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groundwork",
		Short: "Demo driver for the groundwork retrieval library",
		Long: `groundwork wires the library's reference store, vector index, and
Ollama-backed model adapters together so the hybrid search, backlog, and
answer pipeline can be exercised end to end.

It is a thin demo binary, not a production server: 'search', 'backlog',
and 'explain' are its only subcommands.`,
		Version:           version.Version,
		SilenceUsage:      true,
		PersistentPreRunE: startLogging,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			stopLogging()
			return nil
		},
	}
	cmd.SetVersionTemplate("groundwork version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the reference store and vector index directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.groundwork/logs/")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newBacklogCmd())
	cmd.AddCommand(newExplainCmd())

	return cmd
}

func startLogging(cmd *cobra.Command, args []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging() {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
