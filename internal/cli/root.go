package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

var (
	// Set by LDFLAGS
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func Run() ExitCode {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeError
	}
	return exitCodeSuccess
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "copilot",
		Short:         "Answer retail analytics questions from documents and a SQL database.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "set debug logging level")
	flags.StringP("config", "c", "", "path to a YAML config file")
	flags.StringSlice("env-file", nil, "dotenv files to load before reading the environment (default .env)")

	rootCmd.AddCommand(
		NewBatchCmd().Command(),
		NewAskCmd().Command(),
		NewSchemaCmd().Command(),
		NewSearchCmd().Command(),
		NewServeCmd().Command(),
	)
	return rootCmd
}
