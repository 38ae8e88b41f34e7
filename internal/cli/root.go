// Package cli defines the sitetrace-agent commands.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // set via ldflags at build time

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "sitetrace-agent",
		Short: "Privacy-conscious visitor analytics collector",
		Long: `sitetrace-agent collects visitor sessions from a website, keeps them
encrypted at rest, serves aggregate metrics and mails a weekly digest.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file read before the environment")

	root.AddCommand(
		newServeCmd(&envFile),
		newReportCmd(&envFile),
		newReplayCmd(&envFile),
		newSummaryCmd(&envFile),
		newKeygenCmd(),
	)
	return root
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
