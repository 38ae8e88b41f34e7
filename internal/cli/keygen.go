package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vincentbai/sitetrace-agent/internal/codec"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a random value for ANALYTICS_ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := codec.GenerateSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}
