package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newReportCmd(envFile *string) *cobra.Command {
	var now, once bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Send the weekly digest",
		Long: `Schedule the weekly digest on REPORT_CRON in REPORT_TIMEZONE and block.
With --now a digest is sent immediately before scheduling; add --once to exit
after that send.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.close()

			if now || once {
				r, _, err := a.reporter()
				if err != nil {
					return err
				}
				sent, err := r.Send(ctx)
				if err != nil {
					return err
				}
				if sent {
					fmt.Fprintf(cmd.OutOrStdout(), "report sent to %s\n", a.cfg.Report.Recipient)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "no sessions recorded yet, report skipped")
				}
				if once {
					return nil
				}
			}

			sched, err := a.scheduler()
			if err != nil {
				return err
			}
			return sched.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "Send a digest immediately")
	cmd.Flags().BoolVar(&once, "once", false, "Send a digest immediately and exit")
	return cmd
}
