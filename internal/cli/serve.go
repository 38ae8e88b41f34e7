package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vincentbai/sitetrace-agent/internal/report"
	"github.com/vincentbai/sitetrace-agent/internal/server"
)

func newServeCmd(envFile *string) *cobra.Command {
	var withReport bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collection server",
		Long: `Serve POST /collect, GET /metrics and health endpoints until interrupted.
With --with-report the weekly digest is scheduled in the same process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, *envFile)
			if err != nil {
				return err
			}
			defer a.close()

			var sched *report.Scheduler
			if withReport {
				if sched, err = a.scheduler(); err != nil {
					return err
				}
			}
			a.seedMetrics(ctx)

			srv, err := server.NewServer(a.store, a.logger.Named("http"), &server.Config{
				Host:      a.cfg.Host,
				Port:      a.cfg.Port,
				BodyLimit: a.cfg.BodyLimit,
				RateLimit: a.cfg.RateLimitRPS,
				RateBurst: a.cfg.RateLimitBurst,
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			if sched != nil {
				g.Go(func() error { return sched.Run(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&withReport, "with-report", false, "Also schedule the weekly report")
	return cmd
}
