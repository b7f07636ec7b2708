package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/notice"
	"github.com/busanfuneral/notice-pipeline/internal/ops"
	"github.com/busanfuneral/notice-pipeline/internal/sched"
)

// newServeCmd creates the 'serve' subcommand: the interval loop plus the
// ops HTTP listener, running until SIGINT/SIGTERM.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the pipeline on an interval with the ops listener",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opsSrv := ops.New(a.Cfg.Server.Port, a.Logger)
			go func() {
				if err := opsSrv.Start(); err != nil {
					a.Logger.Error("ops listener failed", zap.Error(err))
					stop()
				}
			}()

			runner := sched.New(a.Coordinator, a.Cfg.Interval(), a.Cfg.RunContext(notice.RunFull), a.Logger)
			runner.Loop(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := opsSrv.Shutdown(shutdownCtx); err != nil {
				a.Logger.Warn("ops listener shutdown", zap.Error(err))
			}
			return nil
		},
	}
}
