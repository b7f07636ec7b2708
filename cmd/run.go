package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

// newRunCmd creates the 'run' subcommand: one full pipeline invocation.
func newRunCmd() *cobra.Command {
	var skipCollection bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Executes one pipeline run: collect, analyze, send",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			mode := notice.RunFull
			if skipCollection {
				mode = notice.RunSkipCollection
			}

			report, err := a.Coordinator.Run(cmd.Context(), a.Cfg.RunContext(mode))
			if err != nil {
				return fmt.Errorf("pipeline run: %w", err)
			}

			a.Logger.Info("run finished",
				zap.Int("collected", report.Collector.TotalNew()),
				zap.Int("district_failures", report.Collector.Failures()),
				zap.Int("analyzed", report.Analyzer.Analyzed),
				zap.Int("sent", report.Distributor.Sent))
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipCollection, "skip-collection", false,
		"skip scraping and only analyze and send what is already stored")

	return cmd
}
