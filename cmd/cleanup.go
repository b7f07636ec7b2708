package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCleanupCmd creates the 'cleanup' subcommand: store maintenance for
// sent markers left behind by manual record deletion or pre-index data.
func newCleanupCmd() *cobra.Command {
	var orphans, duplicates bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Removes orphaned and duplicate sent markers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !orphans && !duplicates {
				orphans, duplicates = true, true
			}

			if orphans {
				n, err := a.Store.CleanupOrphanSent(cmd.Context())
				if err != nil {
					return fmt.Errorf("cleanup orphan sent: %w", err)
				}
				a.Logger.Info("orphan sent markers removed", zap.Int("count", n))
			}
			if duplicates {
				n, err := a.Store.CleanupDuplicateSent(cmd.Context())
				if err != nil {
					return fmt.Errorf("cleanup duplicate sent: %w", err)
				}
				a.Logger.Info("duplicate sent markers removed", zap.Int("count", n))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&orphans, "orphans", false, "remove sent markers whose analyzed record is gone")
	cmd.Flags().BoolVar(&duplicates, "duplicates", false, "remove redundant sent markers, keeping the earliest")

	return cmd
}
