package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/SentiTrader/internal/app"
	"github.com/dyike/SentiTrader/internal/display"
	"github.com/dyike/SentiTrader/internal/utils"
)

func newLedgerCmd(st *state) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the processed-post ledger",
	}
	ledgerCmd.AddCommand(newLedgerListCmd(st))
	ledgerCmd.AddCommand(newLedgerPruneCmd(st))
	return ledgerCmd
}

func newLedgerListCmd(st *state) *cobra.Command {
	var exportCSV bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processed posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, err := app.OpenLedger(ctx, st.cfg, st.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Entries(ctx)
			if err != nil {
				return fmt.Errorf("failed to read ledger: %w", err)
			}
			fmt.Fprint(out, display.Ledger(entries))

			if exportCSV {
				path, err := utils.NewCSVManager(st.cfg.DataDir).ExportLedger(entries, time.Now())
				if err != nil {
					return fmt.Errorf("failed to export ledger: %w", err)
				}
				fmt.Fprintf(out, "💾 Exported %d entries to %s\n", len(entries), path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&exportCSV, "csv", false, "Also export the entries as CSV under the data directory")
	return cmd
}

func newLedgerPruneCmd(st *state) *cobra.Command {
	var (
		days int
		yes  bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove ledger entries and CSV exports older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if !cmd.Flags().Changed("days") {
				days = st.cfg.LedgerRetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("retention must be at least one day, got %d", days)
			}
			if !yes {
				ok, err := st.confirm(fmt.Sprintf("Remove ledger entries older than %d days? Pruned posts may be judged again.", days))
				if err != nil {
					return err
				}
				if !ok {
					display.DisplayWarning(out, "Prune cancelled")
					return nil
				}
			}

			store, err := app.OpenLedger(ctx, st.cfg, st.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			now := time.Now()
			maxAge := time.Duration(days) * 24 * time.Hour
			removed, err := store.Prune(ctx, now.Add(-maxAge))
			if err != nil {
				return fmt.Errorf("failed to prune ledger: %w", err)
			}
			files, err := utils.NewCSVManager(st.cfg.DataDir).CleanOldCSVFiles(maxAge, now)
			if err != nil {
				return fmt.Errorf("failed to clean exports: %w", err)
			}

			fmt.Fprintf(out, "🧹 Removed %d ledger entries and %d CSV exports from %s\n",
				removed, files, filepath.Clean(st.cfg.DataDir))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (defaults to LEDGER_RETENTION_DAYS)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation")
	return cmd
}
