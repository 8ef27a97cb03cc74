package cli

import (
	"fmt"
	"io"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/dyike/SentiTrader/internal/app"
	"github.com/dyike/SentiTrader/internal/server"
	"github.com/dyike/SentiTrader/internal/storage"
)

func newServeCmd(st *state) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only dashboard API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = st.cfg.DashboardAddr
			}
			ctx := cmd.Context()

			ledger, err := app.OpenLedger(ctx, st.cfg, st.logger)
			if err != nil {
				return err
			}
			defer ledger.Close()

			runs, err := storage.Open(st.cfg.StorePath)
			if err != nil {
				return err
			}
			defer runs.Close()

			b, err := app.NewBroker(st.cfg, st.logger, clockwork.NewRealClock())
			if err != nil {
				return err
			}
			if c, ok := b.(io.Closer); ok {
				defer c.Close()
			}

			srv := server.New(server.Deps{
				Account:   b,
				Positions: b,
				Ledger:    ledger,
				Runs:      runs,
				Metrics:   st.metrics,
				Logger:    st.logger,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "🌐 Dashboard listening on %s\n", addr)
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to DASHBOARD_ADDR)")
	return cmd
}
