package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/config"
	"github.com/dyike/SentiTrader/internal/app"
	"github.com/dyike/SentiTrader/internal/debug"
	"github.com/dyike/SentiTrader/internal/display"
	"github.com/dyike/SentiTrader/internal/pipeline"
)

type runFlags struct {
	dryRun    bool
	yes       bool
	mode      string
	limit     int
	subreddit string
	output    string
}

func (f *runFlags) register(cmd *cobra.Command, trading bool) {
	if trading {
		cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Decide orders without submitting them")
		cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Skip the live trading confirmation")
	}
	cmd.Flags().StringVar(&f.mode, "mode", "", "Aggregation mode: batch or incremental")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum posts to fetch")
	cmd.Flags().StringVar(&f.subreddit, "subreddit", "", "Subreddit to read")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write the run result as JSON to this file")
}

func (f *runFlags) options(cfg *config.Config, skipTrading bool) pipeline.RunOptions {
	return pipeline.RunOptions{
		DryRun:      f.dryRun || cfg.DryRun,
		SkipTrading: skipTrading,
		Subreddit:   f.subreddit,
		Limit:       f.limit,
		Mode:        f.mode,
	}
}

func newRunCmd(st *state) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one full pass: fetch, judge, aggregate and trade",
		Long: `Fetch posts, judge their sentiment, aggregate per ticker and submit sized
market orders. Live trading asks for confirmation unless --yes or --dry-run is given.
Example: sentitrader run --dry-run --limit 25`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.runOnce(cmd.Context(), cmd.OutOrStdout(), &flags, false)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newAnalyzeCmd(st *state) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run a sentiment pass without trading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.runOnce(cmd.Context(), cmd.OutOrStdout(), &flags, true)
		},
	}
	flags.register(cmd, false)
	return cmd
}

// confirmLive returns false when the user declines live trading.
func (st *state) confirmLive(flags *runFlags, skipTrading bool) (bool, error) {
	if skipTrading || flags.yes || flags.dryRun || st.cfg.DryRun {
		return true, nil
	}
	return st.confirm(liveTradingMessage(&st.cfg, flags.subreddit))
}

func (st *state) runOnce(ctx context.Context, out io.Writer, flags *runFlags, skipTrading bool) error {
	ok, err := st.confirmLive(flags, skipTrading)
	if err != nil {
		return err
	}
	if !ok {
		display.DisplayWarning(out, "Run cancelled, no orders submitted")
		return nil
	}

	engine, err := st.build(ctx, st.cfg)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer engine.Close()

	opts := flags.options(&st.cfg, skipTrading)
	display.DisplayInfo(out, fmt.Sprintf("Reading r/%s", subredditOr(opts.Subreddit, st.cfg.Subreddit)))
	res, err := engine.Pipeline.Run(ctx, opts)
	if res != nil {
		fmt.Fprint(out, display.RunSummary(res))
	}
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	if flags.output != "" {
		if err := display.SaveResultsToFile(res, flags.output); err != nil {
			return fmt.Errorf("failed to save results: %w", err)
		}
		fmt.Fprintf(out, "💾 Results saved to %s\n", flags.output)
	}
	display.DisplaySuccess(out, "Run completed")
	return nil
}

func subredditOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func newWatchCmd(st *state) *cobra.Command {
	var (
		flags    runFlags
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the pipeline on a schedule",
		Long: `Run a pass every interval until interrupted. When --config points at a JSON
file, edits to it are picked up without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				interval = st.cfg.RunInterval
			}
			return st.watch(cmd.Context(), cmd.OutOrStdout(), &flags, interval)
		},
	}
	flags.register(cmd, true)
	cmd.Flags().DurationVar(&interval, "interval", 0, "Time between runs (defaults to RUN_INTERVAL)")
	return cmd
}

func (st *state) watch(ctx context.Context, out io.Writer, flags *runFlags, interval time.Duration) error {
	ok, err := st.confirmLive(flags, false)
	if err != nil {
		return err
	}
	if !ok {
		display.DisplayWarning(out, "Watch cancelled")
		return nil
	}

	mgrOpts := []config.ManagerOption{config.WithLogger(st.logger)}
	if st.configPath != "" {
		mgrOpts = append(mgrOpts, config.WithConfigPath(st.configPath))
	} else {
		cfg := st.cfg
		mgrOpts = append(mgrOpts, config.WithInitialConfig(&cfg))
	}
	mgr, err := config.NewManager(mgrOpts...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	debugger := debug.NewEinoDebugger(&st.cfg, st.logger)
	if err := debugger.Initialize(ctx); err != nil {
		return err
	}
	if debugger.IsEnabled() {
		fmt.Fprintf(out, "🔍 Eino debug server at %s\n", debugger.URL())
	}

	rt, err := app.NewRuntime(ctx, mgr,
		app.WithBuilder(st.build),
		app.WithRuntimeLogger(st.logger),
		app.WithNotifier(func(topic, payload string) {
			st.logger.Info("runtime event", zap.String("topic", topic), zap.String("payload", payload))
		}))
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer rt.Close()

	fmt.Fprintf(out, "👀 Watching every %s (config %s), Ctrl+C to stop\n", interval, mgr.Path())
	return rt.Loop(ctx, interval, flags.options(&st.cfg, false), func(res *pipeline.RunResult, err error) {
		if res != nil {
			fmt.Fprint(out, display.RunSummary(res))
		}
		if err != nil {
			display.DisplayError(out, err, "scheduled run")
		}
	})
}
