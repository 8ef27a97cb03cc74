package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dyike/SentiTrader/config"
	"github.com/dyike/SentiTrader/internal/app"
	"github.com/dyike/SentiTrader/internal/logging"
	"github.com/dyike/SentiTrader/internal/metrics"
)

// state is shared by every subcommand. It is filled in by the root
// command's pre-run hook.
type state struct {
	version    string
	configPath string
	debug      bool

	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	build   app.EngineBuilder
	confirm func(message string) (bool, error)
}

type Option func(*state)

func WithVersion(v string) Option {
	return func(s *state) {
		s.version = v
	}
}

// WithEngineBuilder replaces the engine factory used by run, analyze and watch.
func WithEngineBuilder(b app.EngineBuilder) Option {
	return func(s *state) {
		s.build = b
	}
}

// WithConfirm replaces the interactive confirmation prompt.
func WithConfirm(fn func(string) (bool, error)) Option {
	return func(s *state) {
		s.confirm = fn
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *state) {
		s.logger = l
	}
}

// NewRootCmd creates the root command
func NewRootCmd(opts ...Option) *cobra.Command {
	st := &state{version: "dev", confirm: PromptForConfirmation}
	for _, opt := range opts {
		opt(st)
	}

	rootCmd := &cobra.Command{
		Use:   "sentitrader",
		Short: "SentiTrader - Reddit sentiment trading",
		Long: `SentiTrader reads investment posts from a subreddit, judges their sentiment
with a Large Language Model, aggregates the scores per ticker and turns them into
sized market orders.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return st.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if st.logger != nil {
				_ = st.logger.Sync()
			}
		},
	}

	rootCmd.AddCommand(newRunCmd(st))
	rootCmd.AddCommand(newAnalyzeCmd(st))
	rootCmd.AddCommand(newWatchCmd(st))
	rootCmd.AddCommand(newServeCmd(st))
	rootCmd.AddCommand(newLedgerCmd(st))
	rootCmd.AddCommand(newConfigCmd(st))
	rootCmd.AddCommand(newVersionCmd(st))

	// Global flags
	rootCmd.PersistentFlags().BoolVar(&st.debug, "debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVar(&st.configPath, "config", "", "Configuration file path")

	return rootCmd
}

// load reads the configuration and builds the shared logger.
func (st *state) load() error {
	var cfg *config.Config
	if st.configPath != "" {
		loaded, err := config.LoadFile(st.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}
	if st.debug {
		cfg.Debug = true
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	st.cfg = *cfg

	if st.logger == nil {
		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.Debug)
		if err != nil {
			return err
		}
		st.logger = logger
	}
	st.metrics = metrics.New()
	if st.build == nil {
		st.build = st.defaultBuilder
	}
	return nil
}

// defaultBuilder refuses to start without the credentials the selected
// providers need.
func (st *state) defaultBuilder(ctx context.Context, cfg config.Config) (*app.Engine, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}
	return app.BuildEngine(ctx, cfg, app.WithLogger(st.logger), app.WithMetrics(st.metrics))
}

// newVersionCmd creates the version command
func newVersionCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SentiTrader %s\n", st.version)
			fmt.Fprintln(out, "Reddit sentiment trading pipeline")
		},
	}
}

// newConfigCmd creates the config command
func newConfigCmd(st *state) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Inspect and validate SentiTrader configuration settings",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Run: func(cmd *cobra.Command, args []string) {
			showConfig(cmd.OutOrStdout(), &st.cfg)
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd.OutOrStdout(), &st.cfg)
		},
	})

	return configCmd
}

// showConfig displays the current configuration
func showConfig(out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out, "📋 Current SentiTrader Configuration:")
	fmt.Fprintln(out, "═══════════════════════════════════════")
	fmt.Fprintf(out, "Project Directory:    %s\n", cfg.ProjectDir)
	fmt.Fprintf(out, "Data Directory:       %s\n", cfg.DataDir)
	fmt.Fprintf(out, "Cache Directory:      %s\n", cfg.DataCacheDir)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Subreddit:            r/%s\n", cfg.Subreddit)
	fmt.Fprintf(out, "Search Query:         %s (sort=%s, t=%s)\n", cfg.SearchQuery, cfg.SearchSort, cfg.SearchTime)
	fmt.Fprintf(out, "Post Limit:           %d\n", cfg.PostLimit)
	if cfg.MaxPostAgeHours > 0 {
		fmt.Fprintf(out, "Max Post Age:         %dh\n", cfg.MaxPostAgeHours)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "LLM Provider:         %s\n", cfg.LLMProvider)
	fmt.Fprintf(out, "Judge Model:          %s\n", cfg.DefaultJudgeModel())
	fmt.Fprintf(out, "Judge Attempts:       %d\n", cfg.JudgeMaxAttempts)
	fmt.Fprintf(out, "Judgment Cache:       %t (ttl %s)\n", cfg.CacheEnabled, cfg.JudgmentCacheTTL)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Aggregation Mode:     %s\n", cfg.AggregationMode)
	if len(cfg.ExcludedTickers) > 0 {
		fmt.Fprintf(out, "Excluded Tickers:     %s\n", strings.Join(cfg.ExcludedTickers, ", "))
	}
	fmt.Fprintf(out, "Ledger:               %s (%s)\n", cfg.LedgerBackend, cfg.LedgerPath)
	fmt.Fprintf(out, "Ledger Retention:     %d days\n", cfg.LedgerRetentionDays)
	fmt.Fprintf(out, "Run Store:            %s\n", cfg.StorePath)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Broker:               %s\n", cfg.BrokerProvider)
	fmt.Fprintf(out, "Quotes:               %s\n", cfg.QuoteProvider)
	fmt.Fprintf(out, "Dry Run:              %t\n", cfg.DryRun)
	fmt.Fprintf(out, "Dashboard:            %s\n", cfg.DashboardAddr)
	fmt.Fprintf(out, "Debug Mode:           %t\n", cfg.Debug)
	fmt.Fprintf(out, "Eino Debug:           %t\n", cfg.EinoDebugEnabled)
	if cfg.EinoDebugEnabled {
		fmt.Fprintf(out, "Eino Debug Port:      %d\n", cfg.EinoDebugPort)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "🔌 API Configuration:")
	fmt.Fprintln(out, "─────────────────────")
	fmt.Fprintf(out, "Reddit API:           %s\n", configured(cfg.RedditClientID != "" && cfg.RedditSecret != ""))
	fmt.Fprintf(out, "OpenAI API:           %s\n", configured(cfg.OpenAIAPIKey != ""))
	fmt.Fprintf(out, "DeepSeek API:         %s\n", configured(cfg.DeepSeekAPIKey != ""))
	fmt.Fprintf(out, "xAI API:              %s\n", configured(cfg.XAIAPIKey != ""))
	fmt.Fprintf(out, "Alpaca API:           %s\n", configured(cfg.AlpacaAPIKey != "" && cfg.AlpacaAPISecret != ""))
	fmt.Fprintf(out, "Longport API:         %s\n", configured(cfg.LongportAppKey != "" && cfg.LongportAccessToken != ""))
	fmt.Fprintf(out, "Reddit User Agent:    %s\n", cfg.RedditUserAgent)
}

func configured(ok bool) string {
	if ok {
		return "✅ Configured"
	}
	return "❌ Not configured"
}

// validateConfig validates the configuration and credentials
func validateConfig(out io.Writer, cfg *config.Config) error {
	fmt.Fprintln(out, "🔍 Validating SentiTrader Configuration...")
	fmt.Fprintln(out, "═══════════════════════════════════════")

	fmt.Fprint(out, "📁 Checking directories... ")
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintln(out, "❌")
		return fmt.Errorf("directory validation failed: %w", err)
	}
	fmt.Fprintln(out, "✅")

	fmt.Fprint(out, "⚙️  Checking configuration values... ")
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(out, "❌")
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Fprintln(out, "✅")

	fmt.Fprint(out, "🔑 Checking API keys... ")
	if err := cfg.ValidateCredentials(); err != nil {
		fmt.Fprintln(out, "❌")
		return err
	}
	fmt.Fprintln(out, "✅")

	var warnings []string
	if cfg.RedditClientID == "" {
		warnings = append(warnings, "Reddit API credentials not configured, using the public endpoint")
	}
	if cfg.DryRun {
		warnings = append(warnings, "DRY_RUN is set, no orders will be submitted")
	}
	for _, w := range warnings {
		fmt.Fprintf(out, "  ⚠️  %s\n", w)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✅ Configuration validation completed successfully!")
	return nil
}

func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
