package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dyike/SentiTrader/consts"
)

type Config struct {
	ProjectDir   string `json:"project_dir"`
	DataDir      string `json:"data_dir"`
	DataCacheDir string `json:"data_cache_dir"`

	// Post source
	Subreddit       string        `json:"subreddit"`
	SearchQuery     string        `json:"search_query"`
	SearchSort      string        `json:"search_sort"`
	SearchTime      string        `json:"search_time"`
	PostLimit       int           `json:"post_limit"`
	MaxPostAgeHours int           `json:"max_post_age_hours"`
	PostDelay       time.Duration `json:"post_delay"`
	RedditUserAgent string        `json:"reddit_user_agent"`
	RedditBaseURL   string        `json:"reddit_base_url"`
	RedditOAuthURL  string        `json:"reddit_oauth_url"`

	// Sentiment judge
	LLMProvider      string        `json:"llm_provider"`
	JudgeModel       string        `json:"judge_model"`
	BackendURL       string        `json:"backend_url"`
	JudgeMaxAttempts int           `json:"judge_max_attempts"`
	JudgeBaseDelay   time.Duration `json:"judge_base_delay"`
	JudgeTimeout     time.Duration `json:"judge_timeout"`

	CacheEnabled     bool          `json:"cache_enabled"`
	JudgmentCacheTTL time.Duration `json:"judgment_cache_ttl"`

	// Aggregation
	AggregationMode string   `json:"aggregation_mode"`
	ExcludedTickers []string `json:"excluded_tickers"`

	// Ledger
	LedgerBackend       string `json:"ledger_backend"`
	LedgerPath          string `json:"ledger_path"`
	RedisAddr           string `json:"redis_addr"`
	RedisDB             int    `json:"redis_db"`
	LedgerRetentionDays int    `json:"ledger_retention_days"`

	// Brokerage
	BrokerProvider    string        `json:"broker_provider"`
	QuoteProvider     string        `json:"quote_provider"`
	AlpacaTradingURL  string        `json:"alpaca_trading_url"`
	AlpacaDataURL     string        `json:"alpaca_data_url"`
	PaperCash         float64       `json:"paper_cash"`
	OrderDelay        time.Duration `json:"order_delay"`
	DryRun            bool          `json:"dry_run"`
	BrokerHTTPTimeout time.Duration `json:"broker_http_timeout"`
	RedditHTTPTimeout time.Duration `json:"reddit_http_timeout"`

	// Run store and dashboard
	StorePath     string        `json:"store_path"`
	DashboardAddr string        `json:"dashboard_addr"`
	RunInterval   time.Duration `json:"run_interval"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	Debug     bool   `json:"debug"`

	// Eino Debug configuration
	EinoDebugEnabled bool `json:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port"`

	// Secrets are only ever read from the environment.
	RedditClientID      string `json:"-"`
	RedditSecret        string `json:"-"`
	OpenAIAPIKey        string `json:"-"`
	DeepSeekAPIKey      string `json:"-"`
	XAIAPIKey           string `json:"-"`
	AlpacaAPIKey        string `json:"-"`
	AlpacaAPISecret     string `json:"-"`
	LongportAppKey      string `json:"-"`
	LongportAppSecret   string `json:"-"`
	LongportAccessToken string `json:"-"`
	RedisPassword       string `json:"-"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	return DefaultConfigWithRoot(currentDir)
}

// DefaultConfigWithRoot returns defaults rooted at dir, overridden by the
// environment (and a .env file when present).
func DefaultConfigWithRoot(dir string) *Config {
	cfg := &Config{
		ProjectDir:   dir,
		DataDir:      filepath.Join(dir, "data"),
		DataCacheDir: filepath.Join(dir, "data", "cache"),

		Subreddit:       "wallstreetbets",
		SearchQuery:     `flair:"DD"`,
		SearchSort:      "new",
		SearchTime:      "week",
		PostLimit:       50,
		MaxPostAgeHours: 0,
		PostDelay:       100 * time.Millisecond,
		RedditUserAgent: "SentiTrader/1.0",
		RedditBaseURL:   "https://www.reddit.com",
		RedditOAuthURL:  "https://oauth.reddit.com",

		LLMProvider:      consts.ProviderXAI,
		JudgeModel:       "",
		BackendURL:       "",
		JudgeMaxAttempts: 3,
		JudgeBaseDelay:   time.Second,
		JudgeTimeout:     60 * time.Second,

		CacheEnabled:     true,
		JudgmentCacheTTL: 24 * time.Hour,

		AggregationMode: consts.ModeIncremental,
		ExcludedTickers: nil,

		LedgerBackend:       consts.LedgerSQLite,
		LedgerPath:          filepath.Join(dir, "data", "ledger.db"),
		RedisAddr:           "localhost:6379",
		RedisDB:             0,
		LedgerRetentionDays: 7,

		BrokerProvider:    consts.BrokerPaper,
		QuoteProvider:     consts.QuoteFromBroker,
		AlpacaTradingURL:  "https://paper-api.alpaca.markets",
		AlpacaDataURL:     "https://data.alpaca.markets",
		PaperCash:         100000,
		OrderDelay:        time.Second,
		DryRun:            false,
		BrokerHTTPTimeout: 30 * time.Second,
		RedditHTTPTimeout: 30 * time.Second,

		StorePath:     filepath.Join(dir, "data", "runs.db"),
		DashboardAddr: ":5000",
		RunInterval:   time.Hour,

		LogLevel:  "info",
		LogFormat: "console",
		Debug:     false,

		EinoDebugEnabled: false,
		EinoDebugPort:    52538,
	}

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg.loadFromEnv()

	return cfg
}

func (c *Config) loadFromEnv() {
	setString(&c.ProjectDir, "PROJECT_DIR")
	setString(&c.DataDir, "DATA_DIR")
	setString(&c.DataCacheDir, "DATA_CACHE_DIR")

	setString(&c.Subreddit, "SUBREDDIT")
	setString(&c.SearchQuery, "SEARCH_QUERY")
	setString(&c.SearchSort, "SEARCH_SORT")
	setString(&c.SearchTime, "SEARCH_TIME")
	setInt(&c.PostLimit, "POST_LIMIT")
	setInt(&c.MaxPostAgeHours, "MAX_POST_AGE_HOURS")
	setDuration(&c.PostDelay, "POST_DELAY")
	setString(&c.RedditUserAgent, "REDDIT_USER_AGENT")
	setString(&c.RedditBaseURL, "REDDIT_BASE_URL")
	setString(&c.RedditOAuthURL, "REDDIT_OAUTH_URL")

	setString(&c.LLMProvider, "LLM_PROVIDER")
	setString(&c.JudgeModel, "JUDGE_MODEL")
	setString(&c.BackendURL, "BACKEND_URL")
	setInt(&c.JudgeMaxAttempts, "JUDGE_MAX_ATTEMPTS")
	setDuration(&c.JudgeBaseDelay, "JUDGE_BASE_DELAY")
	setDuration(&c.JudgeTimeout, "JUDGE_TIMEOUT")

	setBool(&c.CacheEnabled, "CACHE_ENABLED")
	setDuration(&c.JudgmentCacheTTL, "JUDGMENT_CACHE_TTL")

	setString(&c.AggregationMode, "AGGREGATION_MODE")
	if val := os.Getenv("EXCLUDED_TICKERS"); val != "" {
		c.ExcludedTickers = splitList(val)
	}

	setString(&c.LedgerBackend, "LEDGER_BACKEND")
	setString(&c.LedgerPath, "LEDGER_PATH")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setInt(&c.RedisDB, "REDIS_DB")
	setInt(&c.LedgerRetentionDays, "LEDGER_RETENTION_DAYS")

	setString(&c.BrokerProvider, "BROKER_PROVIDER")
	setString(&c.QuoteProvider, "QUOTE_PROVIDER")
	setString(&c.AlpacaTradingURL, "ALPACA_BASE_URL")
	setString(&c.AlpacaDataURL, "ALPACA_DATA_URL")
	setFloat(&c.PaperCash, "PAPER_CASH")
	setDuration(&c.OrderDelay, "ORDER_DELAY")
	setBool(&c.DryRun, "DRY_RUN")
	setDuration(&c.BrokerHTTPTimeout, "BROKER_HTTP_TIMEOUT")
	setDuration(&c.RedditHTTPTimeout, "REDDIT_HTTP_TIMEOUT")

	setString(&c.StorePath, "STORE_PATH")
	setString(&c.DashboardAddr, "DASHBOARD_ADDR")
	setDuration(&c.RunInterval, "RUN_INTERVAL")

	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setBool(&c.Debug, "SENTITRADER_DEBUG")
	setBool(&c.EinoDebugEnabled, "EINO_DEBUG_ENABLED")
	setInt(&c.EinoDebugPort, "EINO_DEBUG_PORT")

	c.loadSecretsFromEnv()
}

func (c *Config) loadSecretsFromEnv() {
	setString(&c.RedditClientID, "REDDIT_CLIENT_ID")
	setString(&c.RedditSecret, "REDDIT_CLIENT_SECRET")
	setString(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.DeepSeekAPIKey, "DEEPSEEK_API_KEY")
	setString(&c.XAIAPIKey, "XAI_API_KEY")
	setString(&c.AlpacaAPIKey, "ALPACA_API_KEY")
	setString(&c.AlpacaAPISecret, "ALPACA_API_SECRET")
	setString(&c.LongportAppKey, "LONGPORT_APP_KEY")
	setString(&c.LongportAppSecret, "LONGPORT_APP_SECRET")
	setString(&c.LongportAccessToken, "LONGPORT_ACCESS_TOKEN")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
}

// Validate checks value ranges and enum fields.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Subreddit) == "" {
		errs = append(errs, errors.New("subreddit is required"))
	}
	if c.PostLimit < 1 || c.PostLimit > 1000 {
		errs = append(errs, fmt.Errorf("post limit must be between 1 and 1000, got %d", c.PostLimit))
	}
	if c.MaxPostAgeHours < 0 {
		errs = append(errs, errors.New("max post age hours must not be negative"))
	}
	if c.JudgeMaxAttempts < 1 || c.JudgeMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("judge max attempts must be between 1 and 10, got %d", c.JudgeMaxAttempts))
	}
	if c.PostDelay < 0 || c.OrderDelay < 0 || c.JudgeBaseDelay < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if !oneOf(c.LLMProvider, consts.ProviderOpenAI, consts.ProviderDeepSeek, consts.ProviderXAI) {
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLMProvider))
	}
	if !oneOf(c.AggregationMode, consts.ModeBatch, consts.ModeIncremental) {
		errs = append(errs, fmt.Errorf("unknown aggregation mode %q", c.AggregationMode))
	}
	if !oneOf(c.LedgerBackend, consts.LedgerSQLite, consts.LedgerJSON, consts.LedgerRedis, consts.LedgerMemory) {
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.LedgerBackend))
	}
	if !oneOf(c.BrokerProvider, consts.BrokerAlpaca, consts.BrokerLongport, consts.BrokerPaper) {
		errs = append(errs, fmt.Errorf("unknown broker provider %q", c.BrokerProvider))
	}
	if !oneOf(c.QuoteProvider, consts.QuoteFromBroker, consts.QuoteYahoo) {
		errs = append(errs, fmt.Errorf("unknown quote provider %q", c.QuoteProvider))
	}
	if c.BrokerProvider == consts.BrokerPaper && c.PaperCash < 0 {
		errs = append(errs, errors.New("paper cash must not be negative"))
	}
	if c.LedgerRetentionDays < 0 {
		errs = append(errs, errors.New("ledger retention days must not be negative"))
	}

	return errors.Join(errs...)
}

// ValidateCredentials checks that the keys needed by the selected providers
// are present. Failures here are fatal at startup.
func (c *Config) ValidateCredentials() error {
	var missing []string

	switch c.LLMProvider {
	case consts.ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case consts.ProviderDeepSeek:
		if c.DeepSeekAPIKey == "" {
			missing = append(missing, "DEEPSEEK_API_KEY")
		}
	case consts.ProviderXAI:
		if c.XAIAPIKey == "" {
			missing = append(missing, "XAI_API_KEY")
		}
	}

	switch c.BrokerProvider {
	case consts.BrokerAlpaca:
		if c.AlpacaAPIKey == "" {
			missing = append(missing, "ALPACA_API_KEY")
		}
		if c.AlpacaAPISecret == "" {
			missing = append(missing, "ALPACA_API_SECRET")
		}
	case consts.BrokerLongport:
		if c.LongportAppKey == "" || c.LongportAppSecret == "" || c.LongportAccessToken == "" {
			missing = append(missing, "LONGPORT_APP_KEY/LONGPORT_APP_SECRET/LONGPORT_ACCESS_TOKEN")
		}
	}

	// Reddit credentials are optional; the public endpoint is used without them,
	// but a half-configured pair is a mistake.
	if (c.RedditClientID == "") != (c.RedditSecret == "") {
		missing = append(missing, "REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET must be set together")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DefaultJudgeModel returns the configured model or the provider default.
func (c *Config) DefaultJudgeModel() string {
	if c.JudgeModel != "" {
		return c.JudgeModel
	}
	switch c.LLMProvider {
	case consts.ProviderOpenAI:
		return "gpt-4o-mini"
	case consts.ProviderDeepSeek:
		return "deepseek-chat"
	default:
		return "grok-3-mini"
	}
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.DataDir, c.DataCacheDir}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			*dst = v
		}
	}
}

func setFloat(dst *float64, key string) {
	if val := os.Getenv(key); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = v
		}
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if v, err := strconv.ParseBool(val); err == nil {
			*dst = v
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if v, err := time.ParseDuration(val); err == nil {
			*dst = v
		}
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func oneOf(val string, options ...string) bool {
	for _, o := range options {
		if val == o {
			return true
		}
	}
	return false
}
