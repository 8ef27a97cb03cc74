package consts

const (
	// LLM providers
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderXAI      = "xai"

	// Aggregation modes
	ModeBatch       = "batch"
	ModeIncremental = "incremental"

	// Ledger backends
	LedgerSQLite = "sqlite"
	LedgerJSON   = "json"
	LedgerRedis  = "redis"
	LedgerMemory = "memory"

	// Brokers
	BrokerAlpaca   = "alpaca"
	BrokerLongport = "longport"
	BrokerPaper    = "paper"

	// Quote sources
	QuoteFromBroker = "broker"
	QuoteYahoo      = "yahoo"
)
