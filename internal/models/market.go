package models

// Account is the subset of brokerage account state the pipeline and the
// dashboard need.
type Account struct {
	NonMarginableBuyingPower float64 `json:"non_marginable_buying_power"`
	PortfolioValue           float64 `json:"portfolio_value"`
	BuyingPower              float64 `json:"buying_power"`
	Cash                     float64 `json:"cash"`
	DayTradingBuyingPower    float64 `json:"daytrading_buying_power"`
	PatternDayTrader         bool    `json:"pattern_day_trader"`
	TradingBlocked           bool    `json:"trading_blocked"`
	AccountBlocked           bool    `json:"account_blocked"`
	CreatedAt                string  `json:"created_at,omitempty"`
}

type Position struct {
	Symbol          string  `json:"symbol"`
	Quantity        float64 `json:"qty"`
	MarketValue     float64 `json:"market_value"`
	CostBasis       float64 `json:"cost_basis"`
	UnrealizedPL    float64 `json:"unrealized_pl"`
	UnrealizedPLPct float64 `json:"unrealized_plpc"`
	CurrentPrice    float64 `json:"current_price"`
}
