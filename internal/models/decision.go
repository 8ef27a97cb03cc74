package models

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideNone Side = "none"
)

// AllocationDecision is the sized order for one ticker. Quantity zero means
// no order is placed.
type AllocationDecision struct {
	Ticker   string  `json:"ticker"`
	Side     Side    `json:"side"`
	Quantity int64   `json:"quantity"`
	Fraction float64 `json:"fraction"`
	Price    float64 `json:"price"`
	Score    float64 `json:"score"`
}

func (d AllocationDecision) Actionable() bool {
	return d.Quantity > 0 && (d.Side == SideBuy || d.Side == SideSell)
}

// OrderConfirmation is what the broker returned for a submitted order.
type OrderConfirmation struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Ticker        string    `json:"ticker"`
	Side          Side      `json:"side"`
	Quantity      int64     `json:"quantity"`
	Status        string    `json:"status"`
	SubmittedAt   time.Time `json:"submitted_at"`
}
