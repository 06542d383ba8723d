package models

import "time"

// Trade is one entry of the bounded recent-trade cache per account.
// Display only; cumulative counting goes through TradeCountAnchor.
type Trade struct {
	AccountID string    `json:"accountId" db:"account_id"`
	OrderID   string    `json:"orderId" db:"order_id"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Side      string    `json:"side" db:"side"`
	Qty       float64   `json:"qty" db:"qty"`
	Price     float64   `json:"price" db:"price"`
	FilledAt  time.Time `json:"filledAt" db:"filled_at"`
}

// TradeCountAnchor records the last known cumulative filled-trade total and
// the identity of the newest order counted, making incremental counting
// idempotent.
type TradeCountAnchor struct {
	AccountID       string    `json:"accountId" db:"account_id"`
	TotalFilled     int64     `json:"totalFilled" db:"total_filled"`
	LastOrderID     string    `json:"lastOrderId" db:"last_order_id"`
	LastSubmittedAt time.Time `json:"lastSubmittedAt" db:"last_submitted_at"`
}
