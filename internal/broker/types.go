// Package broker provides typed access to the external brokerage API:
// account snapshot, positions, daily portfolio history, closed orders and
// cash deposits, plus the incremental trade-counting protocol.
package broker

import (
	"strconv"
	"time"
)

// Monetary fields arrive as decimal strings on every endpoint except the
// portfolio-history arrays, which are numeric. Everything is normalized to
// float64 at this boundary.

// Account is the remote account summary
type Account struct {
	ID          string
	Equity      float64
	Cash        float64
	BuyingPower float64
	Currency    string
}

// Position is one open position
type Position struct {
	Symbol       string
	AssetClass   string // "us_equity" or "crypto"
	Qty          float64
	MarketValue  float64
	UnrealizedPL float64
}

// HistoryPoint is one normalized point of the daily portfolio history
type HistoryPoint struct {
	Timestamp time.Time
	Equity    float64
	PL        float64
	PLPct     float64
}

// PortfolioHistory is the daily equity/P&L series. BaseValue is the
// account's starting capital as reported by the provider.
type PortfolioHistory struct {
	Points    []HistoryPoint
	BaseValue float64
}

// OrderStatus values used by the counting protocol
const (
	OrderStatusFilled = "filled"
)

// Order is one closed order
type Order struct {
	ID          string
	Symbol      string
	AssetClass  string
	Side        string
	Status      string
	Qty         float64
	FilledPrice float64
	SubmittedAt time.Time
	FilledAt    time.Time
}

// Deposit is one cash-deposit activity entry
type Deposit struct {
	ID     string
	Amount float64
	Date   time.Time
}

// DepositPage is one page of deposit activity; NextPageToken is opaque and
// empty on the last page.
type DepositPage struct {
	Deposits      []Deposit
	NextPageToken string
}

// OrderParams selects a page of closed orders
type OrderParams struct {
	After     time.Time // exclusive lower bound on submission time
	Direction string    // "asc" or "desc"
	Limit     int
}

// wire representations

type accountPayload struct {
	ID          string `json:"id"`
	Equity      string `json:"equity"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	Currency    string `json:"currency"`
}

type positionPayload struct {
	Symbol       string `json:"symbol"`
	AssetClass   string `json:"asset_class"`
	Qty          string `json:"qty"`
	MarketValue  string `json:"market_value"`
	UnrealizedPL string `json:"unrealized_pl"`
}

type historyPayload struct {
	Timestamps []int64   `json:"timestamp"`
	Equity     []float64 `json:"equity"`
	ProfitLoss []float64 `json:"profit_loss"`
	PLPct      []float64 `json:"profit_loss_pct"`
	BaseValue  float64   `json:"base_value"`
}

type orderPayload struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	AssetClass  string `json:"asset_class"`
	Side        string `json:"side"`
	Status      string `json:"status"`
	Qty         string `json:"qty"`
	FilledPrice string `json:"filled_avg_price"`
	SubmittedAt string `json:"submitted_at"`
	FilledAt    string `json:"filled_at"`
}

type activityPayload struct {
	ID           string `json:"id"`
	ActivityType string `json:"activity_type"`
	NetAmount    string `json:"net_amount"`
	Date         string `json:"date"`
}

// parseDecimal parses a decimal-string monetary field, treating empty as 0
func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// normalizeMillis converts a provider timestamp to milliseconds. Values
// below 1e12 are seconds.
func normalizeMillis(v int64) int64 {
	if v < 1e12 {
		return v * 1000
	}
	return v
}

func (p *historyPayload) normalize() *PortfolioHistory {
	n := len(p.Timestamps)
	points := make([]HistoryPoint, 0, n)
	for i := 0; i < n; i++ {
		pt := HistoryPoint{
			Timestamp: time.UnixMilli(normalizeMillis(p.Timestamps[i])).UTC(),
		}
		if i < len(p.Equity) {
			pt.Equity = p.Equity[i]
		}
		if i < len(p.ProfitLoss) {
			pt.PL = p.ProfitLoss[i]
		}
		if i < len(p.PLPct) {
			pt.PLPct = p.PLPct[i]
		}
		points = append(points, pt)
	}
	return &PortfolioHistory{Points: points, BaseValue: p.BaseValue}
}
