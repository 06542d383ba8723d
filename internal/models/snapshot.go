package models

import "time"

// PerformanceSnapshot is the latest derived-metrics record for an account.
// Exactly one snapshot per account survives each reconciliation cycle;
// older rows are pruned right after scoring.
type PerformanceSnapshot struct {
	ID             int64     `json:"id" db:"id"`
	AccountID      string    `json:"accountId" db:"account_id"`
	Equity         float64   `json:"equity" db:"equity"`
	Cash           float64   `json:"cash" db:"cash"`
	TotalDeposits  float64   `json:"totalDeposits" db:"total_deposits"`
	TotalPL        float64   `json:"totalPl" db:"total_pl"`
	TotalPLPct     float64   `json:"totalPlPct" db:"total_pl_pct"`
	UnrealizedPL   float64   `json:"unrealizedPl" db:"unrealized_pl"`
	RealizedPL     float64   `json:"realizedPl" db:"realized_pl"`
	DayPL          float64   `json:"dayPl" db:"day_pl"`
	TradeCount     int64     `json:"tradeCount" db:"trade_count"`
	WinningDays    int       `json:"winningDays" db:"winning_days"`
	WinRate        *float64  `json:"winRate,omitempty" db:"win_rate"`
	MaxDrawdownPct float64   `json:"maxDrawdownPct" db:"max_drawdown_pct"`
	SharpeRatio    *float64  `json:"sharpeRatio,omitempty" db:"sharpe_ratio"`
	OpenPositions  int       `json:"openPositions" db:"open_positions"`
	CompositeScore *float64  `json:"compositeScore,omitempty" db:"composite_score"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// EquityHistoryPoint is one point of the bounded per-account equity series,
// fully replaced on every successful sync.
type EquityHistoryPoint struct {
	AccountID string    `json:"accountId" db:"account_id"`
	Timestamp time.Time `json:"timestamp" db:"ts"`
	Equity    float64   `json:"equity" db:"equity"`
	PL        float64   `json:"pl" db:"pl"`
	PLPct     float64   `json:"plPct" db:"pl_pct"`
}
