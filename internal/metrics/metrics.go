// Package metrics computes performance metrics over a daily equity/P&L
// series. All functions are pure; a nil result means the series does not
// carry enough signal for that metric.
package metrics

import "math"

// tradingDaysPerYear annualizes daily returns
const tradingDaysPerYear = 252

// minSharpePoints is the smallest daily series Sharpe is defined over
const minSharpePoints = 5

// SharpeRatio computes the annualized Sharpe ratio from daily equity
// values and an annual risk-free rate. Returns nil when fewer than 5
// points, fewer than 4 valid day-over-day returns, or zero variance.
func SharpeRatio(equity []float64, annualRiskFree float64) *float64 {
	if len(equity) < minSharpePoints {
		return nil
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
	}
	if len(returns) < minSharpePoints-1 {
		return nil
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	// Sample standard deviation, n-1 divisor
	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(returns)-1))
	if stddev == 0 {
		return nil
	}

	dailyRiskFree := annualRiskFree / tradingDaysPerYear
	sharpe := (mean - dailyRiskFree) / stddev * math.Sqrt(tradingDaysPerYear)
	return &sharpe
}

// MaxDrawdown computes the maximum peak-to-trough drawdown in percent over
// an equity series. Returns 0 for fewer than 2 points.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}

	peak := equity[0]
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// WinRateResult carries the win-rate fraction plus the raw counts
type WinRateResult struct {
	Rate        float64
	WinningDays int
	ActiveDays  int
}

// WinRate computes the fraction of active days with positive P&L. Days
// with exactly zero P&L carry no market activity and are dropped. Returns
// nil when fewer than 2 active days remain.
func WinRate(dailyPL []float64) *WinRateResult {
	active := 0
	winning := 0
	for _, pl := range dailyPL {
		if pl == 0 {
			continue
		}
		active++
		if pl > 0 {
			winning++
		}
	}

	if active < 2 {
		return nil
	}

	return &WinRateResult{
		Rate:        float64(winning) / float64(active),
		WinningDays: winning,
		ActiveDays:  active,
	}
}
