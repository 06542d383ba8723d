// Package scoring implements the cohort-wide ranking engine: min-max
// composite scoring, the rank ordering cascade, and tier assignment.
package scoring

import (
	"math"
	"sort"

	"github.com/trader-mirror/internal/models"
)

// Component weights for the composite score. Partial weights apply when an
// account has no Sharpe or win-rate history; they keep the 40:15 ratio
// between ROI and inverse drawdown.
const (
	weightROI      = 0.40
	weightSharpe   = 0.30
	weightWinRate  = 0.15
	weightDrawdown = 0.15

	partialWeightROI      = 0.727
	partialWeightDrawdown = 0.273
)

// scoreRange tracks the cohort min/max of one metric for a single scoring
// pass. Never persisted.
type scoreRange struct {
	min  float64
	max  float64
	seen bool
}

func (r *scoreRange) observe(v float64) {
	if !r.seen {
		r.min, r.max = v, v
		r.seen = true
		return
	}
	if v < r.min {
		r.min = v
	}
	if v > r.max {
		r.max = v
	}
}

// normalize maps v into [0,1] against the observed range. A metric with no
// variance across the cohort contributes zero for everyone.
func (r *scoreRange) normalize(v float64) float64 {
	if !r.seen || r.max == r.min {
		return 0
	}
	n := (v - r.min) / (r.max - r.min)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

func inverseDrawdown(s *models.PerformanceSnapshot) float64 {
	return 100 - s.MaxDrawdownPct
}

// ComputeScores assigns a composite score to every snapshot in place.
// Recomputation is deterministic for the same input set.
func ComputeScores(snapshots []*models.PerformanceSnapshot) {
	var roi, sharpe, winRate, drawdown scoreRange
	for _, s := range snapshots {
		roi.observe(s.TotalPLPct)
		drawdown.observe(inverseDrawdown(s))
		if s.SharpeRatio != nil {
			sharpe.observe(*s.SharpeRatio)
		}
		if s.WinRate != nil {
			winRate.observe(*s.WinRate)
		}
	}

	for _, s := range snapshots {
		roiN := roi.normalize(s.TotalPLPct)
		ddN := drawdown.normalize(inverseDrawdown(s))

		var weighted float64
		if s.SharpeRatio != nil && s.WinRate != nil {
			weighted = weightROI*roiN +
				weightSharpe*sharpe.normalize(*s.SharpeRatio) +
				weightWinRate*winRate.normalize(*s.WinRate) +
				weightDrawdown*ddN
		} else {
			weighted = partialWeightROI*roiN + partialWeightDrawdown*ddN
		}

		score := math.Round(weighted*100*10) / 10
		s.CompositeScore = &score
	}
}

// Sentinels used to order null metrics as worst-in-direction.
const (
	sentinelScore   = -1.0
	sentinelSharpe  = -1e9
	sentinelWinRate = -1.0
)

func scoreOf(s *models.PerformanceSnapshot) float64 {
	if s.CompositeScore == nil {
		return sentinelScore
	}
	return *s.CompositeScore
}

func sharpeOf(s *models.PerformanceSnapshot) float64 {
	if s.SharpeRatio == nil {
		return sentinelSharpe
	}
	return *s.SharpeRatio
}

func winRateOf(s *models.PerformanceSnapshot) float64 {
	if s.WinRate == nil {
		return sentinelWinRate
	}
	return *s.WinRate
}

// Rank orders snapshots best-first: composite score descending, then a
// fixed tie-break cascade ending on account id so the order is total and
// stable across passes.
func Rank(snapshots []*models.PerformanceSnapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		a, b := snapshots[i], snapshots[j]
		if scoreOf(a) != scoreOf(b) {
			return scoreOf(a) > scoreOf(b)
		}
		if a.TotalPL != b.TotalPL {
			return a.TotalPL > b.TotalPL
		}
		if a.TotalPLPct != b.TotalPLPct {
			return a.TotalPLPct > b.TotalPLPct
		}
		if sharpeOf(a) != sharpeOf(b) {
			return sharpeOf(a) > sharpeOf(b)
		}
		if winRateOf(a) != winRateOf(b) {
			return winRateOf(a) > winRateOf(b)
		}
		if a.MaxDrawdownPct != b.MaxDrawdownPct {
			return a.MaxDrawdownPct < b.MaxDrawdownPct
		}
		if a.TradeCount != b.TradeCount {
			return a.TradeCount > b.TradeCount
		}
		return a.AccountID < b.AccountID
	})
}

// TierForRank maps a 1-based rank to a sync tier
func TierForRank(rank int) int {
	switch {
	case rank <= 10:
		return 1
	case rank <= 50:
		return 2
	case rank <= 200:
		return 3
	case rank <= 500:
		return 4
	default:
		return 5
	}
}

// AssignTiers ranks the snapshots and returns each account's new tier
func AssignTiers(snapshots []*models.PerformanceSnapshot) map[string]int {
	Rank(snapshots)
	tiers := make(map[string]int, len(snapshots))
	for i, s := range snapshots {
		tiers[s.AccountID] = TierForRank(i + 1)
	}
	return tiers
}

// DefaultPolicies returns the built-in per-tier cadences: five minutes for
// the top ten down to twelve hours for the long tail. Staleness threshold
// is twice the cadence for every tier.
func DefaultPolicies() []models.SyncPolicy {
	return []models.SyncPolicy{
		{Tier: 1, CadenceSeconds: 300, StalenessMultiplier: 2},
		{Tier: 2, CadenceSeconds: 900, StalenessMultiplier: 2},
		{Tier: 3, CadenceSeconds: 3600, StalenessMultiplier: 2},
		{Tier: 4, CadenceSeconds: 14400, StalenessMultiplier: 2},
		{Tier: 5, CadenceSeconds: 43200, StalenessMultiplier: 2},
	}
}
