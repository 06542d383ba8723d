package scoring

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/trader-mirror/internal/models"
)

func f64(v float64) *float64 { return &v }

func snapshot(id string, plPct float64, sharpe, winRate *float64, drawdown float64) *models.PerformanceSnapshot {
	return &models.PerformanceSnapshot{
		AccountID:      id,
		TotalPLPct:     plPct,
		SharpeRatio:    sharpe,
		WinRate:        winRate,
		MaxDrawdownPct: drawdown,
	}
}

func TestComputeScoresFullWeights(t *testing.T) {
	best := snapshot("acct-1", 50, f64(2.0), f64(70), 5)
	worst := snapshot("acct-2", -20, f64(-0.5), f64(30), 40)

	ComputeScores([]*models.PerformanceSnapshot{best, worst})

	if best.CompositeScore == nil || *best.CompositeScore != 100.0 {
		t.Errorf("best score = %v, want 100.0", best.CompositeScore)
	}
	if worst.CompositeScore == nil || *worst.CompositeScore != 0.0 {
		t.Errorf("worst score = %v, want 0.0", worst.CompositeScore)
	}
}

func TestComputeScoresPartialWeights(t *testing.T) {
	// Missing Sharpe or win rate drops to the two-component weighting.
	// An account best on both remaining components must land exactly at
	// (0.727 + 0.273) * 100.
	partial := snapshot("acct-1", 50, nil, nil, 5)
	full := snapshot("acct-2", -20, f64(1.0), f64(60), 40)
	other := snapshot("acct-3", 10, f64(0.5), f64(50), 20)

	ComputeScores([]*models.PerformanceSnapshot{partial, full, other})

	if partial.CompositeScore == nil || *partial.CompositeScore != 100.0 {
		t.Errorf("partial score = %v, want 100.0", partial.CompositeScore)
	}
}

func TestComputeScoresPartialWhenOnlySharpeMissing(t *testing.T) {
	onlyWinRate := snapshot("acct-1", 50, nil, f64(90), 5)
	full := snapshot("acct-2", -20, f64(1.0), f64(60), 40)

	ComputeScores([]*models.PerformanceSnapshot{onlyWinRate, full})

	// Win rate alone does not qualify for full weighting; the account is
	// scored on ROI and inverse drawdown only.
	if onlyWinRate.CompositeScore == nil || *onlyWinRate.CompositeScore != 100.0 {
		t.Errorf("score = %v, want 100.0 from partial weights", onlyWinRate.CompositeScore)
	}
}

func TestComputeScoresZeroVarianceContributesZero(t *testing.T) {
	// Identical metrics across the cohort leave nothing to rank on; every
	// component contributes zero.
	a := snapshot("acct-1", 10, f64(1.0), f64(55), 15)
	b := snapshot("acct-2", 10, f64(1.0), f64(55), 15)

	ComputeScores([]*models.PerformanceSnapshot{a, b})

	if a.CompositeScore == nil || *a.CompositeScore != 0.0 {
		t.Errorf("score a = %v, want 0.0", a.CompositeScore)
	}
	if b.CompositeScore == nil || *b.CompositeScore != 0.0 {
		t.Errorf("score b = %v, want 0.0", b.CompositeScore)
	}
}

func TestComputeScoresDeterministic(t *testing.T) {
	build := func() []*models.PerformanceSnapshot {
		return []*models.PerformanceSnapshot{
			snapshot("acct-1", 25, f64(1.4), f64(61), 12),
			snapshot("acct-2", -3, nil, nil, 28),
			snapshot("acct-3", 8, f64(0.2), f64(48), 9),
		}
	}

	first := build()
	second := build()
	ComputeScores(first)
	ComputeScores(second)

	for i := range first {
		if *first[i].CompositeScore != *second[i].CompositeScore {
			t.Errorf("account %s: score %v != %v across passes",
				first[i].AccountID, *first[i].CompositeScore, *second[i].CompositeScore)
		}
	}
}

func TestRankOrdering(t *testing.T) {
	scored := snapshot("acct-scored", 0, nil, nil, 0)
	scored.CompositeScore = f64(0.0)
	unscored := snapshot("acct-unscored", 0, nil, nil, 0)

	higherPL := snapshot("acct-pl", 0, nil, nil, 0)
	higherPL.CompositeScore = f64(40.0)
	higherPL.TotalPL = 1000

	lowerPL := snapshot("acct-pl-low", 0, nil, nil, 0)
	lowerPL.CompositeScore = f64(40.0)
	lowerPL.TotalPL = 500

	snapshots := []*models.PerformanceSnapshot{unscored, scored, lowerPL, higherPL}
	Rank(snapshots)

	wantOrder := []string{"acct-pl", "acct-pl-low", "acct-scored", "acct-unscored"}
	for i, want := range wantOrder {
		if snapshots[i].AccountID != want {
			t.Errorf("rank %d = %s, want %s", i+1, snapshots[i].AccountID, want)
		}
	}
}

func TestRankTiesFallThroughToAccountID(t *testing.T) {
	a := snapshot("acct-b", 5, f64(1.0), f64(50), 10)
	b := snapshot("acct-a", 5, f64(1.0), f64(50), 10)
	a.CompositeScore = f64(30.0)
	b.CompositeScore = f64(30.0)

	snapshots := []*models.PerformanceSnapshot{a, b}
	Rank(snapshots)

	if snapshots[0].AccountID != "acct-a" {
		t.Errorf("tie broke to %s, want acct-a", snapshots[0].AccountID)
	}
}

func TestTierForRank(t *testing.T) {
	tests := []struct {
		rank int
		want int
	}{
		{1, 1},
		{10, 1},
		{11, 2},
		{50, 2},
		{51, 3},
		{200, 3},
		{201, 4},
		{500, 4},
		{501, 5},
		{10000, 5},
	}

	for _, tt := range tests {
		if got := TierForRank(tt.rank); got != tt.want {
			t.Errorf("TierForRank(%d) = %d, want %d", tt.rank, got, tt.want)
		}
	}
}

func TestAssignTiers(t *testing.T) {
	var snapshots []*models.PerformanceSnapshot
	for i := 0; i < 60; i++ {
		s := snapshot("", float64(60-i), nil, nil, 0)
		s.AccountID = string(rune('a'+i/26)) + string(rune('a'+i%26))
		snapshots = append(snapshots, s)
	}
	ComputeScores(snapshots)

	tiers := AssignTiers(snapshots)

	if got := tiers[snapshots[0].AccountID]; got != 1 {
		t.Errorf("rank 1 tier = %d, want 1", got)
	}
	if got := tiers[snapshots[10].AccountID]; got != 2 {
		t.Errorf("rank 11 tier = %d, want 2", got)
	}
	if got := tiers[snapshots[59].AccountID]; got != 3 {
		t.Errorf("rank 60 tier = %d, want 3", got)
	}
}

func TestCompositeScoreBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	genSnapshot := gopter.CombineGens(
		gen.Float64Range(-100, 500),
		gen.Float64Range(-5, 5),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
		gen.Bool(),
	).Map(func(vals []interface{}) *models.PerformanceSnapshot {
		s := &models.PerformanceSnapshot{
			TotalPLPct:     vals[0].(float64),
			MaxDrawdownPct: vals[3].(float64),
		}
		if vals[4].(bool) {
			s.SharpeRatio = f64(vals[1].(float64))
			s.WinRate = f64(vals[2].(float64))
		}
		return s
	})

	properties.Property("composite scores stay within [0, 100]", prop.ForAll(
		func(snapshots []*models.PerformanceSnapshot) bool {
			for i, s := range snapshots {
				s.AccountID = string(rune('a' + i%26))
			}
			ComputeScores(snapshots)
			for _, s := range snapshots {
				if s.CompositeScore == nil {
					return false
				}
				if *s.CompositeScore < 0 || *s.CompositeScore > 100 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genSnapshot),
	))

	properties.TestingRun(t)
}
