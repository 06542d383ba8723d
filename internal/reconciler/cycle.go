// Package reconciler implements the periodic reconciliation cycle: reap
// dead accounts, rescore the cohort, prune snapshots, reassign tiers,
// recover stale accounts and rebuild the default cached views.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trader-mirror/internal/logging"
	"github.com/trader-mirror/internal/models"
	"github.com/trader-mirror/internal/scoring"
)

// AccountStore is the account surface the cycle needs
type AccountStore interface {
	ListFailingSince(ctx context.Context, cutoff time.Time) ([]*models.Account, error)
	ListStale(ctx context.Context, limit int) ([]*models.Account, error)
	Delete(ctx context.Context, id string) error
	SetTier(ctx context.Context, id string, tier int) error
}

// SnapshotStore is the snapshot surface the cycle needs
type SnapshotStore interface {
	ListLatest(ctx context.Context) ([]*models.PerformanceSnapshot, error)
	UpdateScore(ctx context.Context, snapshotID int64, score *float64) error
	PruneOld(ctx context.Context) (int64, error)
}

// Schedule seeds and cancels per-account sync slots
type Schedule interface {
	Schedule(ctx context.Context, accountID string, delay time.Duration) error
	Cancel(ctx context.Context, accountID string) error
}

// RankingCache invalidates derived read views
type RankingCache interface {
	InvalidateRankings(ctx context.Context) error
	InvalidateAccount(ctx context.Context, accountID string) error
}

// Warmer pre-builds the default cached views after a scoring pass
type Warmer interface {
	WarmDefaults(ctx context.Context) error
}

// Config holds cycle tunables
type Config struct {
	Interval      time.Duration
	FailureGrace  time.Duration
	RecoveryLimit int
}

// Cycle is the periodic orchestrator. Each step runs with isolated failure
// handling: one step failing is logged and the rest still run.
type Cycle struct {
	accounts  AccountStore
	snapshots SnapshotStore
	schedule  Schedule
	cache     RankingCache
	warmer    Warmer
	cfg       Config
	logger    *logging.Logger
	cron      *cron.Cron
}

// NewCycle creates a reconciliation cycle
func NewCycle(accounts AccountStore, snapshots SnapshotStore, schedule Schedule, cache RankingCache, warmer Warmer, cfg Config, logger *logging.Logger) (*Cycle, error) {
	if accounts == nil || snapshots == nil || schedule == nil || cache == nil {
		return nil, fmt.Errorf("accounts, snapshots, schedule and cache are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.FailureGrace <= 0 {
		cfg.FailureGrace = 7 * 24 * time.Hour
	}
	if cfg.RecoveryLimit <= 0 {
		cfg.RecoveryLimit = 500
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Cycle{
		accounts:  accounts,
		snapshots: snapshots,
		schedule:  schedule,
		cache:     cache,
		warmer:    warmer,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Start schedules the cycle on its fixed period
func (c *Cycle) Start() error {
	c.cron = cron.New()
	spec := fmt.Sprintf("@every %s", c.cfg.Interval)
	if _, err := c.cron.AddFunc(spec, func() {
		c.Run(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule reconciliation cycle: %w", err)
	}
	c.cron.Start()

	c.logger.WithField("interval", c.cfg.Interval.String()).Info("Reconciliation cycle started")
	return nil
}

// Stop halts the cycle and waits for a running pass to finish
func (c *Cycle) Stop() {
	if c.cron != nil {
		ctx := c.cron.Stop()
		<-ctx.Done()
	}
	c.logger.Info("Reconciliation cycle stopped")
}

// Run executes one full pass. Steps share nothing but the ranked cohort,
// which flows from scoring into tier assignment.
func (c *Cycle) Run(ctx context.Context) {
	started := time.Now()
	c.logger.Info("Reconciliation cycle starting")

	c.reapDeadAccounts(ctx)

	ranked := c.rescoreCohort(ctx)
	c.pruneSnapshots(ctx)
	c.reassignTiers(ctx, ranked)
	c.recoverStaleAccounts(ctx)
	c.rebuildCaches(ctx)

	c.logger.WithField("durationMs", time.Since(started).Milliseconds()).Info("Reconciliation cycle finished")
}

// reapDeadAccounts purges accounts whose failure streak outlived the grace
// period. Deletion cascades to every dependent row.
func (c *Cycle) reapDeadAccounts(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-c.cfg.FailureGrace)

	failing, err := c.accounts.ListFailingSince(ctx, cutoff)
	if err != nil {
		c.logger.WithError(err).Error("Reap step failed to list dead accounts")
		return
	}

	for _, account := range failing {
		logger := c.logger.WithField("account", account.ID)
		if err := c.accounts.Delete(ctx, account.ID); err != nil {
			logger.WithError(err).Error("Failed to purge dead account")
			continue
		}
		if err := c.schedule.Cancel(ctx, account.ID); err != nil {
			logger.WithError(err).Error("Failed to cancel schedule for purged account")
		}
		if err := c.cache.InvalidateAccount(ctx, account.ID); err != nil {
			logger.WithError(err).Error("Failed to invalidate cache for purged account")
		}
		logger.WithField("firstFailureAt", account.FirstFailureAt).Info("Purged dead account")
	}

	if len(failing) > 0 {
		c.logger.WithField("count", len(failing)).Info("Reap step purged dead accounts")
	}
}

// rescoreCohort recomputes composite scores across the live cohort and
// writes them back. Returns the scored set, already ranked, for the tier
// step.
func (c *Cycle) rescoreCohort(ctx context.Context) []*models.PerformanceSnapshot {
	snapshots, err := c.snapshots.ListLatest(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Scoring step failed to load cohort")
		return nil
	}
	if len(snapshots) == 0 {
		return nil
	}

	scoring.ComputeScores(snapshots)
	scoring.Rank(snapshots)

	updated := 0
	for _, s := range snapshots {
		if err := c.snapshots.UpdateScore(ctx, s.ID, s.CompositeScore); err != nil {
			c.logger.WithField("account", s.AccountID).WithError(err).Error("Failed to persist composite score")
			continue
		}
		updated++
	}

	c.logger.WithFields(map[string]interface{}{
		"cohort":  len(snapshots),
		"updated": updated,
	}).Info("Scoring step recomputed composite scores")

	return snapshots
}

func (c *Cycle) pruneSnapshots(ctx context.Context) {
	pruned, err := c.snapshots.PruneOld(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Prune step failed")
		return
	}
	if pruned > 0 {
		c.logger.WithField("pruned", pruned).Info("Prune step removed superseded snapshots")
	}
}

// reassignTiers maps the freshly-ranked cohort onto tiers 1-5
func (c *Cycle) reassignTiers(ctx context.Context, ranked []*models.PerformanceSnapshot) {
	if len(ranked) == 0 {
		return
	}

	changed := 0
	for i, s := range ranked {
		tier := scoring.TierForRank(i + 1)
		if err := c.accounts.SetTier(ctx, s.AccountID, tier); err != nil {
			c.logger.WithField("account", s.AccountID).WithError(err).Error("Failed to reassign tier")
			continue
		}
		changed++
	}

	c.logger.WithField("assigned", changed).Info("Tier step reassigned cohort")
}

// recoverStaleAccounts re-enqueues accounts whose last sync exceeds their
// tier's staleness threshold. The listing is tier-ordered and bounded, so
// high-priority accounts recover first and one cycle cannot flood the
// queue. ZADD semantics make the re-enqueue idempotent within a cycle.
func (c *Cycle) recoverStaleAccounts(ctx context.Context) {
	stale, err := c.accounts.ListStale(ctx, c.cfg.RecoveryLimit)
	if err != nil {
		c.logger.WithError(err).Error("Recovery step failed to list stale accounts")
		return
	}

	recovered := 0
	for _, account := range stale {
		if err := c.schedule.Schedule(ctx, account.ID, 0); err != nil {
			c.logger.WithField("account", account.ID).WithError(err).Error("Failed to re-enqueue stale account")
			continue
		}
		recovered++
	}

	if recovered > 0 {
		c.logger.WithField("recovered", recovered).Info("Recovery step re-enqueued stale accounts")
	}
}

func (c *Cycle) rebuildCaches(ctx context.Context) {
	if err := c.cache.InvalidateRankings(ctx); err != nil {
		c.logger.WithError(err).Error("Cache step failed to flush rankings")
		return
	}
	if c.warmer == nil {
		return
	}
	if err := c.warmer.WarmDefaults(ctx); err != nil {
		c.logger.WithError(err).Error("Cache step failed to warm default views")
		return
	}
	c.logger.Info("Cache step rebuilt default views")
}
