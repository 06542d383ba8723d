// Package syncer implements the per-account sync actor: one pass fetches
// remote state, derives performance metrics and persists everything in a
// single transaction.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trader-mirror/internal/broker"
	apperrors "github.com/trader-mirror/internal/errors"
	"github.com/trader-mirror/internal/logging"
	"github.com/trader-mirror/internal/metrics"
	"github.com/trader-mirror/internal/models"
	"github.com/trader-mirror/internal/storage"
	"github.com/trader-mirror/internal/vault"
)

// ErrAccountInactive signals that the account exists but is switched off;
// the caller drops the message without marking a failure.
var ErrAccountInactive = errors.New("account is inactive")

// Broker is the slice of the provider client one sync pass needs
type Broker interface {
	GetAccount(ctx context.Context, token string) (*broker.Account, error)
	GetPositions(ctx context.Context, token string) ([]broker.Position, error)
	GetPortfolioHistory(ctx context.Context, token string, days int) (*broker.PortfolioHistory, error)
	SumDeposits(ctx context.Context, token string) (float64, error)
	ListOrders(ctx context.Context, token string, params broker.OrderParams) ([]broker.Order, error)
}

// Store is the persistence surface of one sync pass
type Store interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
	GetAnchor(ctx context.Context, id string) (*models.TradeCountAnchor, error)
	ApplySyncResult(ctx context.Context, result *storage.SyncResult) error
	MarkFailure(ctx context.Context, id, reason string, at time.Time) error
}

// Config holds the tunables of a sync pass
type Config struct {
	EquityWindowDays int
	TradeWindow      int
	OrderPageSize    int
	MaxOrderPages    int
	AnnualRiskFree   float64 // annualized risk-free rate fed into Sharpe
}

// Actor performs synchronization passes. All storage writes for one pass
// commit in a single transaction; concurrency across accounts is the
// dispatcher's concern, not the actor's.
type Actor struct {
	broker  Broker
	store   Store
	vault   *vault.Vault
	counter *broker.TradeCounter
	cfg     Config
	logger  *logging.Logger
}

// NewActor creates a sync actor
func NewActor(b Broker, store Store, v *vault.Vault, cfg Config, logger *logging.Logger) (*Actor, error) {
	if b == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if v == nil {
		return nil, fmt.Errorf("vault is required")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Actor{
		broker:  b,
		store:   store,
		vault:   v,
		counter: broker.NewTradeCounter(b, cfg.OrderPageSize, cfg.MaxOrderPages),
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// fetchState is everything pulled from the provider in one pass
type fetchState struct {
	account   *broker.Account
	positions []broker.Position
	history   *broker.PortfolioHistory
	deposits  float64
	count     *broker.CountResult
	trades    []broker.Order
}

// Run executes one sync pass for an account. Returns nil on success. A
// returned error has already been recorded on the account's failure streak,
// except ErrAccountInactive which is a clean drop.
func (a *Actor) Run(ctx context.Context, accountID string) error {
	logger := a.logger.WithField("account", accountID)
	started := time.Now()

	account, err := a.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.Active {
		logger.Debug("Skipping sync for inactive account")
		return ErrAccountInactive
	}

	cred, err := a.store.GetCredential(ctx, accountID)
	if err != nil {
		return a.fail(ctx, accountID, err)
	}

	token, err := a.vault.Decrypt(cred.Ciphertext, accountID)
	if err != nil {
		// A credential that cannot decrypt will never succeed; treat it
		// like a revocation so the loop dies instead of retrying forever.
		return a.fail(ctx, accountID, apperrors.NewUnauthorizedError("stored credential failed decryption"))
	}

	anchor, err := a.store.GetAnchor(ctx, accountID)
	if err != nil {
		return a.fail(ctx, accountID, err)
	}

	state, err := a.fetch(ctx, accountID, token, anchor)
	if err != nil {
		return a.fail(ctx, accountID, err)
	}

	result := a.derive(account, state)

	if err := a.store.ApplySyncResult(ctx, result); err != nil {
		return a.fail(ctx, accountID, apperrors.NewDatabaseError("apply sync result", err))
	}

	logger.WithFields(map[string]interface{}{
		"durationMs": time.Since(started).Milliseconds(),
		"equity":     result.Snapshot.Equity,
		"newTrades":  state.count.NewFilled,
	}).Info("Account synced")

	return nil
}

// fetch pulls all remote state for one pass. The five calls are independent
// and run in parallel; the first error wins, with credential revocation
// taking priority over everything else.
func (a *Actor) fetch(ctx context.Context, accountID, token string, anchor *models.TradeCountAnchor) (*fetchState, error) {
	state := &fetchState{}
	errs := make([]error, 5)

	var wg sync.WaitGroup
	wg.Add(5)

	go func() {
		defer wg.Done()
		state.account, errs[0] = a.broker.GetAccount(ctx, token)
	}()
	go func() {
		defer wg.Done()
		state.positions, errs[1] = a.broker.GetPositions(ctx, token)
	}()
	go func() {
		defer wg.Done()
		state.history, errs[2] = a.broker.GetPortfolioHistory(ctx, token, a.cfg.EquityWindowDays)
	}()
	go func() {
		defer wg.Done()
		state.deposits, errs[3] = a.broker.SumDeposits(ctx, token)
	}()
	go func() {
		defer wg.Done()
		if anchor == nil {
			state.count, errs[4] = a.counter.CountFull(ctx, accountID, token)
		} else {
			state.count, errs[4] = a.counter.CountIncremental(ctx, accountID, token, *anchor)
		}
	}()

	wg.Wait()

	var firstErr error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if apperrors.IsCredentialRevoked(err) {
			return nil, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	// Recent trades are display-only; fetched after the parallel batch so
	// a failure here cannot waste the counting work.
	trades, err := a.broker.ListOrders(ctx, token, broker.OrderParams{
		Direction: "desc",
		Limit:     a.cfg.TradeWindow,
	})
	if err != nil {
		return nil, err
	}
	state.trades = trades

	return state, nil
}

// derive turns fetched state into the transactional sync result
func (a *Actor) derive(account *models.Account, state *fetchState) *storage.SyncResult {
	now := time.Now().UTC()

	equities := make([]float64, 0, len(state.history.Points))
	dailyPL := make([]float64, 0, len(state.history.Points))
	points := make([]models.EquityHistoryPoint, 0, len(state.history.Points))
	for _, p := range state.history.Points {
		equities = append(equities, p.Equity)
		dailyPL = append(dailyPL, p.PL)
		points = append(points, models.EquityHistoryPoint{
			AccountID: account.ID,
			Timestamp: p.Timestamp,
			Equity:    p.Equity,
			PL:        p.PL,
			PLPct:     p.PLPct,
		})
	}

	starting := startingCapital(state.history, state.deposits, equities)

	totalPL := state.account.Equity - starting
	totalPLPct := 0.0
	if starting > 0 {
		totalPLPct = totalPL / starting * 100
	}

	var unrealized float64
	for _, p := range state.positions {
		unrealized += p.UnrealizedPL
	}

	var dayPL float64
	if n := len(state.history.Points); n >= 2 {
		dayPL = state.history.Points[n-1].Equity - state.history.Points[n-2].Equity
	}

	snapshot := &models.PerformanceSnapshot{
		AccountID:      account.ID,
		Equity:         state.account.Equity,
		Cash:           state.account.Cash,
		TotalDeposits:  state.deposits,
		TotalPL:        totalPL,
		TotalPLPct:     totalPLPct,
		UnrealizedPL:   unrealized,
		RealizedPL:     totalPL - unrealized,
		DayPL:          dayPL,
		TradeCount:     state.count.Anchor.TotalFilled,
		MaxDrawdownPct: metrics.MaxDrawdown(equities),
		SharpeRatio:    metrics.SharpeRatio(equities, a.cfg.AnnualRiskFree),
		OpenPositions:  len(state.positions),
		CreatedAt:      now,
	}
	if wr := metrics.WinRate(dailyPL); wr != nil {
		rate := wr.Rate * 100
		snapshot.WinRate = &rate
		snapshot.WinningDays = wr.WinningDays
	}

	trades := make([]models.Trade, 0, len(state.trades))
	for _, o := range state.trades {
		if o.Status != broker.OrderStatusFilled {
			continue
		}
		if len(trades) >= a.cfg.TradeWindow {
			break
		}
		trades = append(trades, models.Trade{
			AccountID: account.ID,
			OrderID:   o.ID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Qty:       o.Qty,
			Price:     o.FilledPrice,
			FilledAt:  o.FilledAt,
		})
	}

	result := &storage.SyncResult{
		AccountID:     account.ID,
		AssetClass:    account.AssetClass.Merge(observedAssetClass(state)),
		SyncedAt:      now,
		LastTradeAt:   state.count.LastTradeAt,
		Snapshot:      snapshot,
		EquityHistory: points,
		Trades:        trades,
	}
	if state.count.AnchorFound {
		anchor := state.count.Anchor
		result.Anchor = &anchor
	}

	return result
}

// startingCapital picks the best available baseline: the deposit total
// when the provider reports one, then the portfolio history base value,
// then the earliest equity point. Deposits come first because the base
// value is measured at an arbitrary window start, not at funding.
func startingCapital(history *broker.PortfolioHistory, deposits float64, equities []float64) float64 {
	if deposits > 0 {
		return deposits
	}
	if history.BaseValue > 0 {
		return history.BaseValue
	}
	if len(equities) > 0 {
		return equities[0]
	}
	return 0
}

// observedAssetClass classifies what this pass actually saw trading
func observedAssetClass(state *fetchState) models.AssetClass {
	var sawEquity, sawCrypto bool
	for _, p := range state.positions {
		switch p.AssetClass {
		case "crypto":
			sawCrypto = true
		default:
			sawEquity = true
		}
	}
	for _, o := range state.trades {
		switch o.AssetClass {
		case "crypto":
			sawCrypto = true
		default:
			sawEquity = true
		}
	}

	switch {
	case sawEquity && sawCrypto:
		return models.AssetClassBoth
	case sawCrypto:
		return models.AssetClassCrypto
	case sawEquity:
		return models.AssetClassEquity
	default:
		return ""
	}
}

// fail records the failure on the account and passes the error through.
// The reason string is redacted before it can reach a log or a row.
func (a *Actor) fail(ctx context.Context, accountID string, cause error) error {
	reason := logging.RedactSecrets(cause.Error())
	if err := a.store.MarkFailure(ctx, accountID, reason, time.Now().UTC()); err != nil {
		a.logger.WithField("account", accountID).WithError(err).Error("Failed to record sync failure")
	}
	return cause
}
