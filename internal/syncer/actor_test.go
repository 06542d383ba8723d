package syncer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/trader-mirror/internal/broker"
	apperrors "github.com/trader-mirror/internal/errors"
	"github.com/trader-mirror/internal/models"
	"github.com/trader-mirror/internal/storage"
	"github.com/trader-mirror/internal/vault"
)

type fakeBroker struct {
	account   broker.Account
	positions []broker.Position
	history   broker.PortfolioHistory
	deposits  float64
	orders    []broker.Order

	accountErr error
	ordersErr  error
}

func (f *fakeBroker) GetAccount(ctx context.Context, token string) (*broker.Account, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	account := f.account
	return &account, nil
}

func (f *fakeBroker) GetPositions(ctx context.Context, token string) ([]broker.Position, error) {
	return f.positions, nil
}

func (f *fakeBroker) GetPortfolioHistory(ctx context.Context, token string, days int) (*broker.PortfolioHistory, error) {
	history := f.history
	return &history, nil
}

func (f *fakeBroker) SumDeposits(ctx context.Context, token string) (float64, error) {
	return f.deposits, nil
}

func (f *fakeBroker) ListOrders(ctx context.Context, token string, params broker.OrderParams) ([]broker.Order, error) {
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}

	orders := make([]broker.Order, len(f.orders))
	copy(orders, f.orders)
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].SubmittedAt.Before(orders[j].SubmittedAt)
	})

	if params.Direction == "desc" {
		for i, j := 0, len(orders)-1; i < j; i, j = i+1, j-1 {
			orders[i], orders[j] = orders[j], orders[i]
		}
	} else if !params.After.IsZero() {
		filtered := orders[:0]
		for _, o := range orders {
			if o.SubmittedAt.After(params.After) {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}

	if params.Limit > 0 && len(orders) > params.Limit {
		orders = orders[:params.Limit]
	}
	return orders, nil
}

type fakeStore struct {
	account *models.Account
	cred    *models.Credential
	anchor  *models.TradeCountAnchor

	applied  *storage.SyncResult
	failures []string
}

func (f *fakeStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	if f.account == nil {
		return nil, apperrors.NewNotFoundError("account", id)
	}
	return f.account, nil
}

func (f *fakeStore) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	if f.cred == nil {
		return nil, apperrors.NewNotFoundError("credential", id)
	}
	return f.cred, nil
}

func (f *fakeStore) GetAnchor(ctx context.Context, id string) (*models.TradeCountAnchor, error) {
	return f.anchor, nil
}

func (f *fakeStore) ApplySyncResult(ctx context.Context, result *storage.SyncResult) error {
	f.applied = result
	return nil
}

func (f *fakeStore) MarkFailure(ctx context.Context, id, reason string, at time.Time) error {
	f.failures = append(f.failures, reason)
	return nil
}

func day(n int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func filledOrder(id string, n int) broker.Order {
	return broker.Order{
		ID:          id,
		Symbol:      "AAPL",
		AssetClass:  "us_equity",
		Side:        "buy",
		Status:      broker.OrderStatusFilled,
		Qty:         10,
		FilledPrice: 150,
		SubmittedAt: day(n),
		FilledAt:    day(n).Add(time.Minute),
	}
}

func testHistory() broker.PortfolioHistory {
	equities := []float64{100000, 101000, 99000, 102000, 103000, 104000}
	history := broker.PortfolioHistory{BaseValue: 100000}
	prev := equities[0]
	for i, eq := range equities {
		history.Points = append(history.Points, broker.HistoryPoint{
			Timestamp: day(i),
			Equity:    eq,
			PL:        eq - prev,
			PLPct:     (eq - prev) / prev * 100,
		})
		prev = eq
	}
	return history
}

func newTestActor(t *testing.T, b Broker, store Store) (*Actor, *vault.Vault) {
	t.Helper()

	v, err := vault.New("test-secret")
	if err != nil {
		t.Fatalf("vault.New() error = %v", err)
	}

	actor, err := NewActor(b, store, v, Config{
		EquityWindowDays: 365,
		TradeWindow:      200,
		OrderPageSize:    500,
		MaxOrderPages:    20,
		AnnualRiskFree:   0.05,
	}, nil)
	if err != nil {
		t.Fatalf("NewActor() error = %v", err)
	}
	return actor, v
}

func encryptToken(t *testing.T, v *vault.Vault, token, accountID string) *models.Credential {
	t.Helper()
	ct, err := v.Encrypt(token, accountID)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	return &models.Credential{AccountID: accountID, Ciphertext: ct}
}

func TestActorRunSuccess(t *testing.T) {
	b := &fakeBroker{
		account:  broker.Account{ID: "remote-1", Equity: 104000, Cash: 5000},
		deposits: 100000,
		history:  testHistory(),
		positions: []broker.Position{
			{Symbol: "AAPL", AssetClass: "us_equity", Qty: 10, UnrealizedPL: 500},
		},
		orders: []broker.Order{
			filledOrder("ord-1", 1),
			filledOrder("ord-2", 2),
			{ID: "ord-3", Status: "canceled", SubmittedAt: day(3)},
			filledOrder("ord-4", 4),
		},
	}
	store := &fakeStore{
		account: &models.Account{ID: "acct-1", Active: true, SyncTier: 3},
	}
	actor, v := newTestActor(t, b, store)
	store.cred = encryptToken(t, v, "tok-secret", "acct-1")

	if err := actor.Run(context.Background(), "acct-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if store.applied == nil {
		t.Fatal("sync result was not applied")
	}
	s := store.applied.Snapshot

	if s.Equity != 104000 {
		t.Errorf("Equity = %v, want 104000", s.Equity)
	}
	if s.TotalPL != 4000 {
		t.Errorf("TotalPL = %v, want 4000", s.TotalPL)
	}
	if s.TotalPLPct != 4.0 {
		t.Errorf("TotalPLPct = %v, want 4.0", s.TotalPLPct)
	}
	if s.TradeCount != 3 {
		t.Errorf("TradeCount = %v, want 3", s.TradeCount)
	}
	if s.WinRate == nil || *s.WinRate != 80.0 {
		t.Errorf("WinRate = %v, want 80.0", s.WinRate)
	}
	if s.SharpeRatio == nil {
		t.Error("SharpeRatio = nil, want a value for a 6-point series")
	}
	if s.UnrealizedPL != 500 {
		t.Errorf("UnrealizedPL = %v, want 500", s.UnrealizedPL)
	}
	if s.OpenPositions != 1 {
		t.Errorf("OpenPositions = %v, want 1", s.OpenPositions)
	}

	if store.applied.Anchor == nil {
		t.Fatal("anchor was not persisted")
	}
	if store.applied.Anchor.TotalFilled != 3 {
		t.Errorf("anchor TotalFilled = %v, want 3", store.applied.Anchor.TotalFilled)
	}
	if store.applied.Anchor.LastOrderID != "ord-4" {
		t.Errorf("anchor LastOrderID = %q, want ord-4", store.applied.Anchor.LastOrderID)
	}

	if store.applied.AssetClass != models.AssetClassEquity {
		t.Errorf("AssetClass = %v, want equity", store.applied.AssetClass)
	}
	if len(store.applied.EquityHistory) != 6 {
		t.Errorf("equity history length = %d, want 6", len(store.applied.EquityHistory))
	}
	if len(store.applied.Trades) != 3 {
		t.Errorf("trade window length = %d, want 3", len(store.applied.Trades))
	}
	if len(store.failures) != 0 {
		t.Errorf("failures = %v, want none", store.failures)
	}
}

func TestActorRunInactiveAccount(t *testing.T) {
	store := &fakeStore{
		account: &models.Account{ID: "acct-1", Active: false},
	}
	actor, _ := newTestActor(t, &fakeBroker{}, store)

	err := actor.Run(context.Background(), "acct-1")
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("Run() error = %v, want ErrAccountInactive", err)
	}
	if len(store.failures) != 0 {
		t.Errorf("failures = %v, want none for inactive skip", store.failures)
	}
}

func TestActorRunRevokedCredential(t *testing.T) {
	b := &fakeBroker{
		history:    testHistory(),
		accountErr: apperrors.NewUnauthorizedError("token rejected"),
	}
	store := &fakeStore{
		account: &models.Account{ID: "acct-1", Active: true},
	}
	actor, v := newTestActor(t, b, store)
	store.cred = encryptToken(t, v, "tok-secret", "acct-1")

	err := actor.Run(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("Run() error = nil, want unauthorized")
	}
	if !apperrors.IsCredentialRevoked(err) {
		t.Errorf("IsCredentialRevoked() = false for %v", err)
	}
	if len(store.failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(store.failures))
	}
	if store.applied != nil {
		t.Error("sync result was applied despite failed fetch")
	}
}

func TestActorRunDecryptFailureKillsLoop(t *testing.T) {
	store := &fakeStore{
		account: &models.Account{ID: "acct-1", Active: true},
	}
	actor, v := newTestActor(t, &fakeBroker{history: testHistory()}, store)
	// Credential encrypted for a different account cannot decrypt here.
	store.cred = encryptToken(t, v, "tok-secret", "acct-2")

	err := actor.Run(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("Run() error = nil, want unauthorized")
	}
	if !apperrors.IsCredentialRevoked(err) {
		t.Errorf("IsCredentialRevoked() = false for %v", err)
	}
}

func TestActorRunFailureReasonIsRedacted(t *testing.T) {
	b := &fakeBroker{
		history:    testHistory(),
		accountErr: errors.New(`provider error: access_token=tok-secret-value rejected`),
	}
	store := &fakeStore{
		account: &models.Account{ID: "acct-1", Active: true},
	}
	actor, v := newTestActor(t, b, store)
	store.cred = encryptToken(t, v, "tok-secret-value", "acct-1")

	if err := actor.Run(context.Background(), "acct-1"); err == nil {
		t.Fatal("Run() error = nil, want provider error")
	}
	if len(store.failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(store.failures))
	}
	if strings.Contains(store.failures[0], "tok-secret-value") {
		t.Errorf("failure reason leaked the token: %q", store.failures[0])
	}
}

func TestActorRunIncrementalFromAnchor(t *testing.T) {
	b := &fakeBroker{
		account: broker.Account{Equity: 104000},
		history: testHistory(),
		orders: []broker.Order{
			filledOrder("ord-1", 1),
			filledOrder("ord-2", 2),
			filledOrder("ord-3", 4),
		},
	}
	store := &fakeStore{
		account: &models.Account{ID: "acct-1", Active: true},
		anchor: &models.TradeCountAnchor{
			AccountID:       "acct-1",
			TotalFilled:     2,
			LastOrderID:     "ord-2",
			LastSubmittedAt: day(2),
		},
	}
	actor, v := newTestActor(t, b, store)
	store.cred = encryptToken(t, v, "tok", "acct-1")

	if err := actor.Run(context.Background(), "acct-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if store.applied.Snapshot.TradeCount != 3 {
		t.Errorf("TradeCount = %d, want 3 (2 anchored + 1 new)", store.applied.Snapshot.TradeCount)
	}
	if store.applied.Anchor == nil || store.applied.Anchor.LastOrderID != "ord-3" {
		t.Errorf("anchor = %+v, want advanced to ord-3", store.applied.Anchor)
	}
}

func TestActorRunFailSafeLeavesAnchorAlone(t *testing.T) {
	// The anchored order is gone from the provider's pages, so the
	// incremental count returns a zero delta and the anchor must not move.
	b := &fakeBroker{
		account: broker.Account{Equity: 104000},
		history: testHistory(),
		orders: []broker.Order{
			filledOrder("ord-8", 5),
			filledOrder("ord-9", 6),
		},
	}
	store := &fakeStore{
		account: &models.Account{ID: "acct-1", Active: true},
		anchor: &models.TradeCountAnchor{
			AccountID:       "acct-1",
			TotalFilled:     40,
			LastOrderID:     "ord-vanished",
			LastSubmittedAt: day(2),
		},
	}
	actor, v := newTestActor(t, b, store)
	store.cred = encryptToken(t, v, "tok", "acct-1")

	if err := actor.Run(context.Background(), "acct-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if store.applied.Snapshot.TradeCount != 40 {
		t.Errorf("TradeCount = %d, want unchanged 40", store.applied.Snapshot.TradeCount)
	}
	if store.applied.Anchor != nil {
		t.Errorf("anchor = %+v, want nil so the stored anchor stays", store.applied.Anchor)
	}
}

func TestActorRunStartingCapitalPrefersDeposits(t *testing.T) {
	// Both baselines present: deposits win, the window base value does not.
	history := testHistory()
	history.BaseValue = 50000

	b := &fakeBroker{
		account:  broker.Account{Equity: 104000},
		history:  history,
		deposits: 80000,
	}
	store := &fakeStore{
		account: &models.Account{ID: "acct-1", Active: true},
	}
	actor, v := newTestActor(t, b, store)
	store.cred = encryptToken(t, v, "tok", "acct-1")

	if err := actor.Run(context.Background(), "acct-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := store.applied.Snapshot.TotalPL; got != 24000 {
		t.Errorf("TotalPL = %v, want 24000 against the deposit baseline", got)
	}
	if got := store.applied.Snapshot.TotalPLPct; got != 30 {
		t.Errorf("TotalPLPct = %v, want 30", got)
	}
	if got := store.applied.Snapshot.TotalDeposits; got != 80000 {
		t.Errorf("TotalDeposits = %v, want 80000", got)
	}
}

func TestActorRunStartingCapitalFallsBackToBaseValue(t *testing.T) {
	b := &fakeBroker{
		account:  broker.Account{Equity: 104000},
		history:  testHistory(), // BaseValue 100000
		deposits: 0,
	}
	store := &fakeStore{
		account: &models.Account{ID: "acct-1", Active: true},
	}
	actor, v := newTestActor(t, b, store)
	store.cred = encryptToken(t, v, "tok", "acct-1")

	if err := actor.Run(context.Background(), "acct-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := store.applied.Snapshot.TotalPL; got != 4000 {
		t.Errorf("TotalPL = %v, want 4000 against the base value", got)
	}
}
