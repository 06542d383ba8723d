package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/trader-mirror/internal/config"
	"github.com/trader-mirror/internal/errors"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&config.BrokerConfig{
		BaseURL:           server.URL,
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 1000,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	return client, server
}

func TestGetAccountNormalizesDecimalStrings(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q, want Bearer tok-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"acct-1","equity":"105000.25","cash":"2500.50","buying_power":"5001.00","currency":"USD"}`))
	}))

	account, err := client.GetAccount(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}

	if account.Equity != 105000.25 {
		t.Errorf("Equity = %v, want 105000.25", account.Equity)
	}
	if account.Cash != 2500.50 {
		t.Errorf("Cash = %v, want 2500.50", account.Cash)
	}
}

func TestGetPortfolioHistoryNormalizesSecondTimestamps(t *testing.T) {
	// 1717243200 is 2024-06-01T12:00:00Z in seconds; below 1e12 so the
	// client must treat it as seconds, not milliseconds.
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"timestamp": [1717243200, 1717329600000],
			"equity": [100000, 101500.5],
			"profit_loss": [0, 1500.5],
			"profit_loss_pct": [0, 1.5],
			"base_value": 100000
		}`))
	}))

	history, err := client.GetPortfolioHistory(context.Background(), "tok", 365)
	if err != nil {
		t.Fatalf("GetPortfolioHistory() error = %v", err)
	}

	if len(history.Points) != 2 {
		t.Fatalf("len(Points) = %d, want 2", len(history.Points))
	}

	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if !history.Points[0].Timestamp.Equal(want) {
		t.Errorf("Points[0].Timestamp = %v, want %v", history.Points[0].Timestamp, want)
	}
	wantMs := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	if !history.Points[1].Timestamp.Equal(wantMs) {
		t.Errorf("Points[1].Timestamp = %v, want %v", history.Points[1].Timestamp, wantMs)
	}
	if history.BaseValue != 100000 {
		t.Errorf("BaseValue = %v, want 100000", history.BaseValue)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status  int
		revoked bool
		retry   bool
	}{
		{http.StatusUnauthorized, true, false},
		{http.StatusForbidden, false, false},
		{http.StatusTooManyRequests, false, true},
		{http.StatusInternalServerError, false, true},
	}

	for _, tt := range tests {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
		}))

		_, err := client.GetAccount(context.Background(), "tok")
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if got := errors.IsCredentialRevoked(err); got != tt.revoked {
			t.Errorf("status %d: IsCredentialRevoked = %v, want %v", tt.status, got, tt.revoked)
		}
		if got := errors.IsRetryable(err); got != tt.retry {
			t.Errorf("status %d: IsRetryable = %v, want %v", tt.status, got, tt.retry)
		}
	}
}

func TestErrorBodiesAreSanitized(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"bad request","access_token":"sk-live-leakme"}`))
	}))

	_, err := client.GetAccount(context.Background(), "tok")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "sk-live-leakme") {
		t.Errorf("error leaked credential: %v", err)
	}
	if !strings.Contains(err.Error(), "bad request") {
		t.Errorf("error lost useful message: %v", err)
	}
}

func TestSanitizeBodyTruncates(t *testing.T) {
	long := strings.Repeat("x", 2000)
	got := SanitizeBody([]byte(long))

	if len(got) > maxErrorBodyBytes+len("...(truncated)") {
		t.Errorf("SanitizeBody() length = %d, want <= %d", len(got), maxErrorBodyBytes+len("...(truncated)"))
	}
	if !strings.HasSuffix(got, "...(truncated)") {
		t.Errorf("SanitizeBody() missing truncation marker: %q", got[len(got)-30:])
	}
}

func TestListDepositsPagination(t *testing.T) {
	calls := 0
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Query().Get("page_token") {
		case "":
			_, _ = w.Write([]byte(`[{"id":"act-1","activity_type":"CSD","net_amount":"1000.00","date":"2024-01-02T00:00:00Z"},
				{"id":"act-2","activity_type":"CSD","net_amount":"500.00","date":"2024-02-02T00:00:00Z"}]`))
		case "act-2":
			_, _ = w.Write([]byte(`[{"id":"act-3","activity_type":"CSD","net_amount":"250.00","date":"2024-03-02T00:00:00Z"}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))

	total, err := client.SumDeposits(context.Background(), "tok")
	if err != nil {
		t.Fatalf("SumDeposits() error = %v", err)
	}
	if total != 1750 {
		t.Errorf("SumDeposits() = %v, want 1750", total)
	}
	if calls < 2 {
		t.Errorf("expected paginated walk, got %d calls", calls)
	}
}
