package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/trader-mirror/internal/circuitbreaker"
	"github.com/trader-mirror/internal/config"
	"github.com/trader-mirror/internal/errors"
)

// RequestBudget coordinates the fleet-wide request quota across worker
// processes. The local limiter shapes this process; the budget caps the
// fleet.
type RequestBudget interface {
	Wait(ctx context.Context) error
}

// Client is the typed brokerage API client. One shared HTTP client, rate
// limiter and circuit breaker serve all accounts; the per-account access
// token is passed per call.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	budget  RequestBudget
}

// WithBudget attaches a shared request budget. Without one the client is
// limited only by its local rate limiter.
func (c *Client) WithBudget(b RequestBudget) *Client {
	c.budget = b
	return c
}

// NewClient creates a brokerage API client
func NewClient(cfg *config.BrokerConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("broker base URL cannot be empty")
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name: "broker",
			// Only provider-health failures open the circuit; a 401 or a
			// validation reject is a valid answer, not an outage.
			IsFailure: errors.IsRetryable,
		}),
	}, nil
}

// get performs one authenticated GET and decodes the JSON response into
// dest. Non-2xx responses are classified into the error taxonomy with a
// sanitized body.
func (c *Client) get(ctx context.Context, token, path string, query url.Values, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.budget != nil {
		if err := c.budget.Wait(ctx); err != nil {
			return err
		}
	}

	return c.breaker.Execute(ctx, func() error {
		return c.doGet(ctx, token, path, query, dest)
	})
}

func (c *Client) doGet(ctx context.Context, token, path string, query url.Values, dest interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.NewProviderError(0, fmt.Sprintf("request to %s failed: %v", path, err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes+1))
		return errors.ClassifyHTTPStatus(resp.StatusCode,
			fmt.Sprintf("%s returned %d: %s", path, resp.StatusCode, SanitizeBody(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return errors.NewProviderError(resp.StatusCode, fmt.Sprintf("failed to decode %s response: %v", path, err))
	}

	return nil
}

// GetAccount fetches the account summary
func (c *Client) GetAccount(ctx context.Context, token string) (*Account, error) {
	var payload accountPayload
	if err := c.get(ctx, token, "/v2/account", nil, &payload); err != nil {
		return nil, err
	}

	account := &Account{ID: payload.ID, Currency: payload.Currency}
	var err error
	if account.Equity, err = parseDecimal(payload.Equity); err != nil {
		return nil, fmt.Errorf("invalid equity %q: %w", payload.Equity, err)
	}
	if account.Cash, err = parseDecimal(payload.Cash); err != nil {
		return nil, fmt.Errorf("invalid cash %q: %w", payload.Cash, err)
	}
	if account.BuyingPower, err = parseDecimal(payload.BuyingPower); err != nil {
		return nil, fmt.Errorf("invalid buying_power %q: %w", payload.BuyingPower, err)
	}

	return account, nil
}

// GetPositions fetches all open positions
func (c *Client) GetPositions(ctx context.Context, token string) ([]Position, error) {
	var payload []positionPayload
	if err := c.get(ctx, token, "/v2/positions", nil, &payload); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(payload))
	for _, p := range payload {
		pos := Position{Symbol: p.Symbol, AssetClass: p.AssetClass}
		var err error
		if pos.Qty, err = parseDecimal(p.Qty); err != nil {
			return nil, fmt.Errorf("invalid qty for %s: %w", p.Symbol, err)
		}
		if pos.MarketValue, err = parseDecimal(p.MarketValue); err != nil {
			return nil, fmt.Errorf("invalid market_value for %s: %w", p.Symbol, err)
		}
		if pos.UnrealizedPL, err = parseDecimal(p.UnrealizedPL); err != nil {
			return nil, fmt.Errorf("invalid unrealized_pl for %s: %w", p.Symbol, err)
		}
		positions = append(positions, pos)
	}

	return positions, nil
}

// GetPortfolioHistory fetches the daily equity/P&L series for the given
// number of days, normalized to millisecond timestamps.
func (c *Client) GetPortfolioHistory(ctx context.Context, token string, days int) (*PortfolioHistory, error) {
	query := url.Values{}
	query.Set("period", fmt.Sprintf("%dD", days))
	query.Set("timeframe", "1D")

	var payload historyPayload
	if err := c.get(ctx, token, "/v2/account/portfolio/history", query, &payload); err != nil {
		return nil, err
	}

	return payload.normalize(), nil
}

// ListOrders fetches one page of closed orders
func (c *Client) ListOrders(ctx context.Context, token string, params OrderParams) ([]Order, error) {
	query := url.Values{}
	query.Set("status", "closed")
	if params.Direction != "" {
		query.Set("direction", params.Direction)
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if !params.After.IsZero() {
		query.Set("after", params.After.UTC().Format(time.RFC3339Nano))
	}

	var payload []orderPayload
	if err := c.get(ctx, token, "/v2/orders", query, &payload); err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(payload))
	for _, p := range payload {
		order, err := p.normalize()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	return orders, nil
}

// ListDeposits fetches one page of cash-deposit activity. Pagination uses
// opaque page tokens; an empty token starts from the beginning and an empty
// NextPageToken ends the walk.
func (c *Client) ListDeposits(ctx context.Context, token, pageToken string) (*DepositPage, error) {
	query := url.Values{}
	query.Set("activity_types", "CSD")
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}

	var payload []activityPayload
	if err := c.get(ctx, token, "/v2/account/activities", query, &payload); err != nil {
		return nil, err
	}

	page := &DepositPage{}
	for _, a := range payload {
		amount, err := parseDecimal(a.NetAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid net_amount %q: %w", a.NetAmount, err)
		}
		date, err := parseTimestamp(a.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid activity date %q: %w", a.Date, err)
		}
		page.Deposits = append(page.Deposits, Deposit{ID: a.ID, Amount: amount, Date: date})
	}

	// The provider pages by the last activity id
	if len(payload) > 0 {
		page.NextPageToken = payload[len(payload)-1].ID
	}

	return page, nil
}

// SumDeposits walks all deposit pages and returns the total deposited cash
func (c *Client) SumDeposits(ctx context.Context, token string) (float64, error) {
	var total float64
	pageToken := ""

	for {
		page, err := c.ListDeposits(ctx, token, pageToken)
		if err != nil {
			return 0, err
		}
		if len(page.Deposits) == 0 {
			break
		}
		for _, d := range page.Deposits {
			total += d.Amount
		}
		// Identical token means the provider made no progress
		if page.NextPageToken == "" || page.NextPageToken == pageToken {
			break
		}
		pageToken = page.NextPageToken
	}

	return total, nil
}

func (p *orderPayload) normalize() (Order, error) {
	order := Order{
		ID:         p.ID,
		Symbol:     p.Symbol,
		AssetClass: p.AssetClass,
		Side:       p.Side,
		Status:     p.Status,
	}

	var err error
	if order.Qty, err = parseDecimal(p.Qty); err != nil {
		return Order{}, fmt.Errorf("invalid order qty %q: %w", p.Qty, err)
	}
	if order.FilledPrice, err = parseDecimal(p.FilledPrice); err != nil {
		return Order{}, fmt.Errorf("invalid filled_avg_price %q: %w", p.FilledPrice, err)
	}
	if order.SubmittedAt, err = parseTimestamp(p.SubmittedAt); err != nil {
		return Order{}, fmt.Errorf("invalid submitted_at %q: %w", p.SubmittedAt, err)
	}
	if p.FilledAt != "" {
		if order.FilledAt, err = parseTimestamp(p.FilledAt); err != nil {
			return Order{}, fmt.Errorf("invalid filled_at %q: %w", p.FilledAt, err)
		}
	}

	return order, nil
}

// parseTimestamp accepts RFC3339 strings or raw epoch values in seconds or
// milliseconds, normalizing the unit by magnitude.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	epoch, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	return time.UnixMilli(normalizeMillis(epoch)).UTC(), nil
}
