package broker

import (
	"context"
	"time"

	"github.com/trader-mirror/internal/logging"
	"github.com/trader-mirror/internal/models"
)

// OrderLister is the slice of the client the counting protocol needs
type OrderLister interface {
	ListOrders(ctx context.Context, token string, params OrderParams) ([]Order, error)
}

// CountResult is the outcome of a counting pass
type CountResult struct {
	NewFilled   int64                   // filled orders counted in this pass
	Anchor      models.TradeCountAnchor // the next anchor to persist
	AnchorFound bool                    // false when the incremental walk failed safe
	LastTradeAt *time.Time              // filled time of the newest counted order
}

// fullWalkPageBound guards full-history walks against a provider that
// never stops returning pages. The tighter maxPages bound applies only to
// anchored incremental walks.
const fullWalkPageBound = 1000

// TradeCounter implements cumulative filled-order counting without
// rescanning full history each cycle.
type TradeCounter struct {
	src      OrderLister
	pageSize int
	maxPages int
}

// NewTradeCounter creates a trade counter over an order source
func NewTradeCounter(src OrderLister, pageSize, maxPages int) *TradeCounter {
	if pageSize <= 0 {
		pageSize = 500
	}
	if maxPages <= 0 {
		maxPages = 20
	}
	return &TradeCounter{src: src, pageSize: pageSize, maxPages: maxPages}
}

// CountFull walks the entire order history ascending and counts filled
// orders. Used on the first sync and whenever no anchor exists.
func (tc *TradeCounter) CountFull(ctx context.Context, accountID, token string) (*CountResult, error) {
	result := &CountResult{
		Anchor:      models.TradeCountAnchor{AccountID: accountID},
		AnchorFound: true,
	}

	var after time.Time
	lastID := ""

	for page := 0; page < fullWalkPageBound; page++ {
		orders, err := tc.src.ListOrders(ctx, token, OrderParams{
			After:     after,
			Direction: "asc",
			Limit:     tc.pageSize,
		})
		if err != nil {
			return nil, err
		}
		if len(orders) == 0 {
			break
		}

		for _, order := range orders {
			// Page-boundary overlap: the last order of page N may
			// reappear as the first of page N+1
			if order.ID == lastID {
				continue
			}
			tc.observe(result, order)
		}

		newLast := orders[len(orders)-1].ID
		if newLast == lastID {
			// Whole page was the boundary duplicate; no forward progress
			break
		}
		lastID = newLast
		if len(orders) < tc.pageSize {
			break
		}
		after = orders[len(orders)-1].SubmittedAt
	}

	return result, nil
}

// CountIncremental resumes counting from the previous anchor. Identifier
// equality is the correctness boundary; timestamps only steer pagination.
// If the anchor order is never found within the page bound the call fails
// safe: zero new trades, anchor unchanged, and the caller is expected to
// schedule a full recount eventually.
func (tc *TradeCounter) CountIncremental(ctx context.Context, accountID, token string, anchor models.TradeCountAnchor) (*CountResult, error) {
	logger := logging.FromContext(ctx).WithField("account", accountID)

	result := &CountResult{
		Anchor: models.TradeCountAnchor{
			AccountID:       accountID,
			TotalFilled:     anchor.TotalFilled,
			LastOrderID:     anchor.LastOrderID,
			LastSubmittedAt: anchor.LastSubmittedAt,
		},
	}

	// One-second buffer below the anchor defends against sub-second
	// timestamp precision loss at the provider
	after := anchor.LastSubmittedAt.Add(-time.Second)
	anchorSeen := false
	lastID := ""

	for page := 0; page < tc.maxPages; page++ {
		orders, err := tc.src.ListOrders(ctx, token, OrderParams{
			After:     after,
			Direction: "asc",
			Limit:     tc.pageSize,
		})
		if err != nil {
			return nil, err
		}
		if len(orders) == 0 {
			break
		}

		for _, order := range orders {
			if order.ID == lastID {
				continue
			}
			if order.ID == anchor.LastOrderID {
				anchorSeen = true
				continue
			}
			// Everything up to and including the anchor is skipped by
			// identifier, never by timestamp
			if !anchorSeen {
				continue
			}
			tc.observe(result, order)
		}

		newLast := orders[len(orders)-1].ID
		if newLast == lastID {
			break
		}
		lastID = newLast
		if len(orders) < tc.pageSize {
			break
		}
		after = orders[len(orders)-1].SubmittedAt
	}

	if !anchorSeen {
		// Fail safe: zero delta beats double counting. A later full
		// recount self-corrects any transient undercount.
		logger.WithFields(map[string]interface{}{
			"anchorOrderId": anchor.LastOrderID,
			"maxPages":      tc.maxPages,
		}).Warn("Trade-count anchor not found within page bound, returning zero delta")

		return &CountResult{
			Anchor:      anchor,
			AnchorFound: false,
		}, nil
	}

	result.AnchorFound = true
	return result, nil
}

// observe folds one order past the boundary into the running result
func (tc *TradeCounter) observe(result *CountResult, order Order) {
	if order.Status != OrderStatusFilled {
		return
	}
	result.NewFilled++
	result.Anchor.TotalFilled++
	result.Anchor.LastOrderID = order.ID
	result.Anchor.LastSubmittedAt = order.SubmittedAt
	if !order.FilledAt.IsZero() {
		filled := order.FilledAt
		result.LastTradeAt = &filled
	}
}
