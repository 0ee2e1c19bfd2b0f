// Package trade coordinates a buy or sell request: it validates the
// request, executes it on the ledger at the team's current price, and
// reports the result to metrics and the live feed.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/atmx/team-exchange/internal/feed"
	"github.com/atmx/team-exchange/internal/ledger"
	"github.com/atmx/team-exchange/internal/metrics"
)

// ErrInvalidRequest is returned for a request with a non-positive user id,
// team id or amount. Nothing is read or written.
var ErrInvalidRequest = errors.New("trade: uid, tid and a positive amount are required")

// Outcome is the result kind of a trade.
type Outcome string

const (
	OutcomeBought            Outcome = "bought"
	OutcomeSold              Outcome = "sold"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
	OutcomeNothingHeld       Outcome = "nothing_held"
)

// Request is the JSON body for POST /trade.
type Request struct {
	UserID int64 `json:"uid"`
	TeamID int64 `json:"tid"`
	IsBuy  bool  `json:"isBuy"`
	Amount int64 `json:"amount"`
}

// Result is returned for every executed request. Amount is the cost of a
// buy or the proceeds of a sell; Shares is what actually moved, which for a
// sell may be less than Requested.
type Result struct {
	TransactionID string  `json:"transaction_id,omitempty"`
	Outcome       Outcome `json:"outcome"`
	Requested     int64   `json:"requested"`
	Shares        int64   `json:"shares"`
	Price         int64   `json:"price"`
	Amount        int64   `json:"amount"`
	Balance       int64   `json:"balance"`
	Holding       int64   `json:"holding"`
}

// Publisher receives executed trades. *feed.Hub implements it.
type Publisher interface {
	Publish(ev feed.Event)
}

// Coordinator executes trade requests against a ledger.
type Coordinator struct {
	ledger    *ledger.Ledger
	publisher Publisher
	logger    *slog.Logger
}

// NewCoordinator creates a coordinator. Pass nil for pub if live
// broadcasting is not needed.
func NewCoordinator(l *ledger.Ledger, pub Publisher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{ledger: l, publisher: pub, logger: logger}
}

// Execute runs one buy or sell. Insufficient funds and selling with no
// holding are outcomes, not errors.
func (c *Coordinator) Execute(ctx context.Context, req Request) (Result, error) {
	if req.UserID <= 0 || req.TeamID <= 0 || req.Amount <= 0 {
		return Result{}, fmt.Errorf("%w: uid=%d tid=%d amount=%d", ErrInvalidRequest, req.UserID, req.TeamID, req.Amount)
	}

	side := "sell"
	if req.IsBuy {
		side = "buy"
	}
	start := time.Now()
	defer func() {
		metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	}()

	var res Result
	if req.IsBuy {
		p, err := c.ledger.Purchase(ctx, req.UserID, req.TeamID, req.Amount)
		if err != nil {
			return Result{}, err
		}
		res = Result{
			TransactionID: p.TransactionID,
			Outcome:       OutcomeBought,
			Requested:     req.Amount,
			Shares:        p.Shares,
			Price:         p.Price,
			Amount:        p.Cost,
			Balance:       p.Balance,
			Holding:       p.Holding,
		}
		if p.Outcome == ledger.OutcomeInsufficientFunds {
			res.Outcome = OutcomeInsufficientFunds
			res.Shares = 0
		}
	} else {
		s, err := c.ledger.Sell(ctx, req.UserID, req.TeamID, req.Amount)
		if err != nil {
			return Result{}, err
		}
		res = Result{
			TransactionID: s.TransactionID,
			Outcome:       OutcomeSold,
			Requested:     s.Requested,
			Shares:        s.Shares,
			Price:         s.Price,
			Amount:        s.Proceeds,
			Balance:       s.Balance,
			Holding:       s.Holding,
		}
		if s.Shares == 0 {
			res.Outcome = OutcomeNothingHeld
		}
	}

	metrics.TradesTotal.WithLabelValues(side, string(res.Outcome)).Inc()
	if res.Shares == 0 {
		c.logger.Info("trade not filled",
			"user", req.UserID,
			"team", req.TeamID,
			"side", side,
			"outcome", res.Outcome,
		)
		return res, nil
	}

	metrics.TradeVolume.WithLabelValues(strconv.FormatInt(req.TeamID, 10), side).Add(float64(res.Shares))
	if c.publisher != nil {
		c.publisher.Publish(feed.Event{
			Type:   feed.TypeTradeExecuted,
			TeamID: req.TeamID,
			Price:  res.Price,
			UserID: req.UserID,
			Side:   side,
			Shares: res.Shares,
		})
	}
	return res, nil
}
