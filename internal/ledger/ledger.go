// Package ledger holds user balances and share counts and exposes the two
// state transitions that move money: Purchase and Sell.
//
// Each call runs as one store transaction (balance, ownership and the
// transaction log entry commit together) while holding a per-account lock,
// so concurrent trades on one account cannot lose an update.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/team-exchange/internal/model"
	"github.com/atmx/team-exchange/internal/store"
)

// ErrInvalidAmount is returned when a trade amount is not positive.
var ErrInvalidAmount = errors.New("ledger: amount must be positive")

// Outcome is the result kind of a purchase.
type Outcome string

const (
	OutcomeFilled            Outcome = "filled"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
)

// Purchase is the result of a buy. When Outcome is OutcomeInsufficientFunds
// nothing was written and Cost is what the buy would have cost.
type Purchase struct {
	Outcome       Outcome
	TransactionID string
	Shares        int64
	Price         int64
	Cost          int64
	Balance       int64
	Holding       int64
}

// Sale is the result of a sell. Shares is the clamped amount actually sold
// and may be less than Requested (zero when nothing was held).
type Sale struct {
	TransactionID string
	Requested     int64
	Shares        int64
	Price         int64
	Proceeds      int64
	Balance       int64
	Holding       int64
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

// Ledger executes purchases and sales against a store.
type Ledger struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[int64]*accountLock
}

// New creates a ledger. A nil logger uses slog.Default().
func New(st store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  st,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		locks:  make(map[int64]*accountLock),
	}
}

// withAccountLock runs fn while holding the lock for userID. Lock entries
// are reference counted and dropped once no caller holds or waits on them.
func (l *Ledger) withAccountLock(userID int64, fn func() error) error {
	l.mu.Lock()
	lk, ok := l.locks[userID]
	if !ok {
		lk = &accountLock{}
		l.locks[userID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	defer func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}()

	return fn()
}

// Purchase buys amount shares of teamID for userID at the team's current
// price. A balance below the cost is reported as OutcomeInsufficientFunds
// with no state change, not as an error.
func (l *Ledger) Purchase(ctx context.Context, userID, teamID, amount int64) (Purchase, error) {
	if amount <= 0 {
		return Purchase{}, ErrInvalidAmount
	}

	var p Purchase
	err := l.withAccountLock(userID, func() error {
		return l.store.InTx(ctx, func(tx store.Tx) error {
			user, err := tx.LockUser(ctx, userID)
			if err != nil {
				return err
			}
			team, err := tx.Team(ctx, teamID)
			if err != nil {
				return err
			}
			owned, err := tx.LockOwnership(ctx, userID, teamID)
			if err != nil {
				return err
			}

			p = Purchase{
				Shares:  amount,
				Price:   team.Price,
				Balance: user.Balance,
				Holding: owned,
			}
			cost, ok := mul(amount, team.Price)
			if !ok || user.Balance < cost {
				p.Outcome = OutcomeInsufficientFunds
				p.Cost = cost
				return nil
			}

			p.Outcome = OutcomeFilled
			p.Cost = cost
			p.Balance = user.Balance - cost
			p.Holding = owned + amount

			if err := tx.SetBalance(ctx, userID, p.Balance); err != nil {
				return err
			}
			if err := tx.SetOwnership(ctx, userID, teamID, p.Holding); err != nil {
				return err
			}
			txn := &model.Transaction{
				ID:           uuid.New().String(),
				UserID:       userID,
				TeamID:       teamID,
				ShareDelta:   amount,
				PriceAtTrade: team.Price,
				Timestamp:    l.now(),
			}
			p.TransactionID = txn.ID
			return tx.AppendTransaction(ctx, txn)
		})
	})
	if err != nil {
		return Purchase{}, fmt.Errorf("purchase: %w", err)
	}

	if p.Outcome == OutcomeFilled {
		l.logger.Info("shares purchased",
			"user", userID,
			"team", teamID,
			"shares", p.Shares,
			"price", p.Price,
			"cost", p.Cost,
			"balance", p.Balance,
		)
	}
	return p, nil
}

// Sell sells up to amount shares of teamID at the team's current price.
// Selling more than is held clamps to the holding; selling with no holding
// returns a zero-share Sale without writing anything.
func (l *Ledger) Sell(ctx context.Context, userID, teamID, amount int64) (Sale, error) {
	if amount <= 0 {
		return Sale{}, ErrInvalidAmount
	}

	var s Sale
	err := l.withAccountLock(userID, func() error {
		return l.store.InTx(ctx, func(tx store.Tx) error {
			user, err := tx.LockUser(ctx, userID)
			if err != nil {
				return err
			}
			team, err := tx.Team(ctx, teamID)
			if err != nil {
				return err
			}
			owned, err := tx.LockOwnership(ctx, userID, teamID)
			if err != nil {
				return err
			}

			sold := min(amount, owned)
			s = Sale{
				Requested: amount,
				Shares:    sold,
				Price:     team.Price,
				Proceeds:  sold * team.Price,
				Balance:   user.Balance,
				Holding:   owned,
			}
			if sold == 0 {
				return nil
			}

			s.Balance = user.Balance + s.Proceeds
			s.Holding = owned - sold

			if err := tx.SetBalance(ctx, userID, s.Balance); err != nil {
				return err
			}
			if err := tx.SetOwnership(ctx, userID, teamID, s.Holding); err != nil {
				return err
			}
			txn := &model.Transaction{
				ID:           uuid.New().String(),
				UserID:       userID,
				TeamID:       teamID,
				ShareDelta:   -sold,
				PriceAtTrade: team.Price,
				Timestamp:    l.now(),
			}
			s.TransactionID = txn.ID
			return tx.AppendTransaction(ctx, txn)
		})
	})
	if err != nil {
		return Sale{}, fmt.Errorf("sell: %w", err)
	}

	if s.Shares > 0 {
		l.logger.Info("shares sold",
			"user", userID,
			"team", teamID,
			"requested", s.Requested,
			"shares", s.Shares,
			"price", s.Price,
			"proceeds", s.Proceeds,
			"balance", s.Balance,
		)
	}
	return s, nil
}

// mul multiplies non-negative a and b, reporting false on overflow.
func mul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64, false
	}
	return a * b, true
}
