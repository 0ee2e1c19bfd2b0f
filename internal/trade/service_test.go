package trade_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atmx/team-exchange/internal/feed"
	"github.com/atmx/team-exchange/internal/ledger"
	"github.com/atmx/team-exchange/internal/model"
	"github.com/atmx/team-exchange/internal/store"
	"github.com/atmx/team-exchange/internal/trade"
)

type recorder struct {
	mu     sync.Mutex
	events []feed.Event
}

func (r *recorder) Publish(ev feed.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// newTestEnv creates a coordinator over an in-memory store with one user
// (balance 200) and one team priced at 40.
func newTestEnv(t *testing.T) (*trade.Coordinator, *store.MemoryStore, *recorder, int64) {
	t.Helper()
	ms := store.NewMemoryStore()
	ctx := context.Background()

	u := &model.User{Username: "alice", CredentialHash: "x", Balance: 200, CreatedAt: time.Now().UTC()}
	if err := ms.CreateUser(ctx, u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := ms.CreateTeam(ctx, &model.Team{ID: 15, Name: "Team Liquid", Price: 40}); err != nil {
		t.Fatalf("seed team: %v", err)
	}

	rec := &recorder{}
	return trade.NewCoordinator(ledger.New(ms, nil), rec, nil), ms, rec, u.ID
}

func TestExecute_Buy(t *testing.T) {
	c, ms, rec, uid := newTestEnv(t)

	res, err := c.Execute(context.Background(), trade.Request{UserID: uid, TeamID: 15, IsBuy: true, Amount: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != trade.OutcomeBought || res.Shares != 3 || res.Amount != 120 || res.Balance != 80 || res.Holding != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.TransactionID == "" {
		t.Error("expected transaction id")
	}
	if ms.Ownership(uid, 15) != 3 {
		t.Errorf("expected 3 shares held, got %d", ms.Ownership(uid, 15))
	}
	if len(rec.events) != 1 || rec.events[0].Type != feed.TypeTradeExecuted || rec.events[0].Side != "buy" {
		t.Errorf("unexpected feed events: %+v", rec.events)
	}
}

func TestExecute_InsufficientFunds(t *testing.T) {
	c, ms, rec, uid := newTestEnv(t)

	res, err := c.Execute(context.Background(), trade.Request{UserID: uid, TeamID: 15, IsBuy: true, Amount: 6})
	if err != nil {
		t.Fatalf("insufficient funds must not be an error: %v", err)
	}
	if res.Outcome != trade.OutcomeInsufficientFunds || res.Shares != 0 || res.Balance != 200 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Amount != 240 {
		t.Errorf("expected would-be cost 240, got %d", res.Amount)
	}
	if ms.Ownership(uid, 15) != 0 || len(ms.Transactions(uid)) != 0 {
		t.Error("insufficient funds must not mutate state")
	}
	if len(rec.events) != 0 {
		t.Errorf("no event expected, got %+v", rec.events)
	}
}

func TestExecute_SellClamps(t *testing.T) {
	c, _, _, uid := newTestEnv(t)
	ctx := context.Background()

	if _, err := c.Execute(ctx, trade.Request{UserID: uid, TeamID: 15, IsBuy: true, Amount: 2}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	res, err := c.Execute(ctx, trade.Request{UserID: uid, TeamID: 15, IsBuy: false, Amount: 5})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if res.Outcome != trade.OutcomeSold || res.Requested != 5 || res.Shares != 2 || res.Amount != 80 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Balance != 200 || res.Holding != 0 {
		t.Errorf("expected balance 200 and holding 0, got %+v", res)
	}
}

func TestExecute_SellNothingHeld(t *testing.T) {
	c, _, rec, uid := newTestEnv(t)

	res, err := c.Execute(context.Background(), trade.Request{UserID: uid, TeamID: 15, Amount: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != trade.OutcomeNothingHeld || res.Shares != 0 || res.Amount != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(rec.events) != 0 {
		t.Errorf("no event expected, got %+v", rec.events)
	}
}

func TestExecute_Validation(t *testing.T) {
	c, _, _, uid := newTestEnv(t)

	tests := []struct {
		name string
		req  trade.Request
	}{
		{"zero amount", trade.Request{UserID: uid, TeamID: 15, IsBuy: true}},
		{"negative amount", trade.Request{UserID: uid, TeamID: 15, Amount: -1}},
		{"missing user", trade.Request{TeamID: 15, IsBuy: true, Amount: 1}},
		{"missing team", trade.Request{UserID: uid, IsBuy: true, Amount: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Execute(context.Background(), tt.req)
			if !errors.Is(err, trade.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestExecute_NotFound(t *testing.T) {
	c, _, _, uid := newTestEnv(t)

	_, err := c.Execute(context.Background(), trade.Request{UserID: uid, TeamID: 99, IsBuy: true, Amount: 1})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown team, got %v", err)
	}
	_, err = c.Execute(context.Background(), trade.Request{UserID: 999, TeamID: 15, IsBuy: true, Amount: 1})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestExecute_ReadsLatestPrice(t *testing.T) {
	c, ms, _, uid := newTestEnv(t)
	ctx := context.Background()

	if err := ms.SetTeamPrice(15, 60); err != nil {
		t.Fatalf("set price: %v", err)
	}
	res, err := c.Execute(ctx, trade.Request{UserID: uid, TeamID: 15, IsBuy: true, Amount: 1})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if res.Price != 60 || res.Amount != 60 {
		t.Errorf("expected fill at 60, got %+v", res)
	}
}
