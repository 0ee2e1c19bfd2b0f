package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/atmx/team-exchange/internal/model"
	"github.com/atmx/team-exchange/internal/pricing"
	"github.com/atmx/team-exchange/internal/registry"
	"github.com/atmx/team-exchange/internal/store"
)

func newTestRegistry(t *testing.T) (*registry.Registry, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return registry.New(ms, nil), ms
}

func TestRegister_DefaultsInitialPrice(t *testing.T) {
	r, _ := newTestRegistry(t)

	team, err := r.Register(context.Background(), 15, "  Team Liquid ", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if team.Price != pricing.InitialPrice {
		t.Errorf("expected initial price %d, got %d", pricing.InitialPrice, team.Price)
	}
	if team.Name != "Team Liquid" {
		t.Errorf("expected trimmed name, got %q", team.Name)
	}
}

func TestRegister_Validation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Register(ctx, 0, "x", 0); !errors.Is(err, registry.ErrInvalidTeam) {
		t.Errorf("zero id: expected ErrInvalidTeam, got %v", err)
	}
	if _, err := r.Register(ctx, 1, " ", 0); !errors.Is(err, registry.ErrInvalidTeam) {
		t.Errorf("blank name: expected ErrInvalidTeam, got %v", err)
	}
	if _, err := r.Register(ctx, 1, "x", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register(ctx, 1, "x", 0); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate: expected ErrConflict, got %v", err)
	}
}

func TestApplyResult_UsesUpdatedCumulativeTotals(t *testing.T) {
	r, ms := newTestRegistry(t)
	ctx := context.Background()

	// Prior standing 1-0, 60-40. After a 40-20 win: 2-0, 100-60.
	seed := &model.Team{ID: 9, Name: "OG", Price: 80, Wins: 1, PointsFor: 60, PointsAgainst: 40}
	if err := ms.CreateTeam(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	u, err := r.ApplyResult(ctx, model.TeamResult{
		TeamID: 9, MatchID: 1000, Won: true, PointsFor: 40, PointsAgainst: 20,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !u.Applied {
		t.Fatal("expected Applied")
	}

	want := pricing.NextPrice(
		pricing.Standing{Wins: 2, Losses: 0, PointsFor: 100, PointsAgainst: 60},
		pricing.Game{Won: true, PointsFor: 40, PointsAgainst: 20},
	)
	if u.NewPrice != want || u.OldPrice != 80 {
		t.Errorf("expected 80 -> %d, got %d -> %d", want, u.OldPrice, u.NewPrice)
	}

	team, err := ms.GetTeam(ctx, 9)
	if err != nil {
		t.Fatalf("get team: %v", err)
	}
	if team.Wins != 2 || team.Losses != 0 || team.PointsFor != 100 || team.PointsAgainst != 60 {
		t.Errorf("unexpected standing: %+v", team)
	}
	if team.Price != want {
		t.Errorf("expected stored price %d, got %d", want, team.Price)
	}

	history, _ := ms.TeamHistory(ctx, 9)
	if len(history) != 1 || history[0].MatchID != 1000 || history[0].Price != want {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestApplyResult_Idempotent(t *testing.T) {
	r, ms := newTestRegistry(t)
	ctx := context.Background()
	if _, err := r.Register(ctx, 9, "OG", 0); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := model.TeamResult{TeamID: 9, MatchID: 1000, Won: false, PointsFor: 12, PointsAgainst: 30}
	first, err := r.ApplyResult(ctx, res)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := r.ApplyResult(ctx, res)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if second.Applied {
		t.Error("second apply should be a no-op")
	}
	if second.NewPrice != first.NewPrice {
		t.Errorf("replay changed price: %d vs %d", second.NewPrice, first.NewPrice)
	}

	team, _ := ms.GetTeam(ctx, 9)
	if team.Losses != 1 || team.PointsAgainst != 30 {
		t.Errorf("standing double counted: %+v", team)
	}
	history, _ := ms.TeamHistory(ctx, 9)
	if len(history) != 1 {
		t.Errorf("expected 1 history row, got %d", len(history))
	}
}

func TestApplyResult_UnknownTeam(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.ApplyResult(context.Background(), model.TeamResult{TeamID: 404, MatchID: 1})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndKnownIDs(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, tc := range []struct {
		id    int64
		price int64
	}{{3, 70}, {1, 40}, {2, 55}} {
		if _, err := r.Register(ctx, tc.id, "t", tc.price); err != nil {
			t.Fatalf("register %d: %v", tc.id, err)
		}
	}

	views, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 3 || views[0].ID != 1 || views[2].ID != 3 {
		t.Errorf("expected cheapest first, got %+v", views)
	}
	for _, v := range views {
		if v.History == nil {
			t.Errorf("team %d: history should be an empty slice, not nil", v.ID)
		}
	}

	ids, err := r.KnownIDs(ctx)
	if err != nil {
		t.Fatalf("known ids: %v", err)
	}
	if len(ids) != 3 || !ids[1] || !ids[2] || !ids[3] || ids[4] {
		t.Errorf("unexpected id set: %v", ids)
	}

	if _, err := r.Get(ctx, 4); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyResult_ConcurrentRegistriesKeepEveryMatch(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	if err := ms.CreateTeam(ctx, &model.Team{ID: 1, Name: "Tundra", Price: 50}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Two passes, as from two processes, apply disjoint matches at once.
	const perPass = 500
	var wg sync.WaitGroup
	for pass := int64(0); pass < 2; pass++ {
		pass := pass
		r := registry.New(ms, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(0); i < perPass; i++ {
				matchID := pass*perPass + i + 1
				if _, err := r.ApplyResult(ctx, model.TeamResult{
					TeamID: 1, MatchID: matchID, Won: true, PointsFor: 1,
				}); err != nil {
					t.Errorf("apply match %d: %v", matchID, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	team, err := ms.GetTeam(ctx, 1)
	if err != nil {
		t.Fatalf("get team: %v", err)
	}
	if team.Wins != 2*perPass || team.PointsFor != 2*perPass {
		t.Errorf("expected %d wins and points, got wins=%d points_for=%d", 2*perPass, team.Wins, team.PointsFor)
	}
	history, _ := ms.TeamHistory(ctx, 1)
	if len(history) != 2*perPass {
		t.Errorf("expected %d history rows, got %d", 2*perPass, len(history))
	}
}

func TestApplyResult_OlderMatchKeepsNewestGameWeight(t *testing.T) {
	r, ms := newTestRegistry(t)
	ctx := context.Background()
	if _, err := r.Register(ctx, 9, "OG", 0); err != nil {
		t.Fatalf("register: %v", err)
	}

	newest := model.TeamResult{TeamID: 9, MatchID: 60, Won: true, PointsFor: 40, PointsAgainst: 20}
	older := model.TeamResult{TeamID: 9, MatchID: 30, Won: false, PointsFor: 10, PointsAgainst: 35}
	if _, err := r.ApplyResult(ctx, newest); err != nil {
		t.Fatalf("apply newest: %v", err)
	}
	u, err := r.ApplyResult(ctx, older)
	if err != nil {
		t.Fatalf("apply older: %v", err)
	}

	want := pricing.NextPrice(
		pricing.Standing{Wins: 1, Losses: 1, PointsFor: 50, PointsAgainst: 55},
		pricing.Game{Won: true, PointsFor: 40, PointsAgainst: 20},
	)
	if u.NewPrice != want {
		t.Errorf("expected price weighed by match 60 (%d), got %d", want, u.NewPrice)
	}

	team, _ := ms.GetTeam(ctx, 9)
	if team.LastMatchID != 60 || !team.LastWon || team.Price != want {
		t.Errorf("unexpected team after late match: %+v", team)
	}
	if team.Wins != 1 || team.Losses != 1 {
		t.Errorf("late match not counted: %+v", team)
	}
}
