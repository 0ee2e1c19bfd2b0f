// Package registry owns team standings and prices. It is the only writer
// of team rows: prices change when a match result is applied here and
// nowhere else.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/team-exchange/internal/model"
	"github.com/atmx/team-exchange/internal/pricing"
	"github.com/atmx/team-exchange/internal/store"
)

// ErrInvalidTeam is returned by Register for a bad id or name.
var ErrInvalidTeam = errors.New("registry: team id must be positive and name non-empty")

// Update describes the effect of applying one side of a match.
// Applied is false when that side had already been applied before.
type Update struct {
	TeamID   int64
	MatchID  int64
	Applied  bool
	OldPrice int64
	NewPrice int64
	Standing pricing.Standing
}

// Registry reads and mutates teams through a store.
type Registry struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a registry. A nil logger uses slog.Default().
func New(st store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  st,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register adds a team with an empty standing. A zero price uses
// pricing.InitialPrice.
func (r *Registry) Register(ctx context.Context, id int64, name string, price int64) (*model.Team, error) {
	name = strings.TrimSpace(name)
	if id <= 0 || name == "" || price < 0 {
		return nil, ErrInvalidTeam
	}
	if price == 0 {
		price = pricing.InitialPrice
	}

	team := &model.Team{
		ID:        id,
		Name:      name,
		Price:     price,
		UpdatedAt: r.now(),
	}
	if err := r.store.CreateTeam(ctx, team); err != nil {
		return nil, err
	}

	r.logger.Info("team registered", "team", id, "name", name, "price", price)
	return team, nil
}

// List returns every team with its price history, cheapest first.
func (r *Registry) List(ctx context.Context) ([]model.TeamView, error) {
	teams, err := r.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]model.TeamView, 0, len(teams))
	for _, t := range teams {
		history, err := r.history(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, model.TeamView{Team: t, History: history})
	}
	return views, nil
}

// Get returns one team with its price history.
func (r *Registry) Get(ctx context.Context, id int64) (*model.TeamView, error) {
	t, err := r.store.GetTeam(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := r.history(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.TeamView{Team: *t, History: history}, nil
}

func (r *Registry) history(ctx context.Context, id int64) ([]model.TeamHistory, error) {
	history, err := r.store.TeamHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("history of team %d: %w", id, err)
	}
	if history == nil {
		history = []model.TeamHistory{}
	}
	return history, nil
}

// KnownIDs returns the set of registered team ids.
func (r *Registry) KnownIDs(ctx context.Context) (map[int64]bool, error) {
	teams, err := r.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]bool, len(teams))
	for _, t := range teams {
		ids[t.ID] = true
	}
	return ids, nil
}

// ApplyResult adds one side of a finished match to the team's standing,
// reprices it and appends a history snapshot. The standing is read and
// written under the store's lock on the team, so concurrent passes never
// lose each other's results. Applying the same (team, match) twice is a
// no-op that returns an Update with Applied false.
//
// The price is weighed by the newest applied game: a match older than the
// team's last one, retried after a failure, adds to the totals but leaves
// the newest game as the recency term.
func (r *Registry) ApplyResult(ctx context.Context, res model.TeamResult) (Update, error) {
	game := pricing.Game{
		Won:           res.Won,
		PointsFor:     res.PointsFor,
		PointsAgainst: res.PointsAgainst,
	}

	var next model.Team
	prev, err := r.store.ApplyTeamResult(ctx, res.TeamID, res.MatchID,
		func(team model.Team) (model.Team, model.TeamHistory) {
			next = nextTeam(team, res.MatchID, game, r.now())
			return next, model.TeamHistory{
				ID:         uuid.New().String(),
				TeamID:     team.ID,
				MatchID:    res.MatchID,
				Price:      next.Price,
				RecordedAt: next.UpdatedAt,
			}
		})
	if errors.Is(err, store.ErrAlreadyApplied) {
		r.logger.Debug("match already applied", "team", res.TeamID, "match", res.MatchID)
		return Update{
			TeamID:   res.TeamID,
			MatchID:  res.MatchID,
			OldPrice: prev.Price,
			NewPrice: prev.Price,
			Standing: standingOf(prev),
		}, nil
	}
	if err != nil {
		return Update{}, fmt.Errorf("apply match %d to team %d: %w", res.MatchID, res.TeamID, err)
	}

	u := Update{
		TeamID:   res.TeamID,
		MatchID:  res.MatchID,
		Applied:  true,
		OldPrice: prev.Price,
		NewPrice: next.Price,
		Standing: standingOf(next),
	}
	r.logger.Info("team repriced",
		"team", res.TeamID,
		"match", res.MatchID,
		"won", res.Won,
		"old_price", u.OldPrice,
		"new_price", u.NewPrice,
		"wins", u.Standing.Wins,
		"losses", u.Standing.Losses,
	)
	return u, nil
}

func standingOf(t model.Team) pricing.Standing {
	return pricing.Standing{
		Wins:          t.Wins,
		Losses:        t.Losses,
		PointsFor:     t.PointsFor,
		PointsAgainst: t.PointsAgainst,
	}
}

// nextTeam adds game to the team's totals and reprices it.
func nextTeam(team model.Team, matchID int64, game pricing.Game, now time.Time) model.Team {
	standing := standingOf(team).Add(game)

	next := team
	next.Wins = standing.Wins
	next.Losses = standing.Losses
	next.PointsFor = standing.PointsFor
	next.PointsAgainst = standing.PointsAgainst
	next.UpdatedAt = now

	if matchID > team.LastMatchID {
		next.LastMatchID = matchID
		next.LastWon = game.Won
		next.LastPointsFor = game.PointsFor
		next.LastPointsAgainst = game.PointsAgainst
	}
	latest := pricing.Game{
		Won:           next.LastWon,
		PointsFor:     next.LastPointsFor,
		PointsAgainst: next.LastPointsAgainst,
	}
	next.Price = pricing.NextPrice(standing, latest)
	return next
}
