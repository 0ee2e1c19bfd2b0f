package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/team-exchange/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for team reads. Team rows only change on ingestion, so writes go to
// the primary store and invalidate the team keys; everything else passes
// straight through.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateTeam(ctx context.Context, t *model.Team) error {
	if err := s.primary.CreateTeam(ctx, t); err != nil {
		return err
	}
	s.rdb.Del(ctx, teamsKey)
	s.cacheJSON(ctx, teamKey(t.ID), t)
	return nil
}

func (s *CachedStore) ApplyTeamResult(ctx context.Context, teamID, matchID int64, fn TeamUpdate) (model.Team, error) {
	prev, err := s.primary.ApplyTeamResult(ctx, teamID, matchID, fn)
	if err != nil {
		return prev, err
	}
	// Next read re-populates.
	s.rdb.Del(ctx, teamsKey, teamKey(teamID), historyKey(teamID))
	return prev, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetTeam(ctx context.Context, id int64) (*model.Team, error) {
	var t model.Team
	if s.readJSON(ctx, teamKey(id), &t) {
		return &t, nil
	}

	team, err := s.primary.GetTeam(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, teamKey(id), team)
	return team, nil
}

func (s *CachedStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	var teams []model.Team
	if s.readJSON(ctx, teamsKey, &teams) {
		return teams, nil
	}

	teams, err := s.primary.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, teamsKey, teams)
	return teams, nil
}

func (s *CachedStore) TeamHistory(ctx context.Context, teamID int64) ([]model.TeamHistory, error) {
	var history []model.TeamHistory
	if s.readJSON(ctx, historyKey(teamID), &history) {
		return history, nil
	}

	history, err := s.primary.TeamHistory(ctx, teamID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, historyKey(teamID), history)
	return history, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.primary.GetUserByUsername(ctx, username)
}

func (s *CachedStore) ListUsers(ctx context.Context) ([]model.UserSummary, error) {
	return s.primary.ListUsers(ctx)
}

func (s *CachedStore) GetUserDetail(ctx context.Context, id int64) (*model.UserDetail, error) {
	return s.primary.GetUserDetail(ctx, id)
}

func (s *CachedStore) GetSettings(ctx context.Context) (model.Settings, bool, error) {
	return s.primary.GetSettings(ctx)
}

func (s *CachedStore) SaveSettings(ctx context.Context, st model.Settings) error {
	return s.primary.SaveSettings(ctx, st)
}

func (s *CachedStore) AdvanceCursor(ctx context.Context, id int64) (int64, error) {
	return s.primary.AdvanceCursor(ctx, id)
}

func (s *CachedStore) TryLockIngestion(ctx context.Context) (func(), bool, error) {
	return s.primary.TryLockIngestion(ctx)
}

func (s *CachedStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.primary.InTx(ctx, fn)
}

// --- Cache helpers ---

func (s *CachedStore) readJSON(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const teamsKey = "teams:all"

func teamKey(id int64) string    { return fmt.Sprintf("team:%d", id) }
func historyKey(id int64) string { return fmt.Sprintf("team:%d:history", id) }
