package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/team-exchange/internal/model"
)

type ownKey struct {
	userID int64
	teamID int64
}

type appliedKey struct {
	teamID  int64
	matchID int64
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[int64]*model.User
	usernames  map[string]int64
	nextUserID int64
	teams      map[int64]*model.Team
	history    []model.TeamHistory
	applied    map[appliedKey]bool
	owns       map[ownKey]int64
	txns       []model.Transaction
	settings   model.Settings
	hasSetting bool

	ingestMu sync.Mutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]*model.User),
		usernames: make(map[string]int64),
		teams:     make(map[int64]*model.Team),
		applied:   make(map[appliedKey]bool),
		owns:      make(map[ownKey]int64),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usernames[u.Username]; ok {
		return fmt.Errorf("user %s: %w", u.Username, ErrConflict)
	}
	s.nextUserID++
	u.ID = s.nextUserID

	// Store a copy to avoid external mutation.
	copy := *u
	s.users[u.ID] = &copy
	s.usernames[u.Username] = u.ID
	return nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	copy := *s.users[id]
	return &copy, nil
}

// GetUser is a test convenience returning the raw user row.
func (s *MemoryStore) GetUser(_ context.Context, id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	copy := *u
	return &copy, nil
}

// Ownership is a test convenience returning a single share count.
func (s *MemoryStore) Ownership(userID, teamID int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owns[ownKey{userID, teamID}]
}

// Transactions is a test convenience returning all trades of a user.
func (s *MemoryStore) Transactions(userID int64) []model.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.txns {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result
}

// SetTeamPrice overwrites a team price. Used by tests to simulate an
// ingestion update racing a trade.
func (s *MemoryStore) SetTeamPrice(id, price int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[id]
	if !ok {
		return fmt.Errorf("team %d: %w", id, ErrNotFound)
	}
	t.Price = price
	return nil
}

// netWorthLocked must be called with s.mu held.
func (s *MemoryStore) netWorthLocked(u *model.User) int64 {
	worth := u.Balance
	for k, count := range s.owns {
		if k.userID != u.ID {
			continue
		}
		if t, ok := s.teams[k.teamID]; ok {
			worth += count * t.Price
		}
	}
	return worth
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.UserSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.UserSummary, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, model.UserSummary{
			ID:       u.ID,
			Username: u.Username,
			Balance:  u.Balance,
			NetWorth: s.netWorthLocked(u),
		})
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].NetWorth != users[j].NetWorth {
			return users[i].NetWorth > users[j].NetWorth
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (s *MemoryStore) GetUserDetail(_ context.Context, id int64) (*model.UserDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}

	detail := &model.UserDetail{
		UserSummary: model.UserSummary{
			ID:       u.ID,
			Username: u.Username,
			Balance:  u.Balance,
			NetWorth: s.netWorthLocked(u),
		},
		Ownerships:   []model.OwnershipView{},
		Transactions: []model.Transaction{},
	}
	for k, count := range s.owns {
		if k.userID != id {
			continue
		}
		view := model.OwnershipView{TeamID: k.teamID, Count: count}
		if t, ok := s.teams[k.teamID]; ok {
			view.TeamName = t.Name
			view.Price = t.Price
			view.Value = count * t.Price
		}
		detail.Ownerships = append(detail.Ownerships, view)
	}
	sort.Slice(detail.Ownerships, func(i, j int) bool {
		return detail.Ownerships[i].TeamID < detail.Ownerships[j].TeamID
	})
	for _, t := range s.txns {
		if t.UserID == id {
			detail.Transactions = append(detail.Transactions, t)
		}
	}
	return detail, nil
}

func (s *MemoryStore) CreateTeam(_ context.Context, t *model.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[t.ID]; ok {
		return fmt.Errorf("team %d: %w", t.ID, ErrConflict)
	}
	copy := *t
	s.teams[t.ID] = &copy
	return nil
}

func (s *MemoryStore) GetTeam(_ context.Context, id int64) (*model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[id]
	if !ok {
		return nil, fmt.Errorf("team %d: %w", id, ErrNotFound)
	}
	copy := *t
	return &copy, nil
}

func (s *MemoryStore) ListTeams(_ context.Context) ([]model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teams := make([]model.Team, 0, len(s.teams))
	for _, t := range s.teams {
		teams = append(teams, *t)
	}
	sort.Slice(teams, func(i, j int) bool {
		if teams[i].Price != teams[j].Price {
			return teams[i].Price < teams[j].Price
		}
		return teams[i].ID < teams[j].ID
	})
	return teams, nil
}

func (s *MemoryStore) TeamHistory(_ context.Context, teamID int64) ([]model.TeamHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TeamHistory
	for _, h := range s.history {
		if h.TeamID == teamID {
			result = append(result, h)
		}
	}
	return result, nil
}

func (s *MemoryStore) ApplyTeamResult(_ context.Context, teamID, matchID int64, fn TeamUpdate) (model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok {
		return model.Team{}, fmt.Errorf("team %d: %w", teamID, ErrNotFound)
	}
	current := *t
	key := appliedKey{teamID: teamID, matchID: matchID}
	if s.applied[key] {
		return current, ErrAlreadyApplied
	}

	next, snap := fn(current)
	next.ID = teamID
	s.teams[teamID] = &next
	s.history = append(s.history, snap)
	s.applied[key] = true
	return current, nil
}

func (s *MemoryStore) TryLockIngestion(context.Context) (func(), bool, error) {
	if !s.ingestMu.TryLock() {
		return nil, false, nil
	}
	return s.ingestMu.Unlock, true, nil
}

func (s *MemoryStore) GetSettings(_ context.Context) (model.Settings, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, s.hasSetting, nil
}

func (s *MemoryStore) SaveSettings(_ context.Context, in model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.PollInterval = in.PollInterval
	s.settings.LeagueID = in.LeagueID
	s.hasSetting = true
	return nil
}

func (s *MemoryStore) AdvanceCursor(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id > s.settings.LastProcessedMatchID {
		s.settings.LastProcessedMatchID = id
	}
	s.hasSetting = true
	return s.settings.LastProcessedMatchID, nil
}

// InTx holds the store's write lock for the duration of fn and applies
// the staged writes only when fn succeeds.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:        s,
		balances: make(map[int64]int64),
		owns:     make(map[ownKey]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, balance := range tx.balances {
		s.users[id].Balance = balance
	}
	for k, count := range tx.owns {
		if count == 0 {
			delete(s.owns, k)
			continue
		}
		s.owns[k] = count
	}
	s.txns = append(s.txns, tx.txns...)
	return nil
}

// memTx stages writes on top of the locked MemoryStore.
type memTx struct {
	s        *MemoryStore
	balances map[int64]int64
	owns     map[ownKey]int64
	txns     []model.Transaction
}

func (t *memTx) LockUser(_ context.Context, id int64) (*model.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	copy := *u
	if b, ok := t.balances[id]; ok {
		copy.Balance = b
	}
	return &copy, nil
}

func (t *memTx) Team(_ context.Context, id int64) (*model.Team, error) {
	team, ok := t.s.teams[id]
	if !ok {
		return nil, fmt.Errorf("team %d: %w", id, ErrNotFound)
	}
	copy := *team
	return &copy, nil
}

func (t *memTx) LockOwnership(_ context.Context, userID, teamID int64) (int64, error) {
	k := ownKey{userID, teamID}
	if count, ok := t.owns[k]; ok {
		return count, nil
	}
	return t.s.owns[k], nil
}

func (t *memTx) SetBalance(_ context.Context, userID, balance int64) error {
	if _, ok := t.s.users[userID]; !ok {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if balance < 0 {
		return fmt.Errorf("user %d: negative balance %d", userID, balance)
	}
	t.balances[userID] = balance
	return nil
}

func (t *memTx) SetOwnership(_ context.Context, userID, teamID, count int64) error {
	if count < 0 {
		return fmt.Errorf("ownership %d/%d: negative count %d", userID, teamID, count)
	}
	t.owns[ownKey{userID, teamID}] = count
	return nil
}

func (t *memTx) AppendTransaction(_ context.Context, txn *model.Transaction) error {
	t.txns = append(t.txns, *txn)
	return nil
}
