// Package store defines the persistence interface for the exchange.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/atmx/team-exchange/internal/model"
)

var (
	// ErrNotFound is returned when a user or team does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a unique key (username, team id) is taken.
	ErrConflict = errors.New("store: already exists")

	// ErrAlreadyApplied is returned by ApplyTeamResult when the match has
	// already been applied to that team. Callers treat it as success.
	ErrAlreadyApplied = errors.New("store: match already applied to team")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer for team reads.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user and sets its ID.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUserByUsername retrieves a user by unique username.
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// ListUsers returns every user with net worth at current prices,
	// richest first.
	ListUsers(ctx context.Context) ([]model.UserSummary, error)

	// GetUserDetail returns a user with ownerships and transactions.
	GetUserDetail(ctx context.Context, id int64) (*model.UserDetail, error)

	// --- Teams ---

	// CreateTeam registers a team.
	CreateTeam(ctx context.Context, t *model.Team) error

	// GetTeam retrieves a team by ID.
	GetTeam(ctx context.Context, id int64) (*model.Team, error)

	// ListTeams returns every team, cheapest first.
	ListTeams(ctx context.Context) ([]model.Team, error)

	// TeamHistory returns the price snapshots of a team, oldest first.
	TeamHistory(ctx context.Context, teamID int64) ([]model.TeamHistory, error)

	// ApplyTeamResult locks the team, and unless matchID was applied to it
	// before, writes the team and snapshot computed by fn from the locked
	// row and records (team, match) as applied, all in one atomic unit. It
	// returns the team as it was before the update. If the pair was applied
	// before it returns the current team and ErrAlreadyApplied without
	// calling fn.
	ApplyTeamResult(ctx context.Context, teamID, matchID int64, fn TeamUpdate) (model.Team, error)

	// --- Settings ---

	// GetSettings returns the stored settings. ok is false when none were
	// ever written.
	GetSettings(ctx context.Context) (s model.Settings, ok bool, err error)

	// SaveSettings writes poll interval and league id. The cursor is only
	// ever changed by AdvanceCursor.
	SaveSettings(ctx context.Context, s model.Settings) error

	// AdvanceCursor raises the last processed match id to id if id is
	// greater, and returns the resulting cursor.
	AdvanceCursor(ctx context.Context, id int64) (int64, error)

	// TryLockIngestion takes the ingestion lock without waiting. ok is false
	// while another holder, possibly another process, has it. release must
	// be called once ok is true.
	TryLockIngestion(ctx context.Context) (release func(), ok bool, err error)

	// --- Ledger ---

	// InTx runs fn inside a single atomic unit. Writes made through tx are
	// committed only if fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// TeamUpdate computes the next state of a locked team and the history
// snapshot to append. It must not touch the store.
type TeamUpdate func(current model.Team) (next model.Team, snap model.TeamHistory)

// Tx is the view of the store inside an atomic unit. Reads of a user or
// ownership lock the row until the unit ends.
type Tx interface {
	// LockUser reads a user and holds it for update.
	LockUser(ctx context.Context, id int64) (*model.User, error)

	// Team reads the latest committed state of a team.
	Team(ctx context.Context, id int64) (*model.Team, error)

	// LockOwnership reads a share count (0 when absent) and holds it.
	LockOwnership(ctx context.Context, userID, teamID int64) (int64, error)

	// SetBalance overwrites the balance of a locked user.
	SetBalance(ctx context.Context, userID, balance int64) error

	// SetOwnership writes a share count. A zero count deletes the row.
	SetOwnership(ctx context.Context, userID, teamID, count int64) error

	// AppendTransaction appends an immutable trade record.
	AppendTransaction(ctx context.Context, t *model.Transaction) error
}
