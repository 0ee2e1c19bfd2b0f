package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/team-exchange/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// The tables it expects are described in schema.sql; creating them is left
// to the operator's migration tooling.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens and verifies a connection pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, credential_hash, balance, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		u.Username, u.CredentialHash, u.Balance, u.CreatedAt,
	).Scan(&u.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.Username, ErrConflict)
	}
	return err
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, credential_hash, balance, created_at
		 FROM users WHERE username = $1`, username).
		Scan(&u.ID, &u.Username, &u.CredentialHash, &u.Balance, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err, "user "+username)
	}
	return &u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.UserSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.username, u.balance,
		        u.balance + COALESCE(SUM(o.count * t.price), 0) AS networth
		 FROM users u
		 LEFT JOIN ownerships o ON o.user_id = u.id
		 LEFT JOIN teams t ON t.id = o.team_id
		 GROUP BY u.id, u.username, u.balance
		 ORDER BY networth DESC, u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []model.UserSummary{}
	for rows.Next() {
		var u model.UserSummary
		if err := rows.Scan(&u.ID, &u.Username, &u.Balance, &u.NetWorth); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) GetUserDetail(ctx context.Context, id int64) (*model.UserDetail, error) {
	var d model.UserDetail
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, balance FROM users WHERE id = $1`, id).
		Scan(&d.ID, &d.Username, &d.Balance)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("user %d", id))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT o.team_id, t.name, o.count, t.price
		 FROM ownerships o
		 JOIN teams t ON t.id = o.team_id
		 WHERE o.user_id = $1
		 ORDER BY o.team_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	d.NetWorth = d.Balance
	d.Ownerships = []model.OwnershipView{}
	for rows.Next() {
		var o model.OwnershipView
		if err := rows.Scan(&o.TeamID, &o.TeamName, &o.Count, &o.Price); err != nil {
			return nil, err
		}
		o.Value = o.Count * o.Price
		d.NetWorth += o.Value
		d.Ownerships = append(d.Ownerships, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	txRows, err := s.pool.Query(ctx,
		`SELECT id, user_id, team_id, share_delta, price_at_trade, timestamp
		 FROM transactions WHERE user_id = $1 ORDER BY timestamp`, id)
	if err != nil {
		return nil, err
	}
	defer txRows.Close()

	d.Transactions, err = scanTransactions(txRows)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) CreateTeam(ctx context.Context, t *model.Team) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO teams (id, name, price, wins, losses, points_for, points_against, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Name, t.Price, t.Wins, t.Losses, t.PointsFor, t.PointsAgainst, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("team %d: %w", t.ID, ErrConflict)
	}
	return err
}

const teamColumns = `id, name, price, wins, losses, points_for, points_against, updated_at,
	last_match_id, last_won, last_points_for, last_points_against`

func scanTeam(row pgx.Row, t *model.Team) error {
	return row.Scan(&t.ID, &t.Name, &t.Price, &t.Wins, &t.Losses,
		&t.PointsFor, &t.PointsAgainst, &t.UpdatedAt,
		&t.LastMatchID, &t.LastWon, &t.LastPointsFor, &t.LastPointsAgainst)
}

func (s *PostgresStore) GetTeam(ctx context.Context, id int64) (*model.Team, error) {
	var t model.Team
	if err := scanTeam(s.pool.QueryRow(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1`, id), &t); err != nil {
		return nil, notFound(err, fmt.Sprintf("team %d", id))
	}
	return &t, nil
}

func (s *PostgresStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+teamColumns+` FROM teams ORDER BY price, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	teams := []model.Team{}
	for rows.Next() {
		var t model.Team
		if err := scanTeam(rows, &t); err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *PostgresStore) TeamHistory(ctx context.Context, teamID int64) ([]model.TeamHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, team_id, match_id, price, recorded_at
		 FROM team_history WHERE team_id = $1 ORDER BY recorded_at, match_id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []model.TeamHistory
	for rows.Next() {
		var h model.TeamHistory
		if err := rows.Scan(&h.ID, &h.TeamID, &h.MatchID, &h.Price, &h.RecordedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *PostgresStore) ApplyTeamResult(ctx context.Context, teamID, matchID int64, fn TeamUpdate) (model.Team, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return model.Team{}, err
	}
	defer tx.Rollback(ctx)

	// The row lock serializes concurrent passes on the same team, so each
	// one adds to the standing the previous one committed.
	var current model.Team
	if err := scanTeam(tx.QueryRow(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1 FOR UPDATE`, teamID), &current); err != nil {
		return model.Team{}, notFound(err, fmt.Sprintf("team %d", teamID))
	}

	cmd, err := tx.Exec(ctx,
		`INSERT INTO applied_matches (team_id, match_id, applied_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (team_id, match_id) DO NOTHING`,
		teamID, matchID)
	if err != nil {
		return current, err
	}
	if cmd.RowsAffected() == 0 {
		return current, ErrAlreadyApplied
	}

	next, snap := fn(current)
	if _, err := tx.Exec(ctx,
		`UPDATE teams
		 SET price = $2, wins = $3, losses = $4,
		     points_for = $5, points_against = $6, updated_at = $7,
		     last_match_id = $8, last_won = $9,
		     last_points_for = $10, last_points_against = $11
		 WHERE id = $1`,
		teamID, next.Price, next.Wins, next.Losses,
		next.PointsFor, next.PointsAgainst, next.UpdatedAt,
		next.LastMatchID, next.LastWon, next.LastPointsFor, next.LastPointsAgainst); err != nil {
		return current, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO team_history (id, team_id, match_id, price, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		snap.ID, teamID, matchID, snap.Price, snap.RecordedAt); err != nil {
		return current, err
	}
	return current, tx.Commit(ctx)
}

// ingestionLockKey identifies the advisory lock held for the length of an
// ingestion pass.
const ingestionLockKey int64 = 0x7465616d

// TryLockIngestion takes a session-level advisory lock on a dedicated pool
// connection, so passes started by different processes never overlap.
func (s *PostgresStore) TryLockIngestion(ctx context.Context) (func(), bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, ingestionLockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, ingestionLockKey); err != nil {
			// Closing the session drops the lock with it.
			conn.Conn().Close(ctx)
		}
		conn.Release()
	}
	return release, true, nil
}

func (s *PostgresStore) GetSettings(ctx context.Context) (model.Settings, bool, error) {
	var st model.Settings
	var intervalMs int64
	err := s.pool.QueryRow(ctx,
		`SELECT poll_interval_ms, league_id, last_processed_match_id
		 FROM settings WHERE id = 1`).
		Scan(&intervalMs, &st.LeagueID, &st.LastProcessedMatchID)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}
	st.PollInterval = time.Duration(intervalMs) * time.Millisecond
	return st, true, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, st model.Settings) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (id, poll_interval_ms, league_id, last_processed_match_id)
		 VALUES (1, $1, $2, 0)
		 ON CONFLICT (id) DO UPDATE
		 SET poll_interval_ms = EXCLUDED.poll_interval_ms,
		     league_id = EXCLUDED.league_id`,
		st.PollInterval.Milliseconds(), st.LeagueID)
	return err
}

func (s *PostgresStore) AdvanceCursor(ctx context.Context, id int64) (int64, error) {
	var cursor int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO settings (id, poll_interval_ms, league_id, last_processed_match_id)
		 VALUES (1, 0, 0, $1)
		 ON CONFLICT (id) DO UPDATE
		 SET last_processed_match_id = GREATEST(settings.last_processed_match_id, EXCLUDED.last_processed_match_id)
		 RETURNING last_processed_match_id`, id).Scan(&cursor)
	return cursor, err
}

// InTx runs fn in a read-committed transaction. Row locks taken through
// the Tx serialize concurrent trades on the same account.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := t.tx.QueryRow(ctx,
		`SELECT id, username, credential_hash, balance, created_at
		 FROM users WHERE id = $1
		 FOR UPDATE`, id).
		Scan(&u.ID, &u.Username, &u.CredentialHash, &u.Balance, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("user %d", id))
	}
	return &u, nil
}

func (t *pgTx) Team(ctx context.Context, id int64) (*model.Team, error) {
	var team model.Team
	if err := scanTeam(t.tx.QueryRow(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1`, id), &team); err != nil {
		return nil, notFound(err, fmt.Sprintf("team %d", id))
	}
	return &team, nil
}

func (t *pgTx) LockOwnership(ctx context.Context, userID, teamID int64) (int64, error) {
	var count int64
	err := t.tx.QueryRow(ctx,
		`SELECT count FROM ownerships
		 WHERE user_id = $1 AND team_id = $2
		 FOR UPDATE`, userID, teamID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func (t *pgTx) SetBalance(ctx context.Context, userID, balance int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE users SET balance = $2 WHERE id = $1`, userID, balance)
	return err
}

func (t *pgTx) SetOwnership(ctx context.Context, userID, teamID, count int64) error {
	if count == 0 {
		_, err := t.tx.Exec(ctx,
			`DELETE FROM ownerships WHERE user_id = $1 AND team_id = $2`, userID, teamID)
		return err
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ownerships (user_id, team_id, count)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, team_id) DO UPDATE SET count = EXCLUDED.count`,
		userID, teamID, count)
	return err
}

func (t *pgTx) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, team_id, share_delta, price_at_trade, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		txn.ID, txn.UserID, txn.TeamID, txn.ShareDelta, txn.PriceAtTrade, txn.Timestamp)
	return err
}

// scanTransactions reads pgx rows into Transaction slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTransactions(rows pgxRows) ([]model.Transaction, error) {
	txns := []model.Transaction{}
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.TeamID, &t.ShareDelta,
			&t.PriceAtTrade, &t.Timestamp); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
