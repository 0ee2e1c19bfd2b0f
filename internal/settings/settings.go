// Package settings holds the runtime-mutable ingestion configuration: poll
// interval, league id and the processed-match cursor.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atmx/team-exchange/internal/model"
	"github.com/atmx/team-exchange/internal/store"
)

// MinPollInterval is the shortest accepted poll interval.
const MinPollInterval = time.Second

// ErrInvalidSetting is returned for an out-of-range interval or league id.
var ErrInvalidSetting = errors.New("settings: invalid value")

// Store reads and writes settings. Values never written fall back to the
// process defaults.
type Store struct {
	store    store.Store
	defaults model.Settings
	logger   *slog.Logger

	mu sync.Mutex // serializes read-modify-write of interval and league
}

// New creates a settings store. defaults.LastProcessedMatchID is ignored.
func New(st store.Store, defaults model.Settings, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	defaults.LastProcessedMatchID = 0
	return &Store{store: st, defaults: defaults, logger: logger}
}

// Load returns the current settings.
func (s *Store) Load(ctx context.Context) (model.Settings, error) {
	st, ok, err := s.store.GetSettings(ctx)
	if err != nil {
		return model.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return s.defaults, nil
	}
	if st.PollInterval <= 0 {
		st.PollInterval = s.defaults.PollInterval
	}
	if st.LeagueID <= 0 {
		st.LeagueID = s.defaults.LeagueID
	}
	return st, nil
}

// AdvanceCursor raises the cursor to id. A lower id leaves it unchanged.
// It returns the resulting cursor.
func (s *Store) AdvanceCursor(ctx context.Context, id int64) (int64, error) {
	cursor, err := s.store.AdvanceCursor(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("advance cursor: %w", err)
	}
	return cursor, nil
}

// TryLockPass takes the ingestion lock that guards the cursor. ok is false
// while another pass holds it, in this process or another one.
func (s *Store) TryLockPass(ctx context.Context) (release func(), ok bool, err error) {
	release, ok, err = s.store.TryLockIngestion(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("lock ingestion: %w", err)
	}
	return release, ok, nil
}

// SetPollInterval changes how often the ingestion loop runs.
func (s *Store) SetPollInterval(ctx context.Context, d time.Duration) error {
	if d < MinPollInterval {
		return fmt.Errorf("poll interval %s below %s: %w", d, MinPollInterval, ErrInvalidSetting)
	}
	return s.update(ctx, func(st *model.Settings) { st.PollInterval = d })
}

// SetLeagueID changes the league being ingested.
func (s *Store) SetLeagueID(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("league id %d: %w", id, ErrInvalidSetting)
	}
	return s.update(ctx, func(st *model.Settings) { st.LeagueID = id })
}

func (s *Store) update(ctx context.Context, fn func(*model.Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.Load(ctx)
	if err != nil {
		return err
	}
	fn(&st)
	if err := s.store.SaveSettings(ctx, st); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	s.logger.Info("settings updated",
		"poll_interval", st.PollInterval.String(),
		"league_id", st.LeagueID,
	)
	return nil
}
