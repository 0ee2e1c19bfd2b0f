package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/atmx/team-exchange/internal/metrics"
	"github.com/atmx/team-exchange/internal/settings"
)

// ErrPassInProgress is returned by RunOnce while another pass is running.
var ErrPassInProgress = errors.New("ingest: pass already in progress")

// fallbackInterval is used when settings cannot be read between passes.
const fallbackInterval = time.Minute

// Passer runs a single ingestion pass. *Pipeline implements it.
type Passer interface {
	RunPass(ctx context.Context) (Report, error)
}

// Runner schedules passes so that they never overlap.
type Runner struct {
	pass     Passer
	settings *settings.Store
	logger   *slog.Logger

	mu sync.Mutex
}

// NewRunner creates a runner. A nil logger uses slog.Default().
func NewRunner(pass Passer, st *settings.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{pass: pass, settings: st, logger: logger}
}

// RunOnce runs one pass now, or returns ErrPassInProgress when a pass is
// already running here or in another process sharing the store.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	if !r.mu.TryLock() {
		metrics.IngestPasses.WithLabelValues("skipped").Inc()
		return Report{}, ErrPassInProgress
	}
	defer r.mu.Unlock()

	release, ok, err := r.settings.TryLockPass(ctx)
	if err != nil {
		metrics.IngestPasses.WithLabelValues("error").Inc()
		return Report{}, err
	}
	if !ok {
		metrics.IngestPasses.WithLabelValues("skipped").Inc()
		return Report{}, ErrPassInProgress
	}
	defer release()

	start := time.Now()
	rep, err := r.pass.RunPass(ctx)
	elapsed := time.Since(start)
	metrics.IngestDuration.Observe(elapsed.Seconds())

	if err != nil {
		metrics.IngestPasses.WithLabelValues("error").Inc()
		r.logger.Error("ingestion pass failed",
			"err", err,
			"league", rep.LeagueID,
			"applied", rep.Applied,
			"failed", rep.Failed,
			"cursor", rep.Cursor,
		)
		return rep, err
	}

	metrics.IngestPasses.WithLabelValues("ok").Inc()
	r.logger.Info("ingestion pass complete",
		"league", rep.LeagueID,
		"pages", rep.Pages,
		"discovered", rep.Discovered,
		"skipped", rep.Skipped,
		"applied", rep.Applied,
		"failed", rep.Failed,
		"complete", rep.Complete,
		"cursor", rep.Cursor,
		"duration", elapsed.String(),
	)
	return rep, nil
}

// Run runs a pass, waits the configured poll interval and repeats until
// ctx is done. The interval is re-read before every wait so operator
// changes apply without a restart. Pass errors are logged and never stop
// the loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("ingestion loop started")
	for {
		if _, err := r.RunOnce(ctx); errors.Is(err, ErrPassInProgress) {
			r.logger.Warn("ingestion pass already in progress, skipping")
		}

		interval := fallbackInterval
		if st, err := r.settings.Load(ctx); err != nil {
			r.logger.Error("load poll interval failed", "err", err)
		} else {
			interval = max(st.PollInterval, settings.MinPollInterval)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("ingestion loop stopped")
			return nil
		case <-timer.C:
		}
	}
}
