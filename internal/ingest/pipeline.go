// Package ingest pulls finished league matches from the Steam API and
// applies them to the team registry.
//
// A pass lists the league's matches newest-first until it reaches the
// persisted cursor, then applies the newly discovered matches oldest-first.
// Each side of a match is applied idempotently, so a pass that is cut short
// can simply be run again. The cursor only moves past matches that were
// skipped or applied; a failed match holds it back and is retried next pass.
// A retried match adds to its teams' totals, while the newest applied game
// keeps weighing the price.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/atmx/team-exchange/internal/feed"
	"github.com/atmx/team-exchange/internal/metrics"
	"github.com/atmx/team-exchange/internal/model"
	"github.com/atmx/team-exchange/internal/registry"
	"github.com/atmx/team-exchange/internal/settings"
	"github.com/atmx/team-exchange/internal/steam"
)

// DefaultMaxPages bounds how many listing pages one pass may fetch.
const DefaultMaxPages = 20

// ErrNoLeague is returned when no league id is configured.
var ErrNoLeague = errors.New("ingest: no league id configured")

// MatchSource lists league matches and fetches match outcomes.
// *steam.Client implements it.
type MatchSource interface {
	MatchHistory(ctx context.Context, leagueID, startAt int64) (*steam.HistoryPage, error)
	MatchDetails(ctx context.Context, matchID int64) (*steam.MatchDetail, error)
}

// Publisher receives price updates. *feed.Hub implements it.
type Publisher interface {
	Publish(ev feed.Event)
}

// State is the final state of a discovered match within a pass.
type State string

const (
	StateSkipped State = "skipped"
	StateApplied State = "applied"
	StateFailed  State = "failed"
)

// Report summarizes one pass.
type Report struct {
	LeagueID   int64 `json:"league_id"`
	Pages      int   `json:"pages"`
	Discovered int   `json:"discovered"`
	Skipped    int   `json:"skipped"`
	Applied    int   `json:"applied"`
	Failed     int   `json:"failed"`

	// Complete is false when the listing was cut short by the page bound,
	// a listing error or cancellation. The cursor is not moved then.
	// Cancellation after listing only stops the processing of further
	// matches; the cursor still covers the ones completed.
	Complete   bool  `json:"complete"`
	PrevCursor int64 `json:"prev_cursor"`
	Cursor     int64 `json:"cursor"`
}

// Pipeline runs ingestion passes.
type Pipeline struct {
	source    MatchSource
	registry  *registry.Registry
	settings  *settings.Store
	publisher Publisher
	maxPages  int
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. publisher may be nil. maxPages <= 0 uses
// DefaultMaxPages.
func NewPipeline(src MatchSource, reg *registry.Registry, st *settings.Store, pub Publisher, maxPages int, logger *slog.Logger) *Pipeline {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:    src,
		registry:  reg,
		settings:  st,
		publisher: pub,
		maxPages:  maxPages,
		logger:    logger,
	}
}

// RunPass runs one ingestion pass. Failures of individual matches are
// counted in the report and never returned; an error means the pass could
// not list matches or persist the cursor.
func (p *Pipeline) RunPass(ctx context.Context) (Report, error) {
	st, err := p.settings.Load(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{
		LeagueID:   st.LeagueID,
		PrevCursor: st.LastProcessedMatchID,
		Cursor:     st.LastProcessedMatchID,
	}
	if st.LeagueID <= 0 {
		return rep, ErrNoLeague
	}

	known, err := p.registry.KnownIDs(ctx)
	if err != nil {
		return rep, fmt.Errorf("load teams: %w", err)
	}

	discovered, complete, listErr := p.scan(ctx, st, &rep)
	rep.Discovered = len(discovered)
	rep.Complete = complete

	// Oldest first so cumulative standings evolve in match order.
	sort.Slice(discovered, func(i, j int) bool {
		return discovered[i].MatchID < discovered[j].MatchID
	})

	advanceTo := st.LastProcessedMatchID
	prefixOK := true
	for _, m := range discovered {
		if ctx.Err() != nil {
			break
		}
		state := p.process(ctx, m, known)
		metrics.IngestMatches.WithLabelValues(string(state)).Inc()
		switch state {
		case StateSkipped:
			rep.Skipped++
		case StateApplied:
			rep.Applied++
		case StateFailed:
			rep.Failed++
			prefixOK = false
		}
		if prefixOK {
			advanceTo = m.MatchID
		}
	}

	// A truncated listing may hide older unprocessed matches above the
	// cursor, so only a complete scan may move it.
	if rep.Complete && advanceTo > st.LastProcessedMatchID {
		// Registry writes for the pass are committed; persist even if ctx
		// was cancelled meanwhile.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		cursor, err := p.settings.AdvanceCursor(wctx, advanceTo)
		cancel()
		if err != nil {
			return rep, err
		}
		rep.Cursor = cursor
	}
	metrics.IngestCursor.Set(float64(rep.Cursor))

	if listErr != nil {
		return rep, listErr
	}
	return rep, nil
}

// scan walks the listing newest-first and returns matches above the cursor.
// complete reports whether the walk reached the cursor or the end of the
// listing.
func (p *Pipeline) scan(ctx context.Context, st model.Settings, rep *Report) ([]steam.MatchSummary, bool, error) {
	cursor := st.LastProcessedMatchID
	seen := make(map[int64]bool)
	var discovered []steam.MatchSummary

	var startAt int64
	for rep.Pages < p.maxPages {
		if err := ctx.Err(); err != nil {
			return discovered, false, err
		}

		page, err := p.source.MatchHistory(ctx, st.LeagueID, startAt)
		if err != nil {
			p.logger.Error("match listing failed",
				"league", st.LeagueID,
				"page", rep.Pages,
				"start_at", startAt,
				"err", err,
			)
			return discovered, false, fmt.Errorf("list matches: %w", err)
		}
		rep.Pages++

		if len(page.Matches) == 0 {
			return discovered, true, nil
		}

		oldest := page.Matches[0].MatchID
		for _, m := range page.Matches {
			if m.MatchID <= cursor {
				return discovered, true, nil
			}
			if m.MatchID < oldest {
				oldest = m.MatchID
			}
			if seen[m.MatchID] {
				continue
			}
			seen[m.MatchID] = true
			discovered = append(discovered, m)
		}

		if page.ResultsRemaining <= 0 {
			return discovered, true, nil
		}
		next := oldest - 1
		if next <= cursor || (startAt > 0 && next >= startAt) {
			// Nothing above the cursor left, or the listing is not moving.
			return discovered, next <= cursor, nil
		}
		startAt = next
	}

	// The cursor stays put until a pass reaches it, so a backlog deeper
	// than the page bound is re-listed every pass.
	p.logger.Error("match listing truncated before reaching the cursor; raise INGEST_MAX_PAGES",
		"league", st.LeagueID,
		"pages", rep.Pages,
		"max_pages", p.maxPages,
		"discovered", len(discovered),
		"next_start_at", startAt,
		"cursor", cursor,
	)
	return discovered, false, nil
}

// process fetches and applies one discovered match.
func (p *Pipeline) process(ctx context.Context, m steam.MatchSummary, known map[int64]bool) State {
	if !known[m.RadiantTeamID] && !known[m.DireTeamID] {
		return StateSkipped
	}

	log := p.logger.With("match", m.MatchID)

	detail, err := p.source.MatchDetails(ctx, m.MatchID)
	if err != nil {
		log.Error("match detail fetch failed", "err", err)
		return StateFailed
	}

	sides := []model.TeamResult{
		{
			TeamID:        detail.RadiantTeamID,
			MatchID:       m.MatchID,
			Won:           detail.RadiantWin,
			PointsFor:     detail.RadiantScore,
			PointsAgainst: detail.DireScore,
		},
		{
			TeamID:        detail.DireTeamID,
			MatchID:       m.MatchID,
			Won:           !detail.RadiantWin,
			PointsFor:     detail.DireScore,
			PointsAgainst: detail.RadiantScore,
		},
	}

	applied := 0
	for _, side := range sides {
		if !known[side.TeamID] {
			continue
		}
		u, err := p.registry.ApplyResult(ctx, side)
		if err != nil {
			log.Error("apply match result failed", "team", side.TeamID, "err", err)
			return StateFailed
		}
		applied++
		if !u.Applied {
			continue
		}
		metrics.TeamPrice.WithLabelValues(strconv.FormatInt(u.TeamID, 10)).Set(float64(u.NewPrice))
		if p.publisher != nil {
			p.publisher.Publish(feed.Event{
				Type:     feed.TypePriceUpdated,
				TeamID:   u.TeamID,
				Price:    u.NewPrice,
				OldPrice: u.OldPrice,
				MatchID:  m.MatchID,
			})
		}
	}

	if applied == 0 {
		// The listing named a registered team but the detail did not.
		log.Warn("match detail has no registered team",
			"radiant", detail.RadiantTeamID,
			"dire", detail.DireTeamID,
		)
		return StateSkipped
	}
	return StateApplied
}
