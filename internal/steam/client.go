// Package steam is a client for the Dota 2 match endpoints of the Steam
// Web API (IDOTA2Match_570). Responses are decoded into typed structs;
// a body that does not carry the expected fields is ErrMalformedResponse
// and is never retried.
package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrMalformedResponse is returned when a response body cannot be
	// decoded or lacks a required field.
	ErrMalformedResponse = errors.New("steam: malformed response")

	// ErrUnavailable is returned when the API cannot be reached or keeps
	// failing after all retries, or rejects the request outright.
	ErrUnavailable = errors.New("steam: api unavailable")
)

// DefaultBaseURL is the public Steam Web API host.
const DefaultBaseURL = "https://api.steampowered.com"

const maxBodyBytes = 4 << 20

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration // per request
	MaxRetries uint64

	// InitialBackoff and MaxElapsed tune the exponential backoff between
	// retries. Zero values use 500ms and 1 minute.
	InitialBackoff time.Duration
	MaxElapsed     time.Duration
}

// Client fetches league match listings and match details.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a client. A nil logger uses slog.Default().
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// MatchSummary is one entry of a league match listing.
type MatchSummary struct {
	MatchID       int64
	RadiantTeamID int64
	DireTeamID    int64
}

// HistoryPage is one page of a league match listing, newest first.
type HistoryPage struct {
	ResultsRemaining int64
	Matches          []MatchSummary
}

// MatchDetail is the outcome of a finished match.
type MatchDetail struct {
	MatchID       int64
	RadiantWin    bool
	RadiantScore  int64
	DireScore     int64
	RadiantTeamID int64
	DireTeamID    int64
}

type historyResponse struct {
	Result *struct {
		Status           *int   `json:"status"`
		StatusDetail     string `json:"statusDetail"`
		ResultsRemaining *int64 `json:"results_remaining"`
		Matches          []struct {
			MatchID       *int64 `json:"match_id"`
			RadiantTeamID int64  `json:"radiant_team_id"`
			DireTeamID    int64  `json:"dire_team_id"`
		} `json:"matches"`
	} `json:"result"`
}

type detailResponse struct {
	Result *struct {
		Error         string `json:"error"`
		MatchID       int64  `json:"match_id"`
		RadiantWin    *bool  `json:"radiant_win"`
		RadiantScore  *int64 `json:"radiant_score"`
		DireScore     *int64 `json:"dire_score"`
		RadiantTeamID *int64 `json:"radiant_team_id"`
		DireTeamID    *int64 `json:"dire_team_id"`
	} `json:"result"`
}

// MatchHistory fetches one page of the league's match listing. startAt of
// zero fetches the newest page; otherwise the page starts at that match id.
func (c *Client) MatchHistory(ctx context.Context, leagueID, startAt int64) (*HistoryPage, error) {
	q := url.Values{}
	q.Set("league_id", strconv.FormatInt(leagueID, 10))
	if startAt > 0 {
		q.Set("start_at_match_id", strconv.FormatInt(startAt, 10))
	}

	var resp historyResponse
	if err := c.get(ctx, "/IDOTA2Match_570/GetMatchHistory/V001/", q, &resp); err != nil {
		return nil, fmt.Errorf("match history league %d: %w", leagueID, err)
	}

	r := resp.Result
	if r == nil || r.ResultsRemaining == nil {
		return nil, fmt.Errorf("match history league %d: missing result: %w", leagueID, ErrMalformedResponse)
	}
	if r.Status != nil && *r.Status != 1 {
		return nil, fmt.Errorf("match history league %d: status %d %q: %w",
			leagueID, *r.Status, r.StatusDetail, ErrMalformedResponse)
	}

	page := &HistoryPage{
		ResultsRemaining: *r.ResultsRemaining,
		Matches:          make([]MatchSummary, 0, len(r.Matches)),
	}
	for i, m := range r.Matches {
		if m.MatchID == nil {
			return nil, fmt.Errorf("match history league %d: entry %d has no match_id: %w",
				leagueID, i, ErrMalformedResponse)
		}
		page.Matches = append(page.Matches, MatchSummary{
			MatchID:       *m.MatchID,
			RadiantTeamID: m.RadiantTeamID,
			DireTeamID:    m.DireTeamID,
		})
	}
	return page, nil
}

// MatchDetails fetches the outcome of a single match.
func (c *Client) MatchDetails(ctx context.Context, matchID int64) (*MatchDetail, error) {
	q := url.Values{}
	q.Set("match_id", strconv.FormatInt(matchID, 10))

	var resp detailResponse
	if err := c.get(ctx, "/IDOTA2Match_570/GetMatchDetails/V001/", q, &resp); err != nil {
		return nil, fmt.Errorf("match %d: %w", matchID, err)
	}

	r := resp.Result
	if r == nil {
		return nil, fmt.Errorf("match %d: missing result: %w", matchID, ErrMalformedResponse)
	}
	if r.Error != "" {
		return nil, fmt.Errorf("match %d: %s: %w", matchID, r.Error, ErrMalformedResponse)
	}

	var missing []string
	if r.RadiantWin == nil {
		missing = append(missing, "radiant_win")
	}
	if r.RadiantScore == nil {
		missing = append(missing, "radiant_score")
	}
	if r.DireScore == nil {
		missing = append(missing, "dire_score")
	}
	if r.RadiantTeamID == nil {
		missing = append(missing, "radiant_team_id")
	}
	if r.DireTeamID == nil {
		missing = append(missing, "dire_team_id")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("match %d: missing %s: %w", matchID, strings.Join(missing, ", "), ErrMalformedResponse)
	}

	return &MatchDetail{
		MatchID:       matchID,
		RadiantWin:    *r.RadiantWin,
		RadiantScore:  *r.RadiantScore,
		DireScore:     *r.DireScore,
		RadiantTeamID: *r.RadiantTeamID,
		DireTeamID:    *r.DireTeamID,
	}, nil
}

// get performs a GET with retries and decodes the JSON body into dst.
// Connection errors, 429 and 5xx are retried with exponential backoff;
// other statuses and decode failures are permanent.
func (c *Client) get(ctx context.Context, path string, q url.Values, dst any) error {
	q.Set("key", c.cfg.APIKey)
	endpoint := c.cfg.BaseURL + path + "?" + q.Encode()

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%w: %s", ErrUnavailable, redact(err.Error(), c.cfg.APIKey))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
			return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode))
		}

		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(dst); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
		}
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialBackoff
	exp.MaxElapsedTime = c.cfg.MaxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, c.cfg.MaxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("steam request failed, retrying",
			"path", path,
			"error", err,
			"wait", wait.String(),
		)
	}
	return backoff.RetryNotify(op, policy, notify)
}

func redact(s, key string) string {
	if key == "" {
		return s
	}
	return strings.ReplaceAll(s, key, "REDACTED")
}
