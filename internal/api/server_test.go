package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/atmx/team-exchange/internal/api"
	"github.com/atmx/team-exchange/internal/auth"
	"github.com/atmx/team-exchange/internal/ledger"
	"github.com/atmx/team-exchange/internal/model"
	"github.com/atmx/team-exchange/internal/registry"
	"github.com/atmx/team-exchange/internal/store"
	"github.com/atmx/team-exchange/internal/trade"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// newTestEnv wires a server over an in-memory store with two teams.
func newTestEnv(t *testing.T) (http.Handler, *store.MemoryStore, *registry.Registry) {
	t.Helper()
	ms := store.NewMemoryStore()
	reg := registry.New(ms, nil)
	ctx := context.Background()

	if _, err := reg.Register(ctx, 15, "Team Liquid", 40); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.Register(ctx, 39, "Evil Geniuses", 60); err != nil {
		t.Fatalf("register: %v", err)
	}

	gw := auth.New(ms, auth.Config{HashCost: bcrypt.MinCost}, nil)
	coord := trade.NewCoordinator(ledger.New(ms, nil), nil, nil)
	srv := api.New(api.Options{}, nil, reg, ms, gw, coord, nil)
	return srv.Handler(), ms, reg
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: response is not an envelope: %v: %s", method, path, err, w.Body.String())
	}
	return w, env
}

func login(t *testing.T, h http.Handler, username, password string) int64 {
	t.Helper()
	w, env := do(t, h, "POST", "/login", map[string]string{"username": username, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var data struct {
		UID int64 `json:"uid"`
	}
	json.Unmarshal(env.Data, &data)
	return data.UID
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestEnv(t)
	w, env := do(t, h, "GET", "/health", nil)
	if w.Code != http.StatusOK || env.Status != "ok" {
		t.Errorf("unexpected health: %d %+v", w.Code, env)
	}
}

func TestLogin_CreateAuthenticateAndWrongCredential(t *testing.T) {
	h, _, _ := newTestEnv(t)

	w, env := do(t, h, "POST", "/login", map[string]string{"username": "alice", "password": "pw"})
	if w.Code != http.StatusOK || env.Status != "ok" || env.Message != "created" {
		t.Fatalf("signup: %d %+v", w.Code, env)
	}
	var first struct {
		UID     int64 `json:"uid"`
		Created bool  `json:"created"`
	}
	json.Unmarshal(env.Data, &first)
	if first.UID == 0 || !first.Created {
		t.Errorf("unexpected signup data: %s", env.Data)
	}

	w, env = do(t, h, "POST", "/login", map[string]string{"username": "alice", "password": "pw"})
	if w.Code != http.StatusOK || env.Message != "authenticated" {
		t.Errorf("login: %d %+v", w.Code, env)
	}

	w, env = do(t, h, "POST", "/login", map[string]string{"username": "alice", "password": "nope"})
	if w.Code != http.StatusUnauthorized || env.Status != "error" || env.Message != "wrong credential" {
		t.Errorf("wrong credential: %d %+v", w.Code, env)
	}
}

func TestLogin_BadInput(t *testing.T) {
	h, _, _ := newTestEnv(t)

	w, env := do(t, h, "POST", "/login", "{not json")
	if w.Code != http.StatusBadRequest || env.Status != "error" {
		t.Errorf("bad json: %d %+v", w.Code, env)
	}
	w, _ = do(t, h, "POST", "/login", map[string]string{"username": "has space", "password": "pw"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad username: expected 400, got %d", w.Code)
	}
}

func TestTrade_BuySellAndInsufficientFunds(t *testing.T) {
	h, ms, _ := newTestEnv(t)
	uid := login(t, h, "bob", "pw")

	w, env := do(t, h, "POST", "/trade", trade.Request{UserID: uid, TeamID: 15, IsBuy: true, Amount: 3})
	if w.Code != http.StatusOK || env.Message != "bought" {
		t.Fatalf("buy: %d %+v", w.Code, env)
	}
	var res trade.Result
	json.Unmarshal(env.Data, &res)
	if res.Balance != 80 || res.Holding != 3 {
		t.Errorf("unexpected buy result: %+v", res)
	}

	w, env = do(t, h, "POST", "/trade", trade.Request{UserID: uid, TeamID: 39, IsBuy: true, Amount: 2})
	if w.Code != http.StatusOK || env.Status != "ok" || env.Message != "insufficient_funds" {
		t.Errorf("insufficient funds should be ok/insufficient_funds: %d %+v", w.Code, env)
	}

	w, env = do(t, h, "POST", "/trade", trade.Request{UserID: uid, TeamID: 15, IsBuy: false, Amount: 10})
	if w.Code != http.StatusOK || env.Message != "sold" {
		t.Fatalf("sell: %d %+v", w.Code, env)
	}
	json.Unmarshal(env.Data, &res)
	if res.Shares != 3 || res.Balance != 200 {
		t.Errorf("unexpected sell result: %+v", res)
	}
	if ms.Ownership(uid, 15) != 0 {
		t.Errorf("expected holding cleared, got %d", ms.Ownership(uid, 15))
	}
}

func TestTrade_Errors(t *testing.T) {
	h, _, _ := newTestEnv(t)
	uid := login(t, h, "carol", "pw")

	tests := []struct {
		name string
		body any
		code int
	}{
		{"zero amount", trade.Request{UserID: uid, TeamID: 15, IsBuy: true}, http.StatusBadRequest},
		{"unknown team", trade.Request{UserID: uid, TeamID: 7, IsBuy: true, Amount: 1}, http.StatusNotFound},
		{"unknown user", trade.Request{UserID: 9999, TeamID: 15, IsBuy: true, Amount: 1}, http.StatusNotFound},
		{"bad body", `{"uid": "x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, h, "POST", "/trade", tt.body)
			if w.Code != tt.code || env.Status != "error" {
				t.Errorf("expected %d error envelope, got %d %+v", tt.code, w.Code, env)
			}
		})
	}
}

func TestUsers_ListedByNetWorth(t *testing.T) {
	h, _, _ := newTestEnv(t)
	poor := login(t, h, "poor", "pw")
	rich := login(t, h, "rich", "pw")

	// Buying at the current price converts cash to shares at par.
	do(t, h, "POST", "/trade", trade.Request{UserID: poor, TeamID: 15, IsBuy: true, Amount: 3})

	w, env := do(t, h, "GET", "/users", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list users: %d", w.Code)
	}
	var users []model.UserSummary
	json.Unmarshal(env.Data, &users)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	for _, u := range users {
		if u.NetWorth != 200 {
			t.Errorf("user %d: expected net worth 200, got %d", u.ID, u.NetWorth)
		}
	}
	if users[0].ID != poor || users[1].ID != rich {
		t.Errorf("equal net worth should order by id, got %+v", users)
	}
}

func TestUser_DetailAndNotFound(t *testing.T) {
	h, _, reg := newTestEnv(t)
	uid := login(t, h, "dave", "pw")
	do(t, h, "POST", "/trade", trade.Request{UserID: uid, TeamID: 15, IsBuy: true, Amount: 2})

	// Reprice team 15 with a win; net worth follows the current price.
	u, err := reg.ApplyResult(context.Background(), model.TeamResult{
		TeamID: 15, MatchID: 1, Won: true, PointsFor: 40, PointsAgainst: 20,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	w, env := do(t, h, "GET", "/users/"+strconv.FormatInt(uid, 10), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get user: %d %+v", w.Code, env)
	}
	var detail model.UserDetail
	json.Unmarshal(env.Data, &detail)
	if len(detail.Ownerships) != 1 || detail.Ownerships[0].Count != 2 || detail.Ownerships[0].Price != u.NewPrice {
		t.Errorf("unexpected ownerships: %+v", detail.Ownerships)
	}
	if want := detail.Balance + 2*u.NewPrice; detail.NetWorth != want {
		t.Errorf("expected net worth %d, got %d", want, detail.NetWorth)
	}
	if len(detail.Transactions) != 1 || detail.Transactions[0].ShareDelta != 2 {
		t.Errorf("unexpected transactions: %+v", detail.Transactions)
	}

	w, env = do(t, h, "GET", "/users/424242", nil)
	if w.Code != http.StatusNotFound || env.Status != "error" || env.Message != "424242 not found" {
		t.Errorf("expected 404 envelope, got %d %+v", w.Code, env)
	}

	w, _ = do(t, h, "GET", "/users/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", w.Code)
	}
}

func TestTeams_ListAndGet(t *testing.T) {
	h, _, reg := newTestEnv(t)
	if _, err := reg.ApplyResult(context.Background(), model.TeamResult{
		TeamID: 39, MatchID: 77, Won: false, PointsFor: 10, PointsAgainst: 30,
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	w, env := do(t, h, "GET", "/teams", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list teams: %d", w.Code)
	}
	var teams []model.TeamView
	json.Unmarshal(env.Data, &teams)
	if len(teams) != 2 {
		t.Fatalf("expected 2 teams, got %d", len(teams))
	}
	for _, team := range teams {
		if team.ID == 39 && (team.Losses != 1 || len(team.History) != 1) {
			t.Errorf("team 39 missing standing or history: %+v", team)
		}
	}

	w, env = do(t, h, "GET", "/teams/15", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get team: %d", w.Code)
	}
	var team model.TeamView
	json.Unmarshal(env.Data, &team)
	if team.Name != "Team Liquid" || team.Price != 40 {
		t.Errorf("unexpected team: %+v", team)
	}

	w, env = do(t, h, "GET", "/teams/1", nil)
	if w.Code != http.StatusNotFound || env.Status != "error" {
		t.Errorf("expected 404, got %d %+v", w.Code, env)
	}
}

// failingStore breaks user listing to exercise the persistence error path.
type failingStore struct {
	*store.MemoryStore
}

func (failingStore) ListUsers(context.Context) ([]model.UserSummary, error) {
	return nil, errBoom
}

var errBoom = errors.New("connection reset by peer")

func TestPersistenceErrorIsEnveloped(t *testing.T) {
	ms := store.NewMemoryStore()
	fs := failingStore{ms}
	srv := api.New(api.Options{}, nil, registry.New(ms, nil), fs,
		auth.New(ms, auth.Config{HashCost: bcrypt.MinCost}, nil),
		trade.NewCoordinator(ledger.New(ms, nil), nil, nil), nil)

	w, env := do(t, srv.Handler(), "GET", "/users", nil)
	if w.Code != http.StatusInternalServerError || env.Status != "error" || env.Message != "internal error" {
		t.Errorf("expected 500 internal error envelope, got %d %+v", w.Code, env)
	}
}

func TestCORS(t *testing.T) {
	ms := store.NewMemoryStore()
	srv := api.New(api.Options{CORSEnabled: true}, nil, registry.New(ms, nil), ms,
		auth.New(ms, auth.Config{HashCost: bcrypt.MinCost}, nil),
		trade.NewCoordinator(ledger.New(ms, nil), nil, nil), nil)

	req := httptest.NewRequest("GET", "/teams", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected Access-Control-Allow-Origin *, got %q", got)
	}
}
