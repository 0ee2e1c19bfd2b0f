// Package api serves the exchange over HTTP. Every JSON response uses the
// envelope {"status": "ok"|"error", "message": ..., "data": ...}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/atmx/team-exchange/internal/auth"
	"github.com/atmx/team-exchange/internal/feed"
	"github.com/atmx/team-exchange/internal/ledger"
	"github.com/atmx/team-exchange/internal/metrics"
	"github.com/atmx/team-exchange/internal/model"
	"github.com/atmx/team-exchange/internal/registry"
	"github.com/atmx/team-exchange/internal/store"
	"github.com/atmx/team-exchange/internal/trade"
)

const maxBodyBytes = 1 << 20

// UserDirectory lists users and their holdings. store.Store implements it.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]model.UserSummary, error)
	GetUserDetail(ctx context.Context, id int64) (*model.UserDetail, error)
}

// Options toggles optional HTTP behavior.
type Options struct {
	CORSEnabled    bool
	RequestTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	opts   Options
	log    *slog.Logger
	teams  *registry.Registry
	users  UserDirectory
	auth   *auth.Gateway
	trades *trade.Coordinator
	hub    *feed.Hub
	mux    *chi.Mux
}

// New creates a server. hub may be nil to disable /ws.
func New(opts Options, logger *slog.Logger, teams *registry.Registry, users UserDirectory,
	gw *auth.Gateway, trades *trade.Coordinator, hub *feed.Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		opts:   opts,
		log:    logger,
		teams:  teams,
		users:  users,
		auth:   gw,
		trades: trades,
		hub:    hub,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	if s.opts.CORSEnabled {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}).Handler)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w, "ok", map[string]string{"service": "team-exchange"})
	})
	r.Handle("/metrics", metrics.Handler())
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))

		r.Get("/teams", s.handleTeams)
		r.Get("/teams/{id}", s.handleTeam)
		r.Get("/users", s.handleUsers)
		r.Get("/users/{id}", s.handleUser)
		r.Post("/login", s.handleLogin)
		r.Post("/trade", s.handleTrade)
	})
}

func (s *Server) handleTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.teams.List(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeOK(w, "", teams)
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	team, err := s.teams.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("team %d not found", id))
		return
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeOK(w, "", team)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListUsers(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if users == nil {
		users = []model.UserSummary{}
	}
	writeOK(w, "", users)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, err := s.users.GetUserDetail(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%d not found", id))
		return
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeOK(w, "", user)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID  int64 `json:"uid"`
	Created bool  `json:"created"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	login, err := s.auth.LoginOrSignup(r.Context(), strings.TrimSpace(in.Username), in.Password)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeOK(w, string(login.Status), loginResponse{
		UserID:  login.UserID,
		Created: login.Status == auth.StatusCreated,
	})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var in trade.Request
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.trades.Execute(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeOK(w, string(res.Outcome), res)
}

// writeDomainError maps domain errors to status codes. Anything unknown is
// a persistence failure: logged, and reported without internals.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, trade.ErrInvalidRequest),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrWrongCredential):
		writeError(w, http.StatusUnauthorized, "wrong credential")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		s.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Status: "error", Message: strings.TrimSpace(message)})
}
