// Package auth implements login-or-signup: an unknown username creates an
// account with the starting balance, a known one is verified.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/atmx/team-exchange/internal/metrics"
	"github.com/atmx/team-exchange/internal/model"
	"github.com/atmx/team-exchange/internal/store"
)

var (
	// ErrInvalidCredentials is returned for a malformed username or password.
	ErrInvalidCredentials = errors.New("auth: username must be 1-20 letters, digits, '_', '.' or '-' and password 1-72 bytes")

	// ErrWrongCredential is returned when the password does not match.
	ErrWrongCredential = errors.New("auth: wrong credential")
)

// DefaultStartingBalance is credited to every new account.
const DefaultStartingBalance int64 = 200

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,20}$`)

// Status distinguishes a new account from a returning one.
type Status string

const (
	StatusCreated       Status = "created"
	StatusAuthenticated Status = "authenticated"
)

// Login is a successful login.
type Login struct {
	Status Status
	UserID int64
}

// Config configures a Gateway. Zero values use the defaults.
type Config struct {
	StartingBalance int64
	HashCost        int
}

// Gateway creates and verifies accounts.
type Gateway struct {
	store    store.Store
	balance  int64
	hashCost int
	logger   *slog.Logger
}

// New creates a gateway. A nil logger uses slog.Default().
func New(st store.Store, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.StartingBalance <= 0 {
		cfg.StartingBalance = DefaultStartingBalance
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{store: st, balance: cfg.StartingBalance, hashCost: cfg.HashCost, logger: logger}
}

// LoginOrSignup authenticates username, creating the account first when
// it does not exist.
func (g *Gateway) LoginOrSignup(ctx context.Context, username, password string) (Login, error) {
	if !usernameRe.MatchString(username) || password == "" || len(password) > 72 {
		return Login{}, ErrInvalidCredentials
	}

	u, err := g.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		login, err := g.signup(ctx, username, password)
		if !errors.Is(err, store.ErrConflict) {
			return login, err
		}
		// Lost a signup race for the same name; verify against the winner.
		u, err = g.store.GetUserByUsername(ctx, username)
	}
	if err != nil {
		return Login{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.CredentialHash), []byte(password)); err != nil {
		metrics.LoginsTotal.WithLabelValues("wrong_credential").Inc()
		g.logger.Warn("login rejected", "user", u.ID)
		return Login{}, ErrWrongCredential
	}

	metrics.LoginsTotal.WithLabelValues(string(StatusAuthenticated)).Inc()
	return Login{Status: StatusAuthenticated, UserID: u.ID}, nil
}

func (g *Gateway) signup(ctx context.Context, username, password string) (Login, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), g.hashCost)
	if err != nil {
		return Login{}, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		Username:       username,
		CredentialHash: string(hash),
		Balance:        g.balance,
		CreatedAt:      time.Now().UTC(),
	}
	if err := g.store.CreateUser(ctx, u); err != nil {
		return Login{}, err
	}

	metrics.LoginsTotal.WithLabelValues(string(StatusCreated)).Inc()
	g.logger.Info("user created", "user", u.ID, "username", username, "balance", u.Balance)
	return Login{Status: StatusCreated, UserID: u.ID}, nil
}
