// Package model defines the core domain types shared across the exchange.
// Money and prices are whole play-money units held in int64.
package model

import "time"

// User is a trading account. Balance is never negative.
type User struct {
	ID             int64     `json:"id" db:"id"`
	Username       string    `json:"username" db:"username"`
	CredentialHash string    `json:"-" db:"credential_hash"`
	Balance        int64     `json:"balance" db:"balance"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Team is a tradable esports team. ID is the external (Steam) team id.
// Standings are cumulative season totals.
type Team struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Price         int64     `json:"price" db:"price"`
	Wins          int64     `json:"wins" db:"wins"`
	Losses        int64     `json:"losses" db:"losses"`
	PointsFor     int64     `json:"points_for" db:"points_for"`
	PointsAgainst int64     `json:"points_against" db:"points_against"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`

	// The newest applied match. Its game weighs the price even when an
	// older match is applied later.
	LastMatchID       int64 `json:"last_match_id" db:"last_match_id"`
	LastWon           bool  `json:"last_won" db:"last_won"`
	LastPointsFor     int64 `json:"last_points_for" db:"last_points_for"`
	LastPointsAgainst int64 `json:"last_points_against" db:"last_points_against"`
}

// Ownership is a user's share count in one team. A zero count is
// logically absent and is never stored.
type Ownership struct {
	UserID int64 `json:"user_id" db:"user_id"`
	TeamID int64 `json:"team_id" db:"team_id"`
	Count  int64 `json:"count" db:"count"`
}

// Transaction is an immutable record of a trade.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID           string    `json:"id" db:"id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	TeamID       int64     `json:"team_id" db:"team_id"`
	ShareDelta   int64     `json:"share_delta" db:"share_delta"` // signed: +buy, -sell
	PriceAtTrade int64     `json:"price_at_trade" db:"price_at_trade"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// TeamHistory is an immutable price snapshot written each time a match
// result is applied to a team.
type TeamHistory struct {
	ID         string    `json:"id" db:"id"`
	TeamID     int64     `json:"team_id" db:"team_id"`
	MatchID    int64     `json:"match_id" db:"match_id"`
	Price      int64     `json:"price" db:"price"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// TeamResult is one side of a finished match, applied to a team's
// standing together with the recomputed price.
type TeamResult struct {
	TeamID        int64
	MatchID       int64
	Won           bool
	PointsFor     int64
	PointsAgainst int64
}

// Settings is the runtime-mutable ingestion configuration.
// LastProcessedMatchID never decreases.
type Settings struct {
	PollInterval         time.Duration `json:"poll_interval"`
	LeagueID             int64         `json:"league_id"`
	LastProcessedMatchID int64         `json:"last_processed_match_id"`
}

// UserSummary is a user as listed by GET /users.
type UserSummary struct {
	ID       int64  `json:"uid"`
	Username string `json:"username"`
	Balance  int64  `json:"balance"`
	NetWorth int64  `json:"networth"`
}

// OwnershipView is a holding valued at the team's current price.
type OwnershipView struct {
	TeamID   int64  `json:"tid"`
	TeamName string `json:"name"`
	Count    int64  `json:"count"`
	Price    int64  `json:"price"`
	Value    int64  `json:"value"`
}

// UserDetail is a single user with holdings and trade history.
type UserDetail struct {
	UserSummary
	Ownerships   []OwnershipView `json:"ownerships"`
	Transactions []Transaction   `json:"transactions"`
}

// TeamView is a team with its price history, oldest first.
type TeamView struct {
	Team
	History []TeamHistory `json:"history"`
}
