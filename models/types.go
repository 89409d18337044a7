// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Proposal status constants
const (
	ProposalActive = "active"
	ProposalClosed = "closed"
)

// Proposal vote choices
const (
	ChoiceYes     = "yes"
	ChoiceNo      = "no"
	ChoiceAbstain = "abstain"
)

// Voting room status constants
const (
	RoomDraft    = "draft"
	RoomActive   = "active"
	RoomClosed   = "closed"
	RoomArchived = "archived"
)

// Voting method constants
const (
	MethodPlurality = "plurality"
	MethodBMJ       = "bmj"
)

// Organization roles
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Domain types

type User struct {
	ID            string     `json:"id" db:"id"`
	WalletAddress string     `json:"wallet_address" db:"wallet_address"`
	Username      *string    `json:"username,omitempty" db:"username"`
	Email         *string    `json:"email,omitempty" db:"email"`
	Coins         int64      `json:"coins" db:"coins"`
	XP            int64      `json:"xp" db:"xp"`
	Level         int64      `json:"level" db:"-"`
	StreakDays    int        `json:"streak_days" db:"streak_days"`
	LastVoteOn    *string    `json:"last_vote_on,omitempty" db:"last_vote_on"`
	TOTPSecret    *string    `json:"-" db:"totp_secret"` // Never expose in JSON
	TOTPEnabled   bool       `json:"totp_enabled" db:"totp_enabled"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}

type Proposal struct {
	ID          string     `json:"id" db:"id"`
	CreatorID   string     `json:"creator_id" db:"creator_id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	Category    string     `json:"category" db:"category"`
	Status      string     `json:"status" db:"status"`
	EndsAt      time.Time  `json:"ends_at" db:"ends_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

type Tally struct {
	Yes     int `json:"yes"`
	No      int `json:"no"`
	Abstain int `json:"abstain"`
	Total   int `json:"total"`
}

type ProposalWithTally struct {
	Proposal Proposal `json:"proposal"`
	Tally    Tally    `json:"tally"`
	MyVote   *string  `json:"my_vote,omitempty"`
}

type CoinTransaction struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Amount       int64     `json:"amount" db:"amount"`
	Kind         string    `json:"kind" db:"kind"`
	Reference    string    `json:"reference" db:"reference"`
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type Notification struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"-" db:"user_id"`
	Kind      string     `json:"kind" db:"kind"`
	Title     string     `json:"title" db:"title"`
	Body      string     `json:"body" db:"body"`
	ReadAt    *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

type Organization struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Slug       string     `json:"slug" db:"slug"`
	Email      string     `json:"email" db:"email"`
	OwnerID    string     `json:"owner_id" db:"owner_id"`
	Verified   bool       `json:"verified" db:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

type OrgMember struct {
	UserID        string    `json:"user_id" db:"user_id"`
	WalletAddress string    `json:"wallet_address" db:"wallet_address"`
	Username      *string   `json:"username,omitempty" db:"username"`
	Role          string    `json:"role" db:"role"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

type OrganizationWithMembers struct {
	Organization Organization `json:"organization"`
	Members      []OrgMember  `json:"members"`
}

type VotingRoom struct {
	ID                   string     `json:"id" db:"id"`
	OrgID                string     `json:"org_id" db:"org_id"`
	Title                string     `json:"title" db:"title"`
	Description          string     `json:"description" db:"description"`
	Method               string     `json:"method" db:"method"`
	Status               string     `json:"status" db:"status"`
	RequiresVerification bool       `json:"requires_verification" db:"requires_verification"`
	EndsAt               *time.Time `json:"ends_at,omitempty" db:"ends_at"`
	OpenedAt             *time.Time `json:"opened_at,omitempty" db:"opened_at"`
	ClosedAt             *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	FinalSnapshotID      *string    `json:"final_snapshot_id,omitempty" db:"final_snapshot_id"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
}

type RoomOption struct {
	ID     string `json:"id" db:"id"`
	RoomID string `json:"room_id" db:"room_id"`
	Label  string `json:"label" db:"label"`
}

type RoomWithOptions struct {
	Room        VotingRoom   `json:"room"`
	Options     []RoomOption `json:"options"`
	BallotCount int          `json:"ballot_count"`
}

type VoterEligibility struct {
	RoomID     string     `json:"room_id" db:"room_id"`
	Identifier string     `json:"identifier" db:"identifier"`
	UserID     *string    `json:"user_id,omitempty" db:"user_id"`
	Verified   bool       `json:"verified" db:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Result types

type OptionStats struct {
	OptionID string  `json:"option_id"`
	Label    string  `json:"label"`
	Votes    int     `json:"votes"`
	Median   float64 `json:"median"`
	P10      float64 `json:"p10"`
	P90      float64 `json:"p90"`
	Mean     float64 `json:"mean"`
	NegShare float64 `json:"neg_share"`
	Veto     bool    `json:"veto"`
	Rank     int     `json:"rank"` // 1-indexed ranking
}

type ResultSnapshot struct {
	ID          string        `json:"id"`
	RoomID      string        `json:"room_id"`
	Method      string        `json:"method"`
	ComputedAt  time.Time     `json:"computed_at"`
	BallotCount int           `json:"ballot_count"`
	Rankings    []OptionStats `json:"rankings"`
	InputsHash  string        `json:"inputs_hash"` // SHA-256 of sorted ballot IDs
}

type LeaderboardEntry struct {
	Rank          int     `json:"rank" db:"-"`
	UserID        string  `json:"user_id" db:"id"`
	WalletAddress string  `json:"wallet_address" db:"wallet_address"`
	Username      *string `json:"username,omitempty" db:"username"`
	XP            int64   `json:"xp" db:"xp"`
	Level         int64   `json:"level" db:"-"`
	Coins         int64   `json:"coins" db:"coins"`
	StreakDays    int     `json:"streak_days" db:"streak_days"`
}

type CoinPackage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Coins      int64  `json:"coins"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
