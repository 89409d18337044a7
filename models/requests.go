// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Request types

type NonceRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type WalletLoginRequest struct {
	WalletAddress string `json:"wallet_address"`
	Signature     string `json:"signature"`
	TOTPCode      string `json:"totp_code,omitempty"`
}

type UpdateProfileRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

type TOTPCodeRequest struct {
	Code string `json:"code"`
}

type CreateProposalRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	DurationHours int    `json:"duration_hours"`
}

type CastVoteRequest struct {
	Choice string `json:"choice"`
}

type TransferRequest struct {
	ToWallet string `json:"to_wallet"`
	Amount   int64  `json:"amount"`
	Memo     string `json:"memo"`
}

type SpendRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type CreateOrgRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type AddMemberRequest struct {
	WalletAddress string `json:"wallet_address"`
	Role          string `json:"role"`
}

type VerificationCodeRequest struct {
	Code string `json:"code"`
}

type CreateRoomRequest struct {
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Method               string     `json:"method"`
	RequiresVerification *bool      `json:"requires_verification"`
	EndsAt               *time.Time `json:"ends_at"`
}

type AddOptionRequest struct {
	Label string `json:"label"`
}

type AddVotersRequest struct {
	Identifiers []string `json:"identifiers"`
}

type RoomStatusRequest struct {
	Status string `json:"status"`
}

type EligibilityRequest struct {
	Email string `json:"email"`
	Code  string `json:"code,omitempty"`
}

// option_id -> value01 (0.0 to 1.0)
type SubmitBallotRequest struct {
	Scores map[string]float64 `json:"scores"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// Response types

type NonceResponse struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

type WalletLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
	IsNew     bool      `json:"is_new"`
}

type TOTPSetupResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

type CastVoteResponse struct {
	Reward     int64 `json:"reward"`
	Balance    int64 `json:"balance"`
	XP         int64 `json:"xp"`
	Level      int64 `json:"level"`
	StreakDays int   `json:"streak_days"`
}

type BalanceResponse struct {
	Coins int64 `json:"coins"`
	XP    int64 `json:"xp"`
	Level int64 `json:"level"`
}

type IDResponse struct {
	ID string `json:"id"`
}

type AddVotersResponse struct {
	Added int `json:"added"`
}

type SubmitBallotResponse struct {
	BallotID string `json:"ballot_id"`
	Message  string `json:"message"`
	Reward   int64  `json:"reward"`
}

type BallotCountResponse struct {
	BallotCount int `json:"ballot_count"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

type OnchainResponse struct {
	WalletAddress string `json:"wallet_address"`
	NativeWei     string `json:"native_wei"`
	TokenAddress  string `json:"token_address,omitempty"`
	TokenBalance  string `json:"token_balance,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type CoinsResponse struct {
	Balance int64 `json:"balance"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type RoomResultsResponse struct {
	Room     VotingRoom     `json:"room"`
	Snapshot ResultSnapshot `json:"snapshot"`
}

type WebhookResponse struct {
	Status string `json:"status"`
}
