// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package ledger moves coins between users. Every balance change is a
// single conditional UPDATE plus a receipt row carrying the new balance,
// so balances never go negative even under concurrent debits.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/metrics"
	"github.com/danielhkuo/votequest/models"
)

// Transaction kinds
const (
	KindWelcomeBonus = "welcome_bonus"
	KindProposalVote = "proposal_vote"
	KindRoomVote     = "room_vote"
	KindStreakBonus  = "streak_bonus"
	KindPurchase     = "purchase"
	KindSpend        = "spend"
	KindTransferIn   = "transfer_in"
	KindTransferOut  = "transfer_out"
)

// Economics
const (
	WelcomeBonus       int64 = 100
	ProposalVoteReward int64 = 10
	RoomVoteReward     int64 = 5
	StreakBonus        int64 = 50
	StreakBonusEvery         = 7
	XPPerVote          int64 = 25
	XPPerLevel         int64 = 100
)

var (
	ErrInsufficientFunds = errors.New("insufficient coins")
	ErrUnknownUser       = errors.New("unknown user")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSelfTransfer      = errors.New("cannot transfer to yourself")
)

// Level returns the level reached with xp.
func Level(xp int64) int64 {
	if xp < 0 {
		return 1
	}
	return xp/XPPerLevel + 1
}

// Credit adds amount coins to a user and returns the new balance.
func Credit(ctx context.Context, h db.Handler, userID string, amount int64, kind, ref string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	balance, err := apply(ctx, h, userID, amount, kind, ref)
	if err != nil {
		return 0, err
	}
	metrics.CoinsMinted.WithLabelValues(kind).Add(float64(amount))
	return balance, nil
}

// Debit removes amount coins from a user and returns the new balance.
func Debit(ctx context.Context, h db.Handler, userID string, amount int64, kind, ref string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	balance, err := apply(ctx, h, userID, -amount, kind, ref)
	if err != nil {
		return 0, err
	}
	metrics.CoinsBurned.WithLabelValues(kind).Add(float64(amount))
	return balance, nil
}

// Transfer moves amount coins between two users. Call it inside a
// transaction so both legs commit together.
func Transfer(ctx context.Context, h db.Handler, fromID, toID string, amount int64, memo string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if fromID == toID {
		return 0, ErrSelfTransfer
	}

	balance, err := apply(ctx, h, fromID, -amount, KindTransferOut, transferRef(toID, memo))
	if err != nil {
		return 0, err
	}
	if _, err := apply(ctx, h, toID, amount, KindTransferIn, transferRef(fromID, memo)); err != nil {
		return 0, err
	}
	return balance, nil
}

func transferRef(counterparty, memo string) string {
	if memo == "" {
		return counterparty
	}
	return counterparty + ": " + memo
}

func apply(ctx context.Context, h db.Handler, userID string, delta int64, kind, ref string) (int64, error) {
	var balance int64
	err := h.GetContext(ctx, &balance, `
		UPDATE users SET coins = coins + ?
		WHERE id = ? AND coins + ? >= 0
		RETURNING coins
	`, delta, userID, delta)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := h.GetContext(ctx, &exists, `SELECT COUNT(*) > 0 FROM users WHERE id = ?`, userID); err != nil {
			return 0, fmt.Errorf("failed to look up user: %w", err)
		}
		if !exists {
			return 0, ErrUnknownUser
		}
		return 0, ErrInsufficientFunds
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	_, err = h.ExecContext(ctx, `
		INSERT INTO coin_transactions (id, user_id, amount, kind, reference, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), userID, delta, kind, ref, balance, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to record transaction: %w", err)
	}

	return balance, nil
}

// Balance returns a user's current coin balance.
func Balance(ctx context.Context, h db.Handler, userID string) (int64, error) {
	var balance int64
	err := h.GetContext(ctx, &balance, `SELECT coins FROM users WHERE id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownUser
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// History returns a user's most recent transactions, newest first.
func History(ctx context.Context, h db.Handler, userID string, limit int) ([]models.CoinTransaction, error) {
	txs := []models.CoinTransaction{}
	err := h.SelectContext(ctx, &txs, `
		SELECT id, user_id, amount, kind, reference, balance_after, created_at
		FROM coin_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}
