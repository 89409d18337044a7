// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danielhkuo/votequest/db"
)

const dateLayout = "2006-01-02"

// VoteReward is what a user earned for one vote.
type VoteReward struct {
	Reward     int64 // coins credited, streak bonus included
	Bonus      int64 // streak bonus part of Reward
	Balance    int64
	XP         int64
	Level      int64
	StreakDays int
}

// NextStreak returns the streak after voting on day given the previous
// voting day ("" when never voted).
func NextStreak(lastVoteOn string, streak int, day time.Time) int {
	today := day.UTC().Format(dateLayout)
	switch lastVoteOn {
	case today:
		return max(streak, 1)
	case day.UTC().AddDate(0, 0, -1).Format(dateLayout):
		return streak + 1
	default:
		return 1
	}
}

// RewardVote credits a vote reward, adds XP and advances the daily voting
// streak. A streak reaching a multiple of StreakBonusEvery days earns
// StreakBonus once. Run it in the same transaction as the vote.
func RewardVote(ctx context.Context, h db.Handler, userID string, reward int64, kind, ref string, now time.Time) (VoteReward, error) {
	var user struct {
		LastVoteOn sql.NullString `db:"last_vote_on"`
		StreakDays int            `db:"streak_days"`
	}
	err := h.GetContext(ctx, &user, `SELECT last_vote_on, streak_days FROM users WHERE id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return VoteReward{}, ErrUnknownUser
	}
	if err != nil {
		return VoteReward{}, fmt.Errorf("failed to load user: %w", err)
	}

	today := now.UTC().Format(dateLayout)
	streak := NextStreak(user.LastVoteOn.String, user.StreakDays, now)
	newDay := user.LastVoteOn.String != today

	var out VoteReward
	err = h.GetContext(ctx, &out.XP, `
		UPDATE users SET xp = xp + ?, streak_days = ?, last_vote_on = ?
		WHERE id = ?
		RETURNING xp
	`, XPPerVote, streak, today, userID)
	if err != nil {
		return VoteReward{}, fmt.Errorf("failed to update xp: %w", err)
	}

	out.Balance, err = Credit(ctx, h, userID, reward, kind, ref)
	if err != nil {
		return VoteReward{}, err
	}
	out.Reward = reward

	if newDay && streak%StreakBonusEvery == 0 {
		out.Balance, err = Credit(ctx, h, userID, StreakBonus, KindStreakBonus, fmt.Sprintf("%d-day streak", streak))
		if err != nil {
			return VoteReward{}, err
		}
		out.Reward += StreakBonus
		out.Bonus = StreakBonus
	}

	out.Level = Level(out.XP)
	out.StreakDays = streak
	return out, nil
}
