// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/ledger"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/models"
)

// LeaderboardTTL is how long a computed leaderboard is served from cache.
const LeaderboardTTL = 30 * time.Second

type LeaderboardHandler struct {
	db    *db.DB
	cfg   cliparse.Config
	cache *expirable.LRU[int, []models.LeaderboardEntry]
	group singleflight.Group
}

func NewLeaderboardHandler(db *db.DB, cfg cliparse.Config) *LeaderboardHandler {
	return &LeaderboardHandler{
		db:    db,
		cfg:   cfg,
		cache: expirable.NewLRU[int, []models.LeaderboardEntry](16, nil, LeaderboardTTL),
	}
}

// GetLeaderboard handles GET /leaderboard
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20, 1, 100)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if entries, ok := h.cache.Get(limit); ok {
		middleware.JSONResponse(w, http.StatusOK, entries)
		return
	}

	// Concurrent misses for the same limit share one query.
	v, err, _ := h.group.Do(strconv.Itoa(limit), func() (interface{}, error) {
		entries, err := h.load(context.WithoutCancel(r.Context()), limit)
		if err != nil {
			return nil, err
		}
		h.cache.Add(limit, entries)
		return entries, nil
	})
	if err != nil {
		slog.Error("failed to query leaderboard", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, v)
}

func (h *LeaderboardHandler) load(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	entries := []models.LeaderboardEntry{}
	err := h.db.SelectContext(ctx, &entries, `
		SELECT id, wallet_address, username, xp, coins, streak_days
		FROM users
		ORDER BY xp DESC, coins DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Level = ledger.Level(entries[i].XP)
	}
	return entries, nil
}
