// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"testing"

	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/testutil"
)

func TestGetLeaderboard(t *testing.T) {
	d := testutil.SetupTestDB(t)
	h := NewLeaderboardHandler(d, testutil.GetTestConfig())

	xps := []int64{50, 250, 0}
	ids := make([]string, len(xps))
	for i, xp := range xps {
		ids[i], _ = testutil.CreateTestUser(t, d, 0)
		if _, err := d.ExecContext(t.Context(), `UPDATE users SET xp = ? WHERE id = ?`, xp, ids[i]); err != nil {
			t.Fatalf("Failed to set xp: %v", err)
		}
	}

	w := serve(h.GetLeaderboard, testutil.MakeRequest("GET", "/leaderboard?limit=2", nil, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	var entries []models.LeaderboardEntry
	testutil.AssertJSON(t, w, &entries)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].UserID != ids[1] || entries[0].Rank != 1 || entries[0].Level != 3 {
		t.Errorf("Expected top user %s at level 3, got %+v", ids[1], entries[0])
	}
	if entries[1].UserID != ids[0] || entries[1].Rank != 2 {
		t.Errorf("Expected second user %s, got %+v", ids[0], entries[1])
	}

	// Served from cache until the TTL passes
	if _, err := d.ExecContext(t.Context(), `UPDATE users SET xp = 1000 WHERE id = ?`, ids[2]); err != nil {
		t.Fatalf("Failed to set xp: %v", err)
	}
	w = serve(h.GetLeaderboard, testutil.MakeRequest("GET", "/leaderboard?limit=2", nil, nil))
	testutil.AssertJSON(t, w, &entries)
	if entries[0].UserID != ids[1] {
		t.Errorf("Expected cached leaderboard, got top user %s", entries[0].UserID)
	}

	w = serve(h.GetLeaderboard, testutil.MakeRequest("GET", "/leaderboard?limit=101", nil, nil))
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}
