// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package testutil provides database fixtures and HTTP helpers for tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielhkuo/votequest/auth"
	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/middleware"
)

// SetupTestDB creates a fresh SQLite database with the full schema in a
// per-test temp directory.
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()

	ctx := context.Background()
	d, err := db.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "votequest.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if err := db.Migrate(ctx, d); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return d
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	cfg := cliparse.DefaultConfig()
	cfg.DatabaseURL = "sqlite://test.db"
	cfg.DatabaseType = "sqlite"
	cfg.JWTSecret = "test-jwt-secret-0123456789"
	cfg.IPHashSalt = "test-ip-salt"
	cfg.Chat.BaseURL = ""
	return cfg
}

// NewWallet returns a random lower-cased wallet address.
func NewWallet(t *testing.T) string {
	t.Helper()
	id, err := auth.GenerateID(20)
	if err != nil {
		t.Fatalf("Failed to generate wallet: %v", err)
	}
	return "0x" + id
}

// CreateTestUser inserts a user holding coins and returns its ID and wallet.
func CreateTestUser(t *testing.T, d *db.DB, coins int64) (userID, wallet string) {
	t.Helper()

	userID, _ = auth.GenerateID(16)
	wallet = NewWallet(t)
	_, err := d.ExecContext(context.Background(), `
		INSERT INTO users (id, wallet_address, coins, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, wallet, coins, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return userID, wallet
}

// AuthHeaders returns an Authorization header carrying a session for userID.
func AuthHeaders(t *testing.T, cfg cliparse.Config, userID, wallet string) map[string]string {
	t.Helper()
	token, _, err := auth.IssueSession(cfg.JWTSecret, userID, wallet, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Failed to issue session: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// AsUser returns req authenticated as userID, as RequireAuth would.
func AsUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

// CreateTestProposal creates a proposal ending at endsAt.
// status should be "active" or "closed"
func CreateTestProposal(t *testing.T, d *db.DB, creatorID, status string, endsAt time.Time) string {
	t.Helper()

	proposalID, _ := auth.GenerateID(16)
	_, err := d.ExecContext(context.Background(), `
		INSERT INTO proposals (id, creator_id, title, description, category, status, ends_at, created_at)
		VALUES (?, ?, 'Test Proposal', 'A test proposal', 'general', ?, ?, ?)
	`, proposalID, creatorID, status, endsAt.UTC(), time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test proposal: %v", err)
	}

	return proposalID
}

// CreateTestOrg creates an organization owned by ownerID.
func CreateTestOrg(t *testing.T, d *db.DB, ownerID string, verified bool) string {
	t.Helper()

	orgID, _ := auth.GenerateID(16)
	now := time.Now().UTC()
	var verifiedAt *time.Time
	if verified {
		verifiedAt = &now
	}

	ctx := context.Background()
	_, err := d.ExecContext(ctx, `
		INSERT INTO organizations (id, name, slug, email, owner_id, verified, verified_at, created_at)
		VALUES (?, 'Test Org', ?, 'board@example.org', ?, ?, ?, ?)
	`, orgID, "test-org-"+orgID[:8], ownerID, verified, verifiedAt, now)
	if err != nil {
		t.Fatalf("Failed to create test org: %v", err)
	}

	AddTestMember(t, d, orgID, ownerID, "owner")
	return orgID
}

// AddTestMember adds userID to an organization with role.
func AddTestMember(t *testing.T, d *db.DB, orgID, userID, role string) {
	t.Helper()

	_, err := d.ExecContext(context.Background(), `
		INSERT INTO org_members (org_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
	`, orgID, userID, role, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to add test member: %v", err)
	}
}

// CreateTestRoom creates a voting room.
// status should be "draft", "active", "closed" or "archived"
func CreateTestRoom(t *testing.T, d *db.DB, orgID, method, status string, requiresVerification bool) string {
	t.Helper()

	roomID, _ := auth.GenerateID(16)
	now := time.Now().UTC()
	var openedAt, closedAt *time.Time
	if status != "draft" {
		openedAt = &now
	}
	if status == "closed" || status == "archived" {
		closedAt = &now
	}

	_, err := d.ExecContext(context.Background(), `
		INSERT INTO voting_rooms (id, org_id, title, description, method, status, requires_verification, opened_at, closed_at, created_at)
		VALUES (?, ?, 'Test Room', 'A test room', ?, ?, ?, ?, ?, ?)
	`, roomID, orgID, method, status, requiresVerification, openedAt, closedAt, now)
	if err != nil {
		t.Fatalf("Failed to create test room: %v", err)
	}

	return roomID
}

// AddTestOption adds an option to a room and returns the option ID
func AddTestOption(t *testing.T, d *db.DB, roomID, label string) string {
	t.Helper()

	optionID, _ := auth.GenerateID(12)
	_, err := d.ExecContext(context.Background(), `
		INSERT INTO room_options (id, room_id, label)
		VALUES (?, ?, ?)
	`, optionID, roomID, label)
	if err != nil {
		t.Fatalf("Failed to create test option: %v", err)
	}

	return optionID
}

// AddTestVoter puts identifier on a room's voter list, optionally bound to
// a verified user.
func AddTestVoter(t *testing.T, d *db.DB, roomID, identifier, userID string, verified bool) {
	t.Helper()

	var uid *string
	if userID != "" {
		uid = &userID
	}
	now := time.Now().UTC()
	var verifiedAt *time.Time
	if verified {
		verifiedAt = &now
	}

	_, err := d.ExecContext(context.Background(), `
		INSERT INTO voter_eligibility (room_id, identifier, user_id, verified, verified_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, roomID, identifier, uid, verified, verifiedAt, now)
	if err != nil {
		t.Fatalf("Failed to add test voter: %v", err)
	}
}

// SubmitTestBallot creates a ballot with scores for a user
func SubmitTestBallot(t *testing.T, d *db.DB, roomID, userID string, scores map[string]float64) string {
	t.Helper()

	ctx := context.Background()
	ballotID, _ := auth.GenerateID(16)
	_, err := d.ExecContext(ctx, `
		INSERT INTO room_ballots (id, room_id, user_id, submitted_at)
		VALUES (?, ?, ?, ?)
	`, ballotID, roomID, userID, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test ballot: %v", err)
	}

	for optionID, value := range scores {
		_, err := d.ExecContext(ctx, `
			INSERT INTO room_scores (ballot_id, option_id, value01)
			VALUES (?, ?, ?)
		`, ballotID, optionID, value)
		if err != nil {
			t.Fatalf("Failed to create test score: %v", err)
		}
	}

	return ballotID
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
