// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielhkuo/votequest/ledger"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/testutil"
)

func TestCreateRoom(t *testing.T) {
	d := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	handler := NewRoomHandler(d, cfg)

	admin, _ := testutil.CreateTestUser(t, d, 0)
	verifiedOrg := testutil.CreateTestOrg(t, d, admin, true)
	unverifiedOrg := testutil.CreateTestOrg(t, d, admin, false)
	member, _ := testutil.CreateTestUser(t, d, 0)
	testutil.AddTestMember(t, d, verifiedOrg, member, models.RoleMember)

	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name           string
		orgID          string
		userID         string
		body           models.CreateRoomRequest
		expectedStatus int
	}{
		{"valid room", verifiedOrg, admin, models.CreateRoomRequest{Title: "Board election"}, http.StatusCreated},
		{"bmj room", verifiedOrg, admin, models.CreateRoomRequest{Title: "Budget", Method: models.MethodBMJ}, http.StatusCreated},
		{"missing title", verifiedOrg, admin, models.CreateRoomRequest{Title: "  "}, http.StatusBadRequest},
		{"unknown method", verifiedOrg, admin, models.CreateRoomRequest{Title: "X", Method: "borda"}, http.StatusBadRequest},
		{"ends in the past", verifiedOrg, admin, models.CreateRoomRequest{Title: "X", EndsAt: &past}, http.StatusBadRequest},
		{"unverified org", unverifiedOrg, admin, models.CreateRoomRequest{Title: "X"}, http.StatusForbidden},
		{"plain member", verifiedOrg, member, models.CreateRoomRequest{Title: "X"}, http.StatusForbidden},
		{"unknown org", "missing", admin, models.CreateRoomRequest{Title: "X"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.AsUser(testutil.MakeRequest("POST", "/orgs/"+tt.orgID+"/rooms", tt.body, nil), tt.userID)
			w := serve(handler.CreateRoom, req, "id", tt.orgID)
			testutil.AssertStatus(t, w, tt.expectedStatus)

			if tt.expectedStatus != http.StatusCreated {
				return
			}
			var room models.VotingRoom
			testutil.AssertJSON(t, w, &room)
			if room.Status != models.RoomDraft {
				t.Errorf("Expected status draft, got %s", room.Status)
			}
			wantMethod := tt.body.Method
			if wantMethod == "" {
				wantMethod = models.MethodPlurality
			}
			if room.Method != wantMethod {
				t.Errorf("Expected method %s, got %s", wantMethod, room.Method)
			}
			if !room.RequiresVerification {
				t.Error("Expected rooms to require verification by default")
			}
		})
	}
}

func TestCreateRoomRequiresAuth(t *testing.T) {
	d := testutil.SetupTestDB(t)
	handler := NewRoomHandler(d, testutil.GetTestConfig())

	req := testutil.MakeRequest("POST", "/orgs/x/rooms", models.CreateRoomRequest{Title: "X"}, nil)
	w := serve(handler.CreateRoom, req, "id", "x")
	testutil.AssertStatus(t, w, http.StatusUnauthorized)
}

func TestAddOption(t *testing.T) {
	d := testutil.SetupTestDB(t)
	handler := NewRoomHandler(d, testutil.GetTestConfig())

	f := newRoomFixture(t, d, models.MethodPlurality, models.RoomDraft, true)
	active := testutil.CreateTestRoom(t, d, f.OrgID, models.MethodPlurality, models.RoomActive, true)
	outsider, _ := testutil.CreateTestUser(t, d, 0)

	tests := []struct {
		name           string
		roomID         string
		userID         string
		label          string
		expectedStatus int
	}{
		{"valid option", f.RoomID, f.Admin, "Alice", http.StatusCreated},
		{"empty label", f.RoomID, f.Admin, " ", http.StatusBadRequest},
		{"active room", active, f.Admin, "Bob", http.StatusConflict},
		{"not an admin", f.RoomID, outsider, "Carol", http.StatusForbidden},
		{"unknown room", "missing", f.Admin, "Dave", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := models.AddOptionRequest{Label: tt.label}
			req := testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+tt.roomID+"/options", body, nil), tt.userID)
			w := serve(handler.AddOption, req, "id", tt.roomID)
			testutil.AssertStatus(t, w, tt.expectedStatus)
		})
	}
}

func TestAddVoters(t *testing.T) {
	d := testutil.SetupTestDB(t)
	handler := NewRoomHandler(d, testutil.GetTestConfig())
	f := newRoomFixture(t, d, models.MethodPlurality, models.RoomDraft, true)
	wallet := testutil.NewWallet(t)

	body := models.AddVotersRequest{Identifiers: []string{"Voter@Example.com", wallet, "voter@example.com"}}
	req := testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/voters", body, nil), f.Admin)
	w := serve(handler.AddVoters, req, "id", f.RoomID)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.AddVotersResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Added != 2 {
		t.Errorf("Expected 2 voters added (duplicate email skipped), got %d", resp.Added)
	}

	// Adding the same list again adds nothing
	req = testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/voters", body, nil), f.Admin)
	w = serve(handler.AddVoters, req, "id", f.RoomID)
	testutil.AssertJSON(t, w, &resp)
	if resp.Added != 0 {
		t.Errorf("Expected 0 voters added on repeat, got %d", resp.Added)
	}

	req = testutil.AsUser(testutil.MakeRequest("GET", "/rooms/"+f.RoomID+"/voters", nil, nil), f.Admin)
	w = serve(handler.ListVoters, req, "id", f.RoomID)
	testutil.AssertStatus(t, w, http.StatusOK)
	var voters []models.VoterEligibility
	testutil.AssertJSON(t, w, &voters)
	if len(voters) != 2 {
		t.Fatalf("Expected 2 listed voters, got %d", len(voters))
	}
	if voters[1].Identifier != "voter@example.com" {
		t.Errorf("Expected lower-cased email, got %s", voters[1].Identifier)
	}

	bad := models.AddVotersRequest{Identifiers: []string{"not an email"}}
	req = testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/voters", bad, nil), f.Admin)
	w = serve(handler.AddVoters, req, "id", f.RoomID)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestSetStatusLifecycle(t *testing.T) {
	d := testutil.SetupTestDB(t)
	handler := NewRoomHandler(d, testutil.GetTestConfig())
	f := newRoomFixture(t, d, models.MethodPlurality, models.RoomDraft, false, "Only option")

	setStatus := func(status string) int {
		body := models.RoomStatusRequest{Status: status}
		req := testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/status", body, nil), f.Admin)
		return serve(handler.SetStatus, req, "id", f.RoomID).Code
	}

	// Needs two options to open
	if code := setStatus(models.RoomActive); code != http.StatusBadRequest {
		t.Errorf("Expected 400 opening a room with one option, got %d", code)
	}
	testutil.AddTestOption(t, d, f.RoomID, "Second option")

	// Skipping a state is rejected
	if code := setStatus(models.RoomClosed); code != http.StatusConflict {
		t.Errorf("Expected 409 closing a draft room, got %d", code)
	}

	for _, status := range []string{models.RoomActive, models.RoomClosed, models.RoomArchived} {
		if code := setStatus(status); code != http.StatusOK {
			t.Fatalf("Expected 200 moving to %s, got %d", status, code)
		}
	}

	// Archived is final
	if code := setStatus(models.RoomDraft); code != http.StatusConflict {
		t.Errorf("Expected 409 reopening an archived room, got %d", code)
	}

	room, err := getRoom(context.Background(), d, f.RoomID)
	if err != nil {
		t.Fatalf("getRoom failed: %v", err)
	}
	if room.FinalSnapshotID == nil {
		t.Error("Expected closing to store a snapshot")
	}

	var notified int
	if err := d.GetContext(context.Background(), &notified,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND kind = 'room_opened'`, f.Admin); err != nil {
		t.Fatalf("Failed to count notifications: %v", err)
	}
	if notified != 1 {
		t.Errorf("Expected members to be notified when voting opens, got %d", notified)
	}
}

func TestSubmitBallot(t *testing.T) {
	d := testutil.SetupTestDB(t)
	handler := NewRoomHandler(d, testutil.GetTestConfig())
	f := newRoomFixture(t, d, models.MethodPlurality, models.RoomActive, true, "A", "B")
	a, b := f.Options[0], f.Options[1]

	walletVoter, wallet := testutil.CreateTestUser(t, d, 0)
	testutil.AddTestVoter(t, d, f.RoomID, wallet, "", false)

	emailVoter, _ := testutil.CreateTestUser(t, d, 0)
	testutil.AddTestVoter(t, d, f.RoomID, "verified@example.com", emailVoter, true)

	pendingVoter, _ := testutil.CreateTestUser(t, d, 0)
	testutil.AddTestVoter(t, d, f.RoomID, "pending@example.com", pendingVoter, false)

	stranger, _ := testutil.CreateTestUser(t, d, 0)

	tests := []struct {
		name           string
		userID         string
		scores         map[string]float64
		expectedStatus int
	}{
		{"listed wallet", walletVoter, map[string]float64{a: 1, b: 0}, http.StatusCreated},
		{"verified email", emailVoter, map[string]float64{b: 1}, http.StatusCreated},
		{"unverified email", pendingVoter, map[string]float64{a: 1}, http.StatusForbidden},
		{"not listed", stranger, map[string]float64{a: 1}, http.StatusForbidden},
		{"two selections", walletVoter, map[string]float64{a: 1, b: 1}, http.StatusBadRequest},
		{"fractional plurality", walletVoter, map[string]float64{a: 0.5}, http.StatusBadRequest},
		{"out of range", walletVoter, map[string]float64{a: 1.5}, http.StatusBadRequest},
		{"unknown option", walletVoter, map[string]float64{"nope": 1}, http.StatusBadRequest},
		{"empty ballot", walletVoter, map[string]float64{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := models.SubmitBallotRequest{Scores: tt.scores}
			req := testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/ballots", body, nil), tt.userID)
			w := serve(handler.SubmitBallot, req, "id", f.RoomID)
			testutil.AssertStatus(t, w, tt.expectedStatus)

			if tt.expectedStatus == http.StatusCreated {
				var resp models.SubmitBallotResponse
				testutil.AssertJSON(t, w, &resp)
				if resp.Reward != ledger.RoomVoteReward {
					t.Errorf("Expected reward %d, got %d", ledger.RoomVoteReward, resp.Reward)
				}
			}
		})
	}
}

func TestUpdateBallot(t *testing.T) {
	d := testutil.SetupTestDB(t)
	ctx := context.Background()
	handler := NewRoomHandler(d, testutil.GetTestConfig())
	f := newRoomFixture(t, d, models.MethodBMJ, models.RoomActive, false, "A", "B")
	voter, _ := testutil.CreateTestUser(t, d, 0)

	submit := func(scores map[string]float64) (int, models.SubmitBallotResponse) {
		body := models.SubmitBallotRequest{Scores: scores}
		req := testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/ballots", body, nil), voter)
		w := serve(handler.SubmitBallot, req, "id", f.RoomID)
		var resp models.SubmitBallotResponse
		testutil.AssertJSON(t, w, &resp)
		return w.Code, resp
	}

	code, first := submit(map[string]float64{f.Options[0]: 0.9, f.Options[1]: 0.2})
	if code != http.StatusCreated {
		t.Fatalf("Expected 201 for first ballot, got %d", code)
	}

	code, second := submit(map[string]float64{f.Options[0]: 0.1})
	if code != http.StatusOK {
		t.Fatalf("Expected 200 for resubmission, got %d", code)
	}
	if second.BallotID != first.BallotID {
		t.Errorf("Expected ballot ID to be kept, got %s and %s", first.BallotID, second.BallotID)
	}
	if second.Reward != 0 {
		t.Errorf("Expected no reward for resubmission, got %d", second.Reward)
	}

	var scores []float64
	if err := d.SelectContext(ctx, &scores, `SELECT value01 FROM room_scores WHERE ballot_id = ?`, first.BallotID); err != nil {
		t.Fatalf("Failed to load scores: %v", err)
	}
	if len(scores) != 1 || scores[0] != 0.1 {
		t.Errorf("Expected scores replaced with [0.1], got %v", scores)
	}

	balance, err := ledger.Balance(ctx, d, voter)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != ledger.RoomVoteReward {
		t.Errorf("Expected balance %d, got %d", ledger.RoomVoteReward, balance)
	}
}

func TestSubmitBallotToClosedRoom(t *testing.T) {
	d := testutil.SetupTestDB(t)
	handler := NewRoomHandler(d, testutil.GetTestConfig())
	voter, _ := testutil.CreateTestUser(t, d, 0)

	for _, status := range []string{models.RoomDraft, models.RoomClosed} {
		t.Run(status, func(t *testing.T) {
			f := newRoomFixture(t, d, models.MethodPlurality, status, false, "A", "B")
			body := models.SubmitBallotRequest{Scores: map[string]float64{f.Options[0]: 1}}
			req := testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/ballots", body, nil), voter)
			w := serve(handler.SubmitBallot, req, "id", f.RoomID)
			testutil.AssertStatus(t, w, http.StatusConflict)
		})
	}
}

func TestSubmitBallotAfterEndsAt(t *testing.T) {
	d := testutil.SetupTestDB(t)
	handler := NewRoomHandler(d, testutil.GetTestConfig())
	f := newRoomFixture(t, d, models.MethodPlurality, models.RoomActive, false, "A", "B")
	voter, _ := testutil.CreateTestUser(t, d, 0)

	if _, err := d.ExecContext(context.Background(), `UPDATE voting_rooms SET ends_at = ? WHERE id = ?`,
		time.Now().Add(-time.Minute).UTC(), f.RoomID); err != nil {
		t.Fatalf("Failed to set ends_at: %v", err)
	}

	body := models.SubmitBallotRequest{Scores: map[string]float64{f.Options[0]: 1}}
	req := testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/ballots", body, nil), voter)
	w := serve(handler.SubmitBallot, req, "id", f.RoomID)
	testutil.AssertStatus(t, w, http.StatusConflict)
}

// TestConcurrentBallotSubmissions verifies that simultaneous ballots from
// different voters are all stored exactly once
func TestConcurrentBallotSubmissions(t *testing.T) {
	d := testutil.SetupTestDB(t)
	handler := NewRoomHandler(d, testutil.GetTestConfig())
	f := newRoomFixture(t, d, models.MethodBMJ, models.RoomActive, false, "A", "B", "C")

	numVoters := 10
	voters := make([]string, numVoters)
	for i := range voters {
		voters[i], _ = testutil.CreateTestUser(t, d, 0)
	}

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < numVoters; i++ {
		wg.Add(1)
		go func(voterIdx int) {
			defer wg.Done()
			scores := map[string]float64{
				f.Options[0]: float64(voterIdx%3) / 2.0,
				f.Options[1]: float64((voterIdx+1)%3) / 2.0,
				f.Options[2]: float64((voterIdx+2)%3) / 2.0,
			}
			body := models.SubmitBallotRequest{Scores: scores}
			req := testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/ballots", body, nil), voters[voterIdx])
			w := serve(handler.SubmitBallot, req, "id", f.RoomID)
			if w.Code == http.StatusCreated {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if int(successCount.Load()) != numVoters {
		t.Errorf("Expected %d successful submissions, got %d", numVoters, successCount.Load())
	}

	count, err := ballotCount(context.Background(), d, f.RoomID)
	if err != nil {
		t.Fatalf("Failed to count ballots: %v", err)
	}
	if count != numVoters {
		t.Errorf("Expected %d ballots in database, got %d", numVoters, count)
	}
}

func TestValidateScores(t *testing.T) {
	options := []models.RoomOption{{ID: "a"}, {ID: "b"}}
	tests := []struct {
		name    string
		method  string
		scores  map[string]float64
		wantErr bool
	}{
		{"plurality single pick", models.MethodPlurality, map[string]float64{"a": 1, "b": 0}, false},
		{"plurality no pick", models.MethodPlurality, map[string]float64{"a": 0}, true},
		{"plurality partial", models.MethodPlurality, map[string]float64{"a": 0.5}, true},
		{"bmj fractional", models.MethodBMJ, map[string]float64{"a": 0.3, "b": 0.7}, false},
		{"unknown option", models.MethodBMJ, map[string]float64{"c": 0.3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateScores(tt.method, options, tt.scores)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateScores() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
