// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"testing"

	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/testutil"
)

func TestResultsSealedUntilClosed(t *testing.T) {
	d := testutil.SetupTestDB(t)
	handler := NewResultsHandler(d, testutil.GetTestConfig())

	for _, status := range []string{models.RoomDraft, models.RoomActive} {
		t.Run(status, func(t *testing.T) {
			f := newRoomFixture(t, d, models.MethodPlurality, status, false, "A", "B")
			req := testutil.MakeRequest("GET", "/rooms/"+f.RoomID+"/results", nil, nil)
			w := serve(handler.GetResults, req, "id", f.RoomID)
			testutil.AssertStatus(t, w, http.StatusForbidden)
		})
	}

	req := testutil.MakeRequest("GET", "/rooms/missing/results", nil, nil)
	w := serve(handler.GetResults, req, "id", "missing")
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

// TestFullRoomWorkflow drives a room from draft to published results
func TestFullRoomWorkflow(t *testing.T) {
	d := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	rooms := NewRoomHandler(d, cfg)
	results := NewResultsHandler(d, cfg)

	f := newRoomFixture(t, d, models.MethodPlurality, models.RoomDraft, true, "Alice", "Bob")
	alice, bob := f.Options[0], f.Options[1]

	picks := []string{alice, bob, alice}
	wallets := make([]string, len(picks))
	voters := make([]string, len(picks))
	for i := range picks {
		voters[i], wallets[i] = testutil.CreateTestUser(t, d, 0)
	}

	req := testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/voters",
		models.AddVotersRequest{Identifiers: wallets}, nil), f.Admin)
	testutil.AssertStatus(t, serve(rooms.AddVoters, req, "id", f.RoomID), http.StatusOK)

	req = testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/status",
		models.RoomStatusRequest{Status: models.RoomActive}, nil), f.Admin)
	testutil.AssertStatus(t, serve(rooms.SetStatus, req, "id", f.RoomID), http.StatusOK)

	for i, pick := range picks {
		scores := map[string]float64{alice: 0, bob: 0}
		scores[pick] = 1
		req := testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/ballots",
			models.SubmitBallotRequest{Scores: scores}, nil), voters[i])
		testutil.AssertStatus(t, serve(rooms.SubmitBallot, req, "id", f.RoomID), http.StatusCreated)
	}

	// The count is visible while voting is open
	w := serve(results.GetBallotCount, testutil.MakeRequest("GET", "/rooms/"+f.RoomID+"/ballot-count", nil, nil), "id", f.RoomID)
	testutil.AssertStatus(t, w, http.StatusOK)
	var count models.BallotCountResponse
	testutil.AssertJSON(t, w, &count)
	if count.BallotCount != 3 {
		t.Errorf("Expected ballot count 3, got %d", count.BallotCount)
	}

	req = testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/status",
		models.RoomStatusRequest{Status: models.RoomClosed}, nil), f.Admin)
	testutil.AssertStatus(t, serve(rooms.SetStatus, req, "id", f.RoomID), http.StatusOK)

	w = serve(results.GetResults, testutil.MakeRequest("GET", "/rooms/"+f.RoomID+"/results", nil, nil), "id", f.RoomID)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.RoomResultsResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Room.Status != models.RoomClosed {
		t.Errorf("Expected closed room, got %s", resp.Room.Status)
	}
	if resp.Snapshot.BallotCount != 3 {
		t.Errorf("Expected 3 ballots in snapshot, got %d", resp.Snapshot.BallotCount)
	}
	if len(resp.Snapshot.Rankings) != 2 {
		t.Fatalf("Expected 2 rankings, got %d", len(resp.Snapshot.Rankings))
	}
	winner := resp.Snapshot.Rankings[0]
	if winner.OptionID != alice || winner.Votes != 2 {
		t.Errorf("Expected Alice to win with 2 votes, got %s with %d", winner.Label, winner.Votes)
	}

	// Ballots are refused once closed
	req = testutil.AsUser(testutil.MakeRequest("POST", "/rooms/"+f.RoomID+"/ballots",
		models.SubmitBallotRequest{Scores: map[string]float64{alice: 1, bob: 0}}, nil), voters[1])
	testutil.AssertStatus(t, serve(rooms.SubmitBallot, req, "id", f.RoomID), http.StatusConflict)
}

func TestGetBallotCountForRoomWithNoBallots(t *testing.T) {
	d := testutil.SetupTestDB(t)
	handler := NewResultsHandler(d, testutil.GetTestConfig())
	f := newRoomFixture(t, d, models.MethodPlurality, models.RoomActive, false, "A", "B")

	w := serve(handler.GetBallotCount, testutil.MakeRequest("GET", "/rooms/"+f.RoomID+"/ballot-count", nil, nil), "id", f.RoomID)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.BallotCountResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.BallotCount != 0 {
		t.Errorf("Expected 0 ballots, got %d", resp.BallotCount)
	}
}

func TestGetRoom(t *testing.T) {
	d := testutil.SetupTestDB(t)
	handler := NewRoomHandler(d, testutil.GetTestConfig())
	f := newRoomFixture(t, d, models.MethodBMJ, models.RoomActive, false, "A", "B", "C")

	w := serve(handler.GetRoom, testutil.MakeRequest("GET", "/rooms/"+f.RoomID, nil, nil), "id", f.RoomID)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.RoomWithOptions
	testutil.AssertJSON(t, w, &resp)
	if resp.Room.ID != f.RoomID || len(resp.Options) != 3 {
		t.Errorf("Expected room %s with 3 options, got %s with %d", f.RoomID, resp.Room.ID, len(resp.Options))
	}
}
