// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/pquerna/otp/totp"
	"github.com/tidwall/gjson"

	"github.com/danielhkuo/votequest/chain"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/testutil"
)

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"alice", "alice", false},
		{"  Alice_99 ", "alice_99", false},
		{"ＡＢＣ", "abc", false}, // full-width folds to ASCII
		{"ab", "", true},
		{"has space", "", true},
		{"émile", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeUsername(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeUsername(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeUsername(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUpdateMe(t *testing.T) {
	d := testutil.SetupTestDB(t)
	h := NewUserHandler(d, testutil.GetTestConfig(), chain.NewClient(chain.Config{}))
	alice, _ := testutil.CreateTestUser(t, d, 0)
	bob, _ := testutil.CreateTestUser(t, d, 0)

	str := func(s string) *string { return &s }

	tests := []struct {
		name           string
		userID         string
		body           models.UpdateProfileRequest
		expectedStatus int
	}{
		{"set username", alice, models.UpdateProfileRequest{Username: str("Alice")}, http.StatusOK},
		{"taken username", bob, models.UpdateProfileRequest{Username: str("alice")}, http.StatusConflict},
		{"invalid username", bob, models.UpdateProfileRequest{Username: str("a!")}, http.StatusBadRequest},
		{"set email", bob, models.UpdateProfileRequest{Email: str("Bob@Example.com")}, http.StatusOK},
		{"invalid email", bob, models.UpdateProfileRequest{Email: str("bob")}, http.StatusBadRequest},
		{"nothing", bob, models.UpdateProfileRequest{}, http.StatusBadRequest},
		{"clear username", alice, models.UpdateProfileRequest{Username: str("")}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.AsUser(testutil.MakeRequest("PATCH", "/users/me", tt.body, nil), tt.userID)
			w := serve(h.UpdateMe, req)
			testutil.AssertStatus(t, w, tt.expectedStatus)
		})
	}

	w := serve(h.GetMe, testutil.AsUser(testutil.MakeRequest("GET", "/users/me", nil, nil), bob))
	testutil.AssertStatus(t, w, http.StatusOK)
	var user models.User
	testutil.AssertJSON(t, w, &user)
	if user.Email == nil || *user.Email != "bob@example.com" {
		t.Errorf("Expected normalized email, got %v", user.Email)
	}
	if user.Level != 1 {
		t.Errorf("Expected level 1, got %d", user.Level)
	}
}

func TestTOTPEnrolment(t *testing.T) {
	is := is.New(t)
	d := testutil.SetupTestDB(t)
	h := NewUserHandler(d, testutil.GetTestConfig(), chain.NewClient(chain.Config{}))
	userID, _ := testutil.CreateTestUser(t, d, 0)

	post := func(handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
		return serve(handler, testutil.AsUser(testutil.MakeRequest("POST", "/users/me/totp", body, nil), userID))
	}

	// Enabling before setup fails
	w := post(h.EnableTOTP, models.TOTPCodeRequest{Code: "123456"})
	is.Equal(w.Code, http.StatusConflict)

	w = post(h.SetupTOTP, nil)
	is.Equal(w.Code, http.StatusOK)
	var setup models.TOTPSetupResponse
	testutil.AssertJSON(t, w, &setup)
	is.True(setup.Secret != "")

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	is.NoErr(err)

	w = post(h.EnableTOTP, models.TOTPCodeRequest{Code: code})
	is.Equal(w.Code, http.StatusOK)

	// Setup is refused once enabled
	is.Equal(post(h.SetupTOTP, nil).Code, http.StatusConflict)
	is.Equal(post(h.EnableTOTP, models.TOTPCodeRequest{Code: code}).Code, http.StatusConflict)

	is.Equal(post(h.DisableTOTP, models.TOTPCodeRequest{Code: "not-a-code"}).Code, http.StatusUnauthorized)
	is.Equal(post(h.DisableTOTP, models.TOTPCodeRequest{Code: code}).Code, http.StatusOK)

	user, err := getUser(t.Context(), d, userID)
	is.NoErr(err)
	is.True(!user.TOTPEnabled)
	is.True(user.TOTPSecret == nil)
}

func TestGetMyRooms(t *testing.T) {
	d := testutil.SetupTestDB(t)
	h := NewUserHandler(d, testutil.GetTestConfig(), chain.NewClient(chain.Config{}))
	f := newRoomFixture(t, d, models.MethodPlurality, models.RoomActive, true, "A", "B")
	other := newRoomFixture(t, d, models.MethodPlurality, models.RoomActive, true, "A", "B")

	voter, _ := testutil.CreateTestUser(t, d, 0)
	testutil.AddTestVoter(t, d, f.RoomID, "me@example.com", voter, true)
	testutil.AddTestVoter(t, d, other.RoomID, "me@example.com", voter, false)

	w := serve(h.GetMyRooms, testutil.AsUser(testutil.MakeRequest("GET", "/users/me/rooms", nil, nil), voter))
	testutil.AssertStatus(t, w, http.StatusOK)

	var rooms []models.VotingRoom
	testutil.AssertJSON(t, w, &rooms)
	if len(rooms) != 1 || rooms[0].ID != f.RoomID {
		t.Errorf("Expected only the verified room, got %+v", rooms)
	}
}

func TestGetOnchain(t *testing.T) {
	is := is.New(t)
	d := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	userID, wallet := testutil.CreateTestUser(t, d, 0)

	unconfigured := NewUserHandler(d, cfg, chain.NewClient(chain.Config{}))
	w := serve(unconfigured.GetOnchain, testutil.AsUser(testutil.MakeRequest("GET", "/users/me/onchain", nil, nil), userID))
	is.Equal(w.Code, http.StatusServiceUnavailable)

	var gotAddress atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotAddress.Store(gjson.GetBytes(body, "params.0").String())
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x2a"}`))
	}))
	defer srv.Close()

	h := NewUserHandler(d, cfg, chain.NewClient(chain.Config{RPCURL: srv.URL}))
	w = serve(h.GetOnchain, testutil.AsUser(testutil.MakeRequest("GET", "/users/me/onchain", nil, nil), userID))
	is.Equal(w.Code, http.StatusOK)

	var resp models.OnchainResponse
	testutil.AssertJSON(t, w, &resp)
	is.Equal(resp.NativeWei, "42")
	is.Equal(gotAddress.Load(), wallet)
}
