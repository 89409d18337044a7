// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/danielhkuo/votequest/auth"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/mailer"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/testutil"
)

// serve runs handler against req with the given path values.
func serve(handler http.HandlerFunc, req *http.Request, pathValues ...string) *httptest.ResponseRecorder {
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

// roomFixture is an active room in a verified org, administered by Admin.
type roomFixture struct {
	OrgID   string
	RoomID  string
	Admin   string
	Options []string
}

func newRoomFixture(t *testing.T, d *db.DB, method, status string, requiresVerification bool, labels ...string) roomFixture {
	t.Helper()
	admin, _ := testutil.CreateTestUser(t, d, 0)
	orgID := testutil.CreateTestOrg(t, d, admin, true)
	roomID := testutil.CreateTestRoom(t, d, orgID, method, status, requiresVerification)

	f := roomFixture{OrgID: orgID, RoomID: roomID, Admin: admin}
	for _, label := range labels {
		f.Options = append(f.Options, testutil.AddTestOption(t, d, roomID, label))
	}
	return f
}

// signLogin signs the login message for key the way a wallet does.
func signLogin(t *testing.T, key *secp256k1.PrivateKey, nonce string) string {
	t.Helper()
	address := auth.AddressFromPublicKey(key.PubKey())
	message := auth.LoginMessage(auth.ChecksumAddress(address), nonce)

	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "\x19Ethereum Signed Message:\n%d%s", len(message), message)
	compact := ecdsa.SignCompact(key, h.Sum(nil), false)

	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig)
}

func newKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// findRanking finds a ranking by option ID
func findRanking(rankings []models.OptionStats, optionID string) *models.OptionStats {
	for i := range rankings {
		if rankings[i].OptionID == optionID {
			return &rankings[i]
		}
	}
	return nil
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

// mailedCode returns the code in the last message mailed to addr.
func mailedCode(t *testing.T, m *mailer.LogMailer, addr string) string {
	t.Helper()
	msg, ok := m.Last(addr)
	if !ok {
		t.Fatalf("No mail sent to %s", addr)
	}
	code := codePattern.FindString(msg.Body)
	if code == "" {
		t.Fatalf("No code in mail body %q", msg.Body)
	}
	return code
}
