// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package jobs

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/matryer/is"

	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/notify"
	"github.com/danielhkuo/votequest/testutil"
)

func TestCloseExpiredProposals(t *testing.T) {
	is := is.New(t)
	d := testutil.SetupTestDB(t)
	ctx := t.Context()

	creator, _ := testutil.CreateTestUser(t, d, 0)
	voter, _ := testutil.CreateTestUser(t, d, 0)
	now := time.Now().UTC()

	expired := testutil.CreateTestProposal(t, d, creator, models.ProposalActive, now.Add(-time.Minute))
	running := testutil.CreateTestProposal(t, d, creator, models.ProposalActive, now.Add(time.Hour))

	_, err := d.ExecContext(ctx, `
		INSERT INTO proposal_votes (proposal_id, user_id, choice, created_at) VALUES (?, ?, 'yes', ?)
	`, expired, voter, now)
	is.NoErr(err)

	r := NewRunner(d)
	n, err := r.CloseExpiredProposals(ctx)
	is.NoErr(err)
	is.Equal(n, 1)

	var status string
	is.NoErr(d.GetContext(ctx, &status, `SELECT status FROM proposals WHERE id = ?`, expired))
	is.Equal(status, models.ProposalClosed)
	is.NoErr(d.GetContext(ctx, &status, `SELECT status FROM proposals WHERE id = ?`, running))
	is.Equal(status, models.ProposalActive)

	// The voter hears about it
	list, err := notify.List(ctx, d, voter, true, 10)
	is.NoErr(err)
	is.Equal(len(list), 1)
	is.Equal(list[0].Kind, notify.KindProposalClosed)

	// Nothing left to do
	n, err = r.CloseExpiredProposals(ctx)
	is.NoErr(err)
	is.Equal(n, 0)
}

func TestCloseExpiredProposalsContinuesPastFailure(t *testing.T) {
	is := is.New(t)
	d := testutil.SetupTestDB(t)
	ctx := t.Context()

	creator, _ := testutil.CreateTestUser(t, d, 0)
	now := time.Now().UTC()

	// broken sorts first by end time
	broken := testutil.CreateTestProposal(t, d, creator, models.ProposalActive, now.Add(-2*time.Minute))
	healthy := testutil.CreateTestProposal(t, d, creator, models.ProposalActive, now.Add(-time.Minute))

	_, err := d.ExecContext(ctx, `
		CREATE TRIGGER fail_close BEFORE UPDATE ON proposals
		WHEN OLD.id = '`+broken+`'
		BEGIN SELECT RAISE(ABORT, 'close refused'); END
	`)
	is.NoErr(err)

	n, err := NewRunner(d).CloseExpiredProposals(ctx)
	is.True(err != nil) // the failure is reported
	is.Equal(n, 1)

	var status string
	is.NoErr(d.GetContext(ctx, &status, `SELECT status FROM proposals WHERE id = ?`, healthy))
	is.Equal(status, models.ProposalClosed)
	is.NoErr(d.GetContext(ctx, &status, `SELECT status FROM proposals WHERE id = ?`, broken))
	is.Equal(status, models.ProposalActive)
}

func TestCloseExpiredRooms(t *testing.T) {
	is := is.New(t)
	d := testutil.SetupTestDB(t)
	ctx := t.Context()

	admin, _ := testutil.CreateTestUser(t, d, 0)
	voter, _ := testutil.CreateTestUser(t, d, 0)
	orgID := testutil.CreateTestOrg(t, d, admin, true)
	now := time.Now().UTC()

	expired := testutil.CreateTestRoom(t, d, orgID, models.MethodBMJ, models.RoomActive, false)
	open := testutil.CreateTestRoom(t, d, orgID, models.MethodBMJ, models.RoomActive, false)
	draft := testutil.CreateTestRoom(t, d, orgID, models.MethodBMJ, models.RoomDraft, false)
	for id, endsAt := range map[string]time.Time{
		expired: now.Add(-time.Minute),
		open:    now.Add(time.Hour),
		draft:   now.Add(-time.Minute),
	} {
		_, err := d.ExecContext(ctx, `UPDATE voting_rooms SET ends_at = ? WHERE id = ?`, endsAt, id)
		is.NoErr(err)
	}

	a := testutil.AddTestOption(t, d, expired, "A")
	b := testutil.AddTestOption(t, d, expired, "B")
	testutil.SubmitTestBallot(t, d, expired, voter, map[string]float64{a: 0.9, b: 0.2})

	n, err := NewRunner(d).CloseExpiredRooms(ctx)
	is.NoErr(err)
	is.Equal(n, 1)

	var room struct {
		Status   string  `db:"status"`
		Snapshot *string `db:"final_snapshot_id"`
	}
	is.NoErr(d.GetContext(ctx, &room, `SELECT status, final_snapshot_id FROM voting_rooms WHERE id = ?`, expired))
	is.Equal(room.Status, models.RoomClosed)
	is.True(room.Snapshot != nil)

	for _, id := range []string{open, draft} {
		var status string
		is.NoErr(d.GetContext(ctx, &status, `SELECT status FROM voting_rooms WHERE id = ?`, id))
		is.True(status != models.RoomClosed)
	}
}

func TestPurgeNotifications(t *testing.T) {
	is := is.New(t)
	d := testutil.SetupTestDB(t)
	ctx := t.Context()

	userID, _ := testutil.CreateTestUser(t, d, 0)
	old, err := notify.Create(ctx, d, userID, notify.KindWelcome, "Old", "read long ago")
	is.NoErr(err)
	recent, err := notify.Create(ctx, d, userID, notify.KindWelcome, "Recent", "read today")
	is.NoErr(err)
	_, err = notify.Create(ctx, d, userID, notify.KindWelcome, "Unread", "never read")
	is.NoErr(err)

	now := time.Now().UTC()
	_, err = d.ExecContext(ctx, `UPDATE notifications SET read_at = ? WHERE id = ?`, now.Add(-40*24*time.Hour), old)
	is.NoErr(err)
	_, err = d.ExecContext(ctx, `UPDATE notifications SET read_at = ? WHERE id = ?`, now, recent)
	is.NoErr(err)

	r := NewRunner(d)
	r.now = func() time.Time { return now }
	n, err := r.PurgeNotifications(ctx)
	is.NoErr(err)
	is.Equal(n, int64(1))

	list, err := notify.List(ctx, d, userID, false, 10)
	is.NoErr(err)
	is.Equal(len(list), 2)
}

func TestRunAll(t *testing.T) {
	is := is.New(t)
	d := testutil.SetupTestDB(t)
	is.NoErr(NewRunner(d).RunAll(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := NewRunner(d).RunAll(ctx)
	is.True(errors.Is(err, context.Canceled))
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)
	logger.SetLevel(log.DebugLevel)
	clogger := cronLogger{logger}
	clogger.Info("foo")
	clogger.Error(errors.New("bar"), "test")
	if buf.String() != "DEBU foo\nERRO test err=bar\n" {
		t.Errorf("unexpected log output: %s", buf.String())
	}
}

func TestScheduler(t *testing.T) {
	is := is.New(t)
	d := testutil.SetupTestDB(t)

	s, err := NewScheduler(t.Context(), NewRunner(d))
	is.NoErr(err)
	is.Equal(s.Len(), 3)

	s.Start()
	s.Shutdown()
}
