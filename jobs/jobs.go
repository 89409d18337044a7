// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package jobs runs the periodic sweeps: closing proposals and rooms whose
// end time has passed and purging old read notifications.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/handlers"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/notify"
)

// NotificationRetention is how long read notifications are kept.
const NotificationRetention = 30 * 24 * time.Hour

// Runner executes the sweeps against a database.
type Runner struct {
	db  *db.DB
	now func() time.Time
}

// NewRunner returns a Runner using the wall clock.
func NewRunner(d *db.DB) *Runner {
	return &Runner{db: d, now: time.Now}
}

// CloseExpiredProposals closes every active proposal past its end time and
// returns how many were closed. A proposal that fails to close is logged and
// skipped; the failures are joined into the returned error.
func (r *Runner) CloseExpiredProposals(ctx context.Context) (int, error) {
	now := r.now().UTC()

	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM proposals WHERE status = ? AND ends_at <= ? ORDER BY ends_at, id
	`, models.ProposalActive, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired proposals: %w", err)
	}

	closed := 0
	var errs []error
	for _, id := range ids {
		err := r.db.TransactionContext(ctx, func(tx *db.Tx) error {
			return handlers.CloseProposal(ctx, tx, id, now)
		})
		if err != nil {
			slog.Error("failed to close proposal", "proposal_id", id, "error", err)
			errs = append(errs, fmt.Errorf("close proposal %s: %w", id, err))
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

// CloseExpiredRooms closes every active room past its end time, storing
// the final results, and returns how many were closed.
func (r *Runner) CloseExpiredRooms(ctx context.Context) (int, error) {
	now := r.now().UTC()

	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM voting_rooms
		WHERE status = ? AND ends_at IS NOT NULL AND ends_at <= ?
		ORDER BY ends_at, id
	`, models.RoomActive, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired rooms: %w", err)
	}

	closed := 0
	var errs []error
	for _, id := range ids {
		var ok bool
		err := r.db.TransactionContext(ctx, func(tx *db.Tx) error {
			var err error
			ok, err = handlers.CloseExpiredRoom(ctx, tx, id, now)
			return err
		})
		if err != nil {
			slog.Error("failed to close room", "room_id", id, "error", err)
			errs = append(errs, fmt.Errorf("close room %s: %w", id, err))
			continue
		}
		if ok {
			closed++
		}
	}
	return closed, errors.Join(errs...)
}

// PurgeNotifications deletes read notifications older than
// NotificationRetention.
func (r *Runner) PurgeNotifications(ctx context.Context) (int64, error) {
	return notify.PurgeRead(ctx, r.db, r.now().Add(-NotificationRetention))
}

// RunAll runs every sweep once. A failing sweep doesn't stop the others.
func (r *Runner) RunAll(ctx context.Context) error {
	proposals, errProposals := r.CloseExpiredProposals(ctx)
	rooms, errRooms := r.CloseExpiredRooms(ctx)
	purged, errPurge := r.PurgeNotifications(ctx)

	slog.Info("sweep finished", "proposals_closed", proposals, "rooms_closed", rooms, "notifications_purged", purged)
	return errors.Join(errProposals, errRooms, errPurge)
}
