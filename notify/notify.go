// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package notify stores in-app notifications.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/models"
)

// Notification kinds
const (
	KindWelcome        = "welcome"
	KindStreak         = "streak"
	KindTransfer       = "transfer"
	KindPurchase       = "purchase"
	KindOrgVerified    = "org_verified"
	KindRoomOpened     = "room_opened"
	KindRoomClosed     = "room_closed"
	KindProposalClosed = "proposal_closed"
)

var ErrNotFound = errors.New("notification not found")

// Create adds a notification for userID.
func Create(ctx context.Context, h db.Handler, userID, kind, title, body string) (string, error) {
	id := uuid.NewString()
	_, err := h.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, title, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, userID, kind, title, body, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to create notification: %w", err)
	}
	return id, nil
}

// List returns a user's notifications, newest first.
func List(ctx context.Context, h db.Handler, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := `
		SELECT id, user_id, kind, title, body, read_at, created_at
		FROM notifications
		WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`

	out := []models.Notification{}
	if err := h.SelectContext(ctx, &out, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

// MarkRead marks one of userID's notifications read.
func MarkRead(ctx context.Context, h db.Handler, userID, id string) error {
	var readAt sql.NullTime
	err := h.GetContext(ctx, &readAt, `SELECT read_at FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load notification: %w", err)
	}
	if readAt.Valid {
		return nil
	}

	_, err = h.ExecContext(ctx, `UPDATE notifications SET read_at = ? WHERE id = ? AND user_id = ?`,
		time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

// MarkAllRead marks every unread notification of userID read and returns
// how many changed.
func MarkAllRead(ctx context.Context, h db.Handler, userID string) (int64, error) {
	res, err := h.ExecContext(ctx, `UPDATE notifications SET read_at = ? WHERE user_id = ? AND read_at IS NULL`,
		time.Now().UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeRead deletes notifications read before cutoff.
func PurgeRead(ctx context.Context, h db.Handler, cutoff time.Time) (int64, error) {
	res, err := h.ExecContext(ctx, `DELETE FROM notifications WHERE read_at IS NOT NULL AND read_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
