// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// Migration is one versioned schema step. Statements must be valid on both
// Postgres and SQLite.
type Migration struct {
	Version    int64
	Name       string
	Statements []string
}

// Migrate applies every migration newer than the recorded schema version.
// Safe to call multiple times.
func Migrate(ctx context.Context, d *DB) error {
	logger := log.FromContext(ctx).WithPrefix("migrate")
	return d.TransactionContext(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS migrations (
				version INTEGER PRIMARY KEY,
				name TEXT NOT NULL,
				applied_at TIMESTAMP NOT NULL
			)
		`); err != nil {
			return fmt.Errorf("failed to create migrations table: %w", err)
		}

		var current int64
		if err := tx.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM migrations`); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		for _, m := range migrations {
			if m.Version <= current {
				continue
			}

			logger.Info("running migration", "version", m.Version, "name", m.Name)
			for _, stmt := range m.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
				}
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Name, time.Now().UTC(),
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
		}

		return nil
	})
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "create users and proposals",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				wallet_address TEXT NOT NULL UNIQUE,
				username TEXT UNIQUE,
				email TEXT,
				coins BIGINT NOT NULL DEFAULT 0 CHECK (coins >= 0),
				xp BIGINT NOT NULL DEFAULT 0,
				streak_days INTEGER NOT NULL DEFAULT 0,
				last_vote_on TEXT,
				totp_secret TEXT,
				totp_enabled BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP NOT NULL,
				last_login_at TIMESTAMP
			)`, `
			CREATE TABLE IF NOT EXISTS proposals (
				id TEXT PRIMARY KEY,
				creator_id TEXT NOT NULL REFERENCES users(id),
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				category TEXT NOT NULL DEFAULT 'general',
				status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'closed')),
				ends_at TIMESTAMP NOT NULL,
				closed_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status, ends_at)`, `
			CREATE TABLE IF NOT EXISTS proposal_votes (
				proposal_id TEXT NOT NULL REFERENCES proposals(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				choice TEXT NOT NULL CHECK (choice IN ('yes', 'no', 'abstain')),
				created_at TIMESTAMP NOT NULL,
				PRIMARY KEY (proposal_id, user_id)
			)`,
		},
	},
	{
		Version: 2,
		Name:    "create coin ledger and notifications",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS coin_transactions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				amount BIGINT NOT NULL,
				kind TEXT NOT NULL,
				reference TEXT NOT NULL DEFAULT '',
				balance_after BIGINT NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_coin_transactions_user ON coin_transactions(user_id, created_at)`, `
			CREATE TABLE IF NOT EXISTS notifications (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				kind TEXT NOT NULL,
				title TEXT NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				read_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at)`, `
			CREATE TABLE IF NOT EXISTS payment_events (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL,
				user_id TEXT NOT NULL,
				coins BIGINT NOT NULL DEFAULT 0,
				processed_at TIMESTAMP NOT NULL
			)`,
		},
	},
	{
		Version: 3,
		Name:    "create organizations and voting rooms",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS organizations (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				slug TEXT NOT NULL UNIQUE,
				email TEXT NOT NULL,
				owner_id TEXT NOT NULL REFERENCES users(id),
				verified BOOLEAN NOT NULL DEFAULT FALSE,
				verified_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL
			)`, `
			CREATE TABLE IF NOT EXISTS org_members (
				org_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
				created_at TIMESTAMP NOT NULL,
				PRIMARY KEY (org_id, user_id)
			)`, `
			CREATE TABLE IF NOT EXISTS voting_rooms (
				id TEXT PRIMARY KEY,
				org_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				method TEXT NOT NULL DEFAULT 'plurality' CHECK (method IN ('plurality', 'bmj')),
				status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'active', 'closed', 'archived')),
				requires_verification BOOLEAN NOT NULL DEFAULT TRUE,
				ends_at TIMESTAMP,
				opened_at TIMESTAMP,
				closed_at TIMESTAMP,
				final_snapshot_id TEXT,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_voting_rooms_org ON voting_rooms(org_id)`,
			`CREATE INDEX IF NOT EXISTS idx_voting_rooms_status ON voting_rooms(status, ends_at)`, `
			CREATE TABLE IF NOT EXISTS room_options (
				id TEXT PRIMARY KEY,
				room_id TEXT NOT NULL REFERENCES voting_rooms(id) ON DELETE CASCADE,
				label TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_room_options_room ON room_options(room_id)`, `
			CREATE TABLE IF NOT EXISTS voter_eligibility (
				room_id TEXT NOT NULL REFERENCES voting_rooms(id) ON DELETE CASCADE,
				identifier TEXT NOT NULL,
				user_id TEXT REFERENCES users(id) ON DELETE SET NULL,
				verified BOOLEAN NOT NULL DEFAULT FALSE,
				verified_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL,
				PRIMARY KEY (room_id, identifier)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_voter_eligibility_user ON voter_eligibility(user_id)`, `
			CREATE TABLE IF NOT EXISTS room_ballots (
				id TEXT PRIMARY KEY,
				room_id TEXT NOT NULL REFERENCES voting_rooms(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				submitted_at TIMESTAMP NOT NULL,
				ip_hash TEXT,
				UNIQUE (room_id, user_id)
			)`, `
			CREATE TABLE IF NOT EXISTS room_scores (
				ballot_id TEXT NOT NULL REFERENCES room_ballots(id) ON DELETE CASCADE,
				option_id TEXT NOT NULL REFERENCES room_options(id) ON DELETE CASCADE,
				value01 DOUBLE PRECISION NOT NULL CHECK (value01 >= 0 AND value01 <= 1),
				PRIMARY KEY (ballot_id, option_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_room_scores_option ON room_scores(option_id)`, `
			CREATE TABLE IF NOT EXISTS result_snapshots (
				id TEXT PRIMARY KEY,
				room_id TEXT NOT NULL REFERENCES voting_rooms(id) ON DELETE CASCADE,
				method TEXT NOT NULL,
				computed_at TIMESTAMP NOT NULL,
				payload TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_result_snapshots_room ON result_snapshots(room_id)`,
		},
	},
}
