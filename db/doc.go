// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db opens the database and manages the schema.

# Connections

Open connects with sqlx to Postgres (lib/pq) or SQLite (modernc.org/sqlite):

	d, err := db.Open(ctx, "postgres", cfg.DatabaseURL)

Queries are written with "?" placeholders and rebound for the driver. The
Handler interface is satisfied by both *DB and *Tx, so helpers run the same
inside or outside TransactionContext.

# Schema

Migrate applies each versioned migration newer than the one recorded in the
migrations table. Safe to call multiple times.

# Tables

  - users: wallet accounts, coins, XP, streaks, TOTP
  - proposals, proposal_votes: community proposals and one vote per user
  - coin_transactions: the coin ledger, one row per balance change
  - notifications: per-user inbox
  - payment_events: processed webhook IDs
  - organizations, org_members: organizations and their roles
  - voting_rooms, room_options: rooms and their options
  - voter_eligibility: who may vote in a room
  - room_ballots, room_scores: one ballot per voter per room
  - result_snapshots: immutable final results

# Relationships

	organizations 1──* org_members *──1 users
	organizations 1──* voting_rooms 1──* room_options
	voting_rooms 1──* voter_eligibility
	voting_rooms 1──* room_ballots 1──* room_scores
	voting_rooms 1──* result_snapshots
	proposals 1──* proposal_votes *──1 users

Foreign keys use ON DELETE CASCADE.
*/
package db
