// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the VoteQuest API.

# Handler Types

Each handler is a struct with database and config dependencies:

  - AuthHandler: Wallet nonce and signature login
  - UserHandler: Profile, TOTP and on-chain balances
  - ProposalHandler: Community proposals and yes/no/abstain votes
  - CoinHandler: Balances, transfers and spending
  - LeaderboardHandler: Cached XP leaderboard
  - NotificationHandler: In-app notifications
  - OrgHandler: Organizations, members and email verification
  - RoomHandler: Voting rooms, options, voter lists and ballots
  - EligibilityHandler: Email codes for listed voters
  - ResultsHandler: Sealed room results and ballot counts
  - ChatHandler: Civic assistant chat
  - PaymentHandler: Signed coin purchase webhooks

Handlers are created via constructor functions that accept *db.DB and Config:

	proposals := handlers.NewProposalHandler(d, cfg)

# Room Lifecycle

Rooms progress through four states: draft → active → closed → archived

	POST /orgs/{id}/rooms      → CreateRoom (verified orgs only)
	POST /rooms/{id}/options   → AddOption (draft only)
	POST /rooms/{id}/status    → SetStatus (closing computes results)
	POST /rooms/{id}/ballots   → SubmitBallot (create or update)
	GET  /rooms/{id}/results   → GetResults (closed rooms only)

Room management requires an org admin.

# Ranking

Rooms are ranked by plurality or by Balanced Majority Judgment (bmj.go):

	rankings, err := ComputeRankings(ctx, d, roomID, method)

BMJ computes median, P10, P90, mean, negative share, and veto status
for each option, then ranks them lexicographically.

# Rewards

Proposal votes and first ballots credit coins and XP through the ledger
package. Voting on consecutive days grows a streak that pays a bonus.
*/
package handlers
