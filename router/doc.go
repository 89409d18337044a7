// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the VoteQuest API.

# Route Registration

NewRouter returns the full handler: an http.ServeMux wrapped in the
middleware chain.

	h := router.NewRouter(db, cfg, router.Deps{Codes: codes, Mailer: mail})

Missing Deps fall back to in-memory codes, the configured mailer and
clients built from cfg.

# Middleware

Outermost first:

	panic recovery → CORS → tracing → request logging → global rate limit → gzip → mux

Login, code verification and chat routes carry their own stricter
per-IP budgets from NewLimits.

# Endpoints

Health and banner:

	GET /health
	GET /

Sign-in (public, rate limited):

	POST /auth/nonce
	POST /auth/wallet

Profile (session required):

	GET   /users/me
	PATCH /users/me
	POST  /users/me/totp/{setup,enable,disable}
	GET   /users/me/rooms
	GET   /users/me/onchain

Proposals:

	POST /proposals
	GET  /proposals
	GET  /proposals/{id}        - session optional
	POST /proposals/{id}/votes
	POST /proposals/{id}/close

Coins and notifications:

	GET  /coins/balance
	GET  /coins/transactions
	POST /coins/transfer
	POST /coins/spend
	GET  /coins/packages
	GET  /notifications
	POST /notifications/{id}/read
	POST /notifications/read-all

Organizations and voting rooms:

	POST /orgs
	GET  /orgs
	GET  /orgs/{id}
	POST /orgs/{id}/members
	POST /orgs/{id}/verify/request
	POST /orgs/{id}/verify/confirm
	POST /orgs/{id}/rooms
	GET  /rooms/{id}
	POST /rooms/{id}/options
	POST /rooms/{id}/voters
	GET  /rooms/{id}/voters
	POST /rooms/{id}/status
	POST /rooms/{id}/eligibility/request
	POST /rooms/{id}/eligibility/verify
	POST /rooms/{id}/ballots
	GET  /rooms/{id}/results      - closed rooms only
	GET  /rooms/{id}/ballot-count

Integrations:

	POST /chat
	POST /webhooks/payments       - signed by the payment provider
*/
package router
