// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the votequest command, the VoteQuest API server.

VoteQuest is a community governance service: wallet sign-in, yes/no/abstain
proposals with coin and XP rewards, and verified organizations running
voting rooms scored by plurality or Balanced Majority Judgment (BMJ).

# Commands

	votequest serve    # API server, background jobs, optional /metrics
	votequest migrate  # apply the schema and exit
	votequest sweep    # close expired proposals and rooms, purge notifications

# Configuration

Settings are read from defaults, then a YAML file (--config), then a
dotenv file (--env-file, default .env), then the environment, then flags.

Required settings:

  - DATABASE_URL (-d): Postgres URL or SQLite path
  - JWT_SECRET (--jwt-secret): session signing secret, 16+ characters
  - IP_HASH_SALT (--ip-salt): salt for hashed client IPs and slug suffixes

Optional settings:

  - PORT (-p): server port (default: 3318)
  - REDIS_URL: share rate limits and verification codes across instances
  - METRICS_ADDR: listen address for Prometheus metrics
  - OTEL_ENDPOINT: OTLP/HTTP trace collector
  - LOG_FORMAT, LOG_LEVEL: text, json or logfmt; debug, info, warn, error
  - RATE_LIMIT_*: per-IP budgets
  - CHAT_*, CHAIN_*, SMTP_*, PAYMENTS_WEBHOOK_SECRET: optional integrations

# Architecture

  - handlers: HTTP request handlers
  - router: route table and middleware chain
  - middleware: CORS, request logging, sessions, JSON helpers
  - ledger, notify: coin receipts, rewards and notifications
  - verify, mailer: one-time codes and their delivery
  - ratelimit: per-IP budgets, in memory or in Redis
  - chat, chain, payments: upstream integrations
  - jobs: periodic sweeps
  - db, models, cliparse, logging, metrics, telemetry: infrastructure
*/
package main
