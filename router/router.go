// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/redis/go-redis/v9"

	"github.com/danielhkuo/votequest/chain"
	"github.com/danielhkuo/votequest/chat"
	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/handlers"
	"github.com/danielhkuo/votequest/mailer"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/ratelimit"
	"github.com/danielhkuo/votequest/telemetry"
	"github.com/danielhkuo/votequest/verify"
)

// Limits are the rate limiters applied by the router. A nil limiter
// disables that policy.
type Limits struct {
	Global ratelimit.Limiter
	Auth   ratelimit.Limiter
	Verify ratelimit.Limiter
	Chat   ratelimit.Limiter
}

// NewLimits builds the configured limiters, shared through rdb when it is
// set and held in memory otherwise. Memory limiters are swept until ctx is
// done.
func NewLimits(ctx context.Context, cfg cliparse.RateLimitConfig, rdb redis.UniversalClient) Limits {
	if !cfg.Enabled {
		return Limits{}
	}

	build := func(p ratelimit.Policy) ratelimit.Limiter {
		if rdb != nil {
			return ratelimit.NewRedisLimiter(rdb, p)
		}
		m := ratelimit.NewMemoryLimiter(p)
		m.StartJanitor(ctx, time.Minute)
		return m
	}

	return Limits{
		Global: build(ratelimit.PerSecond("global", cfg.GlobalRPS, cfg.GlobalBurst)),
		Auth:   build(ratelimit.PerMinute("auth", cfg.AuthPerMin)),
		Verify: build(ratelimit.PerMinute("verify", cfg.VerifyPerMin)),
		Chat:   build(ratelimit.PerMinute("chat", cfg.ChatPerMin)),
	}
}

// Deps are the services handlers depend on besides the database.
type Deps struct {
	Codes  verify.Store
	Mailer mailer.Mailer
	Chat   *chat.Client
	Chain  *chain.Client
	Limits Limits
}

func NewRouter(d *db.DB, cfg cliparse.Config, deps Deps) http.Handler {
	if deps.Codes == nil {
		deps.Codes = verify.NewMemoryStore()
	}
	if deps.Mailer == nil {
		deps.Mailer = mailer.New(cfg.SMTP)
	}
	if deps.Chat == nil {
		deps.Chat = chat.NewClient(chat.Config{BaseURL: cfg.Chat.BaseURL, APIKey: cfg.Chat.APIKey, Model: cfg.Chat.Model})
	}
	if deps.Chain == nil {
		deps.Chain = chain.NewClient(chain.Config{RPCURL: cfg.Chain.RPCURL})
	}

	mux := http.NewServeMux()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(d, cfg, deps.Codes)
	userHandler := handlers.NewUserHandler(d, cfg, deps.Chain)
	leaderboardHandler := handlers.NewLeaderboardHandler(d, cfg)
	proposalHandler := handlers.NewProposalHandler(d, cfg)
	coinHandler := handlers.NewCoinHandler(d, cfg)
	notificationHandler := handlers.NewNotificationHandler(d, cfg)
	orgHandler := handlers.NewOrgHandler(d, cfg, deps.Codes, deps.Mailer)
	roomHandler := handlers.NewRoomHandler(d, cfg)
	eligibilityHandler := handlers.NewEligibilityHandler(d, cfg, deps.Codes, deps.Mailer)
	resultsHandler := handlers.NewResultsHandler(d, cfg)
	chatHandler := handlers.NewChatHandler(cfg, deps.Chat)
	paymentHandler := handlers.NewPaymentHandler(d, cfg)

	auth := middleware.RequireAuth(cfg.JWTSecret)
	optionalAuth := middleware.OptionalAuth(cfg.JWTSecret)
	limit := func(name string, l ratelimit.Limiter, h http.HandlerFunc) http.HandlerFunc {
		if l == nil {
			return h
		}
		return ratelimit.Wrap(ratelimit.Options{Name: name, Limiter: l, TrustProxy: cfg.TrustProxy}, h)
	}

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.PingContext(ctx); err != nil {
			slog.Error("health check failed", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Wallet login (strict per-IP budget)
	mux.HandleFunc("POST /auth/nonce", limit("auth", deps.Limits.Auth, authHandler.Nonce))
	mux.HandleFunc("POST /auth/wallet", limit("auth", deps.Limits.Auth, authHandler.WalletLogin))

	// Profile
	mux.HandleFunc("GET /users/me", auth(userHandler.GetMe))
	mux.HandleFunc("PATCH /users/me", auth(userHandler.UpdateMe))
	mux.HandleFunc("POST /users/me/totp/setup", auth(userHandler.SetupTOTP))
	mux.HandleFunc("POST /users/me/totp/enable", auth(limit("verify", deps.Limits.Verify, userHandler.EnableTOTP)))
	mux.HandleFunc("POST /users/me/totp/disable", auth(limit("verify", deps.Limits.Verify, userHandler.DisableTOTP)))
	mux.HandleFunc("GET /users/me/rooms", auth(userHandler.GetMyRooms))
	mux.HandleFunc("GET /users/me/onchain", auth(userHandler.GetOnchain))
	mux.HandleFunc("GET /leaderboard", leaderboardHandler.GetLeaderboard)

	// Proposals
	mux.HandleFunc("POST /proposals", auth(proposalHandler.CreateProposal))
	mux.HandleFunc("GET /proposals", proposalHandler.ListProposals)
	mux.HandleFunc("GET /proposals/{id}", optionalAuth(proposalHandler.GetProposal))
	mux.HandleFunc("POST /proposals/{id}/votes", auth(proposalHandler.CastVote))
	mux.HandleFunc("POST /proposals/{id}/close", auth(proposalHandler.CloseProposal))

	// Coins
	mux.HandleFunc("GET /coins/balance", auth(coinHandler.GetBalance))
	mux.HandleFunc("GET /coins/transactions", auth(coinHandler.GetTransactions))
	mux.HandleFunc("POST /coins/transfer", auth(coinHandler.Transfer))
	mux.HandleFunc("POST /coins/spend", auth(coinHandler.Spend))
	mux.HandleFunc("GET /coins/packages", coinHandler.GetPackages)

	// Notifications
	mux.HandleFunc("GET /notifications", auth(notificationHandler.List))
	mux.HandleFunc("POST /notifications/{id}/read", auth(notificationHandler.MarkRead))
	mux.HandleFunc("POST /notifications/read-all", auth(notificationHandler.MarkAllRead))

	// Organizations
	mux.HandleFunc("POST /orgs", auth(orgHandler.CreateOrg))
	mux.HandleFunc("GET /orgs", auth(orgHandler.ListOrgs))
	mux.HandleFunc("GET /orgs/{id}", auth(orgHandler.GetOrg))
	mux.HandleFunc("POST /orgs/{id}/members", auth(orgHandler.AddMember))
	mux.HandleFunc("POST /orgs/{id}/verify/request", auth(limit("verify", deps.Limits.Verify, orgHandler.RequestVerification)))
	mux.HandleFunc("POST /orgs/{id}/verify/confirm", auth(limit("verify", deps.Limits.Verify, orgHandler.ConfirmVerification)))

	// Voting rooms
	mux.HandleFunc("POST /orgs/{id}/rooms", auth(roomHandler.CreateRoom))
	mux.HandleFunc("GET /rooms/{id}", roomHandler.GetRoom)
	mux.HandleFunc("POST /rooms/{id}/options", auth(roomHandler.AddOption))
	mux.HandleFunc("POST /rooms/{id}/voters", auth(roomHandler.AddVoters))
	mux.HandleFunc("GET /rooms/{id}/voters", auth(roomHandler.ListVoters))
	mux.HandleFunc("POST /rooms/{id}/status", auth(roomHandler.SetStatus))
	mux.HandleFunc("POST /rooms/{id}/eligibility/request", auth(limit("verify", deps.Limits.Verify, eligibilityHandler.Request)))
	mux.HandleFunc("POST /rooms/{id}/eligibility/verify", auth(limit("verify", deps.Limits.Verify, eligibilityHandler.Verify)))
	mux.HandleFunc("POST /rooms/{id}/ballots", auth(roomHandler.SubmitBallot))

	// Results (sealed until the room closes)
	mux.HandleFunc("GET /rooms/{id}/results", resultsHandler.GetResults)
	mux.HandleFunc("GET /rooms/{id}/ballot-count", resultsHandler.GetBallotCount)

	// Assistant
	mux.HandleFunc("POST /chat", auth(limit("chat", deps.Limits.Chat, chatHandler.Chat)))

	// Payment provider callbacks (signed, no session)
	mux.HandleFunc("POST /webhooks/payments", paymentHandler.Webhook)

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("VoteQuest API v1"))
	})

	// Outermost first: recover panics, CORS, tracing, logging, global limit, gzip.
	var h http.Handler = ghandlers.CompressHandler(mux)
	if deps.Limits.Global != nil {
		h = ratelimit.Middleware(ratelimit.Options{Name: "global", Limiter: deps.Limits.Global, TrustProxy: cfg.TrustProxy})(h)
	}
	h = middleware.WithLogging(h)
	h = telemetry.Middleware(h)
	h = middleware.CORS(h)
	h = ghandlers.RecoveryHandler(ghandlers.RecoveryLogger(recoveryLogger{}), ghandlers.PrintRecoveryStack(true))(h)
	return h
}

// recoveryLogger reports recovered panics through slog.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	slog.Error("panic recovered", "panic", v)
}
