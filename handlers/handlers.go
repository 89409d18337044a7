// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/ledger"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/verify"
)

// statusError is returned from transaction bodies to abort with a specific
// HTTP status.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return e.msg
}

func fail(code int, msg string) error {
	return &statusError{code: code, msg: msg}
}

// respondError writes err as a JSON error. Errors without a known status
// are logged with logMsg and reported as 500.
func respondError(w http.ResponseWriter, err error, logMsg string, args ...any) {
	var se *statusError
	switch {
	case errors.As(err, &se):
		middleware.ErrorResponse(w, se.code, se.msg)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		middleware.ErrorResponse(w, http.StatusPaymentRequired, "Insufficient coins")
	case errors.Is(err, ledger.ErrInvalidAmount):
		middleware.ErrorResponse(w, http.StatusBadRequest, "amount must be positive")
	case errors.Is(err, ledger.ErrSelfTransfer):
		middleware.ErrorResponse(w, http.StatusBadRequest, "Cannot transfer coins to yourself")
	case errors.Is(err, ledger.ErrUnknownUser):
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
	default:
		slog.Error(logMsg, append(args, "error", err)...)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
	}
}

// respondCodeError maps a verification store error.
func respondCodeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verify.ErrNotFound):
		middleware.ErrorResponse(w, http.StatusBadRequest, "Code expired or not requested")
	case errors.Is(err, verify.ErrMismatch):
		middleware.ErrorResponse(w, http.StatusBadRequest, "Incorrect code")
	case errors.Is(err, verify.ErrTooManyAttempts):
		middleware.ErrorResponse(w, http.StatusTooManyRequests, "Too many attempts, request a new code")
	default:
		slog.Error("verification store failed", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Verification failed")
	}
}

// requireCaller returns the authenticated user ID or writes 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Authentication required")
		return "", false
	}
	return userID, true
}

// queryInt reads an integer query parameter in [min, max], returning def
// when it is absent.
func queryInt(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return n, nil
}

// normalizeEmail validates a bare email address and lower-cases it.
func normalizeEmail(s string) (string, error) {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", errors.New("invalid email address")
	}
	return strings.ToLower(addr.Address), nil
}

const userColumns = `id, wallet_address, username, email, coins, xp, streak_days, last_vote_on,
	totp_secret, totp_enabled, created_at, last_login_at`

func getUser(ctx context.Context, h db.Handler, userID string) (models.User, error) {
	var user models.User
	err := h.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	user.Level = ledger.Level(user.XP)
	return user, err
}

func getUserByWallet(ctx context.Context, h db.Handler, wallet string) (models.User, error) {
	var user models.User
	err := h.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE wallet_address = ?`, wallet)
	user.Level = ledger.Level(user.XP)
	return user, err
}
