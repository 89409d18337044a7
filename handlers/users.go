// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/danielhkuo/votequest/auth"
	"github.com/danielhkuo/votequest/chain"
	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/models"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

// NormalizeUsername applies NFKC and case folding, then checks the
// allowed alphabet and length.
func NormalizeUsername(s string) (string, error) {
	s = cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
	if !usernamePattern.MatchString(s) {
		return "", errors.New("username must be 3-32 characters of a-z, 0-9 or _")
	}
	return s, nil
}

type UserHandler struct {
	db    *db.DB
	cfg   cliparse.Config
	chain *chain.Client
}

func NewUserHandler(db *db.DB, cfg cliparse.Config, chain *chain.Client) *UserHandler {
	return &UserHandler{db: db, cfg: cfg, chain: chain}
}

// GetMe handles GET /users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	user, err := getUser(r.Context(), h.db, userID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		slog.Error("failed to query user", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, user)
}

// UpdateMe handles PATCH /users/me
// Fields left out of the body are unchanged; an empty string clears them.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req models.UpdateProfileRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Username == nil && req.Email == nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	ctx := r.Context()
	user, err := getUser(ctx, h.db, userID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		slog.Error("failed to query user", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if req.Username != nil {
		if strings.TrimSpace(*req.Username) == "" {
			user.Username = nil
		} else {
			username, err := NormalizeUsername(*req.Username)
			if err != nil {
				middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
				return
			}
			user.Username = &username
		}
	}

	if req.Email != nil {
		if strings.TrimSpace(*req.Email) == "" {
			user.Email = nil
		} else {
			email, err := normalizeEmail(*req.Email)
			if err != nil {
				middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
				return
			}
			user.Email = &email
		}
	}

	_, err = h.db.ExecContext(ctx, `
		UPDATE users SET username = ?, email = ? WHERE id = ?
	`, user.Username, user.Email, userID)
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Username already taken")
		return
	}
	if err != nil {
		slog.Error("failed to update user", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}

	slog.Info("profile updated", "user_id", userID)
	middleware.JSONResponse(w, http.StatusOK, user)
}

// SetupTOTP handles POST /users/me/totp/setup
// Stores a fresh secret; it takes effect once confirmed with EnableTOTP.
func (h *UserHandler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	user, err := getUser(ctx, h.db, userID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		slog.Error("failed to query user", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if user.TOTPEnabled {
		middleware.ErrorResponse(w, http.StatusConflict, "TOTP is already enabled")
		return
	}

	account := auth.ChecksumAddress(user.WalletAddress)
	if user.Username != nil {
		account = *user.Username
	}
	secret, url, err := auth.NewTOTPSecret(account)
	if err != nil {
		slog.Error("failed to generate totp secret", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to set up TOTP")
		return
	}

	if _, err := h.db.ExecContext(ctx, `UPDATE users SET totp_secret = ? WHERE id = ?`, secret, userID); err != nil {
		slog.Error("failed to store totp secret", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to set up TOTP")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.TOTPSetupResponse{
		Secret: secret,
		URL:    url,
	})
}

// EnableTOTP handles POST /users/me/totp/enable
func (h *UserHandler) EnableTOTP(w http.ResponseWriter, r *http.Request) {
	h.toggleTOTP(w, r, true)
}

// DisableTOTP handles POST /users/me/totp/disable
func (h *UserHandler) DisableTOTP(w http.ResponseWriter, r *http.Request) {
	h.toggleTOTP(w, r, false)
}

func (h *UserHandler) toggleTOTP(w http.ResponseWriter, r *http.Request, enable bool) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req models.TOTPCodeRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Code == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "code is required")
		return
	}

	ctx := r.Context()
	user, err := getUser(ctx, h.db, userID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		slog.Error("failed to query user", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if user.TOTPSecret == nil {
		middleware.ErrorResponse(w, http.StatusConflict, "TOTP has not been set up")
		return
	}
	if user.TOTPEnabled == enable {
		middleware.ErrorResponse(w, http.StatusConflict, fmt.Sprintf("TOTP is already %s", totpState(enable)))
		return
	}
	if !auth.ValidateTOTP(req.Code, *user.TOTPSecret) {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid TOTP code")
		return
	}

	if enable {
		_, err = h.db.ExecContext(ctx, `UPDATE users SET totp_enabled = TRUE WHERE id = ?`, userID)
	} else {
		_, err = h.db.ExecContext(ctx, `UPDATE users SET totp_enabled = FALSE, totp_secret = NULL WHERE id = ?`, userID)
	}
	if err != nil {
		slog.Error("failed to update totp", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to update TOTP")
		return
	}

	slog.Info("totp "+totpState(enable), "user_id", userID)
	middleware.JSONResponse(w, http.StatusOK, models.StatusResponse{Status: totpState(enable)})
}

func totpState(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// GetMyRooms handles GET /users/me/rooms
// Returns rooms where the caller holds verified eligibility.
func (h *UserHandler) GetMyRooms(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	rooms := []models.VotingRoom{}
	err := h.db.SelectContext(r.Context(), &rooms, `
		SELECT `+roomColumns("r")+`
		FROM voting_rooms r
		JOIN voter_eligibility e ON e.room_id = r.id
		WHERE e.user_id = ? AND e.verified = TRUE
		ORDER BY r.created_at DESC, r.id
	`, userID)
	if err != nil {
		slog.Error("failed to query rooms", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, rooms)
}

// GetOnchain handles GET /users/me/onchain
// Reads the caller's wallet balances from the configured RPC endpoint.
func (h *UserHandler) GetOnchain(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	if !h.chain.Configured() {
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Chain reads are not configured")
		return
	}

	ctx := r.Context()
	var wallet string
	err := h.db.GetContext(ctx, &wallet, `SELECT wallet_address FROM users WHERE id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		slog.Error("failed to query user", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	native, err := h.chain.NativeBalance(ctx, wallet)
	if err != nil {
		slog.Warn("chain balance read failed", "error", err)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Chain RPC request failed")
		return
	}

	resp := models.OnchainResponse{
		WalletAddress: auth.ChecksumAddress(wallet),
		NativeWei:     native.String(),
	}

	if token := h.cfg.Chain.TokenAddress; token != "" {
		balance, err := h.chain.TokenBalance(ctx, token, wallet)
		if err != nil {
			slog.Warn("chain token read failed", "error", err)
			middleware.ErrorResponse(w, http.StatusBadGateway, "Chain RPC request failed")
			return
		}
		resp.TokenAddress = token
		resp.TokenBalance = balance.String()
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}
