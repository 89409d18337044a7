// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/votequest/auth"
	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/ledger"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/notify"
	"github.com/danielhkuo/votequest/verify"
)

type AuthHandler struct {
	db    *db.DB
	cfg   cliparse.Config
	codes verify.Store
}

func NewAuthHandler(db *db.DB, cfg cliparse.Config, codes verify.Store) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg, codes: codes}
}

// Nonce handles POST /auth/nonce
// Issues a single-use nonce and the message the wallet must sign.
func (h *AuthHandler) Nonce(w http.ResponseWriter, r *http.Request) {
	var req models.NonceRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	address, err := auth.NormalizeAddress(req.WalletAddress)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid wallet address")
		return
	}

	nonce, err := auth.GenerateToken()
	if err != nil {
		slog.Error("failed to generate nonce", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to issue nonce")
		return
	}

	if err := h.codes.Put(r.Context(), verify.NonceKey(address), nonce, verify.NonceTTL); err != nil {
		slog.Error("failed to store nonce", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to issue nonce")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.NonceResponse{
		Nonce:     nonce,
		Message:   auth.LoginMessage(auth.ChecksumAddress(address), nonce),
		ExpiresAt: time.Now().UTC().Add(verify.NonceTTL),
	})
}

// WalletLogin handles POST /auth/wallet
// Verifies the signed nonce, creating the account on first login.
func (h *AuthHandler) WalletLogin(w http.ResponseWriter, r *http.Request) {
	var req models.WalletLoginRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	address, err := auth.NormalizeAddress(req.WalletAddress)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid wallet address")
		return
	}
	if req.Signature == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "signature is required")
		return
	}

	ctx := r.Context()

	// The nonce is consumed whatever the outcome so a signature can't be replayed.
	nonce, err := h.codes.Take(ctx, verify.NonceKey(address))
	if errors.Is(err, verify.ErrNotFound) {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Nonce expired or not requested")
		return
	}
	if err != nil {
		slog.Error("failed to load nonce", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to verify signature")
		return
	}

	signer, err := auth.RecoverAddress(auth.LoginMessage(auth.ChecksumAddress(address), nonce), req.Signature)
	if err != nil || signer != address {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Signature does not match wallet")
		return
	}

	now := time.Now().UTC()
	var user models.User
	isNew := false

	err = h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		u, err := getUserByWallet(ctx, tx, address)
		if errors.Is(err, sql.ErrNoRows) {
			isNew = true
			var userID string
			userID, err = auth.GenerateID(16)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO users (id, wallet_address, coins, created_at)
				VALUES (?, ?, 0, ?)
			`, userID, address, now)
			if db.IsUniqueViolation(err) {
				return fail(http.StatusConflict, "Account is being created, retry")
			}
			if err != nil {
				return fmt.Errorf("failed to insert user: %w", err)
			}

			if _, err := ledger.Credit(ctx, tx, userID, ledger.WelcomeBonus, ledger.KindWelcomeBonus, ""); err != nil {
				return err
			}
			if _, err := notify.Create(ctx, tx, userID, notify.KindWelcome, "Welcome to VoteQuest",
				fmt.Sprintf("You received %d coins to get started.", ledger.WelcomeBonus)); err != nil {
				return err
			}

			u, err = getUser(ctx, tx, userID)
		}
		if err != nil {
			return err
		}

		if u.TOTPEnabled {
			if req.TOTPCode == "" {
				return fail(http.StatusUnauthorized, "totp_code is required")
			}
			if u.TOTPSecret == nil || !auth.ValidateTOTP(req.TOTPCode, *u.TOTPSecret) {
				return fail(http.StatusUnauthorized, "Invalid TOTP code")
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, now, u.ID); err != nil {
			return fmt.Errorf("failed to record login: %w", err)
		}
		u.LastLoginAt = &now
		user = u
		return nil
	})
	if err != nil {
		respondError(w, err, "failed to log in", "wallet", address)
		return
	}

	token, expiresAt, err := auth.IssueSession(h.cfg.JWTSecret, user.ID, user.WalletAddress, h.cfg.SessionTTL, now)
	if err != nil {
		slog.Error("failed to issue session", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to issue session")
		return
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
		slog.Info("user created", "user_id", user.ID)
	}

	middleware.JSONResponse(w, status, models.WalletLoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
		IsNew:     isNew,
	})
}
