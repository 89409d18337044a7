// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielhkuo/votequest/auth"
	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/ledger"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/notify"
	"github.com/danielhkuo/votequest/payments"
)

type CoinHandler struct {
	db  *db.DB
	cfg cliparse.Config
}

func NewCoinHandler(db *db.DB, cfg cliparse.Config) *CoinHandler {
	return &CoinHandler{db: db, cfg: cfg}
}

// GetBalance handles GET /coins/balance
func (h *CoinHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var resp models.BalanceResponse
	err := h.db.QueryRowxContext(r.Context(), `SELECT coins, xp FROM users WHERE id = ?`, userID).
		Scan(&resp.Coins, &resp.XP)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		slog.Error("failed to query balance", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	resp.Level = ledger.Level(resp.XP)

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// GetTransactions handles GET /coins/transactions
func (h *CoinHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", 50, 1, 200)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	txs, err := ledger.History(r.Context(), h.db, userID, limit)
	if err != nil {
		slog.Error("failed to query transactions", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, txs)
}

// Transfer handles POST /coins/transfer
func (h *CoinHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req models.TransferRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	toWallet, err := auth.NormalizeAddress(req.ToWallet)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid recipient wallet address")
		return
	}
	if req.Amount <= 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	memo := strings.TrimSpace(req.Memo)
	if len(memo) > 140 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "memo must be at most 140 characters")
		return
	}

	ctx := r.Context()
	var balance int64

	err = h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		var toID string
		err := tx.GetContext(ctx, &toID, `SELECT id FROM users WHERE wallet_address = ?`, toWallet)
		if errors.Is(err, sql.ErrNoRows) {
			return fail(http.StatusNotFound, "Recipient not found")
		}
		if err != nil {
			return err
		}

		balance, err = ledger.Transfer(ctx, tx, userID, toID, req.Amount, memo)
		if err != nil {
			return err
		}

		_, err = notify.Create(ctx, tx, toID, notify.KindTransfer,
			fmt.Sprintf("You received %d coins", req.Amount), memo)
		return err
	})
	if err != nil {
		respondError(w, err, "failed to transfer coins", "user_id", userID)
		return
	}

	slog.Info("coins transferred", "from", userID, "to_wallet", toWallet, "amount", req.Amount)
	middleware.JSONResponse(w, http.StatusOK, models.CoinsResponse{Balance: balance})
}

// Spend handles POST /coins/spend
func (h *CoinHandler) Spend(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req models.SpendRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Amount <= 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "reason is required")
		return
	}
	if len(reason) > 200 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "reason must be at most 200 characters")
		return
	}

	ctx := r.Context()
	var balance int64
	err := h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		var err error
		balance, err = ledger.Debit(ctx, tx, userID, req.Amount, ledger.KindSpend, reason)
		return err
	})
	if err != nil {
		respondError(w, err, "failed to spend coins", "user_id", userID)
		return
	}

	slog.Info("coins spent", "user_id", userID, "amount", req.Amount)
	middleware.JSONResponse(w, http.StatusOK, models.CoinsResponse{Balance: balance})
}

// GetPackages handles GET /coins/packages
func (h *CoinHandler) GetPackages(w http.ResponseWriter, r *http.Request) {
	middleware.JSONResponse(w, http.StatusOK, payments.Packages)
}
