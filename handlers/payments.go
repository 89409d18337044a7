// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/ledger"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/notify"
	"github.com/danielhkuo/votequest/payments"
)

// MaxWebhookBytes bounds a webhook body.
const MaxWebhookBytes = 1 << 20

// Webhook outcomes
const (
	WebhookProcessed        = "processed"
	WebhookIgnored          = "ignored"
	WebhookAlreadyProcessed = "already_processed"
)

type PaymentHandler struct {
	db  *db.DB
	cfg cliparse.Config
}

func NewPaymentHandler(db *db.DB, cfg cliparse.Config) *PaymentHandler {
	return &PaymentHandler{db: db, cfg: cfg}
}

// Webhook handles POST /webhooks/payments
// Credits the purchased package once per event ID.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	secret := h.cfg.Payments.WebhookSecret
	if secret == "" {
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Payments are not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBytes))
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid body")
		return
	}

	err = payments.VerifySignature(secret, r.Header.Get(payments.SignatureHeader), body, time.Now())
	switch {
	case errors.Is(err, payments.ErrMissingSignature):
		middleware.ErrorResponse(w, http.StatusBadRequest, "Missing signature")
		return
	case err != nil:
		slog.Warn("rejected payment webhook", "error", err)
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var event payments.Event
	if err := json.Unmarshal(body, &event); err != nil || strings.TrimSpace(event.ID) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid event")
		return
	}
	if event.Type != payments.EventCheckoutCompleted {
		middleware.JSONResponse(w, http.StatusOK, models.WebhookResponse{Status: WebhookIgnored})
		return
	}

	pkg, err := payments.FindPackage(event.Data.PackageID)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Unknown package")
		return
	}
	if event.Data.UserID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "user_id is required")
		return
	}

	ctx := r.Context()
	status := WebhookProcessed
	err = h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO payment_events (id, kind, user_id, coins, processed_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`, event.ID, event.Type, event.Data.UserID, pkg.Coins, time.Now().UTC())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			status = WebhookAlreadyProcessed
			return nil
		}

		if _, err := ledger.Credit(ctx, tx, event.Data.UserID, pkg.Coins, ledger.KindPurchase, event.ID); err != nil {
			return err
		}
		_, err = notify.Create(ctx, tx, event.Data.UserID, notify.KindPurchase,
			"Purchase complete", fmt.Sprintf("%d coins were added to your balance.", pkg.Coins))
		return err
	})
	if err != nil {
		respondError(w, err, "failed to process payment", "event_id", event.ID)
		return
	}

	if status == WebhookProcessed {
		slog.Info("payment processed", "event_id", event.ID, "user_id", event.Data.UserID, "coins", pkg.Coins)
	}
	middleware.JSONResponse(w, http.StatusOK, models.WebhookResponse{Status: status})
}
