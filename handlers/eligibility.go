// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/mailer"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/verify"
)

// eligibilityRequested is returned whether or not the email is listed.
const eligibilityRequested = "If that email is on the voter list, a code has been sent"

type EligibilityHandler struct {
	db    *db.DB
	cfg   cliparse.Config
	codes verify.Store
	mail  mailer.Mailer
}

func NewEligibilityHandler(db *db.DB, cfg cliparse.Config, codes verify.Store, mail mailer.Mailer) *EligibilityHandler {
	return &EligibilityHandler{db: db, cfg: cfg, codes: codes, mail: mail}
}

// Request handles POST /rooms/{id}/eligibility/request
// Mails a code when the email is on the room's voter list. The response is
// the same either way so the list can't be enumerated.
func (h *EligibilityHandler) Request(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCaller(w, r); !ok {
		return
	}

	roomID := r.PathValue("id")
	if roomID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	var req models.EligibilityRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "A valid email is required")
		return
	}

	ctx := r.Context()
	room, err := getRoom(ctx, h.db, roomID)
	if err != nil {
		respondError(w, err, "failed to query room", "room_id", roomID)
		return
	}
	if room.Status != models.RoomDraft && room.Status != models.RoomActive {
		middleware.ErrorResponse(w, http.StatusConflict, "Room is closed")
		return
	}

	var listed bool
	err = h.db.GetContext(ctx, &listed, `
		SELECT COUNT(*) > 0 FROM voter_eligibility WHERE room_id = ? AND identifier = ?
	`, roomID, email)
	if err != nil {
		slog.Error("failed to query voter list", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if listed {
		h.sendCode(r, room, email)
	}

	middleware.JSONResponse(w, http.StatusAccepted, models.StatusResponse{Status: eligibilityRequested})
}

// sendCode stores and mails a code. Failures are logged only, since the
// caller must not learn whether the email was listed.
func (h *EligibilityHandler) sendCode(r *http.Request, room models.VotingRoom, email string) {
	ctx := r.Context()
	code, err := verify.NewCode()
	if err != nil {
		slog.Error("failed to generate code", "error", err)
		return
	}
	if err := h.codes.Put(ctx, verify.RoomKey(room.ID, email), code, verify.CodeTTL); err != nil {
		slog.Error("failed to store code", "room_id", room.ID, "error", err)
		return
	}
	msg := mailer.VerificationMessage(email, "vote in "+room.Title, code)
	if err := h.mail.Send(ctx, msg); err != nil {
		slog.Error("failed to send eligibility email", "room_id", room.ID, "error", err)
		return
	}
	slog.Info("eligibility code sent", "room_id", room.ID)
}

// Verify handles POST /rooms/{id}/eligibility/verify
// Binds the listed email to the caller and marks it verified.
func (h *EligibilityHandler) Verify(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	roomID := r.PathValue("id")
	if roomID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	var req models.EligibilityRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "code is required")
		return
	}

	ctx := r.Context()
	if err := h.codes.Check(ctx, verify.RoomKey(roomID, email), code); err != nil {
		respondCodeError(w, err)
		return
	}

	now := time.Now().UTC()
	var voter models.VoterEligibility
	err = h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE voter_eligibility
			SET user_id = ?, verified = TRUE, verified_at = ?
			WHERE room_id = ? AND identifier = ? AND (user_id IS NULL OR user_id = ?)
		`, userID, now, roomID, email, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// A listed identifier stays bound to the first account that verified it
			var listed bool
			err := tx.GetContext(ctx, &listed, `
				SELECT COUNT(*) > 0 FROM voter_eligibility WHERE room_id = ? AND identifier = ?
			`, roomID, email)
			if err != nil {
				return err
			}
			if listed {
				return fail(http.StatusConflict, "Email is already verified by another account")
			}
			return fail(http.StatusNotFound, "Email is not on the voter list")
		}

		err = tx.GetContext(ctx, &voter, `
			SELECT room_id, identifier, user_id, verified, verified_at, created_at
			FROM voter_eligibility
			WHERE room_id = ? AND identifier = ?
		`, roomID, email)
		if errors.Is(err, sql.ErrNoRows) {
			return fail(http.StatusNotFound, "Email is not on the voter list")
		}
		return err
	})
	if err != nil {
		respondError(w, err, "failed to verify eligibility", "room_id", roomID)
		return
	}

	slog.Info("voter verified", "room_id", roomID, "user_id", userID)
	middleware.JSONResponse(w, http.StatusOK, voter)
}
