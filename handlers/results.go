// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/models"
)

type ResultsHandler struct {
	db  *db.DB
	cfg cliparse.Config
}

func NewResultsHandler(db *db.DB, cfg cliparse.Config) *ResultsHandler {
	return &ResultsHandler{db: db, cfg: cfg}
}

// GetResults handles GET /rooms/{id}/results
// Returns 403 while the room is draft or active (results are sealed)
// Returns the final snapshot once the room is closed
func (h *ResultsHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	ctx := r.Context()
	room, err := getRoom(ctx, h.db, roomID)
	if err != nil {
		respondError(w, err, "failed to query room", "room_id", roomID)
		return
	}

	// CRITICAL: results are sealed while voting can still change them
	if room.Status == models.RoomDraft || room.Status == models.RoomActive {
		middleware.ErrorResponse(w, http.StatusForbidden, "Results are hidden until the room is closed")
		return
	}

	if room.FinalSnapshotID == nil {
		slog.Error("closed room has no snapshot", "room_id", roomID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Results not available")
		return
	}

	var row struct {
		ID         string    `db:"id"`
		RoomID     string    `db:"room_id"`
		Method     string    `db:"method"`
		ComputedAt time.Time `db:"computed_at"`
		Payload    string    `db:"payload"`
	}
	err = h.db.GetContext(ctx, &row, `
		SELECT id, room_id, method, computed_at, payload
		FROM result_snapshots
		WHERE id = ?
	`, *room.FinalSnapshotID)
	if err != nil {
		slog.Error("failed to query snapshot", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	// Parse JSON payload
	var payload snapshotPayload
	if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
		slog.Error("failed to parse snapshot payload", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to parse results")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.RoomResultsResponse{
		Room: room,
		Snapshot: models.ResultSnapshot{
			ID:          row.ID,
			RoomID:      row.RoomID,
			Method:      row.Method,
			ComputedAt:  row.ComputedAt,
			BallotCount: payload.BallotCount,
			Rankings:    payload.Rankings,
			InputsHash:  payload.InputsHash,
		},
	})
}

// GetBallotCount handles GET /rooms/{id}/ballot-count
// Returns the number of ballots submitted (visible even while active)
func (h *ResultsHandler) GetBallotCount(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	ctx := r.Context()
	if _, err := getRoom(ctx, h.db, roomID); err != nil {
		respondError(w, err, "failed to query room", "room_id", roomID)
		return
	}

	count, err := ballotCount(ctx, h.db, roomID)
	if err != nil {
		slog.Error("failed to count ballots", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.BallotCountResponse{BallotCount: count})
}
