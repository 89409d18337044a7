// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/votequest/auth"
	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/ledger"
	"github.com/danielhkuo/votequest/metrics"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/notify"
)

// MaxVotersPerRequest bounds one voter list upload.
const MaxVotersPerRequest = 1000

var roomFields = []string{
	"id", "org_id", "title", "description", "method", "status", "requires_verification",
	"ends_at", "opened_at", "closed_at", "final_snapshot_id", "created_at",
}

// roomColumns lists the voting_rooms columns, qualified by alias when set.
func roomColumns(alias string) string {
	if alias == "" {
		return strings.Join(roomFields, ", ")
	}
	cols := make([]string, len(roomFields))
	for i, f := range roomFields {
		cols[i] = alias + "." + f
	}
	return strings.Join(cols, ", ")
}

// roomTransitions lists the allowed status changes.
var roomTransitions = map[string]string{
	models.RoomDraft:  models.RoomActive,
	models.RoomActive: models.RoomClosed,
	models.RoomClosed: models.RoomArchived,
}

type RoomHandler struct {
	db  *db.DB
	cfg cliparse.Config
}

func NewRoomHandler(db *db.DB, cfg cliparse.Config) *RoomHandler {
	return &RoomHandler{db: db, cfg: cfg}
}

func getRoom(ctx context.Context, h db.Handler, roomID string) (models.VotingRoom, error) {
	var room models.VotingRoom
	err := h.GetContext(ctx, &room, `SELECT `+roomColumns("")+` FROM voting_rooms WHERE id = ?`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return room, fail(http.StatusNotFound, "Room not found")
	}
	return room, err
}

// loadRoomAsAdmin loads a room and checks that userID administers its
// organization.
func loadRoomAsAdmin(ctx context.Context, h db.Handler, roomID, userID string) (models.VotingRoom, error) {
	room, err := getRoom(ctx, h, roomID)
	if err != nil {
		return room, err
	}
	role, err := memberRole(ctx, h, room.OrgID, userID)
	if err != nil {
		return room, err
	}
	if !isOrgAdmin(role) {
		return room, fail(http.StatusForbidden, "Organization admin role required")
	}
	return room, nil
}

func roomOptions(ctx context.Context, h db.Handler, roomID string) ([]models.RoomOption, error) {
	options := []models.RoomOption{}
	err := h.SelectContext(ctx, &options, `
		SELECT id, room_id, label FROM room_options WHERE room_id = ? ORDER BY id
	`, roomID)
	return options, err
}

func ballotCount(ctx context.Context, h db.Handler, roomID string) (int, error) {
	var n int
	err := h.GetContext(ctx, &n, `SELECT COUNT(*) FROM room_ballots WHERE room_id = ?`, roomID)
	return n, err
}

// CreateRoom handles POST /orgs/{id}/rooms
// Only admins of a verified organization may create rooms.
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	orgID := r.PathValue("id")
	if orgID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "org_id is required")
		return
	}

	var req models.CreateRoomRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "title is required")
		return
	}
	if len(req.Title) > 200 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "title must be at most 200 characters")
		return
	}

	method := req.Method
	if method == "" {
		method = models.MethodPlurality
	}
	if method != models.MethodPlurality && method != models.MethodBMJ {
		middleware.ErrorResponse(w, http.StatusBadRequest, "method must be plurality or bmj")
		return
	}

	requiresVerification := true
	if req.RequiresVerification != nil {
		requiresVerification = *req.RequiresVerification
	}

	now := time.Now().UTC()
	var endsAt *time.Time
	if req.EndsAt != nil {
		if !req.EndsAt.After(now) {
			middleware.ErrorResponse(w, http.StatusBadRequest, "ends_at must be in the future")
			return
		}
		t := req.EndsAt.UTC()
		endsAt = &t
	}

	roomID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate room ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	room := models.VotingRoom{
		ID:                   roomID,
		OrgID:                orgID,
		Title:                req.Title,
		Description:          req.Description,
		Method:               method,
		Status:               models.RoomDraft,
		RequiresVerification: requiresVerification,
		EndsAt:               endsAt,
		CreatedAt:            now,
	}

	ctx := r.Context()
	err = h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		org, err := loadOrgAsAdmin(ctx, tx, orgID, userID)
		if err != nil {
			return err
		}
		if !org.Verified {
			return fail(http.StatusForbidden, "Organization must be verified before creating rooms")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO voting_rooms (id, org_id, title, description, method, status, requires_verification, ends_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, room.ID, room.OrgID, room.Title, room.Description, room.Method, room.Status,
			room.RequiresVerification, room.EndsAt, room.CreatedAt)
		return err
	})
	if err != nil {
		respondError(w, err, "failed to create room", "org_id", orgID)
		return
	}

	slog.Info("room created", "room_id", roomID, "org_id", orgID, "method", method)
	middleware.JSONResponse(w, http.StatusCreated, room)
}

// GetRoom handles GET /rooms/{id}
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	ctx := r.Context()
	var resp models.RoomWithOptions
	var err error

	resp.Room, err = getRoom(ctx, h.db, roomID)
	if err != nil {
		respondError(w, err, "failed to query room", "room_id", roomID)
		return
	}
	resp.Options, err = roomOptions(ctx, h.db, roomID)
	if err != nil {
		respondError(w, err, "failed to query options", "room_id", roomID)
		return
	}
	resp.BallotCount, err = ballotCount(ctx, h.db, roomID)
	if err != nil {
		respondError(w, err, "failed to count ballots", "room_id", roomID)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// AddOption handles POST /rooms/{id}/options
func (h *RoomHandler) AddOption(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	roomID := r.PathValue("id")
	if roomID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	var req models.AddOptionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	label := strings.TrimSpace(req.Label)
	if label == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "label is required")
		return
	}
	if len(label) > 200 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "label must be at most 200 characters")
		return
	}

	optionID, err := auth.GenerateID(12)
	if err != nil {
		slog.Error("failed to generate option ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to add option")
		return
	}

	ctx := r.Context()
	err = h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		room, err := loadRoomAsAdmin(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}
		// Options are locked once voting starts.
		if room.Status != models.RoomDraft {
			return fail(http.StatusConflict, "Options can only be added to draft rooms")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO room_options (id, room_id, label)
			VALUES (?, ?, ?)
		`, optionID, roomID, label)
		return err
	})
	if err != nil {
		respondError(w, err, "failed to add option", "room_id", roomID)
		return
	}

	slog.Info("option added", "room_id", roomID, "option_id", optionID)
	middleware.JSONResponse(w, http.StatusCreated, models.RoomOption{
		ID:     optionID,
		RoomID: roomID,
		Label:  label,
	})
}

// normalizeIdentifier accepts a wallet address or an email address.
func normalizeIdentifier(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		return auth.NormalizeAddress(s)
	}
	return normalizeEmail(s)
}

// AddVoters handles POST /rooms/{id}/voters
// Identifiers already on the list are skipped.
func (h *RoomHandler) AddVoters(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	roomID := r.PathValue("id")
	if roomID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	var req models.AddVotersRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Identifiers) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "identifiers is required")
		return
	}
	if len(req.Identifiers) > MaxVotersPerRequest {
		middleware.ErrorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("at most %d identifiers per request", MaxVotersPerRequest))
		return
	}

	identifiers := make([]string, 0, len(req.Identifiers))
	for _, raw := range req.Identifiers {
		id, err := normalizeIdentifier(raw)
		if err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid identifier %q", raw))
			return
		}
		identifiers = append(identifiers, id)
	}

	ctx := r.Context()
	added := 0
	err := h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		room, err := loadRoomAsAdmin(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}
		if room.Status != models.RoomDraft && room.Status != models.RoomActive {
			return fail(http.StatusConflict, "Voters can only be added to draft or active rooms")
		}

		now := time.Now().UTC()
		for _, id := range identifiers {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO voter_eligibility (room_id, identifier, verified, created_at)
				VALUES (?, ?, FALSE, ?)
				ON CONFLICT (room_id, identifier) DO NOTHING
			`, roomID, id, now)
			if err != nil {
				return fmt.Errorf("failed to add voter: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		return nil
	})
	if err != nil {
		respondError(w, err, "failed to add voters", "room_id", roomID)
		return
	}

	slog.Info("voters added", "room_id", roomID, "added", added)
	middleware.JSONResponse(w, http.StatusOK, models.AddVotersResponse{Added: added})
}

// ListVoters handles GET /rooms/{id}/voters
func (h *RoomHandler) ListVoters(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	roomID := r.PathValue("id")
	if roomID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	ctx := r.Context()
	if _, err := loadRoomAsAdmin(ctx, h.db, roomID, userID); err != nil {
		respondError(w, err, "failed to load room", "room_id", roomID)
		return
	}

	voters := []models.VoterEligibility{}
	err := h.db.SelectContext(ctx, &voters, `
		SELECT room_id, identifier, user_id, verified, verified_at, created_at
		FROM voter_eligibility
		WHERE room_id = ?
		ORDER BY identifier
	`, roomID)
	if err != nil {
		slog.Error("failed to query voters", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, voters)
}

// SetStatus handles POST /rooms/{id}/status
// Rooms move draft -> active -> closed -> archived. Closing computes and
// stores the final result snapshot.
func (h *RoomHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	roomID := r.PathValue("id")
	if roomID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	var req models.RoomStatusRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	switch req.Status {
	case models.RoomDraft, models.RoomActive, models.RoomClosed, models.RoomArchived:
	default:
		middleware.ErrorResponse(w, http.StatusBadRequest, "status must be draft, active, closed or archived")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	var room models.VotingRoom

	err := h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		var err error
		room, err = loadRoomAsAdmin(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}

		if roomTransitions[room.Status] != req.Status {
			return fail(http.StatusConflict, fmt.Sprintf("Cannot move room from %s to %s", room.Status, req.Status))
		}

		switch req.Status {
		case models.RoomActive:
			return openRoom(ctx, tx, &room, now)
		case models.RoomClosed:
			if _, err := CloseRoom(ctx, tx, room, now); err != nil {
				return err
			}
			room, err = getRoom(ctx, tx, roomID)
			return err
		default:
			if _, err := tx.ExecContext(ctx, `UPDATE voting_rooms SET status = ? WHERE id = ?`, req.Status, roomID); err != nil {
				return err
			}
			room.Status = req.Status
			return nil
		}
	})
	if err != nil {
		respondError(w, err, "failed to update room status", "room_id", roomID)
		return
	}

	slog.Info("room status changed", "room_id", roomID, "status", room.Status)
	middleware.JSONResponse(w, http.StatusOK, room)
}

// openRoom starts voting and tells the organization's members.
func openRoom(ctx context.Context, tx db.Handler, room *models.VotingRoom, now time.Time) error {
	var optionCount int
	if err := tx.GetContext(ctx, &optionCount, `SELECT COUNT(*) FROM room_options WHERE room_id = ?`, room.ID); err != nil {
		return err
	}
	if optionCount < 2 {
		return fail(http.StatusBadRequest, "Room must have at least 2 options")
	}
	if room.EndsAt != nil && !room.EndsAt.After(now) {
		return fail(http.StatusBadRequest, "ends_at is in the past")
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE voting_rooms SET status = ?, opened_at = ? WHERE id = ?
	`, models.RoomActive, now, room.ID); err != nil {
		return err
	}
	room.Status = models.RoomActive
	room.OpenedAt = &now

	var members []string
	if err := tx.SelectContext(ctx, &members, `SELECT user_id FROM org_members WHERE org_id = ?`, room.OrgID); err != nil {
		return err
	}
	for _, m := range members {
		if _, err := notify.Create(ctx, tx, m, notify.KindRoomOpened, "Voting open: "+room.Title,
			"A voting room in your organization is now accepting ballots."); err != nil {
			return err
		}
	}
	return nil
}

// isEligible reports whether userID may vote in roomID: their wallet is on
// the voter list, or they verified one of the listed emails.
func isEligible(ctx context.Context, h db.Handler, roomID, userID string) (bool, error) {
	var ok bool
	err := h.GetContext(ctx, &ok, `
		SELECT COUNT(*) > 0
		FROM voter_eligibility e
		WHERE e.room_id = ?
		  AND ((e.user_id = ? AND e.verified = TRUE)
		    OR e.identifier = (SELECT wallet_address FROM users WHERE id = ?))
	`, roomID, userID, userID)
	return ok, err
}

// SubmitBallot handles POST /rooms/{id}/ballots
// A resubmission replaces the caller's previous ballot; only the first
// ballot is rewarded.
func (h *RoomHandler) SubmitBallot(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	roomID := r.PathValue("id")
	if roomID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	var req models.SubmitBallotRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Scores) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "scores is required")
		return
	}
	for optionID, value := range req.Scores {
		if value < 0.0 || value > 1.0 {
			middleware.ErrorResponse(w, http.StatusBadRequest,
				fmt.Sprintf("score for option %s must be between 0.0 and 1.0", optionID))
			return
		}
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ipHash := auth.HashIP(middleware.GetClientIP(r, h.cfg.TrustProxy), h.cfg.IPHashSalt)

	var ballotID string
	var reward ledger.VoteReward
	replaced := false

	err := h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		room, err := getRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if room.Status != models.RoomActive {
			return fail(http.StatusConflict, "Room is not open for voting")
		}
		if room.EndsAt != nil && !now.Before(*room.EndsAt) {
			return fail(http.StatusConflict, "Voting period has ended")
		}

		if room.RequiresVerification {
			eligible, err := isEligible(ctx, tx, roomID, userID)
			if err != nil {
				return err
			}
			if !eligible {
				return fail(http.StatusForbidden, "You are not a verified voter for this room")
			}
		}

		options, err := roomOptions(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if err := validateScores(room.Method, options, req.Scores); err != nil {
			return err
		}

		err = tx.GetContext(ctx, &ballotID, `SELECT id FROM room_ballots WHERE room_id = ? AND user_id = ?`, roomID, userID)
		switch {
		case err == nil:
			replaced = true
			if _, err := tx.ExecContext(ctx, `DELETE FROM room_scores WHERE ballot_id = ?`, ballotID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE room_ballots SET submitted_at = ?, ip_hash = ? WHERE id = ?
			`, now, ipHash, ballotID); err != nil {
				return err
			}
		case errors.Is(err, sql.ErrNoRows):
			ballotID, err = auth.GenerateID(16)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO room_ballots (id, room_id, user_id, submitted_at, ip_hash)
				VALUES (?, ?, ?, ?, ?)
			`, ballotID, roomID, userID, now, ipHash)
			if db.IsUniqueViolation(err) {
				return fail(http.StatusConflict, "Ballot already being submitted, retry")
			}
			if err != nil {
				return err
			}
		default:
			return err
		}

		for optionID, value := range req.Scores {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO room_scores (ballot_id, option_id, value01)
				VALUES (?, ?, ?)
			`, ballotID, optionID, value); err != nil {
				return fmt.Errorf("failed to insert score: %w", err)
			}
		}

		if replaced {
			return nil
		}
		reward, err = ledger.RewardVote(ctx, tx, userID, ledger.RoomVoteReward, ledger.KindRoomVote, roomID, now)
		if err != nil {
			return err
		}
		return notifyStreak(ctx, tx, userID, reward)
	})
	if err != nil {
		respondError(w, err, "failed to submit ballot", "room_id", roomID)
		return
	}

	if replaced {
		slog.Info("ballot updated", "room_id", roomID, "ballot_id", ballotID)
		middleware.JSONResponse(w, http.StatusOK, models.SubmitBallotResponse{
			BallotID: ballotID,
			Message:  "Ballot updated",
		})
		return
	}

	metrics.VotesCast.WithLabelValues("room").Inc()
	slog.Info("ballot submitted", "room_id", roomID, "ballot_id", ballotID)
	middleware.JSONResponse(w, http.StatusCreated, models.SubmitBallotResponse{
		BallotID: ballotID,
		Message:  "Ballot submitted successfully",
		Reward:   reward.Reward,
	})
}

// validateScores checks scores against the room's options and method.
// Plurality ballots mark exactly one option with 1 and the rest with 0.
func validateScores(method string, options []models.RoomOption, scores map[string]float64) error {
	valid := make(map[string]bool, len(options))
	for _, o := range options {
		valid[o.ID] = true
	}
	for optionID := range scores {
		if !valid[optionID] {
			return fail(http.StatusBadRequest, "Invalid option_id: "+optionID)
		}
	}

	if method != models.MethodPlurality {
		return nil
	}
	selected := 0
	for _, v := range scores {
		switch v {
		case 1:
			selected++
		case 0:
		default:
			return fail(http.StatusBadRequest, "Plurality scores must be 0 or 1")
		}
	}
	if selected != 1 {
		return fail(http.StatusBadRequest, "Plurality ballots must select exactly one option")
	}
	return nil
}
