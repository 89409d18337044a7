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

// Proposal duration bounds, in hours
const (
	DefaultProposalHours = 72
	MaxProposalHours     = 720
)

const proposalColumns = `id, creator_id, title, description, category, status, ends_at, closed_at, created_at`

type ProposalHandler struct {
	db  *db.DB
	cfg cliparse.Config
}

func NewProposalHandler(db *db.DB, cfg cliparse.Config) *ProposalHandler {
	return &ProposalHandler{db: db, cfg: cfg}
}

// CreateProposal handles POST /proposals
func (h *ProposalHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req models.CreateProposalRequest
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
	if len(req.Description) > 5000 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "description must be at most 5000 characters")
		return
	}

	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category == "" {
		category = "general"
	}
	if len(category) > 32 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "category must be at most 32 characters")
		return
	}

	hours := req.DurationHours
	if hours == 0 {
		hours = DefaultProposalHours
	}
	if hours < 1 || hours > MaxProposalHours {
		middleware.ErrorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("duration_hours must be between 1 and %d", MaxProposalHours))
		return
	}

	proposalID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate proposal ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create proposal")
		return
	}

	now := time.Now().UTC()
	proposal := models.Proposal{
		ID:          proposalID,
		CreatorID:   userID,
		Title:       req.Title,
		Description: req.Description,
		Category:    category,
		Status:      models.ProposalActive,
		EndsAt:      now.Add(time.Duration(hours) * time.Hour),
		CreatedAt:   now,
	}

	_, err = h.db.ExecContext(r.Context(), `
		INSERT INTO proposals (id, creator_id, title, description, category, status, ends_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, proposal.ID, proposal.CreatorID, proposal.Title, proposal.Description, proposal.Category,
		proposal.Status, proposal.EndsAt, proposal.CreatedAt)
	if err != nil {
		slog.Error("failed to insert proposal", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create proposal")
		return
	}

	slog.Info("proposal created", "proposal_id", proposalID, "creator_id", userID)
	middleware.JSONResponse(w, http.StatusCreated, proposal)
}

// ListProposals handles GET /proposals
func (h *ProposalHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(r, "limit", 20, 1, 100)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0, 0, 1_000_000)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE 1 = 1`
	var args []interface{}

	if status := q.Get("status"); status != "" {
		if status != models.ProposalActive && status != models.ProposalClosed {
			middleware.ErrorResponse(w, http.StatusBadRequest, "status must be active or closed")
			return
		}
		query += ` AND status = ?`
		args = append(args, status)
	}
	if category := strings.ToLower(strings.TrimSpace(q.Get("category"))); category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	proposals := []models.Proposal{}
	if err := h.db.SelectContext(r.Context(), &proposals, query, args...); err != nil {
		slog.Error("failed to query proposals", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, proposals)
}

// GetProposal handles GET /proposals/{id}
// Includes the tally and, for signed-in callers, their own vote.
func (h *ProposalHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	proposalID := r.PathValue("id")
	if proposalID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "proposal_id is required")
		return
	}

	ctx := r.Context()
	var resp models.ProposalWithTally
	err := h.db.GetContext(ctx, &resp.Proposal, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, proposalID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Proposal not found")
		return
	}
	if err != nil {
		slog.Error("failed to query proposal", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	resp.Tally, err = proposalTally(ctx, h.db, proposalID)
	if err != nil {
		slog.Error("failed to tally proposal", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	if userID, ok := middleware.UserIDFromContext(ctx); ok {
		var choice string
		err := h.db.GetContext(ctx, &choice, `
			SELECT choice FROM proposal_votes WHERE proposal_id = ? AND user_id = ?
		`, proposalID, userID)
		if err == nil {
			resp.MyVote = &choice
		} else if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("failed to query vote", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

func proposalTally(ctx context.Context, h db.Handler, proposalID string) (models.Tally, error) {
	var rows []struct {
		Choice string `db:"choice"`
		N      int    `db:"n"`
	}
	err := h.SelectContext(ctx, &rows, `
		SELECT choice, COUNT(*) AS n
		FROM proposal_votes
		WHERE proposal_id = ?
		GROUP BY choice
	`, proposalID)
	if err != nil {
		return models.Tally{}, err
	}

	var t models.Tally
	for _, row := range rows {
		switch row.Choice {
		case models.ChoiceYes:
			t.Yes = row.N
		case models.ChoiceNo:
			t.No = row.N
		case models.ChoiceAbstain:
			t.Abstain = row.N
		}
		t.Total += row.N
	}
	return t, nil
}

// CastVote handles POST /proposals/{id}/votes
func (h *ProposalHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	proposalID := r.PathValue("id")
	if proposalID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "proposal_id is required")
		return
	}

	var req models.CastVoteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	choice := strings.ToLower(strings.TrimSpace(req.Choice))
	if choice != models.ChoiceYes && choice != models.ChoiceNo && choice != models.ChoiceAbstain {
		middleware.ErrorResponse(w, http.StatusBadRequest, "choice must be yes, no or abstain")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	var reward ledger.VoteReward

	err := h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		var p struct {
			Status string    `db:"status"`
			EndsAt time.Time `db:"ends_at"`
		}
		err := tx.GetContext(ctx, &p, `SELECT status, ends_at FROM proposals WHERE id = ?`, proposalID)
		if errors.Is(err, sql.ErrNoRows) {
			return fail(http.StatusNotFound, "Proposal not found")
		}
		if err != nil {
			return err
		}

		if p.Status != models.ProposalActive {
			return fail(http.StatusConflict, "Proposal is not active")
		}
		if !now.Before(p.EndsAt) {
			return fail(http.StatusConflict, "Voting period has ended")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO proposal_votes (proposal_id, user_id, choice, created_at)
			VALUES (?, ?, ?, ?)
		`, proposalID, userID, choice, now)
		if db.IsUniqueViolation(err) {
			return fail(http.StatusConflict, "You have already voted on this proposal")
		}
		if err != nil {
			return fmt.Errorf("failed to insert vote: %w", err)
		}

		reward, err = ledger.RewardVote(ctx, tx, userID, ledger.ProposalVoteReward, ledger.KindProposalVote, proposalID, now)
		if err != nil {
			return err
		}
		return notifyStreak(ctx, tx, userID, reward)
	})
	if err != nil {
		respondError(w, err, "failed to cast vote", "proposal_id", proposalID)
		return
	}

	metrics.VotesCast.WithLabelValues("proposal").Inc()
	slog.Info("vote cast", "proposal_id", proposalID, "user_id", userID)

	middleware.JSONResponse(w, http.StatusCreated, models.CastVoteResponse{
		Reward:     reward.Reward,
		Balance:    reward.Balance,
		XP:         reward.XP,
		Level:      reward.Level,
		StreakDays: reward.StreakDays,
	})
}

// notifyStreak tells the user about a streak bonus included in reward.
func notifyStreak(ctx context.Context, h db.Handler, userID string, reward ledger.VoteReward) error {
	if reward.Bonus == 0 {
		return nil
	}
	_, err := notify.Create(ctx, h, userID, notify.KindStreak,
		fmt.Sprintf("%d-day voting streak", reward.StreakDays),
		fmt.Sprintf("You earned a %d coin streak bonus.", reward.Bonus))
	return err
}

// CloseProposal handles POST /proposals/{id}/close
// Only the creator may close a proposal early.
func (h *ProposalHandler) CloseProposal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	proposalID := r.PathValue("id")
	if proposalID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "proposal_id is required")
		return
	}

	ctx := r.Context()
	var proposal models.Proposal

	err := h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		err := tx.GetContext(ctx, &proposal, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, proposalID)
		if errors.Is(err, sql.ErrNoRows) {
			return fail(http.StatusNotFound, "Proposal not found")
		}
		if err != nil {
			return err
		}

		if proposal.CreatorID != userID {
			return fail(http.StatusForbidden, "Only the creator can close this proposal")
		}
		if proposal.Status != models.ProposalActive {
			return fail(http.StatusConflict, "Proposal is not active")
		}

		now := time.Now().UTC()
		if err := CloseProposal(ctx, tx, proposalID, now); err != nil {
			return err
		}
		proposal.Status = models.ProposalClosed
		proposal.ClosedAt = &now
		return nil
	})
	if err != nil {
		respondError(w, err, "failed to close proposal", "proposal_id", proposalID)
		return
	}

	slog.Info("proposal closed", "proposal_id", proposalID)
	middleware.JSONResponse(w, http.StatusOK, proposal)
}

// CloseProposal marks an active proposal closed and notifies its voters.
// It is a no-op for proposals that are already closed.
func CloseProposal(ctx context.Context, h db.Handler, proposalID string, now time.Time) error {
	res, err := h.ExecContext(ctx, `
		UPDATE proposals SET status = ?, closed_at = ?
		WHERE id = ? AND status = ?
	`, models.ProposalClosed, now.UTC(), proposalID, models.ProposalActive)
	if err != nil {
		return fmt.Errorf("failed to close proposal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	var title string
	if err := h.GetContext(ctx, &title, `SELECT title FROM proposals WHERE id = ?`, proposalID); err != nil {
		return fmt.Errorf("failed to load proposal: %w", err)
	}

	var voters []string
	if err := h.SelectContext(ctx, &voters, `SELECT user_id FROM proposal_votes WHERE proposal_id = ?`, proposalID); err != nil {
		return fmt.Errorf("failed to list voters: %w", err)
	}

	tally, err := proposalTally(ctx, h, proposalID)
	if err != nil {
		return fmt.Errorf("failed to tally proposal: %w", err)
	}

	body := fmt.Sprintf("Final tally: %d yes, %d no, %d abstain.", tally.Yes, tally.No, tally.Abstain)
	for _, voter := range voters {
		if _, err := notify.Create(ctx, h, voter, notify.KindProposalClosed, "Voting closed: "+title, body); err != nil {
			return err
		}
	}
	return nil
}
