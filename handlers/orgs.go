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
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/danielhkuo/votequest/auth"
	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/mailer"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/notify"
	"github.com/danielhkuo/votequest/verify"
)

const maxSlugLength = 48

// Slugify turns a display name into a URL slug: accents stripped,
// lower-case ASCII letters and digits separated by single hyphens.
func Slugify(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(folded) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= maxSlugLength {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

const orgColumns = `id, name, slug, email, owner_id, verified, verified_at, created_at`

type OrgHandler struct {
	db    *db.DB
	cfg   cliparse.Config
	codes verify.Store
	mail  mailer.Mailer
}

func NewOrgHandler(db *db.DB, cfg cliparse.Config, codes verify.Store, mail mailer.Mailer) *OrgHandler {
	return &OrgHandler{db: db, cfg: cfg, codes: codes, mail: mail}
}

// memberRole returns the caller's role in an organization, or "" when
// they are not a member.
func memberRole(ctx context.Context, h db.Handler, orgID, userID string) (string, error) {
	var role string
	err := h.GetContext(ctx, &role, `SELECT role FROM org_members WHERE org_id = ? AND user_id = ?`, orgID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return role, err
}

func isOrgAdmin(role string) bool {
	return role == models.RoleOwner || role == models.RoleAdmin
}

// loadOrgAsAdmin loads an organization and checks that userID administers it.
func loadOrgAsAdmin(ctx context.Context, h db.Handler, orgID, userID string) (models.Organization, error) {
	var org models.Organization
	err := h.GetContext(ctx, &org, `SELECT `+orgColumns+` FROM organizations WHERE id = ?`, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return org, fail(http.StatusNotFound, "Organization not found")
	}
	if err != nil {
		return org, err
	}

	role, err := memberRole(ctx, h, orgID, userID)
	if err != nil {
		return org, err
	}
	if !isOrgAdmin(role) {
		return org, fail(http.StatusForbidden, "Organization admin role required")
	}
	return org, nil
}

// CreateOrg handles POST /orgs
func (h *OrgHandler) CreateOrg(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req models.CreateOrgRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	name := strings.TrimSpace(req.Name)
	if len(name) < 2 || len(name) > 100 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name must be 2-100 characters")
		return
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "A valid contact email is required")
		return
	}

	orgID, err := auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate org ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create organization")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	org := models.Organization{
		ID:        orgID,
		Name:      name,
		Email:     email,
		OwnerID:   userID,
		CreatedAt: now,
	}

	err = h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		slug := Slugify(name)
		if slug == "" {
			slug = "org"
		}

		var taken bool
		if err := tx.GetContext(ctx, &taken, `SELECT COUNT(*) > 0 FROM organizations WHERE slug = ?`, slug); err != nil {
			return err
		}
		if taken {
			slug += "-" + strings.ToLower(auth.ShortSlug(orgID, h.cfg.IPHashSalt))
		}
		org.Slug = slug

		_, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (id, name, slug, email, owner_id, verified, created_at)
			VALUES (?, ?, ?, ?, ?, FALSE, ?)
		`, org.ID, org.Name, org.Slug, org.Email, org.OwnerID, org.CreatedAt)
		if db.IsUniqueViolation(err) {
			return fail(http.StatusConflict, "An organization with a similar name already exists")
		}
		if err != nil {
			return fmt.Errorf("failed to insert organization: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO org_members (org_id, user_id, role, created_at)
			VALUES (?, ?, ?, ?)
		`, org.ID, userID, models.RoleOwner, now)
		return err
	})
	if err != nil {
		respondError(w, err, "failed to create organization")
		return
	}

	slog.Info("organization created", "org_id", orgID, "slug", org.Slug)
	middleware.JSONResponse(w, http.StatusCreated, org)
}

// ListOrgs handles GET /orgs
// Returns the organizations the caller belongs to.
func (h *OrgHandler) ListOrgs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	orgs := []models.Organization{}
	err := h.db.SelectContext(r.Context(), &orgs, `
		SELECT o.id, o.name, o.slug, o.email, o.owner_id, o.verified, o.verified_at, o.created_at
		FROM organizations o
		JOIN org_members m ON m.org_id = o.id
		WHERE m.user_id = ?
		ORDER BY o.created_at DESC, o.id
	`, userID)
	if err != nil {
		slog.Error("failed to query organizations", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, orgs)
}

// GetOrg handles GET /orgs/{id}
// Visible to members only.
func (h *OrgHandler) GetOrg(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	orgID := r.PathValue("id")
	if orgID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "org_id is required")
		return
	}

	ctx := r.Context()
	var resp models.OrganizationWithMembers
	err := h.db.GetContext(ctx, &resp.Organization, `SELECT `+orgColumns+` FROM organizations WHERE id = ?`, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Organization not found")
		return
	}
	if err != nil {
		slog.Error("failed to query organization", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	role, err := memberRole(ctx, h.db, orgID, userID)
	if err != nil {
		slog.Error("failed to query membership", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if role == "" {
		middleware.ErrorResponse(w, http.StatusForbidden, "Members only")
		return
	}

	resp.Members = []models.OrgMember{}
	err = h.db.SelectContext(ctx, &resp.Members, `
		SELECT m.user_id, u.wallet_address, u.username, m.role, m.created_at
		FROM org_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.org_id = ?
		ORDER BY m.created_at, m.user_id
	`, orgID)
	if err != nil {
		slog.Error("failed to query members", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// AddMember handles POST /orgs/{id}/members
func (h *OrgHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	orgID := r.PathValue("id")
	if orgID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "org_id is required")
		return
	}

	var req models.AddMemberRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	wallet, err := auth.NormalizeAddress(req.WalletAddress)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid wallet address")
		return
	}
	role := req.Role
	if role == "" {
		role = models.RoleMember
	}
	if role != models.RoleAdmin && role != models.RoleMember {
		middleware.ErrorResponse(w, http.StatusBadRequest, "role must be admin or member")
		return
	}

	ctx := r.Context()
	var member models.OrgMember

	err = h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		if _, err := loadOrgAsAdmin(ctx, tx, orgID, userID); err != nil {
			return err
		}

		user, err := getUserByWallet(ctx, tx, wallet)
		if errors.Is(err, sql.ErrNoRows) {
			return fail(http.StatusNotFound, "No user with that wallet address")
		}
		if err != nil {
			return err
		}

		member = models.OrgMember{
			UserID:        user.ID,
			WalletAddress: user.WalletAddress,
			Username:      user.Username,
			Role:          role,
			CreatedAt:     time.Now().UTC(),
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO org_members (org_id, user_id, role, created_at)
			VALUES (?, ?, ?, ?)
		`, orgID, member.UserID, member.Role, member.CreatedAt)
		if db.IsUniqueViolation(err) {
			return fail(http.StatusConflict, "User is already a member")
		}
		return err
	})
	if err != nil {
		respondError(w, err, "failed to add member", "org_id", orgID)
		return
	}

	slog.Info("member added", "org_id", orgID, "user_id", member.UserID, "role", role)
	middleware.JSONResponse(w, http.StatusCreated, member)
}

// RequestVerification handles POST /orgs/{id}/verify/request
// Mails a one-time code to the organization's contact email.
func (h *OrgHandler) RequestVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	orgID := r.PathValue("id")
	if orgID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "org_id is required")
		return
	}

	ctx := r.Context()
	org, err := loadOrgAsAdmin(ctx, h.db, orgID, userID)
	if err != nil {
		respondError(w, err, "failed to load organization", "org_id", orgID)
		return
	}
	if org.Verified {
		middleware.ErrorResponse(w, http.StatusConflict, "Organization is already verified")
		return
	}

	code, err := verify.NewCode()
	if err != nil {
		slog.Error("failed to generate code", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to send code")
		return
	}
	if err := h.codes.Put(ctx, verify.OrgKey(orgID), code, verify.CodeTTL); err != nil {
		slog.Error("failed to store code", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to send code")
		return
	}

	msg := mailer.VerificationMessage(org.Email, "verify "+org.Name+" on VoteQuest", code)
	if err := h.mail.Send(ctx, msg); err != nil {
		slog.Error("failed to send verification email", "org_id", orgID, "error", err)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Failed to send verification email")
		return
	}

	slog.Info("organization verification requested", "org_id", orgID)
	middleware.JSONResponse(w, http.StatusAccepted, models.StatusResponse{Status: "sent"})
}

// ConfirmVerification handles POST /orgs/{id}/verify/confirm
func (h *OrgHandler) ConfirmVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	orgID := r.PathValue("id")
	if orgID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "org_id is required")
		return
	}

	var req models.VerificationCodeRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "code is required")
		return
	}

	ctx := r.Context()
	org, err := loadOrgAsAdmin(ctx, h.db, orgID, userID)
	if err != nil {
		respondError(w, err, "failed to load organization", "org_id", orgID)
		return
	}
	if org.Verified {
		middleware.ErrorResponse(w, http.StatusConflict, "Organization is already verified")
		return
	}

	if err := h.codes.Check(ctx, verify.OrgKey(orgID), strings.TrimSpace(req.Code)); err != nil {
		respondCodeError(w, err)
		return
	}

	now := time.Now().UTC()
	err = h.db.TransactionContext(ctx, func(tx *db.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE organizations SET verified = TRUE, verified_at = ? WHERE id = ?
		`, now, orgID); err != nil {
			return err
		}
		_, err := notify.Create(ctx, tx, org.OwnerID, notify.KindOrgVerified,
			org.Name+" is verified", "You can now create voting rooms.")
		return err
	})
	if err != nil {
		respondError(w, err, "failed to verify organization", "org_id", orgID)
		return
	}

	org.Verified = true
	org.VerifiedAt = &now

	slog.Info("organization verified", "org_id", orgID)
	middleware.JSONResponse(w, http.StatusOK, org)
}
