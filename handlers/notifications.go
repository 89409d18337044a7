// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/notify"
)

type NotificationHandler struct {
	db  *db.DB
	cfg cliparse.Config
}

func NewNotificationHandler(db *db.DB, cfg cliparse.Config) *NotificationHandler {
	return &NotificationHandler{db: db, cfg: cfg}
}

// List handles GET /notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", 50, 1, 200)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	items, err := notify.List(r.Context(), h.db, userID, unreadOnly, limit)
	if err != nil {
		slog.Error("failed to query notifications", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, items)
}

// MarkRead handles POST /notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if id == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "notification_id is required")
		return
	}

	err := notify.MarkRead(r.Context(), h.db, userID, id)
	if errors.Is(err, notify.ErrNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Notification not found")
		return
	}
	if err != nil {
		slog.Error("failed to mark notification read", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.StatusResponse{Status: "read"})
}

// MarkAllRead handles POST /notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	n, err := notify.MarkAllRead(r.Context(), h.db, userID)
	if err != nil {
		slog.Error("failed to mark notifications read", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.CountResponse{Count: n})
}
