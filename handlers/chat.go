// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/votequest/chat"
	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/middleware"
	"github.com/danielhkuo/votequest/models"
)

type ChatHandler struct {
	cfg    cliparse.Config
	client *chat.Client
}

func NewChatHandler(cfg cliparse.Config, client *chat.Client) *ChatHandler {
	return &ChatHandler{cfg: cfg, client: client}
}

// Chat handles POST /chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}

	if !h.client.Configured() {
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Chat is not available")
		return
	}

	var req models.ChatRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := chat.Validate(req.Messages); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := h.client.Complete(r.Context(), req.Messages)
	if err != nil {
		if errors.Is(err, chat.ErrNotConfigured) {
			middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Chat is not available")
			return
		}
		slog.Error("chat completion failed", "user_id", userID, "error", err)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Chat service error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.ChatResponse{Reply: reply})
}
