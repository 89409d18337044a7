// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package chat forwards conversations to an OpenAI-compatible chat
// completions API.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/danielhkuo/votequest/models"
)

// SystemPrompt is prepended to every conversation.
const SystemPrompt = "You are the VoteQuest assistant. You help people understand proposals, " +
	"voting rooms and civic participation. Be neutral, concise and factual. Never tell a user " +
	"how to vote and never ask for wallet keys or personal data."

// Limits on a conversation
const (
	MaxMessages      = 20
	MaxMessageLength = 4000
)

var (
	ErrNotConfigured = errors.New("chat api not configured")
	ErrUpstream      = errors.New("chat api request failed")
)

// Config configures the chat client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client calls the /chat/completions endpoint.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Client{cfg: cfg}
}

// Configured reports whether the client can make requests.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.BaseURL != "" && strings.TrimSpace(c.cfg.APIKey) != ""
}

// Validate checks a conversation from a user.
func Validate(messages []models.ChatMessage) error {
	if len(messages) == 0 {
		return errors.New("at least one message is required")
	}
	if len(messages) > MaxMessages {
		return fmt.Errorf("at most %d messages allowed", MaxMessages)
	}
	for i, m := range messages {
		if m.Role != "user" && m.Role != "assistant" {
			return fmt.Errorf("message %d: role must be user or assistant", i)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("message %d: content is required", i)
		}
		if len([]rune(m.Content)) > MaxMessageLength {
			return fmt.Errorf("message %d: content exceeds %d characters", i, MaxMessageLength)
		}
	}
	return nil
}

// Complete sends the conversation with the system prompt and returns the
// assistant's reply.
func (c *Client) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload := make([]models.ChatMessage, 0, len(messages)+1)
	payload = append(payload, models.ChatMessage{Role: "system", Content: SystemPrompt})
	payload = append(payload, messages...)

	body, err := json.Marshal(map[string]any{
		"model":    c.cfg.Model,
		"messages": payload,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrUpstream, res.StatusCode, msg)
	}

	reply := gjson.GetBytes(raw, "choices.0.message.content")
	if !reply.Exists() || strings.TrimSpace(reply.String()) == "" {
		return "", fmt.Errorf("%w: empty reply", ErrUpstream)
	}
	return strings.TrimSpace(reply.String()), nil
}
