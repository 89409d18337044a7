// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package chain reads balances from an Ethereum JSON-RPC endpoint.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

// balanceOfSelector is the ERC-20 balanceOf(address) selector.
const balanceOfSelector = "70a08231"

var ErrNotConfigured = errors.New("chain rpc endpoint not configured")

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int64
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Config configures the JSON-RPC client.
type Config struct {
	RPCURL     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client is a minimal read-only JSON-RPC client.
type Client struct {
	cfg    Config
	nextID atomic.Int64
}

// NewClient returns a client for cfg.RPCURL.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg}
}

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.cfg.RPCURL) != ""
}

// NativeBalance returns the wei balance of address at the latest block.
func (c *Client) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	result, err := c.call(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return nil, err
	}
	return parseQuantity(result)
}

// TokenBalance returns the ERC-20 balance of holder on token.
func (c *Client) TokenBalance(ctx context.Context, token, holder string) (*big.Int, error) {
	data, err := BalanceOfCallData(holder)
	if err != nil {
		return nil, err
	}
	result, err := c.call(ctx, "eth_call", map[string]string{
		"to":   token,
		"data": data,
	}, "latest")
	if err != nil {
		return nil, err
	}
	return parseQuantity(result)
}

// BalanceOfCallData encodes balanceOf(holder).
func BalanceOfCallData(holder string) (string, error) {
	addr := strings.TrimPrefix(strings.ToLower(holder), "0x")
	if len(addr) != 40 {
		return "", fmt.Errorf("invalid holder address %q", holder)
	}
	if _, err := hex.DecodeString(addr); err != nil {
		return "", fmt.Errorf("invalid holder address %q", holder)
	}
	return "0x" + balanceOfSelector + strings.Repeat("0", 24) + addr, nil
}

func (c *Client) call(ctx context.Context, method string, params ...any) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return "", fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", method, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", method, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("%s request status %d: %s", method, res.StatusCode, strings.TrimSpace(string(raw)))
	}
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("%s response is not valid JSON", method)
	}

	parsed := gjson.ParseBytes(raw)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() {
		return "", &RPCError{Code: rpcErr.Get("code").Int(), Message: rpcErr.Get("message").String()}
	}
	result := parsed.Get("result")
	if result.Type != gjson.String {
		return "", fmt.Errorf("%s response has no result", method)
	}
	return result.String(), nil
}

// parseQuantity decodes a 0x-prefixed hex quantity. "0x" decodes to zero.
func parseQuantity(s string) (*big.Int, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	digits := s[2:]
	if digits == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return n, nil
}
