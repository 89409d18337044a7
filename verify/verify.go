// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package verify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"
)

const (
	// CodeTTL is how long a mailed verification code stays valid.
	CodeTTL = 10 * time.Minute
	// NonceTTL is how long a login nonce stays valid.
	NonceTTL = 5 * time.Minute
	// MaxAttempts failed checks burn a code.
	MaxAttempts = 5
)

var (
	ErrNotFound        = errors.New("verification code not found or expired")
	ErrMismatch        = errors.New("verification code does not match")
	ErrTooManyAttempts = errors.New("too many failed attempts")
)

// Store keeps short-lived codes keyed by purpose.
type Store interface {
	// Put stores code under key, replacing any previous value and
	// resetting its attempt counter.
	Put(ctx context.Context, key, code string, ttl time.Duration) error
	// Check compares code with the stored value and consumes it on success.
	Check(ctx context.Context, key, code string) error
	// Take returns the stored value and consumes it.
	Take(ctx context.Context, key string) (string, error)
}

// NewCode returns 6 random decimal digits.
func NewCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// OrgKey is the store key for an organization email verification.
func OrgKey(orgID string) string {
	return "org:" + orgID
}

// RoomKey is the store key for a voter eligibility code.
func RoomKey(roomID, email string) string {
	return "room:" + roomID + ":" + email
}

// NonceKey is the store key for a wallet login nonce.
func NonceKey(address string) string {
	return "nonce:" + address
}
