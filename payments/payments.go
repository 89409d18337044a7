// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package payments verifies payment provider webhooks and lists the coin
// packages they pay for.
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danielhkuo/votequest/models"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>".
const SignatureHeader = "Payment-Signature"

// Tolerance is the maximum age of a signed webhook.
const Tolerance = 5 * time.Minute

// Event types
const (
	EventCheckoutCompleted = "checkout.completed"
)

var (
	ErrMissingSignature = errors.New("missing payment signature")
	ErrBadSignature     = errors.New("payment signature mismatch")
	ErrStaleSignature   = errors.New("payment signature timestamp outside tolerance")
	ErrUnknownPackage   = errors.New("unknown coin package")
)

// Packages are the purchasable coin bundles.
var Packages = []models.CoinPackage{
	{ID: "starter", Name: "Starter", Coins: 500, PriceCents: 499, Currency: "usd"},
	{ID: "supporter", Name: "Supporter", Coins: 1200, PriceCents: 999, Currency: "usd"},
	{ID: "champion", Name: "Champion", Coins: 3000, PriceCents: 1999, Currency: "usd"},
}

// FindPackage returns the package with id.
func FindPackage(id string) (models.CoinPackage, error) {
	for _, p := range Packages {
		if p.ID == id {
			return p, nil
		}
	}
	return models.CoinPackage{}, ErrUnknownPackage
}

// Sign returns the header value for payload signed at ts.
func Sign(secret string, ts time.Time, payload []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + computeMAC(secret, t, payload)
}

func computeMAC(secret, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against payload at now.
func VerifySignature(secret, header string, payload []byte, now time.Time) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrMissingSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > Tolerance || age < -Tolerance {
		return ErrStaleSignature
	}

	expected := computeMAC(secret, ts, payload)
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrBadSignature
}

// Event is a webhook delivery.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		UserID    string `json:"user_id"`
		PackageID string `json:"package_id"`
	} `json:"data"`
}
