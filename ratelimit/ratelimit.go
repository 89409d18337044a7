// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package ratelimit limits requests per client key.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Policy is a named request budget.
type Policy struct {
	Name   string
	Limit  int           // requests per window
	Window time.Duration // window length
	Burst  int           // token-bucket burst; defaults to Limit
}

// PerMinute returns a policy allowing n requests per minute.
func PerMinute(name string, n int) Policy {
	return Policy{Name: name, Limit: n, Window: time.Minute, Burst: n}
}

// PerSecond returns a policy allowing rps requests per second with burst.
func PerSecond(name string, rps float64, burst int) Policy {
	if rps <= 0 {
		rps = 1
	}
	// Express fractional rates as a per-minute budget for fixed windows.
	if rps < 1 {
		return Policy{Name: name, Limit: int(rps * 60), Window: time.Minute, Burst: burst}
	}
	return Policy{Name: name, Limit: int(rps), Window: time.Second, Burst: burst}
}
