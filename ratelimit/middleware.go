// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ratelimit

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/danielhkuo/votequest/metrics"
	"github.com/danielhkuo/votequest/middleware"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	// Name labels the policy in logs and metrics.
	Name       string
	Limiter    Limiter
	KeyFn      KeyFunc
	TrustProxy bool
}

// ClientIPKey keys requests by client IP.
func ClientIPKey(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		return middleware.GetClientIP(r, trustProxy)
	}
}

// Middleware rejects requests over budget with 429 and Retry-After.
// Limiter errors let the request through.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = ClientIPKey(opts.TrustProxy)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			dec, err := opts.Limiter.Allow(r.Context(), key)
			if err != nil {
				slog.Error("rate limiter failed", "policy", opts.Name, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !dec.Allowed {
				metrics.RateLimitRejections.WithLabelValues(opts.Name).Inc()
				w.Header().Set("Retry-After", retryAfterSeconds(dec.RetryAfter))
				w.Header().Set("X-RateLimit-Remaining", "0")
				middleware.ErrorResponse(w, http.StatusTooManyRequests,
					fmt.Sprintf("Rate limit exceeded, retry in %ss", retryAfterSeconds(dec.RetryAfter)))
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// Wrap applies the middleware to a HandlerFunc.
func Wrap(opts Options, next http.HandlerFunc) http.HandlerFunc {
	return Middleware(opts)(next).ServeHTTP
}

// retryAfterSeconds rounds up to whole seconds, minimum 1.
func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
