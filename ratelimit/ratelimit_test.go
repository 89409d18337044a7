// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/matryer/is"
	"github.com/redis/go-redis/v9"

	"github.com/danielhkuo/votequest/models"
)

func TestPolicies(t *testing.T) {
	is := is.New(t)

	p := PerMinute("auth", 10)
	is.Equal(p.Limit, 10)
	is.Equal(p.Window, time.Minute)
	is.Equal(p.Burst, 10)

	g := PerSecond("global", 20, 40)
	is.Equal(g.Limit, 20)
	is.Equal(g.Window, time.Second)
	is.Equal(g.Burst, 40)

	slow := PerSecond("slow", 0.5, 1)
	is.Equal(slow.Limit, 30)
	is.Equal(slow.Window, time.Minute)
}

// testBudget checks that a limiter allows exactly n requests per key in a
// fresh window.
func testBudget(t *testing.T, l Limiter, n int) {
	is := is.New(t)
	ctx := context.Background()
	key := uuid.NewString()

	for i := 0; i < n; i++ {
		dec, err := l.Allow(ctx, key)
		is.NoErr(err)
		is.True(dec.Allowed)
		is.Equal(dec.Remaining, n-i-1)
	}

	dec, err := l.Allow(ctx, key)
	is.NoErr(err)
	is.True(!dec.Allowed)
	is.True(dec.RetryAfter > 0)

	// Other keys have their own budget.
	dec, err = l.Allow(ctx, uuid.NewString())
	is.NoErr(err)
	is.True(dec.Allowed)
}

func TestMemoryLimiter(t *testing.T) {
	is := is.New(t)

	now := time.Now()
	l := NewMemoryLimiter(PerMinute("auth", 3))
	l.now = func() time.Time { return now }

	testBudget(t, l, 3)

	// One token refills every 20s.
	key := "refill"
	for i := 0; i < 3; i++ {
		dec, _ := l.Allow(context.Background(), key)
		is.True(dec.Allowed)
	}
	dec, _ := l.Allow(context.Background(), key)
	is.True(!dec.Allowed)
	is.True(dec.RetryAfter <= 20*time.Second)

	now = now.Add(20 * time.Second)
	dec, _ = l.Allow(context.Background(), key)
	is.True(dec.Allowed)
}

func TestMemoryLimiterCleanup(t *testing.T) {
	is := is.New(t)

	now := time.Now()
	l := NewMemoryLimiter(PerMinute("auth", 3), WithIdleTTL(time.Minute))
	l.now = func() time.Time { return now }

	l.Allow(context.Background(), "a")
	now = now.Add(30 * time.Second)
	l.Allow(context.Background(), "b")
	is.Equal(l.Len(), 2)

	now = now.Add(45 * time.Second)
	l.Cleanup()
	is.Equal(l.Len(), 1) // a idle for 75s, b for 45s
}

func TestRedisLimiter(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	l := NewRedisLimiter(rdb, Policy{Name: "test", Limit: 3, Window: time.Hour})
	testBudget(t, l, 3)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func TestMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("rejects over budget", func(t *testing.T) {
		is := is.New(t)
		h := Middleware(Options{Name: "auth", Limiter: NewMemoryLimiter(PerMinute("auth", 2))})(next)

		for i := 0; i < 2; i++ {
			req := httptest.NewRequest("POST", "/auth/nonce", nil)
			req.RemoteAddr = "192.0.2.1:1234"
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			is.Equal(w.Code, http.StatusOK)
			is.True(w.Header().Get("X-RateLimit-Remaining") != "")
		}

		req := httptest.NewRequest("POST", "/auth/nonce", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		is.Equal(w.Code, http.StatusTooManyRequests)
		is.True(w.Header().Get("Retry-After") != "")

		var resp models.ErrorResponse
		is.NoErr(json.NewDecoder(w.Body).Decode(&resp))
		is.Equal(resp.Error, "Too Many Requests")

		// A different client is unaffected.
		req = httptest.NewRequest("POST", "/auth/nonce", nil)
		req.RemoteAddr = "192.0.2.2:1234"
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)
		is.Equal(w.Code, http.StatusOK)
	})

	t.Run("keys by forwarded ip behind proxy", func(t *testing.T) {
		is := is.New(t)
		h := Middleware(Options{
			Name:       "chat",
			Limiter:    NewMemoryLimiter(PerMinute("chat", 1)),
			TrustProxy: true,
		})(next)

		send := func(xff string) int {
			req := httptest.NewRequest("POST", "/chat", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			req.Header.Set("X-Forwarded-For", xff)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			return w.Code
		}

		is.Equal(send("203.0.113.1"), http.StatusOK)
		is.Equal(send("203.0.113.1"), http.StatusTooManyRequests)
		is.Equal(send("203.0.113.2"), http.StatusOK)
	})

	t.Run("fails open on limiter error", func(t *testing.T) {
		is := is.New(t)
		h := Middleware(Options{Name: "broken", Limiter: failingLimiter{}})(next)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		is.Equal(w.Code, http.StatusOK)
	})
}

func TestRetryAfterSeconds(t *testing.T) {
	is := is.New(t)
	is.Equal(retryAfterSeconds(0), "1")
	is.Equal(retryAfterSeconds(300*time.Millisecond), "1")
	is.Equal(retryAfterSeconds(1500*time.Millisecond), "2")
	is.Equal(retryAfterSeconds(20*time.Second), "20")
}
