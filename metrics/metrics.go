// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package metrics holds the Prometheus collectors and the server that
// exposes them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "votequest",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "The total number of HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "votequest",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	VotesCast = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "votequest",
		Name:      "votes_cast_total",
		Help:      "The total number of votes and ballots cast",
	}, []string{"kind"})

	CoinsMinted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "votequest",
		Subsystem: "coins",
		Name:      "minted_total",
		Help:      "Coins credited to users",
	}, []string{"kind"})

	CoinsBurned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "votequest",
		Subsystem: "coins",
		Name:      "burned_total",
		Help:      "Coins debited from users",
	}, []string{"kind"})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "votequest",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Requests rejected by a rate limit policy",
	}, []string{"policy"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "votequest",
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Background job runs by outcome",
	}, []string{"job", "outcome"})
)

// Server serves /metrics on its own listener.
type Server struct {
	server *http.Server
}

// NewServer returns a metrics server listening on addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: time.Second * 10,
			ReadTimeout:       time.Second * 10,
			WriteTimeout:      time.Second * 10,
			MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
		},
	}
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe() //nolint:wrapcheck
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx) //nolint:wrapcheck
}
