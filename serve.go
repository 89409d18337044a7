// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danielhkuo/votequest/chain"
	"github.com/danielhkuo/votequest/chat"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/jobs"
	"github.com/danielhkuo/votequest/mailer"
	"github.com/danielhkuo/votequest/metrics"
	"github.com/danielhkuo/votequest/router"
	"github.com/danielhkuo/votequest/telemetry"
	"github.com/danielhkuo/votequest/verify"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serve(c *cobra.Command, _ []string) error {
	ctx := c.Context()
	logger := log.FromContext(ctx)
	cfg := a.cfg

	if err := db.Migrate(ctx, a.db); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	logger.Info("database schema ready")

	// Shared state lives in Redis when configured so several instances
	// enforce the same limits and accept each other's codes.
	var rdb redis.UniversalClient
	var codes verify.Store
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		rdb = client
		codes = verify.NewRedisStore(client)
		logger.Info("using redis for rate limits and codes", "addr", opt.Addr)
	} else {
		mem := verify.NewMemoryStore()
		mem.StartJanitor(ctx, time.Minute)
		codes = mem
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, "votequest")
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	deps := router.Deps{
		Codes:  codes,
		Mailer: mailer.New(cfg.SMTP),
		Chat:   chat.NewClient(chat.Config{BaseURL: cfg.Chat.BaseURL, APIKey: cfg.Chat.APIKey, Model: cfg.Chat.Model}),
		Chain:  chain.NewClient(chain.Config{RPCURL: cfg.Chain.RPCURL}),
		Limits: router.NewLimits(ctx, cfg.RateLimit, rdb),
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router.NewRouter(a.db, cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr)
	}

	scheduler, err := jobs.NewScheduler(ctx, jobs.NewRunner(a.db))
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		scheduler.Shutdown()
		errs := []error{server.Shutdown(sctx)}
		if metricsServer != nil {
			errs = append(errs, metricsServer.Shutdown(sctx))
		}
		errs = append(errs, shutdownTracing(sctx))
		return errors.Join(errs...)
	})

	return g.Wait()
}
