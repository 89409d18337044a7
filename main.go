// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/danielhkuo/votequest/cliparse"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/jobs"
	"github.com/danielhkuo/votequest/logging"
)

// app carries what every command needs once the root command has loaded
// the configuration.
type app struct {
	flags *cliparse.Flags
	cfg   cliparse.Config
	db    *db.DB
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:               "votequest",
		Short:             "VoteQuest governance and community voting API",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.db != nil {
				return a.db.Close()
			}
			return nil
		},
	}
	a.flags = cliparse.Bind(root.PersistentFlags())
	root.CompletionOptions.HiddenDefaultCmd = true

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the API server and background jobs",
			Args:  cobra.NoArgs,
			RunE:  a.serve,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				if err := db.Migrate(c.Context(), a.db); err != nil {
					return fmt.Errorf("migration error: %w", err)
				}
				log.FromContext(c.Context()).Info("database schema ready")
				return nil
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Close expired proposals and rooms, purge old notifications, then exit",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				return jobs.NewRunner(a.db).RunAll(c.Context())
			},
		},
	)

	return root
}

// setup loads the configuration, builds the logger and opens the database.
func (a *app) setup(c *cobra.Command, _ []string) error {
	cfg, err := a.flags.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.cfg = cfg

	logger := logging.New(os.Stderr, cfg.Log)
	log.SetDefault(logger)

	// Respect container CPU quotas.
	if _, err := maxprocs.Set(maxprocs.Logger(logger.Debugf)); err != nil {
		logger.Warn("couldn't set automaxprocs", "error", err)
	}

	ctx := log.WithContext(c.Context(), logger)
	c.SetContext(ctx)

	a.db, err = db.Open(ctx, cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
