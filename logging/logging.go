// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"

	"github.com/danielhkuo/votequest/cliparse"
)

// New returns a logger writing to w configured from cfg. The logger is also
// installed as the slog default so packages logging through slog share the
// same output.
func New(w io.Writer, cfg cliparse.LogConfig) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "votequest",
	})

	if lvl, err := log.ParseLevel(strings.ToLower(cfg.Level)); err == nil && cfg.Level != "" {
		logger.SetLevel(lvl)
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = "text"
		}
	}

	switch format {
	case "json":
		logger.SetFormatter(log.JSONFormatter)
	case "logfmt":
		logger.SetFormatter(log.LogfmtFormatter)
	default:
		logger.SetFormatter(log.TextFormatter)
	}

	slog.SetDefault(slog.New(logger))
	return logger
}
