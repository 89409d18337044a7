// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"
)

func trace(l *log.Logger, query string, args ...interface{}) {
	if l != nil {
		query = strings.Join(strings.Fields(query), " ")
		l.Debug("trace", "query", query, "args", args)
	}
}

// GetContext rebinds and traces query before calling sqlx.GetContext.
func (d *DB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	query = d.Rebind(query)
	trace(d.logger, query, args...)
	return d.DB.GetContext(ctx, dest, query, args...)
}

// SelectContext rebinds and traces query before calling sqlx.SelectContext.
func (d *DB) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	query = d.Rebind(query)
	trace(d.logger, query, args...)
	return d.DB.SelectContext(ctx, dest, query, args...)
}

// ExecContext rebinds and traces query before calling sqlx.ExecContext.
func (d *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	query = d.Rebind(query)
	trace(d.logger, query, args...)
	return d.DB.ExecContext(ctx, query, args...)
}

// QueryRowxContext rebinds and traces query before calling sqlx.QueryRowxContext.
func (d *DB) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	query = d.Rebind(query)
	trace(d.logger, query, args...)
	return d.DB.QueryRowxContext(ctx, query, args...)
}

// GetContext rebinds and traces query before calling sqlx.GetContext.
func (t *Tx) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	query = t.Rebind(query)
	trace(t.logger, query, args...)
	return t.Tx.GetContext(ctx, dest, query, args...)
}

// SelectContext rebinds and traces query before calling sqlx.SelectContext.
func (t *Tx) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	query = t.Rebind(query)
	trace(t.logger, query, args...)
	return t.Tx.SelectContext(ctx, dest, query, args...)
}

// ExecContext rebinds and traces query before calling sqlx.ExecContext.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	query = t.Rebind(query)
	trace(t.logger, query, args...)
	return t.Tx.ExecContext(ctx, query, args...)
}

// QueryRowxContext rebinds and traces query before calling sqlx.QueryRowxContext.
func (t *Tx) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	query = t.Rebind(query)
	trace(t.logger, query, args...)
	return t.Tx.QueryRowxContext(ctx, query, args...)
}
