// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "invalid", "")
	if err == nil {
		t.Fatal("Open(invalid) => nil, want error")
	}
	if !strings.Contains(err.Error(), "unknown driver") {
		t.Errorf("Open(invalid) => %v, want error containing 'unknown driver'", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d := openTestDB(t)

	is.NoErr(Migrate(ctx, d))
	is.NoErr(Migrate(ctx, d))

	var version int64
	is.NoErr(d.GetContext(ctx, &version, `SELECT MAX(version) FROM migrations`))
	is.Equal(version, migrations[len(migrations)-1].Version)

	var count int
	is.NoErr(d.GetContext(ctx, &count, `SELECT COUNT(*) FROM migrations`))
	is.Equal(count, len(migrations))
}

func TestTransactionRollsBack(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d := openTestDB(t)
	is.NoErr(Migrate(ctx, d))

	boom := errors.New("boom")
	err := d.TransactionContext(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, wallet_address, created_at) VALUES (?, ?, ?)`,
			"u1", "0xabc", time.Now().UTC(),
		); err != nil {
			return err
		}
		return boom
	})
	is.True(errors.Is(err, boom))

	var count int
	is.NoErr(d.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`))
	is.Equal(count, 0)
}

func TestIsUniqueViolation(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	d := openTestDB(t)
	is.NoErr(Migrate(ctx, d))

	insert := `INSERT INTO users (id, wallet_address, created_at) VALUES (?, ?, ?)`
	_, err := d.ExecContext(ctx, insert, "u1", "0xabc", time.Now().UTC())
	is.NoErr(err)

	_, err = d.ExecContext(ctx, insert, "u2", "0xabc", time.Now().UTC())
	is.True(IsUniqueViolation(err))
	is.True(!IsUniqueViolation(nil))
	is.True(!IsUniqueViolation(errors.New("other")))
}

func TestCoinsCannotGoNegative(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	if err := Migrate(ctx, d); err != nil {
		t.Fatal(err)
	}

	_, err := d.ExecContext(ctx,
		`INSERT INTO users (id, wallet_address, coins, created_at) VALUES (?, ?, ?, ?)`,
		"u1", "0xabc", -1, time.Now().UTC(),
	)
	if err == nil {
		t.Error("expected CHECK constraint failure for negative coins")
	}
}
