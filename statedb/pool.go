// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statedb

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// defaultPoolSize covers one writer plus a reader. SQLite serializes
// writes regardless of pool size.
const defaultPoolSize = 2

// pool wraps sqlitex.Pool with the standard pragmas and schema applied
// to every connection on first use.
type pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

func openPool(path string, size int, logger *slog.Logger) (*pool, error) {
	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("statedb: opening %s: %w", path, err)
	}
	logger.Debug("sqlite pool opened", "path", path, "pool_size", size)
	return &pool{inner: inner, logger: logger, path: path}, nil
}

// take borrows a connection. The caller must put it back.
func (p *pool) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("statedb: take: %w", err)
	}
	return conn, nil
}

func (p *pool) put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

func (p *pool) close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("statedb: closing %s: %w", p.path, err)
	}
	p.logger.Debug("sqlite pool closed", "path", p.path)
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS bridge_state (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("statedb: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("statedb: creating schema: %w", err)
	}
	return nil
}
