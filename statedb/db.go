// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statedb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/statebridge/bridge"
)

// Config holds the parameters for opening a state database.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize defaults to 2.
	PoolSize int

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// DB stores state snapshots.
type DB struct {
	pool   *pool
	logger *slog.Logger
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("statedb: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}
	p, err := openPool(cfg.Path, size, logger)
	if err != nil {
		return nil, err
	}
	return &DB{pool: p, logger: logger}, nil
}

// Load returns the stored state. An empty database yields an empty
// state.
func (db *DB) Load(ctx context.Context) (bridge.State, error) {
	conn, err := db.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer db.pool.put(conn)

	state := bridge.State{}
	err = sqlitex.Execute(conn, "SELECT key, value FROM bridge_state", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			key := stmt.ColumnText(0)
			raw := make([]byte, stmt.ColumnLen(1))
			stmt.ColumnBytes(1, raw)
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				return fmt.Errorf("decoding %q: %w", key, err)
			}
			state[key] = value
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("statedb: loading state: %w", err)
	}
	return state, nil
}

// Save replaces the stored state with the state fields of entries.
// Method values are skipped.
func (db *DB) Save(ctx context.Context, entries bridge.State) (err error) {
	state := bridge.StateOnly(entries)
	keys := make([]string, 0, len(state))
	encoded := make(map[string][]byte, len(state))
	for key, value := range state {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("statedb: encoding %q: %w", key, err)
		}
		keys = append(keys, key)
		encoded[key] = data
	}
	sort.Strings(keys)

	conn, err := db.pool.take(ctx)
	if err != nil {
		return err
	}
	defer db.pool.put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("statedb: begin: %w", err)
	}
	defer endTransaction(&err)

	if err = sqlitex.Execute(conn, "DELETE FROM bridge_state", nil); err != nil {
		return fmt.Errorf("statedb: clearing state: %w", err)
	}
	for _, key := range keys {
		err = sqlitex.Execute(conn,
			"INSERT INTO bridge_state (key, value) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{key, encoded[key]}},
		)
		if err != nil {
			return fmt.Errorf("statedb: storing %q: %w", key, err)
		}
	}
	db.logger.Debug("state saved", "fields", len(keys))
	return nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.pool.close()
}
