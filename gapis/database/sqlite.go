// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gfxsync/gfxsync/core/data/id"
	"github.com/gfxsync/gfxsync/core/log"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `CREATE TABLE IF NOT EXISTS blobs (
	id   TEXT PRIMARY KEY,
	data BLOB
)`

// SQLite is a Store persisted to a sqlite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the sqlite blob store at path.
// The path ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite blob store path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite blob store")
	}
	if path == ":memory:" {
		// Each connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping sqlite blob store")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create blob table")
	}
	log.D(ctx, "Opened sqlite blob store %v", path)
	return &SQLite{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put implements Store.
func (s *SQLite) Put(ctx context.Context, data []byte) (id.ID, error) {
	key := id.OfBytes(data)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (id, data) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		key.String(), data)
	if err != nil {
		return id.ID{}, errors.Wrapf(err, "store blob %v", key)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.D(ctx, "Stored blob %v (%s)", key, humanize.Bytes(uint64(len(data))))
	}
	return key, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, key id.ID) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE id = ?`, key.String()).Scan(&data)
	switch {
	case err == sql.ErrNoRows:
		return nil, errors.Wrapf(ErrBlobNotFound, "id %v", key)
	case err != nil:
		return nil, errors.Wrapf(err, "fetch blob %v", key)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Contains implements Store.
func (s *SQLite) Contains(ctx context.Context, key id.ID) bool {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blobs WHERE id = ?`, key.String()).Scan(&n)
	return err == nil && n > 0
}
