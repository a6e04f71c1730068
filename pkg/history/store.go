// Copyright 2024 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history keeps a local cache of terminal call records. The
// messaging transport remains the durable store; this exists so the client
// can render a call log without a round-trip.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/talkline/callkit/pkg/call"
)

type Store struct {
	db *sql.DB
}

// Open opens or creates the call log database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "cannot create history dir")
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "calls.db"))
	if err != nil {
		return nil, errors.Wrap(err, "cannot open history db")
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cannot configure history db")
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS call_records (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id          TEXT NOT NULL,
			media_type       TEXT NOT NULL,
			terminal_state   TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL,
			inviter_id       TEXT NOT NULL,
			direction        TEXT NOT NULL,
			ended_at         DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_call_records_ended_at ON call_records(ended_at);
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cannot create history schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRecord implements call.RecordStore.
func (s *Store) SaveRecord(ctx context.Context, rec *call.Record, direction string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_records
			(room_id, media_type, terminal_state, duration_seconds, inviter_id, direction, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RoomID,
		string(rec.MediaType),
		string(rec.TerminalState),
		int(rec.Duration/time.Second),
		rec.InviterID,
		direction,
		rec.EndedAt.UTC(),
	)
	return errors.Wrap(err, "cannot insert call record")
}

// Entry is one call log row.
type Entry struct {
	Record    call.Record
	Direction string
}

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, media_type, terminal_state, duration_seconds, inviter_id, direction, ended_at
		FROM call_records ORDER BY ended_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "cannot query call records")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			media   string
			state   string
			durSec  int
			endedAt time.Time
		)
		if err := rows.Scan(&e.Record.RoomID, &media, &state, &durSec, &e.Record.InviterID, &e.Direction, &endedAt); err != nil {
			return nil, errors.Wrap(err, "cannot scan call record")
		}
		e.Record.MediaType = call.MediaType(media)
		e.Record.TerminalState = call.TerminalState(state)
		e.Record.Duration = time.Duration(durSec) * time.Second
		e.Record.EndedAt = endedAt
		out = append(out, e)
	}
	return out, rows.Err()
}
