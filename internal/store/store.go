// Package store keeps raw event documents per owner in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // CGO-free SQLite

	appLog "calfeed/internal/log"
	"calfeed/internal/model"
)

// ErrEmptyOwner is returned when an owner id is blank.
var ErrEmptyOwner = errors.New("store: owner id is empty")

// Store is a document store of raw event records keyed by owner.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS events(
	  owner_id  TEXT    NOT NULL,
	  id        TEXT    NOT NULL,
	  position  INTEGER NOT NULL,
	  data_json TEXT    NOT NULL CHECK (json_valid(data_json)),
	  PRIMARY KEY (owner_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_owner_pos ON events(owner_id, position);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutEvents replaces every document owned by owner with docs, keeping
// their order. Documents sharing an id collapse to the last one, which
// takes the earlier slot. Returns the number of rows stored.
func (s *Store) PutEvents(ctx context.Context, owner string, docs []json.RawMessage) (int, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return 0, ErrEmptyOwner
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE owner_id = ?`, owner); err != nil {
		return 0, fmt.Errorf("failed to clear owner events: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO events(owner_id, id, position, data_json) VALUES(?,?,?,json(?))
	ON CONFLICT(owner_id, id) DO UPDATE SET data_json = excluded.data_json`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, doc := range docs {
		if !json.Valid(doc) {
			return 0, fmt.Errorf("document %d: invalid JSON", i)
		}
		if _, err := stmt.ExecContext(ctx, owner, documentKey(doc, i), i, string(doc)); err != nil {
			return 0, fmt.Errorf("document %d: failed to execute statement: %w", i, err)
		}
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE owner_id = ?`, owner).Scan(&stored); err != nil {
		return 0, fmt.Errorf("failed to count owner events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	appLog.Info("owner events stored", "owner", owner, "received", len(docs), "stored", stored)
	return stored, nil
}

// EventsForOwner returns owner's documents in storage order. A document
// that is not a JSON object is logged and left out.
func (s *Store) EventsForOwner(ctx context.Context, owner string) ([]model.RawEvent, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, ErrEmptyOwner
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, data_json FROM events WHERE owner_id = ? ORDER BY position`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query owner events: %w", err)
	}
	defer rows.Close()

	events := make([]model.RawEvent, 0)
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev, err := model.DecodeRawEvent(data)
		if err != nil {
			appLog.Error("stored event undecodable; skipping", err, "owner", owner, "key", key)
			continue
		}
		if ev.OwnerID == "" {
			ev.OwnerID = owner
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read owner events: %w", err)
	}
	return events, nil
}

// DeleteOwner removes every document owned by owner and reports how many
// were removed.
func (s *Store) DeleteOwner(ctx context.Context, owner string) (int, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return 0, ErrEmptyOwner
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE owner_id = ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to delete owner events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted events: %w", err)
	}
	return int(n), nil
}

// Owners lists every owner with at least one stored document.
func (s *Store) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM events ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// documentKey is the document's own id, or "#<pos>" for documents without
// one. Ids starting with '#' are treated as absent.
func documentKey(doc json.RawMessage, pos int) string {
	var keyed struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(doc, &keyed); err == nil {
		var id string
		if json.Unmarshal(keyed.ID, &id) == nil {
			if id = strings.TrimSpace(id); id != "" && !strings.HasPrefix(id, "#") {
				return id
			}
		}
		var num json.Number
		if json.Unmarshal(keyed.ID, &num) == nil && num != "" {
			return num.String()
		}
	}
	return "#" + strconv.Itoa(pos)
}
