package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gemdesk/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the conversation log and notification read-state.
// It implements domain.ConversationLog and domain.ReadStateStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversation_entries (
		id          TEXT PRIMARY KEY,
		contact_key TEXT NOT NULL,
		direction   TEXT NOT NULL,
		text        TEXT,
		attachments TEXT,
		occurred_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_contact ON conversation_entries(contact_key, occurred_at);

	CREATE TABLE IF NOT EXISTS notification_state (
		id         TEXT PRIMARY KEY,
		read       INTEGER NOT NULL DEFAULT 0,
		dismissed  INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append writes one conversation entry. The log is append-only.
func (s *SQLiteStore) Append(ctx context.Context, entry domain.MessageEntry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}

	var attachments any
	if len(entry.Attachments) > 0 {
		data, err := json.Marshal(entry.Attachments)
		if err != nil {
			return fmt.Errorf("marshal attachments: %w", err)
		}
		attachments = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_entries (id, contact_key, direction, text, attachments, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ContactKey, entry.Direction, entry.Text, attachments, entry.OccurredAt,
	)
	return err
}

// History returns the last N entries for a contact in chronological order.
func (s *SQLiteStore) History(ctx context.Context, contactKey string, limit int) ([]domain.MessageEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contact_key, direction, text, attachments, occurred_at
		 FROM conversation_entries WHERE contact_key = ?
		 ORDER BY occurred_at DESC LIMIT ?`, contactKey, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.MessageEntry
	for rows.Next() {
		var e domain.MessageEntry
		var attachments sql.NullString
		if err := rows.Scan(&e.ID, &e.ContactKey, &e.Direction, &e.Text, &attachments, &e.OccurredAt); err != nil {
			return nil, err
		}
		if attachments.Valid && attachments.String != "" {
			if err := json.Unmarshal([]byte(attachments.String), &e.Attachments); err != nil {
				s.logger.Warn("corrupt attachment list", "entry", e.ID, "err", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Contacts lists contact keys ordered by most recent activity.
func (s *SQLiteStore) Contacts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT contact_key, MAX(occurred_at) AS last
		 FROM conversation_entries GROUP BY contact_key ORDER BY last DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []string
	for rows.Next() {
		var key string
		var last sql.RawBytes
		if err := rows.Scan(&key, &last); err != nil {
			return nil, err
		}
		contacts = append(contacts, key)
	}
	return contacts, rows.Err()
}

// ReadStates returns all persisted notification flags keyed by
// notification ID.
func (s *SQLiteStore) ReadStates(ctx context.Context) (map[string]domain.ReadState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, read, dismissed FROM notification_state`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[string]domain.ReadState)
	for rows.Next() {
		var id string
		var read, dismissed bool
		if err := rows.Scan(&id, &read, &dismissed); err != nil {
			return nil, err
		}
		states[id] = domain.ReadState{Read: read, Dismissed: dismissed}
	}
	return states, rows.Err()
}

// MarkRead flags a notification as read. The flag survives
// re-derivation because it is keyed by the deterministic ID.
func (s *SQLiteStore) MarkRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_state (id, read, dismissed, updated_at) VALUES (?, 1, 0, ?)
		 ON CONFLICT(id) DO UPDATE SET read = 1, updated_at = excluded.updated_at`,
		id, time.Now(),
	)
	return err
}

// Dismiss removes a notification from the feed permanently.
func (s *SQLiteStore) Dismiss(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_state (id, read, dismissed, updated_at) VALUES (?, 0, 1, ?)
		 ON CONFLICT(id) DO UPDATE SET dismissed = 1, updated_at = excluded.updated_at`,
		id, time.Now(),
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
