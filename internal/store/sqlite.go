// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite implementation of the [Store] interface.
type SQLiteStore struct {
	// mu serializes writers; readers share it. SQLite would serialize writes on
	// its own, but then concurrent upserts fail with SQLITE_BUSY instead of
	// waiting.
	mu        sync.RWMutex
	db        *sql.DB
	validator Validator
}

const schema = `
	CREATE TABLE IF NOT EXISTS subscriptions (
		recipient_id INTEGER PRIMARY KEY,
		category_id TEXT NOT NULL
	);
`

// NewSQLiteStore opens the database at path, creating the file, its parent
// directory and the schema if they don't exist.
//
// If v is not nil, category ids are validated with it before writing.
func NewSQLiteStore(ctx context.Context, path string, v Validator) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, &StorageError{Op: "open", Err: err}
		}
	}

	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "FULL")
	q.Set("_busy_timeout", "5000")
	dsn := &url.URL{Scheme: "file", Path: path, RawQuery: q.Encode()}
	db, err := sql.Open("sqlite3", dsn.String())
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "create schema", Err: err}
	}

	if err := migrateLegacy(ctx, db); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}

	return &SQLiteStore{db: db, validator: v}, nil
}

// migrateLegacy imports subscriptions from the users(chat_id, zodiac) table
// written by earlier versions of the bot, then renames that table so the
// import runs once.
func migrateLegacy(ctx context.Context, db *sql.DB) error {
	var n int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'users';
	`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (recipient_id, category_id)
		SELECT chat_id, zodiac FROM users WHERE chat_id IS NOT NULL AND zodiac IS NOT NULL AND zodiac != ''
		ON CONFLICT (recipient_id) DO NOTHING;
	`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE users RENAME TO users_migrated;`); err != nil {
		return err
	}
	return tx.Commit()
}

// Upsert creates or replaces the subscription of recipientID.
func (s *SQLiteStore) Upsert(ctx context.Context, recipientID int64, categoryID string) error {
	if s.validator != nil {
		if err := s.validator.Validate(categoryID); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (recipient_id, category_id)
		VALUES (?, ?)
		ON CONFLICT (recipient_id) DO UPDATE
		SET category_id = excluded.category_id;
	`, recipientID, categoryID); err != nil {
		return &StorageError{Op: "upsert", Err: err}
	}
	return nil
}

// List returns all subscriptions ordered by recipient id.
func (s *SQLiteStore) List(ctx context.Context) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT recipient_id, category_id FROM subscriptions ORDER BY recipient_id;
	`)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.RecipientID, &sub.CategoryID); err != nil {
			return nil, &StorageError{Op: "list", Err: err}
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return subs, nil
}

// Get returns the subscription of recipientID.
func (s *SQLiteStore) Get(ctx context.Context, recipientID int64) (Subscription, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub := Subscription{RecipientID: recipientID}
	err := s.db.QueryRowContext(ctx, `
		SELECT category_id FROM subscriptions WHERE recipient_id = ?;
	`, recipientID).Scan(&sub.CategoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, false, nil
	}
	if err != nil {
		return Subscription{}, false, &StorageError{Op: "get", Err: err}
	}
	return sub, true, nil
}

// Count returns the number of subscriptions.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions;`).Scan(&n); err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
