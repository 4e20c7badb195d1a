// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package store implements the durable registry of subscriptions: which
// category each recipient receives.
//
// A recipient has at most one subscription. Upserting a subscription for a
// recipient that already has one replaces its category.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Subscription binds a recipient to a category.
type Subscription struct {
	RecipientID int64  `json:"recipient_id"`
	CategoryID  string `json:"category_id"`
}

// Store is a registry of subscriptions. Implementations are safe for
// concurrent use.
type Store interface {
	// Upsert creates or replaces the subscription of recipientID. The change is
	// durable when Upsert returns.
	Upsert(ctx context.Context, recipientID int64, categoryID string) error
	// List returns a snapshot of all subscriptions ordered by recipient id.
	List(ctx context.Context) ([]Subscription, error)
	// Get returns the subscription of recipientID, if any.
	Get(ctx context.Context, recipientID int64) (sub Subscription, ok bool, err error)
	// Count returns the number of subscriptions.
	Count(ctx context.Context) (int, error)
	// Close releases resources held by the store.
	Close() error
}

// Validator checks category ids before they are written. It is satisfied by
// *catalog.Catalog.
type Validator interface {
	Validate(id string) error
}

// StorageError is returned when the backing storage fails.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

const (
	dataDir  = "/data"
	fileName = "users.db"
)

// ResolvePath returns the database location.
//
// An explicit path wins. Otherwise the database lives in /data if that
// directory exists (container volume), then in $STATE_DIRECTORY (set by
// systemd), then in the XDG state directory, and finally in the working
// directory.
func ResolvePath(explicit string, getenv func(string) string) string {
	if explicit != "" {
		return explicit
	}
	if fi, err := os.Stat(dataDir); err == nil && fi.IsDir() {
		return filepath.Join(dataDir, fileName)
	}
	if dir := getenv("STATE_DIRECTORY"); dir != "" {
		return filepath.Join(dir, fileName)
	}
	stateHome := getenv("XDG_STATE_HOME")
	if stateHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			stateHome = filepath.Join(home, ".local", "state")
		}
	}
	if stateHome != "" {
		return filepath.Join(stateHome, "horobot", fileName)
	}
	return fileName
}
