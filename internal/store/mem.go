// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"maps"
	"slices"

	"go.astrophena.name/horobot/internal/syncx"
)

// MemStore is an in-memory implementation of the [Store] interface. Its
// contents are lost when the process exits; it is used for dry runs and
// tests.
type MemStore struct {
	subs      *syncx.Protected[map[int64]string]
	validator Validator
}

// NewMemStore returns an empty MemStore. If v is not nil, category ids are
// validated with it before writing.
func NewMemStore(v Validator) *MemStore {
	return &MemStore{
		subs:      syncx.Protect(make(map[int64]string)),
		validator: v,
	}
}

// Upsert creates or replaces the subscription of recipientID.
func (s *MemStore) Upsert(_ context.Context, recipientID int64, categoryID string) error {
	if s.validator != nil {
		if err := s.validator.Validate(categoryID); err != nil {
			return err
		}
	}
	s.subs.WriteAccess(func(m map[int64]string) { m[recipientID] = categoryID })
	return nil
}

// List returns all subscriptions ordered by recipient id.
func (s *MemStore) List(_ context.Context) ([]Subscription, error) {
	var subs []Subscription
	s.subs.ReadAccess(func(m map[int64]string) {
		for _, id := range slices.Sorted(maps.Keys(m)) {
			subs = append(subs, Subscription{RecipientID: id, CategoryID: m[id]})
		}
	})
	return subs, nil
}

// Get returns the subscription of recipientID.
func (s *MemStore) Get(_ context.Context, recipientID int64) (sub Subscription, ok bool, err error) {
	s.subs.ReadAccess(func(m map[int64]string) {
		var cat string
		if cat, ok = m[recipientID]; ok {
			sub = Subscription{RecipientID: recipientID, CategoryID: cat}
		}
	})
	return sub, ok, nil
}

// Count returns the number of subscriptions.
func (s *MemStore) Count(_ context.Context) (n int, err error) {
	s.subs.ReadAccess(func(m map[int64]string) { n = len(m) })
	return n, nil
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
