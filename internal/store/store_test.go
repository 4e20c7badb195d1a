// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.astrophena.name/horobot/internal/catalog"
	"go.astrophena.name/horobot/internal/testutil"
)

func TestMemStore(t *testing.T) {
	t.Parallel()
	testStore(t, func(t *testing.T) Store {
		return NewMemStore(catalog.Default().Catalog)
	})
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	testStore(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(t.Context(), filepath.Join(t.TempDir(), "users.db"), catalog.Default().Catalog)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func testStore(t *testing.T, newStore func(*testing.T) Store) {
	t.Run("overwrite", func(t *testing.T) {
		s := newStore(t)
		if err := s.Upsert(t.Context(), 2000, "aries"); err != nil {
			t.Fatal(err)
		}
		if err := s.Upsert(t.Context(), 2000, "cancer"); err != nil {
			t.Fatal(err)
		}
		subs, err := s.List(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, subs, []Subscription{{RecipientID: 2000, CategoryID: "cancer"}})
	})

	t.Run("invalid category", func(t *testing.T) {
		s := newStore(t)
		if err := s.Upsert(t.Context(), 1, "leo"); err != nil {
			t.Fatal(err)
		}
		err := s.Upsert(t.Context(), 1, "ophiuchus")
		testutil.AssertErrorIs(t, err, catalog.ErrUnknownCategory)
		var verr *catalog.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("want *catalog.ValidationError, got %T", err)
		}
		err = s.Upsert(t.Context(), 2, "")
		testutil.AssertErrorIs(t, err, catalog.ErrUnknownCategory)

		subs, err := s.List(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, subs, []Subscription{{RecipientID: 1, CategoryID: "leo"}})
	})

	t.Run("get and count", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Get(t.Context(), 42)
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, ok, false)

		for id, cat := range map[int64]string{1001: "leo", 1002: "leo", 1003: "virgo"} {
			if err := s.Upsert(t.Context(), id, cat); err != nil {
				t.Fatal(err)
			}
		}
		sub, ok, err := s.Get(t.Context(), 1003)
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, ok, true)
		testutil.AssertEqual(t, sub, Subscription{RecipientID: 1003, CategoryID: "virgo"})

		n, err := s.Count(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, n, 3)

		subs, err := s.List(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, subs, []Subscription{
			{RecipientID: 1001, CategoryID: "leo"},
			{RecipientID: 1002, CategoryID: "leo"},
			{RecipientID: 1003, CategoryID: "virgo"},
		})
	})

	t.Run("concurrent upserts", func(t *testing.T) {
		s := newStore(t)
		cats := catalog.Default().Catalog.All()

		const recipients = 20
		var wg sync.WaitGroup
		for r := range recipients {
			for i, cat := range cats {
				wg.Add(1)
				go func() {
					defer wg.Done()
					// Last write per recipient is always pisces, see below.
					if i == len(cats)-1 {
						return
					}
					if err := s.Upsert(t.Context(), int64(r), cat.ID); err != nil {
						t.Error(err)
					}
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.List(t.Context()); err != nil {
					t.Error(err)
				}
			}()
		}
		wg.Wait()
		for r := range recipients {
			if err := s.Upsert(t.Context(), int64(r), "pisces"); err != nil {
				t.Fatal(err)
			}
		}

		subs, err := s.List(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, len(subs), recipients)
		seen := make(map[int64]bool)
		for _, sub := range subs {
			if seen[sub.RecipientID] {
				t.Fatalf("duplicate entry for recipient %d", sub.RecipientID)
			}
			seen[sub.RecipientID] = true
			testutil.AssertEqual(t, sub.CategoryID, "pisces")
		}
	})
}

func TestSQLiteStorePersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "users.db")
	cat := catalog.Default().Catalog

	s, err := NewSQLiteStore(t.Context(), path, cat)
	if err != nil {
		t.Fatal(err)
	}
	for i := range 5 {
		if err := s.Upsert(t.Context(), int64(i), "gemini"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Opening again must not fail on the existing schema.
	s, err = NewSQLiteStore(t.Context(), path, cat)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	n, err := s.Count(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, n, 5)
}

func TestSQLiteStoreOddPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "horo?scope#1.db")
	s, err := NewSQLiteStore(t.Context(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Upsert(t.Context(), 1, "leo"); err != nil {
		t.Fatal(err)
	}

	var mode string
	if err := s.db.QueryRowContext(t.Context(), "PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, mode, "wal")

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database is not at %q: %v", path, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "horo")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("database path was cut at '?': %v", err)
	}
}

func TestSQLiteStoreMigratesLegacyTable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "users.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`
		CREATE TABLE users (chat_id INTEGER PRIMARY KEY, zodiac TEXT);
		INSERT INTO users VALUES (10, 'leo'), (11, 'pisces'), (12, NULL);
	`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	s, err := NewSQLiteStore(t.Context(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	subs, err := s.List(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, subs, []Subscription{
		{RecipientID: 10, CategoryID: "leo"},
		{RecipientID: 11, CategoryID: "pisces"},
	})
	if err := s.Upsert(t.Context(), 10, "virgo"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// The legacy rows are imported only once.
	s, err = NewSQLiteStore(t.Context(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	sub, ok, err := s.Get(t.Context(), 10)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, sub.CategoryID, "virgo")
}

func TestSQLiteStoreStorageError(t *testing.T) {
	t.Parallel()

	s, err := NewSQLiteStore(t.Context(), filepath.Join(t.TempDir(), "users.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	_, err = s.List(t.Context())
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("want *StorageError, got %T (%v)", err, err)
	}
	testutil.AssertEqual(t, serr.Op, "list")

	err = s.Upsert(t.Context(), 1, "anything")
	if !errors.As(err, &serr) {
		t.Fatalf("want *StorageError, got %T (%v)", err, err)
	}
}

func TestResolvePath(t *testing.T) {
	t.Parallel()

	env := func(m map[string]string) func(string) string {
		return func(k string) string { return m[k] }
	}

	testutil.AssertEqual(t, ResolvePath("/tmp/x.db", env(nil)), "/tmp/x.db")

	if _, err := os.Stat(dataDir); err == nil {
		t.Skipf("%s exists on this machine", dataDir)
	}
	testutil.AssertEqual(t, ResolvePath("", env(map[string]string{"STATE_DIRECTORY": "/var/lib/horobot"})), "/var/lib/horobot/users.db")
	testutil.AssertEqual(t, ResolvePath("", env(map[string]string{"XDG_STATE_HOME": "/home/u/.state"})), "/home/u/.state/horobot/users.db")
}

func ExampleMemStore() {
	ctx := context.Background()
	s := NewMemStore(nil)
	s.Upsert(ctx, 1, "leo")
	s.Upsert(ctx, 1, "virgo")
	subs, _ := s.List(ctx)
	fmt.Println(subs)
	// Output: [{1 virgo}]
}
