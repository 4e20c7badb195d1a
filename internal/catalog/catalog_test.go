// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package catalog

import (
	"errors"
	"strings"
	"testing"

	"go.astrophena.name/horobot/internal/testutil"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	c := Default().Catalog
	testutil.AssertEqual(t, c.Len(), 12)

	all := c.All()
	testutil.AssertEqual(t, all[0], Category{ID: "aries", Name: "Овен"})
	testutil.AssertEqual(t, all[11], Category{ID: "pisces", Name: "Рыбы"})

	name, err := c.DisplayName("leo")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, name, "Лев")

	testutil.AssertEqual(t, Default().Source.URLFor("virgo"), "https://horo.mail.ru/prediction/virgo/today/")
}

func TestLookupStable(t *testing.T) {
	t.Parallel()

	c := Default().Catalog
	for range 3 {
		for _, id := range []string{"", "Leo", "ophiuchus", "/leo", "leo "} {
			testutil.AssertEqual(t, c.IsValid(id), false)
			_, err := c.DisplayName(id)
			testutil.AssertErrorIs(t, err, ErrUnknownCategory)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("want *ValidationError, got %T", err)
			}
			testutil.AssertEqual(t, verr.ID, id)
		}
		testutil.AssertEqual(t, c.IsValid("virgo"), true)
		name, _ := c.DisplayName("virgo")
		testutil.AssertEqual(t, name, "Дева")
	}
}

func TestAllReturnsCopy(t *testing.T) {
	t.Parallel()

	c := Default().Catalog
	all := c.All()
	all[0].Name = "changed"
	name, _ := c.DisplayName("aries")
	testutil.AssertEqual(t, name, "Овен")
}

func TestNew(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		cats    []Category
		wantErr string
	}{
		"ok":           {cats: []Category{{"a", "A"}, {"b_2", "B"}}},
		"empty":        {wantErr: "no categories"},
		"bad id":       {cats: []Category{{"Leo", "Лев"}}, wantErr: "invalid category id"},
		"command char": {cats: []Category{{"le o", "Лев"}}, wantErr: "invalid category id"},
		"no name":      {cats: []Category{{"leo", ""}}, wantErr: "has no name"},
		"duplicate":    {cats: []Category{{"leo", "Лев"}, {"leo", "Лев"}}, wantErr: "duplicate"},
		"me command":   {cats: []Category{{"leo", "Лев"}, {"me", "Мой"}}, wantErr: "reserved command"},
		"help command": {cats: []Category{{"help", "Помощь"}}, wantErr: "reserved command"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(tc.cats...)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatal(err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("want error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
