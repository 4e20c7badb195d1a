// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package catalog defines the fixed set of categories subscribers can choose
// from.
//
// A catalog is built once at startup, either from the embedded default
// configuration or from a config.star file, and is never mutated afterwards.
// It is safe for concurrent use.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
)

// ErrUnknownCategory is matched by [ValidationError] values returned for ids
// that are not in the catalog.
var ErrUnknownCategory = errors.New("unknown category")

// ValidationError reports an invalid category id.
type ValidationError struct {
	ID  string
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("category %q: %v", e.ID, e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// Category is a subscription topic.
type Category struct {
	// ID is a stable identifier. It is stored in the database and used as a
	// bot command.
	ID string `json:"id"`
	// Name is a human-readable label.
	Name string `json:"name"`
}

// Catalog is an immutable, insertion-ordered set of categories.
type Catalog struct {
	cats  []Category
	index map[string]int
}

var validID = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// reserved are bot commands that are not subscriptions.
var reserved = []string{"start", "help", "me"}

// IsReserved reports whether id is taken by a bot command and so can't name a
// category.
func IsReserved(id string) bool { return slices.Contains(reserved, id) }

// New returns a catalog of cats in the given order.
func New(cats ...Category) (*Catalog, error) {
	if len(cats) == 0 {
		return nil, errors.New("catalog: no categories")
	}
	c := &Catalog{
		cats:  slices.Clone(cats),
		index: make(map[string]int, len(cats)),
	}
	for i, cat := range c.cats {
		if !validID.MatchString(cat.ID) {
			return nil, fmt.Errorf("catalog: invalid category id %q: must match %s", cat.ID, validID)
		}
		if IsReserved(cat.ID) {
			return nil, fmt.Errorf("catalog: category id %q is a reserved command", cat.ID)
		}
		if cat.Name == "" {
			return nil, fmt.Errorf("catalog: category %q has no name", cat.ID)
		}
		if _, dup := c.index[cat.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate category id %q", cat.ID)
		}
		c.index[cat.ID] = i
	}
	return c, nil
}

// IsValid reports whether id is in the catalog.
func (c *Catalog) IsValid(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Lookup returns the category with the given id.
func (c *Catalog) Lookup(id string) (Category, error) {
	i, ok := c.index[id]
	if !ok {
		return Category{}, &ValidationError{ID: id, Err: ErrUnknownCategory}
	}
	return c.cats[i], nil
}

// DisplayName returns the human-readable name of the category with the given
// id.
func (c *Catalog) DisplayName(id string) (string, error) {
	cat, err := c.Lookup(id)
	if err != nil {
		return "", err
	}
	return cat.Name, nil
}

// Validate returns a [ValidationError] if id is not in the catalog.
func (c *Catalog) Validate(id string) error {
	_, err := c.Lookup(id)
	return err
}

// All returns all categories in catalog order.
func (c *Catalog) All() []Category { return slices.Clone(c.cats) }

// Len returns the number of categories.
func (c *Catalog) Len() int { return len(c.cats) }
