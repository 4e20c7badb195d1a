// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

//go:embed default.star
var defaultConfig string

// Config is the startup configuration loaded from config.star.
type Config struct {
	Catalog *Catalog
	Source  Source
}

// Source describes where the content for a category comes from.
type Source struct {
	// URL is a template; "{category}" is replaced with the category id.
	URL string
	// Selector is a CSS selector of the block holding the content.
	Selector string
}

// URLFor returns the source URL for a category id.
func (s Source) URLFor(id string) string {
	return strings.ReplaceAll(s.URL, "{category}", id)
}

var defaultOnce = sync.OnceValue(func() *Config {
	c, err := parse("default.star", defaultConfig, slog.Default(), Source{})
	if err != nil {
		panic(fmt.Sprintf("catalog: parsing default config: %v", err))
	}
	return c
})

// Default returns the built-in configuration: the twelve zodiac signs and
// horo.mail.ru as the content source.
func Default() *Config { return defaultOnce() }

// Parse executes a config.star file and extracts the configuration from its
// globals.
//
// The file must define a categories list of category(id, name) values. It
// may define source = html_source(url, selector); omitted fields fall back to
// the default source.
func Parse(filename, src string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return parse(filename, src, logger, Default().Source)
}

func parse(filename, src string, logger *slog.Logger, fallback Source) (*Config, error) {
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{TopLevelControl: true},
		&starlark.Thread{
			Name:  filename,
			Print: func(_ *starlark.Thread, msg string) { logger.Info(msg, "file", filename) },
		},
		filename,
		src,
		starlark.StringDict{
			"category":    starlark.NewBuiltin("category", categoryBuiltin),
			"html_source": starlark.NewBuiltin("html_source", sourceBuiltin),
		},
	)
	if err != nil {
		return nil, err
	}

	list, ok := globals["categories"].(*starlark.List)
	if !ok {
		return nil, errors.New("categories must be defined as a list")
	}
	cats := make([]Category, 0, list.Len())
	for i := range list.Len() {
		v, ok := list.Index(i).(*categoryValue)
		if !ok {
			return nil, fmt.Errorf("categories[%d]: want category, got %s", i, list.Index(i).Type())
		}
		cats = append(cats, v.Category)
	}

	c, err := New(cats...)
	if err != nil {
		return nil, err
	}
	cfg := &Config{Catalog: c}

	if sv, ok := globals["source"]; ok {
		s, ok := sv.(*sourceValue)
		if !ok {
			return nil, fmt.Errorf("source: want html_source, got %s", sv.Type())
		}
		cfg.Source = s.Source
	}
	if cfg.Source.URL == "" {
		cfg.Source.URL = fallback.URL
	}
	if cfg.Source.Selector == "" {
		cfg.Source.Selector = fallback.Selector
	}
	if !strings.Contains(cfg.Source.URL, "{category}") {
		return nil, fmt.Errorf("source url %q has no {category} placeholder", cfg.Source.URL)
	}

	return cfg, nil
}

type categoryValue struct{ Category }

func (c *categoryValue) String() string        { return fmt.Sprintf("<category id=%q>", c.ID) }
func (c *categoryValue) Type() string          { return "category" }
func (c *categoryValue) Freeze()               {} // immutable
func (c *categoryValue) Truth() starlark.Bool  { return starlark.True }
func (c *categoryValue) Hash() (uint32, error) { return starlark.String(c.ID).Hash() }

func categoryBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c := new(categoryValue)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"id", &c.ID,
		"name", &c.Name,
	); err != nil {
		return nil, err
	}
	return c, nil
}

type sourceValue struct{ Source }

func (s *sourceValue) String() string        { return fmt.Sprintf("<html_source url=%q>", s.URL) }
func (s *sourceValue) Type() string          { return "html_source" }
func (s *sourceValue) Freeze()               {} // immutable
func (s *sourceValue) Truth() starlark.Bool  { return starlark.True }
func (s *sourceValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", s.Type()) }

func sourceBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	s := new(sourceValue)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"url?", &s.URL,
		"selector?", &s.Selector,
	); err != nil {
		return nil, err
	}
	return s, nil
}
