// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package horoscope fetches daily horoscope text from an HTML page.
package horoscope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.astrophena.name/horobot/internal/catalog"
	"go.astrophena.name/horobot/internal/request"
	"go.astrophena.name/horobot/internal/version"

	"github.com/PuerkitoBio/goquery"
)

const (
	bodyLimit  = 1 << 20 // 1 MiB is more than any horoscope page
	errorLimit = 16384   // 16 KB is enough for error messages (probably)
)

// ErrBlockNotFound is returned when the page has no content block matching
// the selector, or the block is empty.
var ErrBlockNotFound = errors.New("content block not found")

// FetchError is returned by [Fetcher.Fetch] when content for a category
// can't be obtained.
type FetchError struct {
	Category string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %q: %v", e.Category, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves the current text for a category. Every call performs a
// request; nothing is cached.
type Fetcher struct {
	// Source describes where and how to find the content.
	Source catalog.Source
	// HTTPClient is used for requests. If nil, request.DefaultClient is used.
	HTTPClient *http.Client
}

// Fetch returns the visible text of the content block for the category, with
// whitespace collapsed.
func (f *Fetcher) Fetch(ctx context.Context, category string) (string, error) {
	text, err := f.fetch(ctx, category)
	if err != nil {
		return "", &FetchError{Category: category, Err: err}
	}
	return text, nil
}

func (f *Fetcher) fetch(ctx context.Context, category string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Source.URLFor(category), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	httpc := request.DefaultClient
	if f.HTTPClient != nil {
		httpc = f.HTTPClient
	}

	res, err := httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, errorLimit))
		return "", &request.StatusError{StatusCode: res.StatusCode, Body: body}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(res.Body, bodyLimit))
	if err != nil {
		return "", err
	}
	return Extract(doc, f.Source.Selector)
}

// Extract returns the collapsed text of the first node in doc matching
// selector.
func Extract(doc *goquery.Document, selector string) (string, error) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", ErrBlockNotFound
	}
	// Paragraphs and line breaks separate words even without whitespace
	// in the markup.
	sel.Find("br").ReplaceWithHtml(" ")
	sel.Find("p, div, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	sel.Find("script, style").Remove()
	text := strings.Join(strings.Fields(sel.Text()), " ")
	if text == "" {
		return "", ErrBlockNotFound
	}
	return text, nil
}
