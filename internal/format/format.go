// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package format renders daily horoscope messages.
package format

import (
	"strings"

	"go.astrophena.name/horobot/internal/catalog"
	"go.astrophena.name/horobot/internal/tgmarkup"
)

const (
	// Header opens every message.
	Header = "🔮 Гороскоп на сегодня"
	// Unavailable replaces the content when it couldn't be fetched.
	Unavailable = "Не удалось получить прогноз"
)

// Snapshot is the content fetched for a category during one dispatch pass.
type Snapshot struct {
	CategoryID string
	Text       string
	// Err is set when fetching failed. Text is empty then.
	Err error
}

// OK reports whether the content was fetched successfully.
func (s Snapshot) OK() bool { return s.Err == nil && strings.TrimSpace(s.Text) != "" }

// Format builds the message for a category. It never fails: a failed
// snapshot is rendered with the [Unavailable] notice.
func Format(cat catalog.Category, snap Snapshot) tgmarkup.Message {
	body := Unavailable
	if snap.OK() {
		body = strings.TrimSpace(snap.Text)
	}
	var b tgmarkup.Builder
	b.Bold(Header).Text("\n\n").Bold(cat.Name).Text("\n").Text(body)
	return b.Message()
}

// Text returns only the text of the message built by [Format].
func Text(cat catalog.Category, snap Snapshot) string {
	return Format(cat, snap).Text
}
