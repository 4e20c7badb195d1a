// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"go.astrophena.name/horobot/internal/tgmarkup"
)

const maxMessageLen = 4096 // in runes

// splitMessage splits msg into chunks that fit into a single Telegram message,
// preferring to break on newlines, then on whitespace. Entities are clipped
// to the chunks they overlap.
func splitMessage(msg tgmarkup.Message) []tgmarkup.Message {
	text := msg.Text
	var chunks []tgmarkup.Message
	pos := 0
	for pos < len(text) {
		rest := text[pos:]
		pos += len(rest) - len(strings.TrimLeftFunc(rest, unicode.IsSpace))
		if pos >= len(text) {
			break
		}
		end := pos + chunkLen(text[pos:])
		chunk := strings.TrimRightFunc(text[pos:end], unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, slice(msg, pos, pos+len(chunk)))
		}
		pos = end
	}
	return chunks
}

// chunkLen returns the length in bytes of the next chunk of s.
func chunkLen(s string) int {
	if utf8.RuneCountInString(s) <= maxMessageLen {
		return len(s)
	}

	var (
		lastNewline    = -1
		lastWhitespace = -1
		byteCap        = len(s)
		runeCount      int
	)

	for i, r := range s {
		if runeCount == maxMessageLen {
			byteCap = i
			break
		}
		runeCount++

		if r == '\n' {
			lastNewline = i
			continue
		}
		if unicode.IsSpace(r) {
			lastWhitespace = i
		}
	}

	switch {
	case lastNewline > 0:
		return lastNewline
	case lastWhitespace > 0:
		return lastWhitespace
	}
	return byteCap
}

// slice returns the part of msg between byte offsets start and end.
func slice(msg tgmarkup.Message, start, end int) tgmarkup.Message {
	lo := utf16len(msg.Text[:start])
	hi := lo + utf16len(msg.Text[start:end])

	out := tgmarkup.Message{Text: msg.Text[start:end]}
	for _, e := range msg.Entities {
		from, to := max(e.Offset, lo), min(e.Offset+e.Length, hi)
		if to <= from {
			continue
		}
		e.Offset, e.Length = from-lo, to-from
		out.Entities = append(out.Entities, e)
	}
	return out
}

func utf16len(s string) int {
	var n int
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
