// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package logger sets up structured logging for horobot and keeps recent log
// lines in memory, so they can be inspected through the admin server.
package logger

import (
	"container/ring"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// Logf is the basic logger type: a printf-like func. Like [log.Printf], the
// format need not end in a newline. Logf functions must be safe for concurrent
// use.
type Logf func(format string, args ...any)

// Write implements the [io.Writer] interface.
func (f Logf) Write(p []byte) (n int, err error) {
	f("%s", p)
	return len(p), nil
}

// New returns a [slog.Logger] that writes text records to w and, if ring is
// not nil, also to ring.
func New(w io.Writer, ring *Ring, level *slog.LevelVar) *slog.Logger {
	if ring != nil {
		w = io.MultiWriter(w, ring)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Ring is an io.Writer that keeps the last N logged lines and lets HTTP
// clients follow new ones.
type Ring struct {
	mu        sync.Mutex
	remainder string
	r         *ring.Ring
	size      int
	streams   map[chan string]struct{}
}

// NewRing returns a new Ring holding up to size lines.
func NewRing(size int) *Ring {
	return &Ring{
		size:    size,
		r:       ring.New(size),
		streams: make(map[chan string]struct{}),
	}
}

// Write implements the [io.Writer] interface.
func (lr *Ring) Write(b []byte) (int, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	text := lr.remainder + string(b)
	for {
		line, rest, found := strings.Cut(text, "\n")
		if !found {
			break
		}
		line += "\n"
		lr.r.Value = line
		lr.r = lr.r.Next()
		for stream := range lr.streams {
			select {
			case stream <- line:
			default:
				// Slow reader, drop the line.
			}
		}
		text = rest
	}
	lr.remainder = text
	return len(b), nil
}

// Lines returns all retained lines, oldest first.
func (lr *Ring) Lines() []string {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lines := make([]string, 0, lr.size)
	lr.r.Do(func(x any) {
		if x != nil {
			lines = append(lines, x.(string))
		}
	})
	return lines
}

// Stream returns a channel receiving newly logged lines. Call the returned
// function to unsubscribe.
func (lr *Ring) Stream() (<-chan string, func()) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	stream := make(chan string, lr.size+1)
	lr.streams[stream] = struct{}{}

	return stream, func() {
		lr.mu.Lock()
		defer lr.mu.Unlock()
		delete(lr.streams, stream)
		close(stream)
	}
}

// ServeHTTP writes retained lines and, if the follow query parameter is set,
// keeps the connection open streaming new ones.
func (lr *Ring) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	var (
		stream <-chan string
		stop   func()
	)
	follow := r.URL.Query().Has("follow")
	if follow {
		// Subscribe before dumping to not lose lines written in between.
		stream, stop = lr.Stream()
		defer stop()
	}

	for _, line := range lr.Lines() {
		io.WriteString(w, line)
	}
	if !follow {
		return
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	for {
		select {
		case line := <-stream:
			fmt.Fprint(w, line)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

var _ http.Handler = (*Ring)(nil)
