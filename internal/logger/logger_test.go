// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package logger

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"go.astrophena.name/horobot/internal/testutil"
)

func TestLogfWriter(t *testing.T) {
	t.Parallel()

	var message string
	logf := func(format string, args ...any) {
		message = fmt.Sprintf(format, args...)
	}
	Logf(logf).Write([]byte("hello"))
	testutil.AssertEqual(t, message, "hello")
}

func TestRing(t *testing.T) {
	t.Parallel()

	r := NewRing(5)
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(r, "Line %d\n", i)
	}
	// Partial lines are kept until terminated.
	r.Write([]byte("Line "))
	lines := r.Lines()
	testutil.AssertEqual(t, len(lines), 5)
	testutil.AssertEqual(t, lines[0], "Line 2\n")
	testutil.AssertEqual(t, lines[4], "Line 6\n")

	stream, stop := r.Stream()
	r.Write([]byte("7\n"))
	testutil.AssertEqual(t, <-stream, "Line 7\n")
	stop()
}

func TestRingServeHTTP(t *testing.T) {
	t.Parallel()

	r := NewRing(10)
	r.Write([]byte("one\ntwo\n"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/debug/logs", nil))
	testutil.AssertEqual(t, w.Body.String(), "one\ntwo\n")
}

func TestNew(t *testing.T) {
	t.Parallel()

	var (
		buf   bytes.Buffer
		ring  = NewRing(10)
		level = new(slog.LevelVar)
	)
	l := New(&buf, ring, level)
	l.Debug("hidden")
	l.Info("dispatch finished", "delivered", 3)

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug record logged at info level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "delivered=3") {
		t.Fatalf("record not written: %q", buf.String())
	}
	testutil.AssertEqual(t, len(ring.Lines()), 1)

	level.Set(slog.LevelDebug)
	l.Debug("visible")
	testutil.AssertEqual(t, len(ring.Lines()), 2)
}
