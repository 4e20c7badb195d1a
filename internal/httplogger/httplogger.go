// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides an http.RoundTripper middleware that logs
// outgoing requests at debug level.
package httplogger

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// New wraps t so that each round trip is logged to logger. If scrubber is not
// nil, it is applied to logged URLs and errors. A nil t means
// [http.DefaultTransport].
func New(t http.RoundTripper, logger *slog.Logger, scrubber *strings.Replacer) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingTransport{transport: t, logger: logger, scrubber: scrubber}
}

type loggingTransport struct {
	transport http.RoundTripper
	logger    *slog.Logger
	scrubber  *strings.Replacer
}

func (t *loggingTransport) scrub(s string) string {
	if t.scrubber == nil {
		return s
	}
	return t.scrubber.Replace(s)
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.transport.RoundTrip(r)

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("url", t.scrub(r.URL.String())),
		slog.Duration("duration", time.Since(start)),
	}
	if resp != nil {
		attrs = append(attrs, slog.Int("status", resp.StatusCode))
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", t.scrub(err.Error())))
	}
	t.logger.LogAttrs(r.Context(), slog.LevelDebug, "http request", attrs...)

	return resp, err
}
