// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"go.astrophena.name/horobot/internal/syncx"
)

// DefaultCheckTimeout bounds a single health check when [Health.Timeout] is
// zero.
const DefaultCheckTimeout = 5 * time.Second

// CheckFunc reports the state of one subsystem. It must honor ctx, which
// expires when the request is gone or the check runs out of time.
type CheckFunc func(ctx context.Context) (status string, ok bool)

type check struct {
	name string
	f    CheckFunc
}

// Health serves the state of registered subsystems as JSON. It responds
// 200 when every check passes and 503 otherwise.
type Health struct {
	// Timeout bounds each check. Zero means DefaultCheckTimeout.
	Timeout time.Duration

	checks *syncx.Protected[*checkList]
}

type checkList struct{ checks []check }

// NewHealth returns a Health with no checks.
func NewHealth() *Health {
	return &Health{checks: syncx.Protect(new(checkList))}
}

// Register adds a check. Checks are reported in registration order. It
// panics if name is already registered.
func (h *Health) Register(name string, f CheckFunc) {
	h.checks.WriteAccess(func(l *checkList) {
		if slices.ContainsFunc(l.checks, func(c check) bool { return c.name == name }) {
			panic(fmt.Sprintf("web: health check %q registered twice", name))
		}
		l.checks = append(l.checks, check{name: name, f: f})
	})
}

// HealthResponse is the body of a health response.
type HealthResponse struct {
	OK     bool            `json:"ok"`
	Checks []CheckResponse `json:"checks"`
}

// CheckResponse is the result of one check.
type CheckResponse struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"duration"`
}

// ServeHTTP implements [http.Handler].
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		RespondJSONError(nil, w, ErrMethodNotAllowed)
		return
	}

	var checks []check
	h.checks.ReadAccess(func(l *checkList) { checks = slices.Clone(l.checks) })
	resp := &HealthResponse{OK: true, Checks: make([]CheckResponse, len(checks))}
	timeout := cmp.Or(h.Timeout, DefaultCheckTimeout)

	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			resp.Checks[i] = run(r.Context(), c, timeout)
			return nil
		})
	}
	g.Wait()

	status := http.StatusOK
	for _, c := range resp.Checks {
		if !c.OK {
			resp.OK = false
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	respondJSON(w, resp, true)
}

func run(ctx context.Context, c check, timeout time.Duration) CheckResponse {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	status, ok := c.f(ctx)
	if ok && ctx.Err() != nil {
		status, ok = ctx.Err().Error(), false
	}
	return CheckResponse{Name: c.name, Status: status, OK: ok, Duration: time.Since(start)}
}
