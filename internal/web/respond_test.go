// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.astrophena.name/horobot/internal/testutil"
)

func TestRespondJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	RespondJSON(rec, map[string]int{"subscribers": 3})
	testutil.AssertEqual(t, rec.Code, http.StatusOK)
	testutil.AssertEqual(t, rec.Header().Get("Content-Type"), "application/json")
	testutil.AssertEqual(t, rec.Body.String(), "{\n  \"subscribers\": 3\n}\n")
}

func TestRespondJSONMarshalError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	RespondJSON(rec, map[string]any{"ch": make(chan int)})
	testutil.AssertEqual(t, rec.Code, http.StatusInternalServerError)
	got := testutil.UnmarshalJSON[errorResponse](t, rec.Body.Bytes())
	testutil.AssertEqual(t, got.Status, "error")
}

func TestRespondJSONError(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err        error
		wantStatus int
		wantLogged bool
	}{
		"not found": {
			err:        fmt.Errorf("no dispatch yet: %w", ErrNotFound),
			wantStatus: http.StatusNotFound,
		},
		"unavailable": {
			err:        ErrServiceUnavailable,
			wantStatus: http.StatusServiceUnavailable,
		},
		"plain error": {
			err:        errors.New("database is locked"),
			wantStatus: http.StatusInternalServerError,
			wantLogged: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var logged bool
			logf := func(format string, args ...any) { logged = true }

			rec := httptest.NewRecorder()
			RespondJSONError(logf, rec, tc.err)
			testutil.AssertEqual(t, rec.Code, tc.wantStatus)
			testutil.AssertEqual(t, logged, tc.wantLogged)
			got := testutil.UnmarshalJSON[errorResponse](t, rec.Body.Bytes())
			testutil.AssertEqual(t, got, errorResponse{Status: "error", Error: tc.err.Error()})
		})
	}
}

func TestStatusErr(t *testing.T) {
	t.Parallel()
	testutil.AssertEqual(t, ErrMethodNotAllowed.Error(), "method not allowed")
}
