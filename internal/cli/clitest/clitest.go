// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package clitest runs command-line applications in tests.
package clitest

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"go.astrophena.name/horobot/internal/cli"
)

// Result is what a single run of an application produced.
type Result struct {
	Stdout string
	Stderr string
	Err    error
}

// Exec runs app with args and an environment consisting only of env,
// capturing its output. Standard input is empty.
func Exec(ctx context.Context, app cli.App, args []string, env map[string]string) Result {
	var stdout, stderr bytes.Buffer
	err := cli.Run(cli.WithEnv(ctx, &cli.Env{
		Args:   args,
		Getenv: func(name string) string { return env[name] },
		Stdin:  strings.NewReader(""),
		Stdout: &stdout,
		Stderr: &stderr,
	}), app)
	return Result{Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
}

// Case describes one run of an application and what it must produce.
type Case[App cli.App] struct {
	Args []string
	Env  map[string]string

	// WantErr is matched with errors.Is.
	WantErr error
	// WantErrAs is a value of the wanted error type, matched with errors.As.
	WantErrAs error
	// WantStdout is the exact expected standard output.
	WantStdout string
	// WantInStdout and WantInStderr are expected substrings.
	WantInStdout string
	WantInStderr string

	// Check, if set, runs after the application returns.
	Check func(t *testing.T, app App, r Result)
}

// Run runs every case in parallel against a fresh application made by setup.
func Run[App cli.App](t *testing.T, setup func(*testing.T) App, cases map[string]Case[App]) {
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			app := setup(t)
			r := Exec(t.Context(), app, tc.Args, tc.Env)
			tc.check(t, r)
			if tc.Check != nil {
				tc.Check(t, app, r)
			}
		})
	}
}

func (tc Case[App]) check(t *testing.T, r Result) {
	t.Helper()

	wantsErr := tc.WantErr != nil || tc.WantErrAs != nil
	switch {
	case r.Err == nil && wantsErr:
		t.Fatalf("want error, got none; stderr:\n%s", r.Stderr)
	case r.Err != nil && !wantsErr:
		t.Fatalf("unexpected error: %v; stderr:\n%s", r.Err, r.Stderr)
	}
	if tc.WantErr != nil && !errors.Is(r.Err, tc.WantErr) {
		t.Fatalf("error %v doesn't match %v", r.Err, tc.WantErr)
	}
	if tc.WantErrAs != nil {
		target := reflect.New(reflect.TypeOf(tc.WantErrAs))
		if !errors.As(r.Err, target.Interface()) {
			t.Fatalf("error %v (%T) has no %T in its chain", r.Err, r.Err, tc.WantErrAs)
		}
	}

	if tc.WantStdout != "" && r.Stdout != tc.WantStdout {
		t.Errorf("stdout:\ngot:  %q\nwant: %q", r.Stdout, tc.WantStdout)
	}
	if tc.WantInStdout != "" && !strings.Contains(r.Stdout, tc.WantInStdout) {
		t.Errorf("stdout must contain %q, got: %q", tc.WantInStdout, r.Stdout)
	}
	if tc.WantInStderr != "" && !strings.Contains(r.Stderr, tc.WantInStderr) {
		t.Errorf("stderr must contain %q, got: %q", tc.WantInStderr, r.Stderr)
	}
}
