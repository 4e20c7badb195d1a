// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package clitest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"go.astrophena.name/horobot/internal/cli"
	"go.astrophena.name/horobot/internal/testutil"
)

func echo(ctx context.Context) error {
	env := cli.GetEnv(ctx)
	if len(env.Args) == 0 {
		return fmt.Errorf("%w: nothing to say", cli.ErrInvalidArgs)
	}
	if env.Args[0] == "open" {
		return &fs.PathError{Op: "open", Path: "users.db", Err: fs.ErrNotExist}
	}
	fmt.Fprintln(env.Stdout, strings.Join(env.Args, " "))
	env.Logf("said it to %s", env.Getenv("AUDIENCE"))
	return nil
}

func TestExec(t *testing.T) {
	t.Parallel()

	r := Exec(t.Context(), cli.AppFunc(echo), []string{"hello", "there"}, map[string]string{"AUDIENCE": "Leo"})
	testutil.AssertEqual(t, r, Result{Stdout: "hello there\n", Stderr: "said it to Leo\n"})
}

func TestExecError(t *testing.T) {
	t.Parallel()

	r := Exec(t.Context(), cli.AppFunc(echo), nil, nil)
	testutil.AssertErrorIs(t, r.Err, cli.ErrInvalidArgs)
}

func TestRun(t *testing.T) {
	t.Parallel()

	Run(t, func(*testing.T) cli.App { return cli.AppFunc(echo) }, map[string]Case[cli.App]{
		"exact output": {
			Args:       []string{"leo"},
			WantStdout: "leo\n",
		},
		"substrings": {
			Args:         []string{"leo", "virgo"},
			Env:          map[string]string{"AUDIENCE": "everyone"},
			WantInStdout: "virgo",
			WantInStderr: "everyone",
		},
		"error is": {
			WantErr: cli.ErrInvalidArgs,
		},
		"error as": {
			Args:      []string{"open"},
			WantErr:   fs.ErrNotExist,
			WantErrAs: &fs.PathError{},
		},
		"check": {
			Args: []string{"ping"},
			Check: func(t *testing.T, _ cli.App, r Result) {
				if errors.Is(r.Err, cli.ErrInvalidArgs) {
					t.Fatal("unexpected invalid arguments")
				}
				testutil.AssertEqual(t, r.Stdout, "ping\n")
			},
		},
	})
}
