// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package version

import (
	"errors"
	"runtime"
	"runtime/debug"
	"testing"

	"go.astrophena.name/horobot/internal/testutil"
)

func TestLoadInfo(t *testing.T) {
	t.Parallel()

	exe := func() (string, error) { return "/usr/bin/horobot", nil }

	cases := map[string]struct {
		bi      *debug.BuildInfo
		ok      bool
		exe     func() (string, error)
		want    Info
		wantUA  string
		wantStr string
	}{
		"release": {
			bi: &debug.BuildInfo{
				Main: debug.Module{Version: "v1.2.3"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "abcdef"},
					{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
				},
			},
			ok:     true,
			exe:    exe,
			want:   Info{Name: "horobot", Version: "v1.2.3", Commit: "abcdef", BuiltAt: "2026-01-02T03:04:05Z"},
			wantUA: "horobot/v1.2.3 (+https://github.com/astrophena/horobot)",
		},
		"devel with commit": {
			bi: &debug.BuildInfo{
				Main:     debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abcdef"}},
			},
			ok:     true,
			exe:    exe,
			want:   Info{Name: "horobot", Version: "devel", Commit: "abcdef"},
			wantUA: "horobot/abcdef (+https://github.com/astrophena/horobot)",
		},
		"no build info": {
			exe:    func() (string, error) { return "", errors.New("no executable") },
			want:   Info{Name: "horobot", Version: "devel"},
			wantUA: "horobot/devel (+https://github.com/astrophena/horobot)",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := loadInfo(func() (*debug.BuildInfo, bool) { return tc.bi, tc.ok }, tc.exe)
			tc.want.Go, tc.want.OS, tc.want.Arch = runtime.Version(), runtime.GOOS, runtime.GOARCH
			testutil.AssertEqual(t, got, tc.want)
			testutil.AssertEqual(t, userAgent(got), tc.wantUA)
		})
	}
}

func TestInfoString(t *testing.T) {
	t.Parallel()

	i := Info{Name: "horobot", Version: "v1.0.0", Commit: "abc", BuiltAt: "today", Go: "go1.24", OS: "linux", Arch: "amd64"}
	testutil.AssertEqual(t, i.String(), "horobot v1.0.0 (go1.24, linux/amd64)\ncommit abc\nbuilt at today\n")
}
