// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package horobot

import (
	"bytes"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestGofmt(t *testing.T) {
	if _, err := exec.LookPath("gofmt"); err != nil {
		t.Skip("gofmt is not available")
	}
	var w bytes.Buffer
	gofmt := exec.Command("gofmt", "-l", "cmd", "internal")
	gofmt.Stdout = &w
	gofmt.Stderr = &w
	if err := gofmt.Run(); err != nil {
		t.Fatalf("gofmt failed: %v\n\n%v", err, w.String())
	}
	if w.Len() > 0 {
		t.Fatalf("run gofmt on these files:\n%v", w.String())
	}
}

var copyrightHeader = regexp.MustCompile(`\A// © 20\d\d Ilya Mateyko\. All rights reserved\.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE\.md file\.
`)

func TestCopyright(t *testing.T) {
	var missing []string
	for _, root := range []string{"cmd", "internal"} {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && d.Name() == "testdata" {
				return filepath.SkipDir
			}
			if d.IsDir() || !strings.HasSuffix(path, ".go") {
				return nil
			}
			b, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if !copyrightHeader.Match(b) {
				missing = append(missing, path)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if len(missing) > 0 {
		t.Fatalf("these files lack the copyright header:\n\t%s", strings.Join(missing, "\n\t"))
	}
}
