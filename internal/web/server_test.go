// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"

	"go.astrophena.name/horobot/internal/testutil"
)

func TestListenAndServeConfig(t *testing.T) {
	cases := map[string]struct {
		c       *ListenAndServeConfig
		wantErr error
	}{
		"no Addr": {
			c: &ListenAndServeConfig{
				Addr: "",
				Mux:  http.NewServeMux(),
			},
			wantErr: errNoAddr,
		},
		"nil Mux": {
			c: &ListenAndServeConfig{
				Addr: ":3000",
				Mux:  nil,
			},
			wantErr: errNilMux,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ListenAndServe(context.Background(), tc.c)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got error %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestListenAndServe(t *testing.T) {
	var wg sync.WaitGroup

	ready := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())

	mux := http.NewServeMux()
	health := NewHealth()
	health.Register("store", func(ctx context.Context) (string, bool) { return "0 subscriptions", true })
	mux.Handle("/health", health)
	mux.HandleFunc("/debug/dispatch", func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, map[string]string{"id": "pass"})
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ListenAndServe(ctx, &ListenAndServeConfig{
			Addr:       "localhost:0",
			Mux:        mux,
			Logf:       t.Logf,
			Debuggable: true,
			Ready:      func(addr net.Addr) { ready <- addr },
		}); err != nil {
			errCh <- err
		}
	}()

	// Wait until the server is ready.
	var addr net.Addr
	select {
	case err := <-errCh:
		t.Fatalf("Test server crashed during startup or runtime: %v", err)
	case addr = <-ready:
	}

	urls := []struct {
		url        string
		wantStatus int
	}{
		{url: "/health", wantStatus: http.StatusOK},
		{url: "/debug/dispatch", wantStatus: http.StatusOK},
		{url: "/debug/pprof/", wantStatus: http.StatusOK},
		{url: "/nope", wantStatus: http.StatusNotFound},
	}

	for _, u := range urls {
		res, err := http.Get("http://" + addr.String() + u.url)
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		testutil.AssertEqual(t, res.StatusCode, u.wantStatus)
	}

	// Try to gracefully shutdown the server.
	cancel()
	wg.Wait()
	select {
	case err := <-errCh:
		t.Fatalf("Test server crashed during shutdown: %v", err)
	default:
	}
}
