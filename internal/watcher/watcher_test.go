package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `hold_ms: 40
bindings:
  - action: 1
    chord: Shift+A
  - action: 2
    chord: Ctrl+B
`

const duplicateConfig = `bindings:
  - action: 1
    chord: Shift+A
  - action: 2
    chord: Shift+A
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantBindings int
		wantErr      string
	}{
		{name: "valid", content: validConfig, wantBindings: 2},
		{name: "duplicate chord", content: duplicateConfig, wantErr: "duplicate"},
		{name: "bad chord", content: "bindings:\n  - action: 1\n    chord: Hyper+Q\n", wantErr: "bindings[0]"},
		{name: "empty file uses defaults", content: "", wantBindings: 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, tt.content)

			res := Check(path)
			if tt.wantErr != "" {
				if res.Err == nil || !strings.Contains(res.Err.Error(), tt.wantErr) {
					t.Fatalf("Check() error = %v, want it to contain %q", res.Err, tt.wantErr)
				}
				if res.Registry != nil || res.Bindings != 0 {
					t.Fatalf("failed Check() should not return a registry: %+v", res)
				}
				return
			}
			if res.Err != nil {
				t.Fatalf("Check() error = %v", res.Err)
			}
			if res.Bindings != tt.wantBindings {
				t.Fatalf("Bindings = %d, want %d", res.Bindings, tt.wantBindings)
			}
		})
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, validConfig)

	results := make(chan Result, 8)
	w, err := New(path, 50*time.Millisecond, func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w.Start(context.Background())
	defer w.Close()

	for range 3 {
		writeFile(t, path, validConfig)
	}
	// Unrelated files in the same directory are ignored.
	writeFile(t, filepath.Join(dir, "other.yaml"), "x: 1")

	select {
	case r := <-results:
		if r.Err != nil || r.Bindings != 2 {
			t.Fatalf("result = %+v", r)
		}
		if r.Config.HoldMS != 40 {
			t.Fatalf("HoldMS = %d, want 40", r.Config.HoldMS)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	select {
	case r := <-results:
		t.Fatalf("burst produced a second reload: %+v", r)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherReportsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, validConfig)

	results := make(chan Result, 4)
	w, err := New(path, 20*time.Millisecond, func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w.Start(context.Background())
	defer w.Close()

	writeFile(t, path, duplicateConfig)
	select {
	case r := <-results:
		if r.Err == nil {
			t.Fatalf("expected reload error, got %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherCloseStopsReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, validConfig)

	results := make(chan Result, 4)
	w, err := New(path, 20*time.Millisecond, func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w.Start(context.Background())
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	w.schedule()

	writeFile(t, path, validConfig)
	select {
	case r := <-results:
		t.Fatalf("reload after Close: %+v", r)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcherReportsStoppedLoop(t *testing.T) {
	tests := []struct {
		name       string
		closeFirst bool
		wantResult bool
	}{
		{name: "running", wantResult: true},
		{name: "closed", closeFirst: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, validConfig)

			results := make(chan Result, 1)
			w, err := New(path, 0, func(r Result) { results <- r })
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer w.Close()
			if tt.closeFirst {
				w.Close()
			}
			if got := w.isClosed(); got != tt.closeFirst {
				t.Fatalf("isClosed() = %v, want %v", got, tt.closeFirst)
			}

			w.onFatal("config-watcher", 3)
			select {
			case r := <-results:
				if !tt.wantResult {
					t.Fatalf("closed watcher reported %+v", r)
				}
				if !errors.Is(r.Err, ErrLoopStopped) || r.Path != w.Path() {
					t.Fatalf("result = %+v, want ErrLoopStopped for %s", r, w.Path())
				}
			default:
				if tt.wantResult {
					t.Fatal("no result reported")
				}
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "config.yaml"), 0, nil); err == nil {
		t.Fatal("New() with nil callback expected error")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing", "config.yaml"), 0, func(Result) {}); err == nil {
		t.Fatal("New() with missing directory expected error")
	}
}
