// Package testutil provides shared helpers for tests that spawn real
// subprocesses or need a quiet logger.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// SkipUnlessPOSIX skips tests that rely on /bin/sh and process groups.
func SkipUnlessPOSIX(t testing.TB) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
}

// WriteScript writes an executable shell script into a temp dir and returns
// its path.
func WriteScript(t testing.TB, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("testutil: write script: %v", err)
	}
	return path
}
