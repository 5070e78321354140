// Package testingx provides helpers for use with the testing package.
package testingx

import (
	"os"
	"path/filepath"
	"testing"
)

// Must provides a concise way to handle returned errors in test setup that
// "should never happen".
//
// It MUST NOT be used to check for test case conditions themselves because it
// provides a generic, nondescript test error message.
//
//	mustMap := testingx.Must[*sourcemap.Map](t)
//	m := mustMap(readMap("testdata/app.js.map"))
func Must[T any](t *testing.T) func(v T, err error) T {
	return func(v T, err error) T {
		t.Helper()
		if err != nil {
			t.Fatalf("Got: unexpected error: %s. Want: no error.", err)
		}
		return v
	}
}

// WriteFiles creates the given files, keyed by slash-separated paths
// relative to dir, along with any missing parent directories.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Got: error creating the parent of %s: %s. Want: no error.", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Got: error writing %s: %s. Want: no error.", name, err)
		}
	}
}
