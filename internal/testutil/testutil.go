// Package testutil provides shared helpers for payload tests.
package testutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

// WriteTree materializes files under a fresh temp directory and returns its
// path. Keys are slash-separated relative paths; parent directories are
// created as needed.
func WriteTree(tb testing.TB, files map[string]string) string {
	tb.Helper()
	dir := tb.TempDir()
	for rel, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			tb.Fatalf("mkdir for %s: %v", rel, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			tb.Fatalf("write %s: %v", rel, err)
		}
	}
	return dir
}

// BytesSource implements a simple in-memory byte source for tests.
type BytesSource struct {
	data []byte
}

// NewBytesSource returns a byte source backed by the provided data.
func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (s *BytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if off+int64(n) >= int64(len(s.data)) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (s *BytesSource) Size() int64 {
	return int64(len(s.data))
}

// Bytes returns the backing slice for tests that need to mutate data.
func (s *BytesSource) Bytes() []byte {
	return s.data
}
