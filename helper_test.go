package payload

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meigma/payload/internal/testutil"
)

// buildArchive builds an archive from the given tree and returns its bytes.
func buildArchive(t *testing.T, files map[string]string, opts ...BuildOption) []byte {
	t.Helper()
	dir := testutil.WriteTree(t, files)
	var buf bytes.Buffer
	require.NoError(t, Build(context.Background(), dir, &buf, opts...))
	return buf.Bytes()
}

// buildImage simulates packaging: archive bytes appended after a native-code
// prefix of arbitrary content.
func buildImage(t *testing.T, files map[string]string, prefix []byte, opts ...BuildOption) []byte {
	t.Helper()
	archive := buildArchive(t, files, opts...)
	image := make([]byte, 0, len(prefix)+len(archive))
	image = append(image, prefix...)
	return append(image, archive...)
}

// loadImage builds and loads an in-memory packaged image.
func loadImage(t *testing.T, files map[string]string, prefix []byte, opts ...BuildOption) *Archive {
	t.Helper()
	arc, err := LoadBytes(buildImage(t, files, prefix, opts...))
	require.NoError(t, err)
	return arc
}

// messageCounter is a slog.Handler that counts records by message, letting
// tests observe how often a code path ran.
type messageCounter struct {
	mu   sync.Mutex
	msgs map[string]int
}

func newMessageCounter() *messageCounter {
	return &messageCounter{msgs: make(map[string]int)}
}

func (h *messageCounter) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.msgs[msg]
}

func (h *messageCounter) Enabled(context.Context, slog.Level) bool { return true }

func (h *messageCounter) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs[r.Message]++
	return nil
}

func (h *messageCounter) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *messageCounter) WithGroup(string) slog.Handler      { return h }
