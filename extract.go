package payload

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/payload/internal/pathutil"
)

// Extractor lazily materializes archive entries as real files.
//
// The OS loader for dynamically loadable libraries cannot open an in-memory
// buffer, so entries on the library-loading path are decompressed once per
// process into a private temporary directory and served by real path from
// then on. Concurrent requests for the same unmaterialized path are
// deduplicated per path; unrelated paths extract in parallel.
//
// The Extractor exclusively owns the files it creates. Close removes fully
// materialized files best-effort; it never blocks on in-flight extractions.
type Extractor struct {
	arc    *Archive
	dir    string
	logger *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	done   map[string]string // logical path -> materialized real path
	closed bool
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// ExtractorWithDir places materialized files under dir instead of a fresh
// private temporary directory. The directory is created if missing.
func ExtractorWithDir(dir string) ExtractorOption {
	return func(x *Extractor) {
		x.dir = dir
	}
}

// ExtractorWithLogger sets the logger used for extraction diagnostics.
func ExtractorWithLogger(logger *slog.Logger) ExtractorOption {
	return func(x *Extractor) {
		x.logger = logger
	}
}

// NewExtractor creates an extraction cache over arc.
func NewExtractor(arc *Archive, opts ...ExtractorOption) (*Extractor, error) {
	x := &Extractor{
		arc:  arc,
		done: make(map[string]string),
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.dir == "" {
		dir, err := os.MkdirTemp("", "payload-*")
		if err != nil {
			return nil, fmt.Errorf("create extraction dir: %w", err)
		}
		x.dir = dir
	} else if err := os.MkdirAll(x.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create extraction dir: %w", err)
	}
	return x, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (x *Extractor) log() *slog.Logger {
	if x.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return x.logger
}

// Dir returns the directory holding materialized files.
func (x *Extractor) Dir() string {
	return x.dir
}

// Materialize returns a real filesystem path holding the entry's
// uncompressed content.
//
// The first request for a path performs the extraction; concurrent requests
// for the same path block until it completes and receive the same result.
// Later requests re-verify the materialized file against the entry's
// checksum and re-extract if it went missing or was modified.
func (x *Extractor) Materialize(name string) (string, error) {
	p := NormalizePath(name)
	if !fs.ValidPath(p) {
		return "", &fs.PathError{Op: "materialize", Path: name, Err: fs.ErrInvalid}
	}
	entry, ok := x.arc.Entry(p)
	if !ok {
		return "", &fs.PathError{Op: "materialize", Path: name, Err: fs.ErrNotExist}
	}

	v, err, _ := x.group.Do(p, func() (any, error) {
		target := filepath.Join(x.dir, materializedName(entry))
		if verifyErr := verifyMaterialized(target, entry); verifyErr == nil {
			return target, nil
		} else if x.known(p) {
			x.log().Warn("re-extracting damaged file", "path", p, "error", verifyErr)
		}
		if err := x.extract(target, entry); err != nil {
			return nil, err
		}
		x.record(p, target)
		x.log().Debug("entry materialized", "path", p, "file", target)
		return target, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

// MaterializeAll extracts a set of paths with bounded concurrency.
// workers <= 0 means one flight per path.
func (x *Extractor) MaterializeAll(paths []string, workers int) (map[string]string, error) {
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}

	var mu sync.Mutex
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		g.Go(func() error {
			real, err := x.Materialize(p)
			if err != nil {
				return err
			}
			mu.Lock()
			out[p] = real
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close removes fully materialized files and the extraction directory,
// best-effort. Individual removal failures are logged, never returned; only
// a nil receiver or repeated Close is a no-op.
func (x *Extractor) Close() error {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil
	}
	x.closed = true
	files := make([]string, 0, len(x.done))
	for _, real := range x.done {
		files = append(files, real)
	}
	x.done = map[string]string{}
	x.mu.Unlock()

	for _, real := range files {
		if err := os.Remove(real); err != nil && !os.IsNotExist(err) {
			x.log().Warn("cleanup failed", "file", real, "error", err)
		}
	}
	// In-flight extractions may still hold temp files here; leave them be.
	if err := os.Remove(x.dir); err != nil && !os.IsNotExist(err) {
		x.log().Warn("cleanup failed", "dir", x.dir, "error", err)
	}
	return nil
}

func (x *Extractor) record(path, real string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.closed {
		x.done[path] = real
	}
}

func (x *Extractor) known(path string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.done[path]
	return ok
}

// extract decompresses the entry into target via a temp file and rename, so
// a crash mid-write never leaves a plausible-looking partial library.
func (x *Extractor) extract(target string, entry *Entry) error {
	tmp, err := os.CreateTemp(x.dir, ".extract-")
	if err != nil {
		return fmt.Errorf("materialize %s: %w", entry.Path, err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := x.arc.Reader().WriteTo(entry, tmp); err != nil {
		return fmt.Errorf("materialize %s: %w", entry.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("materialize %s: %w", entry.Path, err)
	}

	perm := entry.Mode.Perm()
	if perm == 0 {
		perm = 0o600
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("materialize %s: %w", entry.Path, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("materialize %s: %w", entry.Path, err)
	}
	success = true
	return nil
}

// materializedName derives a deterministic file name from the logical path
// and its content digest, so distinct entries never collide and a content
// change in a rebuilt executable yields a fresh name.
func materializedName(entry *Entry) string {
	d := EntryDigest(entry)
	encoded := d.Encoded()
	if len(encoded) > 16 {
		encoded = encoded[:16]
	}
	return encoded + "-" + pathutil.Base(entry.Path)
}

// verifyMaterialized checks an existing materialized file against the
// entry's recorded size and checksum.
func verifyMaterialized(target string, entry *Entry) error {
	f, err := os.Open(target) //nolint:gosec // path derived from digest, not user input
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if uint64(info.Size()) != entry.OriginalSize { //nolint:gosec // sizes are non-negative
		return fmt.Errorf("size %d, want %d", info.Size(), entry.OriginalSize)
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return err
	}
	if !bytes.Equal(hasher.Sum(nil), entry.Hash) {
		return ErrChecksumMismatch
	}
	return nil
}
