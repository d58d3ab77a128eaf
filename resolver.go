package payload

import (
	"io/fs"
	"log/slog"
	"os"
	"sort"

	"github.com/meigma/payload/internal/pathutil"
)

// Interface compliance.
var (
	_ fs.FS         = (*Resolver)(nil)
	_ fs.StatFS     = (*Resolver)(nil)
	_ fs.ReadFileFS = (*Resolver)(nil)
	_ fs.ReadDirFS  = (*Resolver)(nil)
)

// Resolver serves logical path lookups for an embedded runtime's module and
// library loaders: the archive namespace first, then an optional fallback to
// the real filesystem rooted at a base directory (user-supplied scripts
// living alongside the packaged executable).
//
// The two namespaces are never merged at the same path. Archive entries
// always shadow same-named external files; the archive is read-only, so
// write-shadowing does not exist.
//
// Paths are normalized before lookup: "." and ".." elements are resolved,
// and paths escaping the logical root are rejected.
//
// A Resolver without a fallback directory serves the archive alone. A
// Resolver without an archive serves the fallback alone, the shape of an
// unpackaged dev invocation.
type Resolver struct {
	arc     *Archive
	base    fs.FS
	baseDir string
	logger  *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// ResolverWithFallbackDir enables real-filesystem fallback rooted at dir.
func ResolverWithFallbackDir(dir string) ResolverOption {
	return func(r *Resolver) {
		r.baseDir = dir
		r.base = os.DirFS(dir)
	}
}

// ResolverWithFallbackFS enables fallback against an arbitrary fs.FS.
// Intended for tests.
func ResolverWithFallbackFS(fsys fs.FS) ResolverOption {
	return func(r *Resolver) {
		r.base = fsys
	}
}

// ResolverWithLogger sets the logger used for lookup diagnostics.
func ResolverWithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a Resolver over the given archive. arc may be nil for
// fallback-only operation.
func NewResolver(arc *Archive, opts ...ResolverOption) *Resolver {
	r := &Resolver{arc: arc}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// log returns the logger, falling back to a discard logger if nil.
func (r *Resolver) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// normalize resolves name to a logical path, rejecting escapes above the
// logical root.
func (r *Resolver) normalize(op, name string) (string, error) {
	p := NormalizePath(name)
	if !fs.ValidPath(p) {
		err := fs.ErrInvalid
		if pathutil.HasEscape(p) {
			err = ErrPathEscape
		}
		return "", &fs.PathError{Op: op, Path: name, Err: err}
	}
	return p, nil
}

// inArchive reports whether the archive layer owns the path.
func (r *Resolver) inArchive(p string) bool {
	return r.arc != nil && r.arc.Exists(p)
}

// Open implements fs.FS, serving the archive layer first.
func (r *Resolver) Open(name string) (fs.File, error) {
	p, err := r.normalize("open", name)
	if err != nil {
		return nil, err
	}
	if r.inArchive(p) {
		return r.arc.Open(p)
	}
	if r.base != nil {
		return r.base.Open(p)
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS.
func (r *Resolver) Stat(name string) (fs.FileInfo, error) {
	p, err := r.normalize("stat", name)
	if err != nil {
		return nil, err
	}
	if r.inArchive(p) {
		return r.arc.Stat(p)
	}
	if r.base != nil {
		return fs.Stat(r.base, p)
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadFile implements fs.ReadFileFS. Archive bytes win over a same-named
// fallback file.
func (r *Resolver) ReadFile(name string) ([]byte, error) {
	p, err := r.normalize("readfile", name)
	if err != nil {
		return nil, err
	}
	if r.inArchive(p) {
		r.log().Debug("resolved from archive", "path", p)
		return r.arc.ReadFile(p)
	}
	if r.base != nil {
		r.log().Debug("resolved from fallback", "path", p)
		return fs.ReadFile(r.base, p)
	}
	return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
}

// ReadDir implements fs.ReadDirFS. A directory is listed from whichever
// layer owns it; listings are never merged across layers.
func (r *Resolver) ReadDir(name string) ([]fs.DirEntry, error) {
	p, err := r.normalize("readdir", name)
	if err != nil {
		return nil, err
	}
	if r.inArchive(p) {
		return r.arc.ReadDir(p)
	}
	if r.base != nil {
		return fs.ReadDir(r.base, p)
	}
	return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
}

// Exists reports whether the path exists in either layer.
func (r *Resolver) Exists(name string) bool {
	p, err := r.normalize("exists", name)
	if err != nil {
		return false
	}
	if r.inArchive(p) {
		return true
	}
	if r.base != nil {
		if _, err := fs.Stat(r.base, p); err == nil {
			return true
		}
	}
	return false
}

// IsDir reports whether the path is a directory in the owning layer.
func (r *Resolver) IsDir(name string) bool {
	p, err := r.normalize("isdir", name)
	if err != nil {
		return false
	}
	if r.arc != nil && r.arc.Exists(p) {
		return r.arc.IsDir(p)
	}
	if r.base != nil {
		if info, err := fs.Stat(r.base, p); err == nil {
			return info.IsDir()
		}
	}
	return false
}

// ListDir returns the sorted immediate child names of a directory from the
// owning layer.
func (r *Resolver) ListDir(name string) ([]string, error) {
	entries, err := r.ReadDir(name)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return names, nil
}

// Archive returns the archive layer, or nil in fallback-only mode.
func (r *Resolver) Archive() *Archive {
	return r.arc
}
