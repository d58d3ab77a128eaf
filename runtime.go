package payload

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Runtime is the process-wide context object handed to an embedded
// interpreter's loader hooks: the loaded archive, the layered resolver over
// it, and the extraction cache for entries that must exist as real files.
//
// Create one Runtime early in startup, thread it to the hooks that need it,
// and Close it at process exit. It is deliberately not ambient global state;
// tests construct the same pieces from in-memory images via LoadBytes.
type Runtime struct {
	arc    *Archive
	res    *Resolver
	ext    *Extractor
	dev    bool
	devDir string
	logger *slog.Logger
}

// RuntimeOption configures NewRuntime.
type RuntimeOption func(*runtimeConfig)

type runtimeConfig struct {
	fallbackDir     string
	extractDir      string
	allowUnpackaged bool
	logger          *slog.Logger
	archiveOpts     []Option
}

// RuntimeWithFallbackDir enables real-filesystem fallback rooted at dir for
// user-supplied files living alongside the packaged executable.
func RuntimeWithFallbackDir(dir string) RuntimeOption {
	return func(c *runtimeConfig) {
		c.fallbackDir = dir
	}
}

// RuntimeWithExtractDir overrides the private temporary directory used for
// materialized files.
func RuntimeWithExtractDir(dir string) RuntimeOption {
	return func(c *runtimeConfig) {
		c.extractDir = dir
	}
}

// RuntimeWithAllowUnpackaged makes a missing trailer non-fatal: the Runtime
// then serves the fallback directory alone. Intended for development
// invocations of an unpackaged binary. A corrupt trailer is fatal regardless.
func RuntimeWithAllowUnpackaged(allow bool) RuntimeOption {
	return func(c *runtimeConfig) {
		c.allowUnpackaged = allow
	}
}

// RuntimeWithLogger sets the logger shared by all components.
func RuntimeWithLogger(logger *slog.Logger) RuntimeOption {
	return func(c *runtimeConfig) {
		c.logger = logger
	}
}

// RuntimeWithArchiveOptions passes extra options to the archive load.
func RuntimeWithArchiveOptions(opts ...Option) RuntimeOption {
	return func(c *runtimeConfig) {
		c.archiveOpts = append(c.archiveOpts, opts...)
	}
}

// NewRuntime loads the archive from the running executable and wires the
// resolver and extraction cache around it.
func NewRuntime(opts ...RuntimeOption) (*Runtime, error) {
	cfg := runtimeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	archiveOpts := cfg.archiveOpts
	if cfg.logger != nil {
		archiveOpts = append(archiveOpts, WithLogger(cfg.logger))
	}

	arc, err := LoadSelf(archiveOpts...)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoTrailer) && cfg.allowUnpackaged:
		if cfg.fallbackDir == "" {
			return nil, fmt.Errorf("unpackaged executable and no fallback directory configured: %w", err)
		}
		arc = nil
	default:
		return nil, err
	}

	rt := &Runtime{
		arc:    arc,
		dev:    arc == nil,
		devDir: cfg.fallbackDir,
		logger: cfg.logger,
	}

	resolverOpts := []ResolverOption{}
	if cfg.fallbackDir != "" {
		resolverOpts = append(resolverOpts, ResolverWithFallbackDir(cfg.fallbackDir))
	}
	if cfg.logger != nil {
		resolverOpts = append(resolverOpts, ResolverWithLogger(cfg.logger))
	}
	rt.res = NewResolver(arc, resolverOpts...)

	if arc != nil {
		extractorOpts := []ExtractorOption{}
		if cfg.extractDir != "" {
			extractorOpts = append(extractorOpts, ExtractorWithDir(cfg.extractDir))
		}
		if cfg.logger != nil {
			extractorOpts = append(extractorOpts, ExtractorWithLogger(cfg.logger))
		}
		ext, err := NewExtractor(arc, extractorOpts...)
		if err != nil {
			arc.Close()
			return nil, err
		}
		rt.ext = ext
	}
	return rt, nil
}

// Archive returns the loaded archive, or nil when running unpackaged.
func (rt *Runtime) Archive() *Archive {
	return rt.arc
}

// Resolver returns the layered path resolver.
func (rt *Runtime) Resolver() *Resolver {
	return rt.res
}

// Extractor returns the extraction cache, or nil when running unpackaged.
func (rt *Runtime) Extractor() *Extractor {
	return rt.ext
}

// Unpackaged reports whether the Runtime is serving the fallback directory
// alone because the executable carries no archive.
func (rt *Runtime) Unpackaged() bool {
	return rt.dev
}

// Exists reports whether the logical path exists in either layer.
func (rt *Runtime) Exists(name string) bool {
	return rt.res.Exists(name)
}

// ReadFile returns the content of the logical path, archive layer first.
func (rt *Runtime) ReadFile(name string) ([]byte, error) {
	return rt.res.ReadFile(name)
}

// ListDir returns the sorted immediate child names of a logical directory.
func (rt *Runtime) ListDir(name string) ([]string, error) {
	return rt.res.ListDir(name)
}

// IsDir reports whether the logical path is a directory.
func (rt *Runtime) IsDir(name string) bool {
	return rt.res.IsDir(name)
}

// Materialize returns a real filesystem path for the logical path.
//
// Archive entries are extracted through the cache. Paths owned by the
// fallback layer already are real files, so their on-disk location is
// returned directly.
func (rt *Runtime) Materialize(name string) (string, error) {
	p := NormalizePath(name)
	if !fs.ValidPath(p) {
		return "", &fs.PathError{Op: "materialize", Path: name, Err: fs.ErrInvalid}
	}
	if rt.ext != nil {
		if _, ok := rt.arc.Entry(p); ok {
			return rt.ext.Materialize(p)
		}
	}
	if rt.devDir != "" {
		real := filepath.Join(rt.devDir, filepath.FromSlash(p))
		if info, err := os.Stat(real); err == nil && info.Mode().IsRegular() {
			return real, nil
		}
	}
	return "", &fs.PathError{Op: "materialize", Path: name, Err: fs.ErrNotExist}
}

// Close releases the extraction cache and the archive handle.
func (rt *Runtime) Close() error {
	var firstErr error
	if rt.ext != nil {
		if err := rt.ext.Close(); err != nil {
			firstErr = err
		}
	}
	if rt.arc != nil {
		if err := rt.arc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
