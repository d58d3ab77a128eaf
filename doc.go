// Package payload implements a self-contained executable format: an archive
// appended to the end of a native binary, plus the runtime pieces that serve
// file lookups from it.
//
// A distributable is produced offline by building an archive from a directory
// tree (Build) and concatenating it after a compiled binary. Because every
// offset inside the archive is recorded relative to the archive region's own
// start, the same archive bytes remain valid after any prefix, and the same
// build artifact can be appended to multiple native variants.
//
// At startup the running program locates the archive inside its own
// executable image (LoadSelf), producing an immutable Archive that implements
// fs.FS. A Resolver layers the archive over an optional real-filesystem base
// directory, with archive entries shadowing same-named external files. An
// Extractor materializes entries that must exist as real files (dynamically
// loadable libraries) into a private temporary directory, at most once per
// path per process.
//
// Typical startup:
//
//	rt, err := payload.NewRuntime(payload.RuntimeWithFallbackDir(filepath.Dir(exe)))
//	if err != nil { ... }
//	defer rt.Close()
//
// The Runtime bundles the loaded archive, resolver, and extractor into one
// context object to thread through an embedded interpreter's loader hooks.
package payload
