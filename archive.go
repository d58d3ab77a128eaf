package payload

import (
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"sort"

	"github.com/meigma/payload/internal/file"
	"github.com/meigma/payload/internal/index"
	"github.com/meigma/payload/internal/pathutil"
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
)

// Archive provides read access to the files embedded in an executable image.
//
// An Archive is produced by LoadSelf, LoadFile, or LoadBytes. The index is
// built once and immutable afterward; all methods are safe for unsynchronized
// concurrent use. Archive implements fs.FS, fs.StatFS, fs.ReadFileFS, and
// fs.ReadDirFS for compatibility with the standard library.
type Archive struct {
	idx           *index.Index
	reader        *file.Reader
	closer        io.Closer // underlying executable file, nil for in-memory sources
	prefixLen     int64
	comment       string
	maxFileSize   uint64
	verifyOnClose bool
	logger        *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Open implements fs.FS.
//
// Open returns an fs.File for reading the named file. The returned file
// verifies the content hash on Close (unless disabled by WithVerifyOnClose)
// and returns ErrChecksumMismatch if verification fails. Callers must read to
// EOF or Close to ensure integrity; partial reads may return unverified data.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	if entry, ok := a.idx.Lookup(name); ok {
		return a.reader.OpenFile(entry, a.verifyOnClose), nil
	}

	if a.isDir(name) {
		return &openDir{a: a, name: name}, nil
	}

	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS.
//
// For directories (paths that are prefixes of other entries), Stat returns
// synthetic directory info; the archive does not store directories.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}

	if entry, ok := a.idx.Lookup(name); ok {
		info, err := file.NewInfo(entry, pathutil.Base(name))
		if err != nil {
			return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
		}
		return info, nil
	}

	if a.isDir(name) {
		return file.NewDirInfo(pathutil.Base(name)), nil
	}

	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadFile implements fs.ReadFileFS.
//
// ReadFile reads and returns the entire contents of the named file. The
// content is decompressed if necessary and verified against its hash.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}

	entry, ok := a.idx.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}

	return a.reader.ReadAll(entry)
}

// ReadDir implements fs.ReadDirFS.
//
// ReadDir returns directory entries for the named directory, sorted by name.
// Directory entries are synthesized from file paths.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	if _, ok := a.idx.Lookup(name); ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: errNotDir}
	}

	prefix := pathutil.DirPrefix(name)
	di := newDirIter(a.idx, prefix)
	defer di.Close()

	entries := make([]fs.DirEntry, 0)
	for {
		entry, ok := di.Next()
		if !ok {
			break
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 && name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}

	return entries, nil
}

// Exists reports whether name exists in the archive as a file or directory.
func (a *Archive) Exists(name string) bool {
	if !fs.ValidPath(name) {
		return false
	}
	if _, ok := a.idx.Lookup(name); ok {
		return true
	}
	return a.isDir(name)
}

// IsDir reports whether name is a directory in the archive.
func (a *Archive) IsDir(name string) bool {
	return fs.ValidPath(name) && a.isDir(name)
}

// ListDir returns the sorted immediate child names of a logical directory.
func (a *Archive) ListDir(name string) ([]string, error) {
	entries, err := a.ReadDir(name)
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

// Entry returns the directory record for the given path.
// The returned entry is shared and must not be modified.
func (a *Archive) Entry(path string) (*Entry, bool) {
	return a.idx.Lookup(path)
}

// Entries returns an iterator over all entries in path-sorted order.
func (a *Archive) Entries() iter.Seq[*Entry] {
	return a.idx.Entries()
}

// EntriesWithPrefix returns an iterator over entries whose paths begin with prefix.
func (a *Archive) EntriesWithPrefix(prefix string) iter.Seq[*Entry] {
	return a.idx.EntriesWithPrefix(prefix)
}

// Len returns the number of entries in the archive.
func (a *Archive) Len() int {
	return a.idx.Len()
}

// PrefixLen returns the discovered length in bytes of the native-code region
// preceding the archive.
func (a *Archive) PrefixLen() int64 {
	return a.prefixLen
}

// Comment returns the archive comment, if any.
func (a *Archive) Comment() string {
	return a.comment
}

// Reader returns the underlying entry reader. It is shared with the
// extraction cache so decompressors are pooled across both paths.
func (a *Archive) Reader() *file.Reader {
	return a.reader
}

// Close releases the handle on the underlying executable image, if any.
// The index stays usable; reads fail once the handle is closed.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// isDir checks if name is a directory. The root exists even in an empty
// archive; any other directory is synthesized from the entries under it.
func (a *Archive) isDir(name string) bool {
	if name == "." {
		return true
	}
	prefix := name + "/"
	for range a.idx.EntriesWithPrefix(prefix) {
		return true
	}
	return false
}

// openDir implements fs.File and fs.ReadDirFile for synthetic directories.
type openDir struct {
	a    *Archive
	name string
	iter *dirIter
}

func (d *openDir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *openDir) Stat() (fs.FileInfo, error) {
	return file.NewDirInfo(pathutil.Base(d.name)), nil
}

func (d *openDir) Close() error {
	if d.iter != nil {
		d.iter.Close()
		d.iter = nil
	}
	return nil
}

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.iter == nil {
		d.iter = newDirIter(d.a.idx, pathutil.DirPrefix(d.name))
	}

	if n <= 0 {
		return d.readAll()
	}

	entries := make([]fs.DirEntry, 0, n)
	for len(entries) < n {
		entry, ok := d.iter.Next()
		if !ok {
			if len(entries) == 0 {
				return nil, io.EOF
			}
			return entries, nil
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (d *openDir) readAll() ([]fs.DirEntry, error) {
	entries := make([]fs.DirEntry, 0)
	for {
		entry, ok := d.iter.Next()
		if !ok {
			return entries, nil
		}
		entries = append(entries, entry)
	}
}

// dirIter iterates over directory entries, synthesizing subdirectories.
// It deduplicates entries that share a common directory component and
// yields synthetic directory entries for nested paths.
type dirIter struct {
	next     func() (*Entry, bool)
	stop     func()
	prefix   string
	lastName string
	done     bool
}

// newDirIter creates a directory iterator for entries under prefix.
func newDirIter(idx *index.Index, prefix string) *dirIter {
	next, stop := iter.Pull(idx.EntriesWithPrefix(prefix))
	return &dirIter{
		next:   next,
		stop:   stop,
		prefix: prefix,
	}
}

// Next returns the next directory entry, synthesizing subdirectory entries
// when files exist in nested paths.
func (it *dirIter) Next() (fs.DirEntry, bool) {
	if it.done {
		return nil, false
	}
	for {
		entry, ok := it.next()
		if !ok {
			it.Close()
			return nil, false
		}

		childName, isSubDir := pathutil.Child(entry.Path, it.prefix)
		if childName == it.lastName {
			continue
		}
		it.lastName = childName

		if isSubDir {
			return file.NewDirEntry(file.NewDirInfo(childName), nil), true
		}
		info, err := file.NewInfo(entry, childName)
		if err != nil {
			// Return a fallback info with size 0
			return file.NewDirEntry(&file.Info{}, err), true
		}
		return file.NewDirEntry(info, nil), true
	}
}

// Close releases resources held by the iterator.
func (it *dirIter) Close() {
	if it.done {
		return
	}
	it.done = true
	if it.stop != nil {
		it.stop()
		it.stop = nil
	}
}
