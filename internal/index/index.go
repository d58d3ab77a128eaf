// Package index provides the immutable in-memory view of an archive directory.
package index

import (
	"fmt"
	"io/fs"
	"iter"
	"sort"
	"strings"

	"github.com/meigma/payload/internal/arctype"
	"github.com/meigma/payload/internal/pathutil"
)

// Index provides access to archive entries.
//
// Entries are sorted by path, giving O(log n) lookups and efficient prefix
// scans for directory operations. An Index is built once when the trailer is
// loaded and never mutated afterward, so it is safe for unsynchronized
// concurrent reads.
type Index struct {
	entries []arctype.Entry
	byPath  map[string]int
}

// New builds an Index from decoded directory entries.
//
// The entries must be sorted by path and unique; the builder always writes
// them that way, so any violation means the directory table is corrupt.
// Paths that are not valid slash paths or that contain ".." elements are
// rejected here so no traversal outside the logical root can ever be served.
func New(entries []arctype.Entry) (*Index, error) {
	byPath := make(map[string]int, len(entries))
	for i := range entries {
		e := &entries[i]
		if !fs.ValidPath(e.Path) || strings.HasSuffix(e.Path, "/") {
			return nil, fmt.Errorf("%w: invalid entry path %q", arctype.ErrPathEscape, e.Path)
		}
		if pathutil.HasEscape(e.Path) {
			return nil, fmt.Errorf("%w: %q", arctype.ErrPathEscape, e.Path)
		}
		if i > 0 && entries[i-1].Path >= e.Path {
			return nil, fmt.Errorf("directory not sorted at %q", e.Path)
		}
		byPath[e.Path] = i
	}
	return &Index{entries: entries, byPath: byPath}, nil
}

// Lookup returns the entry for the given path.
// The returned entry is shared and must not be modified.
func (idx *Index) Lookup(path string) (*arctype.Entry, bool) {
	i, ok := idx.byPath[path]
	if !ok {
		return nil, false
	}
	return &idx.entries[i], true
}

// Len returns the number of entries in the index.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Entries returns an iterator over all entries in path-sorted order.
func (idx *Index) Entries() iter.Seq[*arctype.Entry] {
	return func(yield func(*arctype.Entry) bool) {
		for i := range idx.entries {
			if !yield(&idx.entries[i]) {
				return
			}
		}
	}
}

// EntriesWithPrefix returns an iterator over entries whose paths begin with
// prefix. Files under a directory share a common prefix and are stored
// adjacently, so directory listings are a single binary search plus a scan.
func (idx *Index) EntriesWithPrefix(prefix string) iter.Seq[*arctype.Entry] {
	return func(yield func(*arctype.Entry) bool) {
		start := sort.Search(len(idx.entries), func(i int) bool {
			return idx.entries[i].Path >= prefix
		})
		for i := start; i < len(idx.entries); i++ {
			if !strings.HasPrefix(idx.entries[i].Path, prefix) {
				return
			}
			if !yield(&idx.entries[i]) {
				return
			}
		}
	}
}
