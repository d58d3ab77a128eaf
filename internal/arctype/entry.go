package arctype

import (
	"io/fs"
	"time"
)

// Entry represents one file stored in the appended archive.
//
// All offsets are relative to the start of the archive region, not the start
// of the executable file. The trailer locator adds the discovered native-code
// prefix length before any byte is read.
type Entry struct {
	// Path is the logical, slash-separated path of the file relative to the
	// archive root (e.g., "lib/strings.ext").
	Path string

	// HeaderOffset is the archive-relative byte offset of the entry's local
	// header.
	HeaderOffset uint64

	// DataOffset is the archive-relative byte offset where the entry's
	// (possibly compressed) content begins.
	DataOffset uint64

	// DataSize is the stored size of the content in bytes. For compressed
	// entries this is the compressed size.
	DataSize uint64

	// OriginalSize is the uncompressed size in bytes. Equal to DataSize for
	// stored entries.
	OriginalSize uint64

	// Hash is the SHA-256 hash of the uncompressed content.
	Hash []byte

	// Mode is the file's permission bits.
	Mode fs.FileMode

	// ModTime is the file's modification time.
	ModTime time.Time

	// Method is the compression algorithm used for this entry.
	Method Method
}
