package payload

import (
	"errors"

	"github.com/meigma/payload/internal/arctype"
)

// errNotDir surfaces inside *fs.PathError when a directory operation is
// applied to a file entry.
var errNotDir = errors.New("not a directory")

// Sentinel errors re-exported from internal/arctype.
var (
	// ErrNoTrailer is returned when no valid archive trailer exists in the
	// executable image. Callers decide whether this means "unpackaged dev
	// invocation" or is fatal.
	ErrNoTrailer = arctype.ErrNoTrailer

	// ErrCorruptTrailer is returned when a trailer is present but fails
	// structural validation. Always fatal.
	ErrCorruptTrailer = arctype.ErrCorruptTrailer

	// ErrChecksumMismatch is returned when content does not match its
	// recorded hash.
	ErrChecksumMismatch = arctype.ErrChecksumMismatch

	// ErrDecompression is returned when decompressing entry content fails.
	ErrDecompression = arctype.ErrDecompression

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = arctype.ErrSizeOverflow

	// ErrTooManyEntries is returned when a build exceeds the format's
	// maximum addressable entry count.
	ErrTooManyEntries = arctype.ErrTooManyEntries

	// ErrPathEscape is returned when a path would resolve outside the
	// logical archive root.
	ErrPathEscape = arctype.ErrPathEscape

	// ErrNotRegular is returned when the builder encounters a device file,
	// socket, or other non-regular file.
	ErrNotRegular = arctype.ErrNotRegular

	// ErrDuplicatePath is returned when two source files map to the same
	// logical path.
	ErrDuplicatePath = arctype.ErrDuplicatePath
)
