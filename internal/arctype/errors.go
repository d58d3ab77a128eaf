package arctype

import "errors"

// Sentinel errors shared across the payload packages.
var (
	// ErrNoTrailer is returned when no valid summary record exists in the
	// scanned tail of an executable image. Callers decide whether this means
	// "unpackaged dev invocation" or is fatal.
	ErrNoTrailer = errors.New("payload: no archive trailer")

	// ErrCorruptTrailer is returned when a summary record is present but
	// fails structural validation. Always fatal: continuing with a partially
	// trusted index could serve wrong bytes.
	ErrCorruptTrailer = errors.New("payload: corrupt archive trailer")

	// ErrChecksumMismatch is returned when content does not match its
	// recorded SHA-256 hash.
	ErrChecksumMismatch = errors.New("payload: checksum mismatch")

	// ErrDecompression is returned when decompressing entry content fails.
	ErrDecompression = errors.New("payload: decompression failed")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("payload: size overflow")

	// ErrTooManyEntries is returned when a build exceeds the format's
	// maximum addressable entry count.
	ErrTooManyEntries = errors.New("payload: too many entries")

	// ErrPathEscape is returned when a path would resolve outside the
	// logical archive root.
	ErrPathEscape = errors.New("payload: path escapes archive root")

	// ErrNotRegular is returned when the builder encounters a device file,
	// socket, or other non-regular file.
	ErrNotRegular = errors.New("payload: not a regular file")

	// ErrDuplicatePath is returned when two source files (typically via
	// symbolic links) map to the same logical path.
	ErrDuplicatePath = errors.New("payload: duplicate logical path")
)
