package payload

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/meigma/payload/internal/arctype"
	"github.com/meigma/payload/internal/file"
	"github.com/meigma/payload/internal/format"
	"github.com/meigma/payload/internal/index"
	"github.com/meigma/payload/internal/sizing"
)

// LoadSelf locates and indexes the archive appended to the currently running
// executable.
//
// Returns ErrNoTrailer when the executable carries no archive (the caller
// decides whether that means an unpackaged dev invocation or is fatal) and
// ErrCorruptTrailer when a trailer is present but fails validation.
func LoadSelf(opts ...Option) (*Archive, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return LoadFile(exe, opts...)
}

// LoadFile locates and indexes the archive appended to the executable image
// at path. The file handle is retained for on-demand entry reads; Close the
// Archive to release it.
//
// A record is only found when its signature, comment length, and position
// line up with end-of-file, so damage to those bytes (or data appended after
// the archive) reports ErrNoTrailer, not ErrCorruptTrailer: it is
// indistinguishable from an unpackaged binary. Any record that is found but
// fails validation reports ErrCorruptTrailer.
func LoadFile(path string, opts ...Option) (*Archive, error) {
	f, err := os.Open(path) //nolint:gosec // opening the process's own executable image
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	a, err := load(f, info.Size(), f, opts...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	a.log().Debug("archive loaded",
		"image", path,
		"entries", a.Len(),
		"prefix_len", a.PrefixLen())
	return a, nil
}

// LoadBytes indexes an executable image held in memory. Intended for tests
// and tooling; no real packaged executable is needed.
func LoadBytes(data []byte, opts ...Option) (*Archive, error) {
	return load(bytes.NewReader(data), int64(len(data)), nil, opts...)
}

// load runs the trailer scan against an arbitrary random-access image.
func load(r io.ReaderAt, size int64, closer io.Closer, opts ...Option) (*Archive, error) {
	a := &Archive{
		closer:        closer,
		maxFileSize:   file.DefaultMaxFileSize,
		verifyOnClose: true,
	}
	for _, opt := range opts {
		opt(a)
	}

	if size < format.SummarySize {
		return nil, fmt.Errorf("%w: image holds %d bytes", arctype.ErrNoTrailer, size)
	}
	windowLen := int64(format.ScanWindow)
	if windowLen > size {
		windowLen = size
	}
	tail := make([]byte, windowLen)
	if _, err := r.ReadAt(tail, size-windowLen); err != nil {
		return nil, fmt.Errorf("read trailing window: %w", err)
	}

	// The signature bytes can occur coincidentally inside native code, so a
	// candidate record only survives the scan when its declared comment runs
	// exactly to end-of-file. Anything that survives the scan but fails the
	// checks below is a corrupt trailer, never silently ignored.
	s, pos, ok := format.ScanSummary(tail)
	if !ok {
		return nil, fmt.Errorf("%w: no summary record in trailing %d bytes", arctype.ErrNoTrailer, windowLen)
	}
	recordEnd := size - windowLen + int64(pos) + format.SummarySize

	prefixLen, err := computePrefix(&s, recordEnd)
	if err != nil {
		return nil, err
	}

	dirBytes, err := readDirectory(r, &s, prefixLen)
	if err != nil {
		return nil, err
	}

	entries, err := format.DecodeDirectory(dirBytes, int(s.EntryCount))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", arctype.ErrCorruptTrailer, err)
	}
	if err := validateEntryRanges(entries, &s); err != nil {
		return nil, err
	}

	idx, err := index.New(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", arctype.ErrCorruptTrailer, err)
	}

	if len(entries) > 0 {
		if err := checkFirstLocalHeader(r, &entries[0], prefixLen); err != nil {
			return nil, err
		}
	}

	comment := ""
	if s.CommentLen > 0 {
		buf := make([]byte, s.CommentLen)
		if _, err := r.ReadAt(buf, recordEnd); err != nil {
			return nil, fmt.Errorf("%w: comment unreadable: %v", arctype.ErrCorruptTrailer, err)
		}
		comment = string(buf)
	}

	archiveSize, err := sizing.ToInt64(s.ArchiveSize, arctype.ErrSizeOverflow)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", arctype.ErrCorruptTrailer, err)
	}

	a.idx = idx
	a.prefixLen = prefixLen
	a.comment = comment
	a.reader = file.NewReader(
		&regionSource{r: r, off: prefixLen, size: archiveSize},
		file.WithMaxFileSize(a.maxFileSize),
	)
	return a, nil
}

// computePrefix derives the native-code prefix length from the summary
// record's position and its declared archive size.
func computePrefix(s *format.Summary, recordEnd int64) (int64, error) {
	if s.ArchiveSize > uint64(math.MaxInt64) || int64(s.ArchiveSize) > recordEnd { //nolint:gosec // bounds checked
		return 0, fmt.Errorf("%w: declared archive size %d exceeds file", arctype.ErrCorruptTrailer, s.ArchiveSize)
	}
	if s.ArchiveSize < format.SummarySize {
		return 0, fmt.Errorf("%w: declared archive size %d below record size", arctype.ErrCorruptTrailer, s.ArchiveSize)
	}
	if s.EntryCount > format.MaxEntries {
		return 0, fmt.Errorf("%w: entry count %d exceeds format maximum", arctype.ErrCorruptTrailer, s.EntryCount)
	}
	return recordEnd - int64(s.ArchiveSize), nil //nolint:gosec // bounds checked above
}

// readDirectory reads and checksums the directory table.
//
// The builder writes the directory immediately before the summary record, so
// the declared directory range must end exactly at the record. Enforcing the
// equality catches truncated or shifted tables before any entry is trusted.
func readDirectory(r io.ReaderAt, s *format.Summary, prefixLen int64) ([]byte, error) {
	dirEnd, ok := sizing.AddUint64(s.DirOffset, s.DirSize)
	if !ok || dirEnd != s.ArchiveSize-format.SummarySize {
		return nil, fmt.Errorf("%w: directory table range [%d,%d) inconsistent with archive size %d",
			arctype.ErrCorruptTrailer, s.DirOffset, dirEnd, s.ArchiveSize)
	}
	dirSize, err := sizing.ToInt(s.DirSize, arctype.ErrSizeOverflow)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", arctype.ErrCorruptTrailer, err)
	}
	dirOffset, err := sizing.ToInt64(s.DirOffset, arctype.ErrSizeOverflow)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", arctype.ErrCorruptTrailer, err)
	}

	dirBytes := make([]byte, dirSize)
	if _, err := r.ReadAt(dirBytes, prefixLen+dirOffset); err != nil {
		return nil, fmt.Errorf("%w: directory unreadable: %v", arctype.ErrCorruptTrailer, err)
	}
	if format.DirChecksum(dirBytes) != s.DirChecksum {
		return nil, fmt.Errorf("%w: directory checksum mismatch", arctype.ErrCorruptTrailer)
	}
	return dirBytes, nil
}

// validateEntryRanges rejects any entry whose stored bytes would fall outside
// the data region of the archive.
func validateEntryRanges(entries []arctype.Entry, s *format.Summary) error {
	for i := range entries {
		e := &entries[i]
		headerSize := uint64(format.LocalHeaderSize(e.Path)) //nolint:gosec // bounded by MaxPath
		headerEnd, ok := sizing.AddUint64(e.HeaderOffset, headerSize)
		if !ok || headerEnd != e.DataOffset {
			return fmt.Errorf("%w: %s: local header at %d does not precede data at %d",
				arctype.ErrCorruptTrailer, e.Path, e.HeaderOffset, e.DataOffset)
		}
		dataEnd, ok := sizing.AddUint64(e.DataOffset, e.DataSize)
		if !ok || dataEnd > s.DirOffset {
			return fmt.Errorf("%w: %s: data range [%d,%d) outside archive data region",
				arctype.ErrCorruptTrailer, e.Path, e.DataOffset, dataEnd)
		}
	}
	return nil
}

// checkFirstLocalHeader cross-checks the first entry's local header against
// its directory record. A decoy or shifted trailer whose offsets point into
// unrelated bytes fails here.
func checkFirstLocalHeader(r io.ReaderAt, e *arctype.Entry, prefixLen int64) error {
	headerOffset, err := sizing.ToInt64(e.HeaderOffset, arctype.ErrSizeOverflow)
	if err != nil {
		return fmt.Errorf("%w: %w", arctype.ErrCorruptTrailer, err)
	}
	buf := make([]byte, format.LocalHeaderSize(e.Path))
	if _, err := r.ReadAt(buf, prefixLen+headerOffset); err != nil {
		return fmt.Errorf("%w: local header unreadable: %v", arctype.ErrCorruptTrailer, err)
	}
	if err := format.CheckLocalHeader(buf, e); err != nil {
		return fmt.Errorf("%w: %w", arctype.ErrCorruptTrailer, err)
	}
	return nil
}

// regionSource exposes the archive region of an executable image as an
// archive-relative ByteSource, adding the native-code prefix length to every
// read.
type regionSource struct {
	r    io.ReaderAt
	off  int64
	size int64
}

func (s *regionSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	if remaining := s.size - off; int64(len(p)) > remaining {
		n, err := s.r.ReadAt(p[:remaining], s.off+off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return s.r.ReadAt(p, s.off+off)
}

func (s *regionSource) Size() int64 {
	return s.size
}
