package file

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/meigma/payload/internal/sizing"
)

const (
	// DefaultMaxFileSize is the default maximum file size (256MB).
	DefaultMaxFileSize = 256 << 20

	// DefaultMaxDecoderMemory is the default maximum decoder memory (256MB).
	DefaultMaxDecoderMemory = 256 << 20
)

// ByteSource provides random access to the archive region's bytes.
//
// Implementations exist for local executable files and in-memory buffers.
// Offsets passed to ReadAt are archive-relative; the source is responsible
// for translating past any native-code prefix.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// Reader reads and verifies entry content from a ByteSource.
type Reader struct {
	source      ByteSource
	maxFileSize uint64
	pool        *DecompressPool
}

// Option configures a Reader.
type Option func(*Reader)

// WithMaxFileSize sets the maximum file size limit.
// Set to 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(r *Reader) {
		r.maxFileSize = limit
	}
}

// WithPool sets the decompression pool, allowing it to be shared.
func WithPool(pool *DecompressPool) Option {
	return func(r *Reader) {
		r.pool = pool
	}
}

// NewReader creates a Reader for reading entries from the given source.
func NewReader(source ByteSource, opts ...Option) *Reader {
	r := &Reader{
		source:      source,
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pool == nil {
		r.pool = NewDecompressPool(DefaultMaxDecoderMemory)
	}
	return r
}

// ReadAll returns an entry's full uncompressed content, verified against the
// recorded checksum. It is a convenience over the streaming File, which does
// the decompression, exhaustion, and hash checks.
func (r *Reader) ReadAll(entry *Entry) ([]byte, error) {
	size, err := sizing.ToInt(entry.OriginalSize, ErrSizeOverflow)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", entry.Path, err)
	}

	f := r.OpenFile(entry, true)
	content := make([]byte, size)
	if _, err := io.ReadFull(f, content); err != nil {
		f.Close()
		return nil, err
	}
	// Close drains past the declared size, which runs the exhaustion and
	// checksum checks.
	if err := f.Close(); err != nil {
		return nil, err
	}
	return content, nil
}

// WriteTo decompresses an entry's content into w, verifying the hash.
// Returns the number of uncompressed bytes written.
func (r *Reader) WriteTo(entry *Entry, w io.Writer) (int64, error) {
	f := r.OpenFile(entry, true)
	defer f.Close()
	n, err := io.Copy(w, f)
	if err != nil {
		return n, err
	}
	// Copy stops at EOF without surfacing the verification result.
	return n, f.Close()
}

// sectionReader creates a bounded section reader for an entry's stored bytes.
func (r *Reader) sectionReader(entry *Entry) (*io.SectionReader, error) {
	offset, err := sizing.ToInt64(entry.DataOffset, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	length, err := sizing.ToInt64(entry.DataSize, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(r.source, offset, length), nil
}

// validateEntry rejects entries whose metadata cannot be trusted before any
// byte is read: ranges outside the source, sizes past the configured limit,
// a malformed hash, or compression metadata that contradicts itself.
func validateEntry(entry *Entry, sourceSize int64, maxFileSize uint64) error {
	if sourceSize < 0 {
		return ErrSizeOverflow
	}
	if maxFileSize > 0 && (entry.DataSize > maxFileSize || entry.OriginalSize > maxFileSize) {
		return ErrSizeOverflow
	}
	end, ok := sizing.AddUint64(entry.DataOffset, entry.DataSize)
	if !ok || end > uint64(sourceSize) {
		return ErrSizeOverflow
	}
	if len(entry.Hash) != sha256.Size {
		return fmt.Errorf("invalid hash length %d", len(entry.Hash))
	}
	if !entry.Method.Valid() {
		return fmt.Errorf("unknown compression method: %d", entry.Method)
	}
	if entry.Method == MethodStore && entry.DataSize != entry.OriginalSize {
		return fmt.Errorf("%w: stored size %d does not match original size %d",
			ErrDecompression, entry.DataSize, entry.OriginalSize)
	}
	return nil
}
