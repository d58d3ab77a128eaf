// Package format defines the on-disk wire format of the appended archive.
//
// The archive region consists of a local header plus content per entry, a
// path-sorted directory table, and a fixed-size summary record that may be
// followed by a short comment. Every offset recorded in the format is
// relative to the start of the archive region, so the same archive bytes
// remain valid after concatenation onto any native-code prefix.
package format

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/meigma/payload/internal/arctype"
)

const (
	// Version is the current format version written by the builder.
	Version = 1

	// SummarySize is the fixed size of the summary record in bytes.
	SummarySize = 44

	// MaxComment is the maximum length of the trailing comment field.
	// Together with SummarySize it bounds the backward scan window.
	MaxComment = 65535

	// MaxEntries is the maximum addressable entry count.
	MaxEntries = 1 << 24

	// MaxPath is the maximum length of an entry path in bytes.
	MaxPath = 65535

	// ScanWindow is the number of trailing bytes searched for the summary
	// record signature.
	ScanWindow = SummarySize + MaxComment

	// HashSize is the length of the per-entry content hash (SHA-256).
	HashSize = 32
)

// Signatures. The local header magic and the summary record signature share a
// prefix but differ in the final byte so a truncated directory never parses
// as a trailer.
var (
	localMagic = [4]byte{'P', 'Y', 'L', 0x01}
	summarySig = [4]byte{'P', 'Y', 'L', 0x1a}
)

// dirFixedSize is the size of a directory record excluding the path field.
const dirFixedSize = 8 + 8 + 8 + 8 + 1 + 4 + 8 + HashSize

// Summary is the decoded form of the summary record.
type Summary struct {
	Version     uint16
	CommentLen  uint16
	EntryCount  uint32
	DirOffset   uint64 // archive-relative offset of the directory table
	DirSize     uint64 // directory table length in bytes
	DirChecksum uint64 // xxhash64 of the directory table bytes
	ArchiveSize uint64 // bytes from archive start through the end of this record
}

// AppendSummary appends the encoded summary record to buf.
func AppendSummary(buf []byte, s *Summary) []byte {
	buf = append(buf, summarySig[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, s.Version)
	buf = binary.LittleEndian.AppendUint16(buf, s.CommentLen)
	buf = binary.LittleEndian.AppendUint32(buf, s.EntryCount)
	buf = binary.LittleEndian.AppendUint64(buf, s.DirOffset)
	buf = binary.LittleEndian.AppendUint64(buf, s.DirSize)
	buf = binary.LittleEndian.AppendUint64(buf, s.DirChecksum)
	buf = binary.LittleEndian.AppendUint64(buf, s.ArchiveSize)
	return buf
}

// ParseSummary decodes a summary record from b. b must hold at least
// SummarySize bytes starting at the signature.
func ParseSummary(b []byte) (Summary, error) {
	if len(b) < SummarySize {
		return Summary{}, fmt.Errorf("summary record truncated: %d bytes", len(b))
	}
	if [4]byte(b[:4]) != summarySig {
		return Summary{}, fmt.Errorf("bad summary signature %x", b[:4])
	}
	s := Summary{
		Version:     binary.LittleEndian.Uint16(b[4:6]),
		CommentLen:  binary.LittleEndian.Uint16(b[6:8]),
		EntryCount:  binary.LittleEndian.Uint32(b[8:12]),
		DirOffset:   binary.LittleEndian.Uint64(b[12:20]),
		DirSize:     binary.LittleEndian.Uint64(b[20:28]),
		DirChecksum: binary.LittleEndian.Uint64(b[28:36]),
		ArchiveSize: binary.LittleEndian.Uint64(b[36:44]),
	}
	if s.Version != Version {
		return Summary{}, fmt.Errorf("unsupported format version %d", s.Version)
	}
	return s, nil
}

// ScanSummary searches tail for the last valid summary record. tail must end
// at end-of-file. It returns the parsed record and the offset within tail
// where the record begins.
//
// Native code may coincidentally contain the signature bytes, so a candidate
// is only accepted when its declared comment length reaches exactly
// end-of-file. Scanning backward from the end makes the accepted record the
// last valid occurrence in the window.
func ScanSummary(tail []byte) (s Summary, pos int, ok bool) {
	for i := len(tail) - SummarySize; i >= 0; i-- {
		if [4]byte(tail[i:i+4]) != summarySig {
			continue
		}
		cand, err := ParseSummary(tail[i:])
		if err != nil {
			continue
		}
		if i+SummarySize+int(cand.CommentLen) != len(tail) {
			continue
		}
		return cand, i, true
	}
	return Summary{}, 0, false
}

// DirChecksum computes the structural checksum of directory table bytes.
func DirChecksum(dir []byte) uint64 {
	return xxhash.Sum64(dir)
}

// LocalHeaderSize returns the encoded size of a local header for path.
func LocalHeaderSize(path string) int {
	return 4 + 1 + 2 + len(path)
}

// AppendLocalHeader appends an entry's local header to buf.
func AppendLocalHeader(buf []byte, path string, method arctype.Method) []byte {
	buf = append(buf, localMagic[:]...)
	buf = append(buf, byte(method))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(path))) //nolint:gosec // path length validated by builder
	buf = append(buf, path...)
	return buf
}

// CheckLocalHeader verifies that b begins with a local header matching the
// directory record e. Used as a structural cross-check during trailer
// validation.
func CheckLocalHeader(b []byte, e *arctype.Entry) error {
	if len(b) < 4+1+2 {
		return fmt.Errorf("local header truncated: %d bytes", len(b))
	}
	if [4]byte(b[:4]) != localMagic {
		return fmt.Errorf("bad local header magic %x", b[:4])
	}
	if arctype.Method(b[4]) != e.Method {
		return fmt.Errorf("local header method %d does not match directory", b[4])
	}
	pathLen := int(binary.LittleEndian.Uint16(b[5:7]))
	if pathLen != len(e.Path) || len(b) < 7+pathLen {
		return fmt.Errorf("local header path length %d does not match directory", pathLen)
	}
	if string(b[7:7+pathLen]) != e.Path {
		return fmt.Errorf("local header path %q does not match directory", b[7:7+pathLen])
	}
	return nil
}

// AppendDirEntry appends one directory record to buf.
func AppendDirEntry(buf []byte, e *arctype.Entry) ([]byte, error) {
	if len(e.Path) == 0 || len(e.Path) > MaxPath {
		return nil, fmt.Errorf("invalid path length %d", len(e.Path))
	}
	if len(e.Hash) != HashSize {
		return nil, fmt.Errorf("invalid hash length %d for %s", len(e.Hash), e.Path)
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Path))) //nolint:gosec // bounds checked above
	buf = append(buf, e.Path...)
	buf = binary.LittleEndian.AppendUint64(buf, e.HeaderOffset)
	buf = binary.LittleEndian.AppendUint64(buf, e.DataOffset)
	buf = binary.LittleEndian.AppendUint64(buf, e.DataSize)
	buf = binary.LittleEndian.AppendUint64(buf, e.OriginalSize)
	buf = append(buf, byte(e.Method))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(e.Mode.Perm()))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.ModTime.UnixNano())) //nolint:gosec // wraparound preserved on decode
	buf = append(buf, e.Hash...)
	return buf, nil
}

// DecodeDirectory parses a directory table into entries. count is the entry
// count declared by the summary record; a mismatch with the actual table
// content is an error.
func DecodeDirectory(data []byte, count int) ([]arctype.Entry, error) {
	entries := make([]arctype.Entry, 0, count)
	off := 0
	for off < len(data) {
		if len(entries) >= count {
			return nil, fmt.Errorf("directory holds more than the declared %d entries", count)
		}
		e, n, err := decodeDirEntry(data[off:])
		if err != nil {
			return nil, fmt.Errorf("directory entry %d: %w", len(entries), err)
		}
		entries = append(entries, e)
		off += n
	}
	if len(entries) != count {
		return nil, fmt.Errorf("directory holds %d entries, summary declares %d", len(entries), count)
	}
	return entries, nil
}

func decodeDirEntry(b []byte) (arctype.Entry, int, error) {
	if len(b) < 2 {
		return arctype.Entry{}, 0, fmt.Errorf("truncated record: %d bytes", len(b))
	}
	pathLen := int(binary.LittleEndian.Uint16(b[:2]))
	if pathLen == 0 {
		return arctype.Entry{}, 0, fmt.Errorf("empty path")
	}
	total := 2 + pathLen + dirFixedSize
	if len(b) < total {
		return arctype.Entry{}, 0, fmt.Errorf("truncated record: need %d bytes, have %d", total, len(b))
	}
	path := string(b[2 : 2+pathLen])
	f := b[2+pathLen:]
	method := arctype.Method(f[32])
	if !method.Valid() {
		return arctype.Entry{}, 0, fmt.Errorf("unknown compression method %d", f[32])
	}
	hash := make([]byte, HashSize)
	copy(hash, f[45:45+HashSize])
	e := arctype.Entry{
		Path:         path,
		HeaderOffset: binary.LittleEndian.Uint64(f[0:8]),
		DataOffset:   binary.LittleEndian.Uint64(f[8:16]),
		DataSize:     binary.LittleEndian.Uint64(f[16:24]),
		OriginalSize: binary.LittleEndian.Uint64(f[24:32]),
		Method:       method,
		Mode:         decodeMode(binary.LittleEndian.Uint32(f[33:37])),
		ModTime:      decodeMtime(binary.LittleEndian.Uint64(f[37:45])),
		Hash:         hash,
	}
	return e, total, nil
}

func decodeMode(raw uint32) fs.FileMode {
	return fs.FileMode(raw).Perm()
}

func decodeMtime(raw uint64) time.Time {
	return time.Unix(0, int64(raw)) //nolint:gosec // inverse of the encoding conversion
}
