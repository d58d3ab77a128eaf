package format

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/payload/internal/arctype"
)

func testEntry(path string) arctype.Entry {
	hash := bytes.Repeat([]byte{0xab}, HashSize)
	return arctype.Entry{
		Path:         path,
		HeaderOffset: 0,
		DataOffset:   uint64(LocalHeaderSize(path)), //nolint:gosec // test paths are short
		DataSize:     11,
		OriginalSize: 11,
		Hash:         hash,
		Mode:         0o644,
		ModTime:      time.Unix(1724580000, 123456789),
		Method:       arctype.MethodStore,
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	s := Summary{
		Version:     Version,
		CommentLen:  12,
		EntryCount:  3,
		DirOffset:   1024,
		DirSize:     256,
		DirChecksum: 0xdeadbeefcafe,
		ArchiveSize: 1024 + 256 + SummarySize,
	}

	buf := AppendSummary(nil, &s)
	require.Len(t, buf, SummarySize)

	got, err := ParseSummary(buf)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestParseSummaryErrors(t *testing.T) {
	valid := AppendSummary(nil, &Summary{Version: Version})

	t.Run("truncated", func(t *testing.T) {
		_, err := ParseSummary(valid[:SummarySize-1])
		assert.Error(t, err)
	})

	t.Run("bad signature", func(t *testing.T) {
		bad := append([]byte{}, valid...)
		bad[3] ^= 0xFF
		_, err := ParseSummary(bad)
		assert.Error(t, err)
	})

	t.Run("unsupported version", func(t *testing.T) {
		bad := AppendSummary(nil, &Summary{Version: Version + 1})
		_, err := ParseSummary(bad)
		assert.Error(t, err)
	})
}

func TestScanSummary(t *testing.T) {
	record := func(commentLen uint16) []byte {
		return AppendSummary(nil, &Summary{Version: Version, CommentLen: commentLen})
	}

	t.Run("record at end", func(t *testing.T) {
		tail := append(bytes.Repeat([]byte{0x90}, 100), record(0)...)
		s, pos, ok := ScanSummary(tail)
		require.True(t, ok)
		assert.Equal(t, 100, pos)
		assert.Equal(t, uint16(0), s.CommentLen)
	})

	t.Run("record followed by its comment", func(t *testing.T) {
		comment := []byte("hello world")
		tail := append(record(uint16(len(comment))), comment...)
		s, pos, ok := ScanSummary(tail)
		require.True(t, ok)
		assert.Equal(t, 0, pos)
		assert.Equal(t, uint16(len(comment)), s.CommentLen)
	})

	t.Run("record followed by unclaimed garbage", func(t *testing.T) {
		tail := append(record(0), []byte("trailing junk")...)
		_, _, ok := ScanSummary(tail)
		assert.False(t, ok)
	})

	t.Run("decoy record before the real one", func(t *testing.T) {
		// The decoy parses as a valid record but does not end at EOF,
		// so only the real trailing record may be accepted.
		decoy := record(0)
		real := AppendSummary(nil, &Summary{Version: Version, EntryCount: 7})
		tail := append(append(decoy, bytes.Repeat([]byte{0x00}, 32)...), real...)
		s, pos, ok := ScanSummary(tail)
		require.True(t, ok)
		assert.Equal(t, len(decoy)+32, pos)
		assert.Equal(t, uint32(7), s.EntryCount)
	})

	t.Run("signature bytes alone", func(t *testing.T) {
		tail := append([]byte("PYL\x1a"), bytes.Repeat([]byte{0x11}, 60)...)
		_, _, ok := ScanSummary(tail)
		assert.False(t, ok)
	})

	t.Run("window shorter than a record", func(t *testing.T) {
		_, _, ok := ScanSummary([]byte{1, 2, 3})
		assert.False(t, ok)
	})
}

func TestLocalHeaderRoundTrip(t *testing.T) {
	e := testEntry("lib/init.ext")
	buf := AppendLocalHeader(nil, e.Path, e.Method)
	require.Len(t, buf, LocalHeaderSize(e.Path))
	require.NoError(t, CheckLocalHeader(buf, &e))

	t.Run("method mismatch", func(t *testing.T) {
		other := e
		other.Method = arctype.MethodZstd
		assert.Error(t, CheckLocalHeader(buf, &other))
	})

	t.Run("path mismatch", func(t *testing.T) {
		other := e
		other.Path = "lib/init.bak"
		assert.Error(t, CheckLocalHeader(buf, &other))
	})

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte{}, buf...)
		bad[0] ^= 0xFF
		assert.Error(t, CheckLocalHeader(bad, &e))
	})

	t.Run("truncated", func(t *testing.T) {
		assert.Error(t, CheckLocalHeader(buf[:5], &e))
	})
}

func TestDirEntryRoundTrip(t *testing.T) {
	entries := []arctype.Entry{
		testEntry("a/b.txt"),
		testEntry("a/c.txt"),
		testEntry("d.txt"),
	}
	entries[1].Method = arctype.MethodDeflate
	entries[1].DataSize = 5
	entries[2].Method = arctype.MethodZstd
	entries[2].DataSize = 7

	var buf []byte
	var err error
	for i := range entries {
		buf, err = AppendDirEntry(buf, &entries[i])
		require.NoError(t, err)
	}

	decoded, err := DecodeDirectory(buf, len(entries))
	require.NoError(t, err)
	require.Len(t, decoded, len(entries))
	for i := range entries {
		assert.Equal(t, entries[i].Path, decoded[i].Path)
		assert.Equal(t, entries[i].DataOffset, decoded[i].DataOffset)
		assert.Equal(t, entries[i].DataSize, decoded[i].DataSize)
		assert.Equal(t, entries[i].OriginalSize, decoded[i].OriginalSize)
		assert.Equal(t, entries[i].Method, decoded[i].Method)
		assert.Equal(t, entries[i].Mode.Perm(), decoded[i].Mode)
		assert.True(t, entries[i].ModTime.Equal(decoded[i].ModTime))
		assert.Equal(t, entries[i].Hash, decoded[i].Hash)
	}
}

func TestDecodeDirectoryErrors(t *testing.T) {
	e := testEntry("x.txt")
	buf, err := AppendDirEntry(nil, &e)
	require.NoError(t, err)

	t.Run("count too low", func(t *testing.T) {
		double := append(append([]byte{}, buf...), buf...)
		_, err := DecodeDirectory(double, 1)
		assert.Error(t, err)
	})

	t.Run("count too high", func(t *testing.T) {
		_, err := DecodeDirectory(buf, 2)
		assert.Error(t, err)
	})

	t.Run("truncated record", func(t *testing.T) {
		_, err := DecodeDirectory(buf[:len(buf)-1], 1)
		assert.Error(t, err)
	})

	t.Run("unknown method", func(t *testing.T) {
		bad := append([]byte{}, buf...)
		bad[2+len(e.Path)+32] = 0xEE
		_, err := DecodeDirectory(bad, 1)
		assert.Error(t, err)
	})
}

func TestAppendDirEntryErrors(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		e := testEntry("")
		_, err := AppendDirEntry(nil, &e)
		assert.Error(t, err)
	})

	t.Run("bad hash length", func(t *testing.T) {
		e := testEntry("x.txt")
		e.Hash = e.Hash[:16]
		_, err := AppendDirEntry(nil, &e)
		assert.Error(t, err)
	})
}
