package payload

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/payload/internal/format"
	"github.com/meigma/payload/internal/testutil"
)

func TestLoadBytesPrefixIndependence(t *testing.T) {
	// The same archive bytes must load unchanged behind native-code
	// prefixes of any length, including one that embeds the summary
	// record signature as a decoy.
	prefixes := map[string][]byte{
		"empty":         nil,
		"one byte":      {0x7f},
		"elf-ish":       append([]byte{0x7f, 'E', 'L', 'F'}, bytes.Repeat([]byte{0x90}, 4092)...),
		"decoy sig":     append([]byte("PYL\x1a"), bytes.Repeat([]byte{0x42}, 512)...),
		"all sig bytes": bytes.Repeat([]byte("PYL\x1a"), 64),
	}

	archive := buildArchive(t, testTree)
	for name, prefix := range prefixes {
		t.Run(name, func(t *testing.T) {
			image := append(append([]byte{}, prefix...), archive...)
			arc, err := LoadBytes(image)
			require.NoError(t, err)

			assert.Equal(t, int64(len(prefix)), arc.PrefixLen())
			assert.Equal(t, len(testTree), arc.Len())
			got, err := arc.ReadFile("lib/init.ext")
			require.NoError(t, err)
			assert.Equal(t, testTree["lib/init.ext"], string(got))
		})
	}
}

func TestLoadBytesNoTrailer(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte("tiny")},
		{"plain binary", bytes.Repeat([]byte{0xcc}, 200000)},
		{"signature without record", append(bytes.Repeat([]byte{0x00}, 100), "PYL\x1a"...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes(tt.data)
			assert.ErrorIs(t, err, ErrNoTrailer)
		})
	}
}

func TestLoadBytesTrailingGarbage(t *testing.T) {
	// Bytes appended after the archive break the comment-to-EOF
	// invariant; the image is treated as unpackaged, not corrupt.
	image := buildImage(t, testTree, nil)
	image = append(image, []byte("appended later")...)

	_, err := LoadBytes(image)
	assert.ErrorIs(t, err, ErrNoTrailer)
}

func TestLoadBytesTruncated(t *testing.T) {
	image := buildImage(t, testTree, nil)

	_, err := LoadBytes(image[:len(image)-1])
	assert.ErrorIs(t, err, ErrNoTrailer)
}

func TestLoadBytesCorruptTrailer(t *testing.T) {
	// Field offsets within the summary record. Flipping any of these
	// keeps the record discoverable but fails deeper validation, which
	// must surface as corruption rather than silent absence.
	fields := map[string]int{
		"entry count":  8,
		"dir offset":   12,
		"dir size":     20,
		"dir checksum": 28,
		"archive size": 36,
	}

	pristine := buildImage(t, testTree, nil)
	recordStart := len(pristine) - format.SummarySize

	for name, off := range fields {
		t.Run(name, func(t *testing.T) {
			image := append([]byte{}, pristine...)
			image[recordStart+off] ^= 0xFF
			_, err := LoadBytes(image)
			assert.ErrorIs(t, err, ErrCorruptTrailer)
		})
	}

	t.Run("directory byte", func(t *testing.T) {
		image := append([]byte{}, pristine...)
		image[recordStart-1] ^= 0xFF
		_, err := LoadBytes(image)
		assert.ErrorIs(t, err, ErrCorruptTrailer)
	})

	t.Run("signature byte", func(t *testing.T) {
		// Destroying the signature makes the trailer undiscoverable.
		image := append([]byte{}, pristine...)
		image[recordStart] ^= 0xFF
		_, err := LoadBytes(image)
		assert.ErrorIs(t, err, ErrNoTrailer)
	})
}

func TestLoadBytesDecoyRecordAsPrefix(t *testing.T) {
	// A full, well-formed summary record sitting in the native-code
	// prefix must lose to the real record at end-of-file.
	decoy := format.AppendSummary(nil, &format.Summary{
		Version:    format.Version,
		EntryCount: 99,
	})
	arc, err := LoadBytes(buildImage(t, testTree, decoy))
	require.NoError(t, err)
	assert.Equal(t, int64(len(decoy)), arc.PrefixLen())
	assert.Equal(t, len(testTree), arc.Len())
}

func TestLoadBytesComment(t *testing.T) {
	arc := loadImage(t, testTree, []byte{0x7f, 0x45},
		BuildWithComment("payload v1 build 42"))
	assert.Equal(t, "payload v1 build 42", arc.Comment())

	got, err := arc.ReadFile("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, testTree["readme.txt"], string(got))
}

func TestLoadBytesEmptyArchive(t *testing.T) {
	arc := loadImage(t, map[string]string{}, bytes.Repeat([]byte{0x01}, 64))
	assert.Equal(t, 0, arc.Len())
	assert.Equal(t, int64(64), arc.PrefixLen())
	assert.False(t, arc.Exists("anything"))
}

func TestLoadFile(t *testing.T) {
	src := testutil.WriteTree(t, map[string]string{"lib/init.ext": "from disk"})
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "lib.payload")
	require.NoError(t, BuildFile(context.Background(), src, archivePath))

	// Concatenate a fake native binary and the archive, cat-style.
	archive, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	imagePath := filepath.Join(dir, "bundled")
	image := append(bytes.Repeat([]byte{0x7f}, 1000), archive...)
	require.NoError(t, os.WriteFile(imagePath, image, 0o755))

	arc, err := LoadFile(imagePath)
	require.NoError(t, err)
	defer arc.Close()

	assert.Equal(t, int64(1000), arc.PrefixLen())
	got, err := arc.ReadFile("lib/init.ext")
	require.NoError(t, err)
	assert.Equal(t, "from disk", string(got))

	require.NoError(t, arc.Close())
}

func TestLoadFileNotPackaged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xee}, 512), 0o755))

	_, err := LoadFile(path)
	require.ErrorIs(t, err, ErrNoTrailer)
	assert.Contains(t, err.Error(), path)
}

func TestLoadBytesRejectsEscapingEntryPath(t *testing.T) {
	// Hand-assemble a directory whose entry path climbs out of the root.
	// The builder can never produce this, so it must be corruption.
	image := buildImage(t, map[string]string{"ok.txt": "fine"}, nil)
	bad := bytes.Replace(image, []byte("ok.txt"), []byte("../etc"), 2)
	require.Len(t, bad, len(image), "patched image must not change size")

	_, err := LoadBytes(fixupDirChecksum(t, bad))
	assert.ErrorIs(t, err, ErrCorruptTrailer)
}

// fixupDirChecksum recomputes the directory checksum of an image whose
// directory bytes were patched, so deeper validation is reached.
func fixupDirChecksum(t *testing.T, image []byte) []byte {
	t.Helper()
	recordStart := len(image) - format.SummarySize
	s, err := format.ParseSummary(image[recordStart:])
	require.NoError(t, err)

	prefix := len(image) - int(s.ArchiveSize) //nolint:gosec // test images are small
	dir := image[prefix+int(s.DirOffset) : prefix+int(s.DirOffset)+int(s.DirSize)]
	s.DirChecksum = format.DirChecksum(dir)

	fixed := format.AppendSummary(image[:recordStart], &s)
	require.Len(t, fixed, len(image))
	return fixed
}

func TestLoadBytesAllLevels(t *testing.T) {
	for _, method := range []Method{MethodDeflate, MethodZstd} {
		t.Run(fmt.Sprint(method), func(t *testing.T) {
			arc := loadImage(t, testTree, []byte("prefix"),
				BuildWithLevel(9), BuildWithMethod(method))
			for path, content := range testTree {
				got, err := arc.ReadFile(path)
				require.NoError(t, err, path)
				assert.Equal(t, content, string(got), path)
			}
		})
	}
}
