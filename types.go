package payload

import (
	"github.com/opencontainers/go-digest"

	"github.com/meigma/payload/internal/arctype"
)

// Re-export types from internal/arctype for the public API.
type (
	// Entry represents a file in the archive.
	Entry = arctype.Entry

	// Method identifies the compression algorithm used for an entry.
	Method = arctype.Method
)

// Re-export compression method constants.
const (
	MethodStore   = arctype.MethodStore
	MethodDeflate = arctype.MethodDeflate
	MethodZstd    = arctype.MethodZstd
)

// EntryDigest returns the entry's content hash as a digest string
// (e.g., "sha256:..."). Useful for stable cache keys and diagnostics.
func EntryDigest(e *Entry) digest.Digest {
	return digest.NewDigestFromBytes(digest.SHA256, e.Hash)
}
