package file

import "github.com/meigma/payload/internal/arctype"

// Re-export types from arctype to avoid import changes throughout file.
type (
	Entry  = arctype.Entry
	Method = arctype.Method
)

// Re-export compression method constants.
const (
	MethodStore   = arctype.MethodStore
	MethodDeflate = arctype.MethodDeflate
	MethodZstd    = arctype.MethodZstd
)

// Re-export sentinel errors.
var (
	ErrChecksumMismatch = arctype.ErrChecksumMismatch
	ErrDecompression    = arctype.ErrDecompression
	ErrSizeOverflow     = arctype.ErrSizeOverflow
)
