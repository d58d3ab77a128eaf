package arctype

// Method identifies the compression algorithm used for an entry.
type Method uint8

const (
	MethodStore Method = iota
	MethodDeflate
	MethodZstd
)

// String returns the human-readable name of the compression method.
func (m Method) String() string {
	switch m {
	case MethodStore:
		return "store"
	case MethodDeflate:
		return "deflate"
	case MethodZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Valid reports whether m is a known compression method.
func (m Method) Valid() bool {
	return m <= MethodZstd
}
