package payload

import (
	gopath "path"
	"strings"
)

// NormalizePath converts a user-provided path to the logical slash form used
// to address archive entries.
//
// It performs the following transformations:
//   - Strips leading and trailing slashes: "/lib/init.ext" → "lib/init.ext"
//   - Collapses consecutive slashes: "lib//x" → "lib/x"
//   - Resolves "." and ".." elements: "lib/../etc/x" → "etc/x"
//   - Converts empty string and "/" to the root indicator "."
//
// A ".." that would climb above the logical root is preserved in the result
// ("../x" stays "../x"); such paths fail fs.ValidPath and are rejected by
// Archive and Resolver operations with ErrPathEscape semantics.
//
// Logical paths are case-sensitive on every platform.
func NormalizePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "."
	}
	return gopath.Clean(p)
}
