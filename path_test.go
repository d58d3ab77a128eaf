package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"leading slash", "/lib/init.ext", "lib/init.ext"},
		{"trailing slash", "lib/init.ext/", "lib/init.ext"},
		{"both slashes", "/lib/init.ext/", "lib/init.ext"},
		{"empty string", "", "."},
		{"root slash", "/", "."},
		{"dot", ".", "."},
		{"simple", "foo", "foo"},
		{"nested path", "/foo/bar/baz", "foo/bar/baz"},
		// Multiple slashes collapse
		{"multiple leading slashes", "///lib/x", "lib/x"},
		{"internal double slashes", "lib//x", "lib/x"},
		{"only slashes", "///", "."},
		// Dot and dotdot elements resolve
		{"dot in middle", "a/./b", "a/b"},
		{"dotdot in middle", "a/../b", "b"},
		{"dotdot collapses to root", "a/..", "."},
		{"dotdot with slashes", "//a//..//b//", "b"},
		// Escapes above the root are preserved for rejection downstream
		{"dotdot at start", "../etc", "../etc"},
		{"dotdot only", "..", ".."},
		{"double escape", "a/../../b", "../b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizePath(tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}
