package payload

import (
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/meigma/payload/internal/arctype"
	"github.com/meigma/payload/internal/format"
	"github.com/meigma/payload/internal/pathutil"
)

// Compression level bounds for Build. Level 0 stores entries uncompressed;
// MaxCompressionLevel is the strongest setting.
const (
	MinCompressionLevel     = 0
	MaxCompressionLevel     = 9
	DefaultCompressionLevel = 6
)

// BuildOption configures a Build or BuildFile call.
type BuildOption func(*buildConfig)

type buildConfig struct {
	level      int
	method     Method
	prefix     string
	comment    string
	maxEntries int
	logger     *slog.Logger
}

// BuildWithLevel sets the compression level, 0 (store) through 9 (strongest).
func BuildWithLevel(level int) BuildOption {
	return func(c *buildConfig) {
		c.level = level
	}
}

// BuildWithMethod sets the compression method used for entries.
// The default is MethodDeflate; level 0 always means MethodStore.
func BuildWithMethod(method Method) BuildOption {
	return func(c *buildConfig) {
		c.method = method
	}
}

// BuildWithPrefix stores every entry under the given logical root name,
// e.g. prefix "lib" maps the source file "init.ext" to "lib/init.ext".
func BuildWithPrefix(prefix string) BuildOption {
	return func(c *buildConfig) {
		c.prefix = prefix
	}
}

// BuildWithComment attaches a comment after the summary record.
// Comments longer than the format maximum fail the build.
func BuildWithComment(comment string) BuildOption {
	return func(c *buildConfig) {
		c.comment = comment
	}
}

// BuildWithMaxEntries lowers the entry-count limit below the format maximum.
// Values <= 0 or above the format maximum use the format maximum.
func BuildWithMaxEntries(n int) BuildOption {
	return func(c *buildConfig) {
		if n <= 0 || n > format.MaxEntries {
			n = format.MaxEntries
		}
		c.maxEntries = n
	}
}

// BuildWithLogger sets the logger used for build diagnostics.
// By default logs are discarded.
func BuildWithLogger(logger *slog.Logger) BuildOption {
	return func(c *buildConfig) {
		c.logger = logger
	}
}

func (c *buildConfig) validate() error {
	if c.level < MinCompressionLevel || c.level > MaxCompressionLevel {
		return fmt.Errorf("compression level %d out of range %d-%d", c.level, MinCompressionLevel, MaxCompressionLevel)
	}
	if !c.method.Valid() {
		return fmt.Errorf("unknown compression method: %d", c.method)
	}
	if len(c.comment) > format.MaxComment {
		return fmt.Errorf("comment length %d exceeds maximum %d", len(c.comment), format.MaxComment)
	}
	if c.prefix != "" && c.prefix != "." {
		if !fs.ValidPath(c.prefix) || pathutil.HasEscape(c.prefix) {
			return fmt.Errorf("%w: invalid prefix %q", arctype.ErrPathEscape, c.prefix)
		}
	}
	return nil
}

// effectiveMethod resolves the method actually used for entry content:
// level 0 always stores.
func (c *buildConfig) effectiveMethod() Method {
	if c.level == MinCompressionLevel {
		return MethodStore
	}
	return c.method
}
