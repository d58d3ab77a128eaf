package payload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	gopath "path"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/payload/internal/arctype"
	"github.com/meigma/payload/internal/format"
	"github.com/meigma/payload/internal/pathutil"
)

// Build writes an archive of the contents of sourceRoot to w.
//
// One entry is written per regular file, keyed by its slash-normalized path
// relative to sourceRoot (optionally under a logical root prefix, see
// BuildWithPrefix). Directories are implicit. Symbolic links are followed,
// including symlinked directories; device files, sockets, and FIFOs abort
// the build with ErrNotRegular.
//
// Entries are written in lexicographic path order, so building the same
// unchanged tree twice produces byte-identical output. Every offset recorded
// in the archive is relative to the archive's own start: the output can be
// appended after a native binary of any length without rebuilding.
//
// Each entry is an independent compression stream; partial reads at runtime
// need no prior context. The context can be used for cancellation.
func Build(ctx context.Context, sourceRoot string, w io.Writer, opts ...BuildOption) error {
	cfg := buildConfig{
		level:      DefaultCompressionLevel,
		method:     MethodDeflate,
		maxEntries: format.MaxEntries,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	b := &builder{cfg: cfg}
	b.log().Info("building archive",
		"dir", sourceRoot,
		"method", cfg.effectiveMethod().String(),
		"level", cfg.level)

	files, err := b.collect(sourceRoot)
	if err != nil {
		return err
	}
	b.log().Debug("source tree enumerated", "file_count", len(files))

	return b.write(ctx, w, files)
}

// BuildFile builds an archive from sourceRoot into outPath.
//
// The archive is written to a temporary file and renamed into place on
// success; a failed build never leaves a partial archive at outPath.
func BuildFile(ctx context.Context, sourceRoot, outPath string, opts ...BuildOption) error {
	dir := filepath.Dir(outPath)
	tmp, err := os.CreateTemp(dir, ".payload-")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := Build(ctx, sourceRoot, tmp, opts...); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("renaming to destination: %w", err)
	}
	success = true
	return nil
}

// sourceFile pairs a logical archive path with the real file backing it.
type sourceFile struct {
	logical string
	real    string
}

// builder holds state for one archive build.
type builder struct {
	cfg buildConfig

	files []sourceFile
	seen  map[string]string // logical path -> real path, for duplicate detection
	stack map[string]bool   // resolved directories on the walk stack, for cycle detection
}

// log returns the logger, falling back to a discard logger if nil.
func (b *builder) log() *slog.Logger {
	if b.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.cfg.logger
}

// collect enumerates the source tree into a sorted file list.
//
// filepath.WalkDir does not descend into symlinked directories, so the walk
// is hand-rolled: symlinks are resolved with os.Stat and symlinked
// directories are entered under their link name, with a stack of resolved
// real paths guarding against cycles.
func (b *builder) collect(sourceRoot string) ([]sourceFile, error) {
	info, err := os.Stat(sourceRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", sourceRoot)
	}

	b.files = b.files[:0]
	b.seen = make(map[string]string)
	b.stack = make(map[string]bool)

	logicalRoot := ""
	if b.cfg.prefix != "" && b.cfg.prefix != "." {
		logicalRoot = b.cfg.prefix
	}
	if err := b.walkDir(sourceRoot, logicalRoot); err != nil {
		return nil, err
	}

	sort.Slice(b.files, func(i, j int) bool {
		return b.files[i].logical < b.files[j].logical
	})
	return b.files, nil
}

func (b *builder) walkDir(realDir, logicalDir string) error {
	resolved, err := filepath.EvalSymlinks(realDir)
	if err != nil {
		return err
	}
	if b.stack[resolved] {
		return fmt.Errorf("symlink cycle through %s", realDir)
	}
	b.stack[resolved] = true
	defer delete(b.stack, resolved)

	dirents, err := os.ReadDir(realDir)
	if err != nil {
		return err
	}
	for _, d := range dirents {
		real := filepath.Join(realDir, d.Name())
		logical := gopath.Join(logicalDir, d.Name())

		t := d.Type()
		switch {
		case t&fs.ModeSymlink != 0:
			info, err := os.Stat(real) // follows the link
			if err != nil {
				return err
			}
			if info.IsDir() {
				if err := b.walkDir(real, logical); err != nil {
					return err
				}
				continue
			}
			if !info.Mode().IsRegular() {
				return fmt.Errorf("%w: %s", arctype.ErrNotRegular, real)
			}
			if err := b.addFile(logical, real); err != nil {
				return err
			}
		case d.IsDir():
			if err := b.walkDir(real, logical); err != nil {
				return err
			}
		case t.IsRegular():
			if err := b.addFile(logical, real); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s", arctype.ErrNotRegular, real)
		}
	}
	return nil
}

func (b *builder) addFile(logical, real string) error {
	if !fs.ValidPath(logical) || pathutil.HasEscape(logical) {
		return fmt.Errorf("%w: %q", arctype.ErrPathEscape, logical)
	}
	if len(logical) > format.MaxPath {
		return fmt.Errorf("%s: path longer than %d bytes", logical, format.MaxPath)
	}
	if prev, ok := b.seen[logical]; ok {
		return fmt.Errorf("%w: %q from both %s and %s", arctype.ErrDuplicatePath, logical, prev, real)
	}
	if len(b.files) >= b.cfg.maxEntries {
		return fmt.Errorf("%w: limit %d", arctype.ErrTooManyEntries, b.cfg.maxEntries)
	}
	b.seen[logical] = real
	b.files = append(b.files, sourceFile{logical: logical, real: real})
	return nil
}

// write emits local headers and entry data, then the directory table and
// summary record. All recorded offsets count bytes from the archive start.
func (b *builder) write(ctx context.Context, w io.Writer, files []sourceFile) error {
	comp, err := newCompressor(b.cfg.effectiveMethod(), b.cfg.level)
	if err != nil {
		return err
	}
	defer comp.close()

	entries := make([]arctype.Entry, 0, len(files))
	var written uint64
	headerBuf := make([]byte, 0, 256)

	for _, sf := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, n, err := b.writeEntry(w, comp, headerBuf, sf, written)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		written += n
	}

	dirBuf := make([]byte, 0, 128*len(entries))
	for i := range entries {
		dirBuf, err = format.AppendDirEntry(dirBuf, &entries[i])
		if err != nil {
			return err
		}
	}
	if _, err := w.Write(dirBuf); err != nil {
		return fmt.Errorf("write directory: %w", err)
	}

	summary := format.Summary{
		Version:     format.Version,
		CommentLen:  uint16(len(b.cfg.comment)), //nolint:gosec // validated against MaxComment
		EntryCount:  uint32(len(entries)),       //nolint:gosec // bounded by maxEntries
		DirOffset:   written,
		DirSize:     uint64(len(dirBuf)),
		DirChecksum: format.DirChecksum(dirBuf),
		ArchiveSize: written + uint64(len(dirBuf)) + format.SummarySize,
	}
	tail := format.AppendSummary(make([]byte, 0, format.SummarySize+len(b.cfg.comment)), &summary)
	tail = append(tail, b.cfg.comment...)
	if _, err := w.Write(tail); err != nil {
		return fmt.Errorf("write summary record: %w", err)
	}

	b.log().Debug("archive written",
		"file_count", len(entries),
		"data_size", written,
		"directory_size", len(dirBuf))
	return nil
}

// writeEntry writes one file's local header and content, returning its
// directory record and the total bytes emitted.
func (b *builder) writeEntry(w io.Writer, comp *compressor, headerBuf []byte, sf sourceFile, offset uint64) (arctype.Entry, uint64, error) {
	f, err := os.Open(sf.real) //nolint:gosec // paths come from walking the caller's source root
	if err != nil {
		return arctype.Entry{}, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return arctype.Entry{}, 0, err
	}
	if !info.Mode().IsRegular() {
		return arctype.Entry{}, 0, fmt.Errorf("%w: %s", arctype.ErrNotRegular, sf.real)
	}

	data, originalSize, hash, method, err := comp.compress(f)
	if err != nil {
		return arctype.Entry{}, 0, fmt.Errorf("compress %s: %w", sf.logical, err)
	}

	header := format.AppendLocalHeader(headerBuf[:0], sf.logical, method)
	if _, err := w.Write(header); err != nil {
		return arctype.Entry{}, 0, fmt.Errorf("write %s: %w", sf.logical, err)
	}
	if _, err := w.Write(data); err != nil {
		return arctype.Entry{}, 0, fmt.Errorf("write %s: %w", sf.logical, err)
	}

	headerSize := uint64(len(header))
	entry := arctype.Entry{
		Path:         sf.logical,
		HeaderOffset: offset,
		DataOffset:   offset + headerSize,
		DataSize:     uint64(len(data)),
		OriginalSize: originalSize,
		Hash:         hash,
		Mode:         info.Mode().Perm(),
		ModTime:      info.ModTime(),
		Method:       method,
	}
	return entry, headerSize + uint64(len(data)), nil
}

// compressor compresses entry content with a reusable encoder.
type compressor struct {
	method arctype.Method
	flateW *flate.Writer
	zstdW  *zstd.Encoder
}

func newCompressor(method arctype.Method, level int) (*compressor, error) {
	c := &compressor{method: method}
	switch method {
	case arctype.MethodStore:
	case arctype.MethodDeflate:
		fw, err := flate.NewWriter(io.Discard, level)
		if err != nil {
			return nil, fmt.Errorf("create deflate encoder: %w", err)
		}
		c.flateW = fw
	case arctype.MethodZstd:
		zw, err := zstd.NewWriter(io.Discard,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zstdLevel(level))),
			zstd.WithEncoderConcurrency(1),
			zstd.WithLowerEncoderMem(true))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		c.zstdW = zw
	default:
		return nil, fmt.Errorf("unknown compression method: %d", method)
	}
	return c, nil
}

// compress reads all of r, hashing the uncompressed bytes. It returns the
// stored form of the content: compressed output, unless the entry is stored
// or compression would not shrink it.
func (c *compressor) compress(r io.Reader) (data []byte, originalSize uint64, hash []byte, method arctype.Method, err error) {
	hasher := sha256.New()
	tee := io.TeeReader(r, hasher)

	var raw []byte
	raw, err = io.ReadAll(tee)
	if err != nil {
		return nil, 0, nil, 0, err
	}
	originalSize = uint64(len(raw))
	hash = hasher.Sum(nil)

	if c.method == arctype.MethodStore || len(raw) == 0 {
		return raw, originalSize, hash, arctype.MethodStore, nil
	}

	compressed, err := c.encode(raw)
	if err != nil {
		return nil, 0, nil, 0, err
	}
	if len(compressed) >= len(raw) {
		// Incompressible content is stored so the archive never grows.
		return raw, originalSize, hash, arctype.MethodStore, nil
	}
	return compressed, originalSize, hash, c.method, nil
}

func (c *compressor) encode(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	switch c.method {
	case arctype.MethodDeflate:
		c.flateW.Reset(&out)
		if _, err := c.flateW.Write(raw); err != nil {
			return nil, err
		}
		if err := c.flateW.Close(); err != nil {
			return nil, err
		}
	case arctype.MethodZstd:
		c.zstdW.Reset(&out)
		if _, err := c.zstdW.Write(raw); err != nil {
			return nil, err
		}
		if err := c.zstdW.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown compression method: %d", c.method)
	}
	return out.Bytes(), nil
}

func (c *compressor) close() {
	// The flate writer is closed per entry in encode and must not be
	// closed again without an intervening Reset; klauspost's writer
	// nil-derefs on a second Close.
	if c.zstdW != nil {
		_ = c.zstdW.Close() //nolint:errcheck // encoder writes to io.Discard here
	}
}

// zstdLevel maps the 0-9 builder scale onto zstd's native 1-22 scale.
func zstdLevel(level int) int {
	if level <= 0 {
		return 1
	}
	return level * 2
}
