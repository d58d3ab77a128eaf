package file

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"time"

	"github.com/meigma/payload/internal/pathutil"
	"github.com/meigma/payload/internal/sizing"
)

// File streams one entry's uncompressed content, hashing as it goes. The
// recorded checksum is compared when the stream is exhausted; with
// verifyOnClose set, Close drains whatever the caller did not read so the
// comparison always runs.
type File struct {
	reader        *Reader
	entry         Entry
	verifyOnClose bool

	rd      io.Reader
	release func()
	digest  hash.Hash
	left    uint64

	opened   bool
	openErr  error
	checked  bool
	checkErr error
}

// Interface compliance.
var _ fs.File = (*File)(nil)

// OpenFile creates a File over entry. No bytes are read until the first
// Read call.
func (r *Reader) OpenFile(entry *Entry, verifyOnClose bool) *File {
	return &File{reader: r, entry: *entry, verifyOnClose: verifyOnClose}
}

func (f *File) ensureOpen() error {
	if f.opened {
		return f.openErr
	}
	f.opened = true

	if err := validateEntry(&f.entry, f.reader.source.Size(), f.reader.maxFileSize); err != nil {
		f.openErr = fmt.Errorf("read %s: %w", f.entry.Path, err)
		return f.openErr
	}
	section, err := f.reader.sectionReader(&f.entry)
	if err != nil {
		f.openErr = fmt.Errorf("read %s: %w", f.entry.Path, err)
		return f.openErr
	}
	rd, release, err := f.reader.pool.Get(f.entry.Method, section)
	if err != nil {
		f.openErr = fmt.Errorf("read %s: %w", f.entry.Path, err)
		return f.openErr
	}

	f.rd = rd
	f.release = release
	f.digest = sha256.New()
	f.left = f.entry.OriginalSize
	return nil
}

// finish compares the accumulated hash against the entry's checksum. The
// result is sticky: every read past end-of-stream reports the same outcome.
func (f *File) finish() error {
	if !f.checked {
		f.checked = true
		if !bytes.Equal(f.digest.Sum(nil), f.entry.Hash) {
			f.checkErr = fmt.Errorf("read %s: %w", f.entry.Path, ErrChecksumMismatch)
		}
	}
	return f.checkErr
}

// Read implements io.Reader. The checksum verdict is delivered with the
// final read: a mismatch replaces io.EOF.
func (f *File) Read(p []byte) (int, error) {
	if err := f.ensureOpen(); err != nil {
		return 0, err
	}
	if f.checked && f.checkErr != nil {
		return 0, f.checkErr
	}
	if len(p) == 0 {
		return 0, nil
	}

	if f.left == 0 {
		// The declared size is spent; the stream must end here too.
		var extra [1]byte
		n, err := f.rd.Read(extra[:])
		switch {
		case n > 0:
			return 0, fmt.Errorf("read %s: %w", f.entry.Path, ErrSizeOverflow)
		case err == io.EOF:
			if verr := f.finish(); verr != nil {
				return 0, verr
			}
			return 0, io.EOF
		default:
			return 0, err
		}
	}

	if uint64(len(p)) > f.left {
		p = p[:f.left]
	}
	n, err := f.rd.Read(p)
	if n > 0 {
		_, _ = f.digest.Write(p[:n]) //nolint:errcheck // hash writes never fail
		f.left -= uint64(n)
	}
	if err == io.EOF {
		if f.left != 0 {
			return n, fmt.Errorf("read %s: %w: unexpected end of stream", f.entry.Path, ErrDecompression)
		}
		if verr := f.finish(); verr != nil {
			return n, verr
		}
		return n, io.EOF
	}
	return n, err
}

// ReadAt serves random access for stored entries straight from the source.
// Compressed entries are sequential only.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if err := f.ensureOpen(); err != nil {
		return 0, err
	}
	if f.entry.Method != MethodStore {
		return 0, fmt.Errorf("read at %s: entry is compressed", f.entry.Path)
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}

	size, err := sizing.ToInt64(f.entry.OriginalSize, ErrSizeOverflow)
	if err != nil {
		return 0, err
	}
	if off >= size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if rest := size - off; rest < want {
		want = rest
	}

	base, err := sizing.ToInt64(f.entry.DataOffset, ErrSizeOverflow)
	if err != nil {
		return 0, err
	}
	n, err := f.reader.source.ReadAt(p[:want], base+off)
	if err == io.EOF && int64(n) == want {
		err = nil
	}
	if err == nil && want < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}

// Stat returns file info.
func (f *File) Stat() (fs.FileInfo, error) {
	return NewInfo(&f.entry, pathutil.Base(f.entry.Path))
}

// Close releases the decompressor. With verifyOnClose set it first drains
// the rest of the stream so the checksum comparison always runs.
func (f *File) Close() error {
	if err := f.ensureOpen(); err != nil {
		return err
	}
	defer func() {
		if f.release != nil {
			f.release()
			f.release = nil
		}
	}()

	if f.checked {
		return f.checkErr
	}
	if !f.verifyOnClose {
		return nil
	}
	if _, err := io.Copy(io.Discard, f); err != nil {
		return err
	}
	return f.checkErr
}

// Info implements fs.FileInfo for regular files.
type Info struct {
	entry Entry
	name  string
	size  int64
}

// NewInfo creates an Info from an entry.
func NewInfo(entry *Entry, name string) (*Info, error) {
	size, err := sizing.ToInt64(entry.OriginalSize, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	return &Info{entry: *entry, name: name, size: size}, nil
}

func (fi *Info) Name() string       { return fi.name }
func (fi *Info) Size() int64        { return fi.size }
func (fi *Info) Mode() fs.FileMode  { return fi.entry.Mode }
func (fi *Info) ModTime() time.Time { return fi.entry.ModTime }
func (fi *Info) IsDir() bool        { return false }
func (fi *Info) Sys() any           { return nil }

// DirInfo implements fs.FileInfo for synthetic directories.
type DirInfo struct {
	name string
}

// NewDirInfo creates a DirInfo with the given name.
func NewDirInfo(name string) *DirInfo {
	return &DirInfo{name: name}
}

func (di *DirInfo) Name() string       { return di.name }
func (di *DirInfo) Size() int64        { return 0 }
func (di *DirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o755 }
func (di *DirInfo) ModTime() time.Time { return time.Time{} }
func (di *DirInfo) IsDir() bool        { return true }
func (di *DirInfo) Sys() any           { return nil }

// DirEntry implements fs.DirEntry by wrapping fs.FileInfo.
type DirEntry struct {
	info    fs.FileInfo
	infoErr error
}

// NewDirEntry creates a DirEntry wrapping the given FileInfo.
func NewDirEntry(info fs.FileInfo, err error) *DirEntry {
	return &DirEntry{info: info, infoErr: err}
}

func (de *DirEntry) Name() string               { return de.info.Name() }
func (de *DirEntry) IsDir() bool                { return de.info.IsDir() }
func (de *DirEntry) Type() fs.FileMode          { return de.info.Mode().Type() }
func (de *DirEntry) Info() (fs.FileInfo, error) { return de.info, de.infoErr }
