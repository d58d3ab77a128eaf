package file

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// DecompressPool manages reusable decompressors to reduce allocation
// overhead. Entries are independent streams, so a decompressor can be reset
// onto any entry's section reader.
type DecompressPool struct {
	flatePool        sync.Pool
	zstdPool         sync.Pool
	maxDecoderMemory uint64
}

// NewDecompressPool creates a pool of deflate and zstd decompressors.
// If maxMemory is 0, no memory limit is applied to zstd decoders.
func NewDecompressPool(maxMemory uint64) *DecompressPool {
	p := &DecompressPool{maxDecoderMemory: maxMemory}
	p.flatePool = sync.Pool{
		New: func() any {
			return flate.NewReader(nil)
		},
	}
	p.zstdPool = sync.Pool{
		New: func() any {
			dec, err := p.newZstdDecoder(nil)
			if err != nil {
				return nil
			}
			return dec
		},
	}
	return p
}

// Get returns a reader that decompresses method-encoded content from r.
// The caller must call the returned release function when done. If an error
// is returned, no release function needs to be called.
func (p *DecompressPool) Get(method Method, r io.Reader) (io.Reader, func(), error) {
	switch method {
	case MethodStore:
		return r, func() {}, nil
	case MethodDeflate:
		return p.getFlate(r)
	case MethodZstd:
		return p.getZstd(r)
	default:
		return nil, nil, fmt.Errorf("unknown compression method: %d", method)
	}
}

func (p *DecompressPool) getFlate(r io.Reader) (io.Reader, func(), error) {
	fr, ok := p.flatePool.Get().(io.ReadCloser)
	if !ok || fr == nil {
		fr = flate.NewReader(r)
		return fr, func() { _ = fr.Close() }, nil //nolint:errcheck // close of one-off reader
	}
	resetter, ok := fr.(flate.Resetter)
	if !ok {
		fr = flate.NewReader(r)
		return fr, func() { _ = fr.Close() }, nil //nolint:errcheck // close of one-off reader
	}
	if err := resetter.Reset(r, nil); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	return fr, func() {
		_ = resetter.Reset(nil, nil) //nolint:errcheck // clearing state before pool return
		p.flatePool.Put(fr)
	}, nil
}

func (p *DecompressPool) getZstd(r io.Reader) (io.Reader, func(), error) {
	value := p.zstdPool.Get()
	dec, ok := value.(*zstd.Decoder)
	if !ok || dec == nil {
		newDec, err := p.newZstdDecoder(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
		return newDec, newDec.Close, nil
	}
	if err := dec.Reset(r); err != nil {
		dec.Close()
		newDec, err := p.newZstdDecoder(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
		return newDec, newDec.Close, nil
	}
	return dec, func() {
		_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
		p.zstdPool.Put(dec)
	}, nil
}

func (p *DecompressPool) newZstdDecoder(r io.Reader) (*zstd.Decoder, error) {
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if p.maxDecoderMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(p.maxDecoderMemory))
	}
	return zstd.NewReader(r, opts...)
}
