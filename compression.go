package mcap

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// This file is the compression adapter registry (spec component D):
// pluggable compress/decompress pairs keyed by CompressionFormat, so the
// writer and readers never import zstd or lz4 directly. New formats register
// themselves here rather than being wired into the writer/reader bodies.

// CompressionLevel selects a speed/ratio tradeoff. Only the named constants
// are supported; arbitrary values fall back to CompressionDefault.
type CompressionLevel int

const (
	CompressionFastest CompressionLevel = -20
	CompressionFast    CompressionLevel = -10
	CompressionDefault CompressionLevel = 0
	CompressionSlow    CompressionLevel = 10
	CompressionSlowest CompressionLevel = 20
)

// CompressionLevelFromString parses the level names accepted in
// WriterOptions; unrecognized names fall back to CompressionDefault.
func CompressionLevelFromString(level string) CompressionLevel {
	switch level {
	case "fastest":
		return CompressionFastest
	case "fast":
		return CompressionFast
	case "slow":
		return CompressionSlow
	case "slowest":
		return CompressionSlowest
	default:
		return CompressionDefault
	}
}

func (c CompressionLevel) lz4Level() lz4.CompressionLevel {
	switch c {
	case CompressionFastest:
		return lz4.Fast
	case CompressionFast:
		return lz4.Level3
	case CompressionSlow:
		return lz4.Level7
	case CompressionSlowest:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func (c CompressionLevel) zstdLevel() zstd.EncoderLevel {
	switch c {
	case CompressionFastest, CompressionFast:
		return zstd.SpeedFastest
	case CompressionSlow:
		return zstd.SpeedBetterCompression
	case CompressionSlowest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// compressor is a resettable, one-chunk-at-a-time compressing writer.
type compressor interface {
	resettableWriteCloser
}

// decompressor resets to decode a fresh compressed stream. Implementations
// may keep internal buffers alive across chunks to amortize allocation.
type decompressor interface {
	io.Reader
	Reset(io.Reader) error
}

// CompressionCodec builds the compressor/decompressor pair for one
// CompressionFormat. Custom formats register one via RegisterCompression.
type CompressionCodec struct {
	NewCompressor   func(w io.Writer, level CompressionLevel) (compressor, error)
	NewDecompressor func() decompressor
}

var compressionRegistry = map[CompressionFormat]CompressionCodec{
	CompressionNone: {
		NewCompressor: func(w io.Writer, _ CompressionLevel) (compressor, error) {
			return &bufCloser{w: w}, nil
		},
		NewDecompressor: func() decompressor { return &identityDecompressor{} },
	},
	CompressionLZ4: {
		NewCompressor: func(w io.Writer, level CompressionLevel) (compressor, error) {
			zw := lz4.NewWriter(w)
			if err := zw.Apply(lz4.CompressionLevelOption(level.lz4Level())); err != nil {
				return nil, fmt.Errorf("mcap: configure lz4 writer: %w", err)
			}
			return &lz4Compressor{zw}, nil
		},
		NewDecompressor: func() decompressor { return &lz4Decompressor{r: lz4.NewReader(nil)} },
	},
	CompressionZSTD: {
		NewCompressor: func(w io.Writer, level CompressionLevel) (compressor, error) {
			zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level.zstdLevel()))
			if err != nil {
				return nil, fmt.Errorf("mcap: build zstd writer: %w", err)
			}
			return zw, nil
		},
		NewDecompressor: func() decompressor { return &zstdDecompressor{} },
	},
}

// RegisterCompression installs or overrides the codec used for format. It is
// not safe to call concurrently with reads or writes.
func RegisterCompression(format CompressionFormat, codec CompressionCodec) {
	compressionRegistry[format] = codec
}

func newCompressorFor(format CompressionFormat, w io.Writer, level CompressionLevel) (compressor, error) {
	codec, ok := compressionRegistry[format]
	if !ok {
		return nil, &UnsupportedCompressionError{Format: string(format)}
	}
	return codec.NewCompressor(w, level)
}

func newDecompressorFor(format CompressionFormat) (decompressor, error) {
	codec, ok := compressionRegistry[format]
	if !ok {
		return nil, &UnsupportedCompressionError{Format: string(format)}
	}
	return codec.NewDecompressor(), nil
}

// identityDecompressor passes bytes through unchanged, for CompressionNone.
type identityDecompressor struct {
	r io.Reader
}

func (d *identityDecompressor) Read(p []byte) (int, error) { return d.r.Read(p) }
func (d *identityDecompressor) Reset(r io.Reader) error     { d.r = r; return nil }

// lz4Compressor adapts *lz4.Writer to the compressor interface; lz4.Writer's
// Reset takes only an io.Writer, matching resettableWriteCloser directly, so
// this wrapper exists solely to carry the concrete type through an
// interface value cleanly.
type lz4Compressor struct {
	*lz4.Writer
}

func (c *lz4Compressor) Reset(w io.Writer) { c.Writer.Reset(w) }

// lz4Decompressor reuses one *lz4.Reader across chunks.
type lz4Decompressor struct {
	r *lz4.Reader
}

func (d *lz4Decompressor) Read(p []byte) (int, error) { return d.r.Read(p) }

func (d *lz4Decompressor) Reset(r io.Reader) error {
	d.r.Reset(r)
	return nil
}

// zstdDecompressor lazily builds its *zstd.Decoder on first use, since
// zstd.NewReader needs an initial source and has no zero-argument form.
type zstdDecompressor struct {
	dec *zstd.Decoder
}

func (d *zstdDecompressor) Read(p []byte) (int, error) {
	if d.dec == nil {
		return 0, io.EOF
	}
	return d.dec.Read(p)
}

func (d *zstdDecompressor) Reset(r io.Reader) error {
	if d.dec == nil {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("mcap: build zstd reader: %w", err)
		}
		d.dec = dec
		return nil
	}
	return d.dec.Reset(r)
}

// decompressAll fully decompresses src (whose uncompressed length is known
// to be uncompressedSize) using format, enforcing maxSize as a guard against
// a corrupt or adversarial size field driving unbounded allocation. A
// maxSize of 0 means unbounded.
func decompressAll(format CompressionFormat, src []byte, uncompressedSize uint64, maxSize uint64) ([]byte, error) {
	if format == CompressionNone {
		return src, nil
	}
	if maxSize > 0 && uncompressedSize > maxSize {
		return nil, fmt.Errorf("%w: %d exceeds limit %d", ErrChunkTooLarge, uncompressedSize, maxSize)
	}
	dec, err := newDecompressorFor(format)
	if err != nil {
		return nil, err
	}
	if err := dec.Reset(bytes.NewReader(src)); err != nil {
		return nil, err
	}
	if uncompressedSize == 0 {
		return nil, nil
	}
	out, err := safeMakeByteSlice(uncompressedSize)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(dec, out); err != nil {
		return nil, fmt.Errorf("mcap: decompress chunk: %w", err)
	}
	return out, nil
}
