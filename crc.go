package mcap

import (
	"hash"
	"hash/crc32"
	"io"
)

// This file is the CRC engine (spec component C): IEEE CRC-32 wrappers
// around readers and writers, used for the writer's chunk, data-section and
// summary CRCs and the readers' validation passes.
// computeCRC is threaded through rather than hardcoded so callers can skip
// the cost entirely when a caller has disabled validation or checksums.

// resettableWriteCloser is an io.WriteCloser that can be rebound to a new
// underlying writer without reallocating, so the writer can reuse one
// compressor across every chunk it flushes.
type resettableWriteCloser interface {
	io.WriteCloser
	Reset(io.Writer)
}

// bufCloser adapts a *bytes.Buffer to resettableWriteCloser for the
// CompressionNone case, where "compression" is just writing straight
// through.
type bufCloser struct {
	w io.Writer
}

func (b *bufCloser) Close() error                { return nil }
func (b *bufCloser) Write(p []byte) (int, error) { return b.w.Write(p) }
func (b *bufCloser) Reset(w io.Writer)           { b.w = w }

// crcWriter wraps an io.Writer, optionally accumulating an IEEE CRC-32 over
// everything written through it.
type crcWriter struct {
	w          io.Writer
	crc        hash.Hash32
	computeCRC bool
	size       int64
}

func newCRCWriter(w io.Writer, computeCRC bool) *crcWriter {
	return &crcWriter{w: w, crc: crc32.NewIEEE(), computeCRC: computeCRC}
}

func (c *crcWriter) Write(p []byte) (int, error) {
	c.size += int64(len(p))
	if c.computeCRC {
		_, _ = c.crc.Write(p)
	}
	return c.w.Write(p)
}

func (c *crcWriter) Checksum() uint32 {
	if !c.computeCRC {
		return 0
	}
	return c.crc.Sum32()
}

func (c *crcWriter) Size() int64 { return c.size }

// Position satisfies Sink, treating bytes written so far as the write
// position; a crcWriter never seeks backward.
func (c *crcWriter) Position() uint64 { return uint64(c.size) }

func (c *crcWriter) ResetCRC() { c.crc = crc32.NewIEEE() }

func (c *crcWriter) ResetSize() { c.size = 0 }

// crcReader wraps an io.Reader, optionally accumulating an IEEE CRC-32 over
// everything read through it.
type crcReader struct {
	r          io.Reader
	crc        hash.Hash32
	computeCRC bool
}

func newCRCReader(r io.Reader, computeCRC bool) *crcReader {
	return &crcReader{r: r, crc: crc32.NewIEEE(), computeCRC: computeCRC}
}

func (r *crcReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if r.computeCRC && n > 0 {
		_, _ = r.crc.Write(p[:n])
	}
	return n, err
}

func (r *crcReader) Checksum() uint32 { return r.crc.Sum32() }

// crc32Of is a one-shot IEEE CRC-32 over b, used for attachment and chunk
// payload checksums computed over an already-materialized buffer.
func crc32Of(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// checkCRC compares a computed checksum against the one recorded in the
// file. A recorded value of 0 means "unset, skip validation" per the
// container format's convention.
func checkCRC(expected, actual uint32) error {
	if expected == 0 {
		return nil
	}
	if expected != actual {
		return &CRCMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}
