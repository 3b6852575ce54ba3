package mcap

import (
	"fmt"
	"io"
)

// This file defines the two capability traits from §6: Source, the
// random-access byte provider the indexed reader reads against, and Sink,
// the sequential byte consumer the writer appends to. Keeping them as small
// interfaces rather than concrete types lets callers back the writer with a
// plain file, and the indexed reader with a file, a memory-mapped region, or
// an object-store range-read client, without this package knowing which.

// Source is random-access read access to a complete MCAP file. Reads may be
// issued in any order; Source implementations need not be safe for
// concurrent use by multiple goroutines unless documented otherwise.
type Source interface {
	// Size returns the total length of the underlying data in bytes.
	Size() uint64
	// ReadAt returns exactly length bytes starting at offset, or an error.
	// It fails with ErrReadBeyondBounds if the requested range runs past
	// Size().
	ReadAt(offset, length uint64) ([]byte, error)
}

// Sink is the sequential append target a Writer writes to.
type Sink interface {
	io.Writer
	// Position returns the number of bytes written so far.
	Position() uint64
}

// AppendSink extends Sink with the random access an append-mode Writer needs
// to locate, truncate, and overwrite a previous summary section.
type AppendSink interface {
	Sink
	io.Seeker
	Truncate(size int64) error
}

// ReaderAtSource adapts an io.ReaderAt of known size to Source, the common
// case of reading from an *os.File or a bytes.Reader.
type ReaderAtSource struct {
	r    io.ReaderAt
	size uint64
}

// NewReaderAtSource wraps r, which must yield size bytes starting at offset
// 0, as a Source.
func NewReaderAtSource(r io.ReaderAt, size uint64) *ReaderAtSource {
	return &ReaderAtSource{r: r, size: size}
}

func (s *ReaderAtSource) Size() uint64 { return s.size }

func (s *ReaderAtSource) ReadAt(offset, length uint64) ([]byte, error) {
	if offset+length > s.size {
		return nil, ErrReadBeyondBounds
	}
	buf, err := safeMakeByteSlice(length)
	if err != nil {
		return nil, err
	}
	if _, err := s.r.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("mcap: read %d bytes at offset %d: %w", length, offset, err)
	}
	return buf, nil
}

// BytesSource adapts an in-memory byte slice to Source.
type BytesSource []byte

func (s BytesSource) Size() uint64 { return uint64(len(s)) }

func (s BytesSource) ReadAt(offset, length uint64) ([]byte, error) {
	if offset+length > uint64(len(s)) {
		return nil, ErrReadBeyondBounds
	}
	return s[offset : offset+length], nil
}
