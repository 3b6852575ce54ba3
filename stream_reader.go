package mcap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// This file is the stream reader (spec component G): a forward-only parser
// over a byte producer, following the ExpectLeadMagic -> ExpectHeader ->
// Body -> ExpectTrailMagic -> Done state machine of §4.G. Its chunk handling
// mirrors the teacher's lexer (load the whole chunk, optionally verify its
// CRC, then hand back its inner records) but returns typed Records from
// record.go rather than raw byte ranges, since nothing downstream of this
// package needs the zero-copy token API the teacher exposes.

// ErrNestedChunk is returned when a Chunk record's body itself contains a
// Chunk record, which §4.B forbids.
var ErrNestedChunk = errors.New("mcap: chunk contains a nested chunk")

type streamState int

const (
	stateExpectLeadMagic streamState = iota
	stateExpectHeader
	stateBody
	stateExpectTrailMagic
	stateDone
)

// StreamReaderOptions configures a StreamReader.
type StreamReaderOptions struct {
	// IncludeChunks, if true, yields raw *Chunk records without recursing
	// into them. If false (the default), a Chunk's inner Schema, Channel
	// and Message records are yielded in place of the Chunk itself.
	IncludeChunks bool
	// ValidateCRCs verifies each chunk's uncompressed-data CRC and, once
	// the stream is read to DataEnd, the data-section CRC it carries.
	ValidateCRCs bool
	// NoMagicPrefix skips the leading-magic check, for reading a byte range
	// that does not start at the beginning of a file.
	NoMagicPrefix bool
	// NoMagicSuffix tolerates the input ending right after DataEnd instead
	// of requiring a summary section, Footer and trailing magic, for
	// reading a byte range that stops at the data section (e.g. everything
	// before an existing file's summary start, as NewAppendWriter's
	// registry replay does).
	NoMagicSuffix bool
	// MaxDecompressedChunkSize bounds the allocation used to hold one
	// decompressed chunk; zero means unbounded.
	MaxDecompressedChunkSize uint64
	// MaxRecordSize bounds the length field of any top-level or
	// in-chunk record, rejecting it with ErrRecordTooLarge before its
	// body is allocated; zero means unbounded.
	MaxRecordSize uint64
}

// StreamReader yields Records from r in file order.
type StreamReader struct {
	r    *crcReader
	opts StreamReaderOptions

	state   streamState
	pending []Record // records awaiting delivery from a decoded chunk
	header  *Header

	schemaBodies  map[uint16][]byte
	channelBodies map[uint16][]byte

	lenBuf [9]byte
}

// NewStreamReader returns a StreamReader over r.
func NewStreamReader(r io.Reader, opts *StreamReaderOptions) (*StreamReader, error) {
	if opts == nil {
		opts = &StreamReaderOptions{}
	}
	sr := &StreamReader{
		r:             newCRCReader(r, opts.ValidateCRCs),
		opts:          *opts,
		state:         stateExpectLeadMagic,
		schemaBodies:  make(map[uint16][]byte),
		channelBodies: make(map[uint16][]byte),
	}
	if opts.NoMagicPrefix {
		sr.state = stateExpectHeader
	}
	return sr, nil
}

// Next returns the next Record, or io.EOF once the trailing magic has been
// consumed.
func (sr *StreamReader) Next() (Record, error) {
	for {
		if len(sr.pending) > 0 {
			rec := sr.pending[0]
			sr.pending = sr.pending[1:]
			return rec, nil
		}
		switch sr.state {
		case stateExpectLeadMagic:
			if err := sr.expectMagic(); err != nil {
				return nil, err
			}
			sr.state = stateExpectHeader
		case stateExpectHeader:
			code, body, err := sr.readEnvelope()
			if err != nil {
				return nil, err
			}
			if code != OpHeader {
				return nil, ErrMissingHeader
			}
			h, err := ParseHeader(body)
			if err != nil {
				return nil, err
			}
			sr.header = h
			sr.state = stateBody
			return h, nil
		case stateBody:
			rec, done, err := sr.readBodyRecord()
			if err != nil {
				if sr.opts.NoMagicSuffix && errors.Is(err, ErrUnexpectedEOF) {
					sr.state = stateDone
					return nil, io.EOF
				}
				return nil, err
			}
			if done {
				sr.state = stateExpectTrailMagic
				return rec, nil
			}
			if rec == nil {
				continue
			}
			return rec, nil
		case stateExpectTrailMagic:
			if err := sr.expectMagic(); err != nil {
				return nil, err
			}
			sr.state = stateDone
			return nil, io.EOF
		case stateDone:
			return nil, io.EOF
		}
	}
}

func (sr *StreamReader) expectMagic() error {
	var buf [8]byte
	if _, err := io.ReadFull(sr.r, buf[:]); err != nil {
		return ErrInvalidMagic
	}
	if !bytes.Equal(buf[:], Magic) {
		return ErrInvalidMagic
	}
	return nil
}

// readEnvelope reads one TLV record (opcode, u64 length, body) from sr.r.
func (sr *StreamReader) readEnvelope() (OpCode, []byte, error) {
	n, err := io.ReadFull(sr.r, sr.lenBuf[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, io.EOF
		}
		return 0, nil, &TruncatedRecordError{Have: n}
	}
	code := OpCode(sr.lenBuf[0])
	length, _, _ := getUint64(sr.lenBuf[:], 1)
	if sr.opts.MaxRecordSize > 0 && length > sr.opts.MaxRecordSize {
		return 0, nil, fmt.Errorf("%w: %s record is %d bytes, limit %d", ErrRecordTooLarge, code, length, sr.opts.MaxRecordSize)
	}
	body, err := safeMakeByteSlice(length)
	if err != nil {
		return 0, nil, err
	}
	if _, err := io.ReadFull(sr.r, body); err != nil {
		return 0, nil, &TruncatedRecordError{Code: code, Have: 0, Want: length}
	}
	return code, body, nil
}

// readBodyRecord reads one record in the Body state. done indicates the
// Footer was consumed and the trailing magic should be expected next; every
// record between DataEnd and the Footer (the summary section) is yielded
// like any other Body record.
func (sr *StreamReader) readBodyRecord() (Record, bool, error) {
	// The data-section CRC covers everything before the DataEnd record, so
	// the running checksum is taken before this record's bytes are read.
	crcBefore := sr.r.Checksum()
	code, body, err := sr.readEnvelope()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, false, ErrUnexpectedEOF
		}
		return nil, false, err
	}
	switch code {
	case OpHeader:
		return nil, false, ErrDuplicateHeader
	case OpChunk:
		if sr.opts.IncludeChunks {
			rec, err := ParseChunk(body)
			return rec, false, err
		}
		recs, err := sr.expandChunk(body)
		if err != nil {
			return nil, false, err
		}
		sr.pending = recs
		return nil, false, nil
	case OpSchema:
		s, err := ParseSchema(body)
		if err != nil {
			return nil, false, err
		}
		if err := sr.checkSchema(s, body); err != nil {
			return nil, false, err
		}
		return s, false, nil
	case OpChannel:
		c, err := ParseChannel(body)
		if err != nil {
			return nil, false, err
		}
		if err := sr.checkChannel(c, body); err != nil {
			return nil, false, err
		}
		return c, false, nil
	case OpMessage:
		m, err := ParseMessage(body, false)
		if err != nil {
			return nil, false, err
		}
		if _, ok := sr.channelBodies[m.ChannelID]; !ok {
			return nil, false, ErrMessageBeforeChannel
		}
		return m, false, nil
	case OpDataEnd:
		de, err := ParseDataEnd(body)
		if err != nil {
			return nil, false, err
		}
		if sr.opts.ValidateCRCs {
			if err := checkCRC(de.DataSectionCRC, crcBefore); err != nil {
				return nil, false, err
			}
		}
		// DataEnd is an ordinary Body record: the summary section and the
		// Footer still follow it before the trailing magic.
		return de, false, nil
	case OpFooter:
		f, err := ParseFooter(body)
		if err != nil {
			return nil, false, err
		}
		return f, true, nil
	default:
		rec, err := parseRecord(code, body)
		return rec, false, err
	}
}

// expandChunk decompresses one Chunk record and parses its inner
// Schema/Channel/Message records, returning them for delivery one at a
// time. Any other opcode inside the chunk fails with
// ErrUnexpectedRecordInChunk; a nested Chunk fails with ErrNestedChunk.
func (sr *StreamReader) expandChunk(body []byte) ([]Record, error) {
	chunk, err := ParseChunk(body)
	if err != nil {
		return nil, err
	}
	data, err := decompressAll(chunk.Compression, chunk.Records, chunk.UncompressedSize, sr.opts.MaxDecompressedChunkSize)
	if err != nil {
		return nil, err
	}
	if sr.opts.ValidateCRCs {
		if err := checkCRC(chunk.UncompressedCRC, crc32Of(data)); err != nil {
			return nil, err
		}
	}
	var records []Record
	offset := 0
	for offset < len(data) {
		if len(data)-offset < 9 {
			return nil, &TruncatedRecordError{Have: len(data) - offset}
		}
		code := OpCode(data[offset])
		length, _, _ := getUint64(data, offset+1)
		if sr.opts.MaxRecordSize > 0 && length > sr.opts.MaxRecordSize {
			return nil, fmt.Errorf("%w: %s record is %d bytes, limit %d", ErrRecordTooLarge, code, length, sr.opts.MaxRecordSize)
		}
		start := offset + 9
		if uint64(len(data)-start) < length {
			return nil, &TruncatedRecordError{Code: code, Have: len(data) - start, Want: length}
		}
		recBody := data[start : start+int(length)]
		switch code {
		case OpSchema:
			s, err := ParseSchema(recBody)
			if err != nil {
				return nil, err
			}
			if err := sr.checkSchema(s, recBody); err != nil {
				return nil, err
			}
			records = append(records, s)
		case OpChannel:
			c, err := ParseChannel(recBody)
			if err != nil {
				return nil, err
			}
			if err := sr.checkChannel(c, recBody); err != nil {
				return nil, err
			}
			records = append(records, c)
		case OpMessage:
			m, err := ParseMessage(recBody, true)
			if err != nil {
				return nil, err
			}
			if _, ok := sr.channelBodies[m.ChannelID]; !ok {
				return nil, ErrMessageBeforeChannel
			}
			records = append(records, m)
		case OpChunk:
			return nil, ErrNestedChunk
		default:
			return nil, fmt.Errorf("%w: opcode %s", ErrUnexpectedRecordInChunk, code)
		}
		offset = start + int(length)
	}
	return records, nil
}

func (sr *StreamReader) checkSchema(s *Schema, body []byte) error {
	if prev, ok := sr.schemaBodies[s.ID]; ok {
		if !bytes.Equal(prev, body) {
			return &SchemaMismatchError{ID: s.ID}
		}
		return nil
	}
	sr.schemaBodies[s.ID] = append([]byte(nil), body...)
	return nil
}

func (sr *StreamReader) checkChannel(c *Channel, body []byte) error {
	if prev, ok := sr.channelBodies[c.ID]; ok {
		if !bytes.Equal(prev, body) {
			return &ChannelMismatchError{ID: c.ID}
		}
		return nil
	}
	sr.channelBodies[c.ID] = append([]byte(nil), body...)
	return nil
}
