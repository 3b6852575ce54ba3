package mcap

import (
	"bytes"
	"io"
)

// This file is the chunk builder (spec component E): in-memory accumulation
// of the Schema, Channel and Message records destined for one chunk, plus
// the per-channel message-index entries needed to emit the MessageIndex run
// that follows the chunk. One chunkBuilder is reused across every chunk a
// Writer flushes rather than reallocated, mirroring how the teacher reuses
// its uncompressedChunk buffer and currentMessageIndex slice across flushes.

type chunkBuilder struct {
	records   bytes.Buffer
	indexes   map[uint16]*MessageIndex
	schemaIDs []uint16 // cleared by reset; addRecord and addMessage do not append to it
	startTime uint64
	endTime   uint64
	count     int
}

func newChunkBuilder() *chunkBuilder {
	return &chunkBuilder{indexes: make(map[uint16]*MessageIndex)}
}

func (c *chunkBuilder) empty() bool { return c.records.Len() == 0 }

func (c *chunkBuilder) size() int { return c.records.Len() }

// addRecord appends a schema or channel record's already-serialized body to
// the chunk, framed with its opcode and length.
func (c *chunkBuilder) addRecord(code OpCode, body []byte) error {
	return writeRecordEnvelope(&c.records, code, body)
}

// addMessage appends a message record and notes its offset within the
// chunk's uncompressed byte stream for the eventual MessageIndex.
func (c *chunkBuilder) addMessage(body []byte, channelID uint16, logTime uint64) error {
	offset := uint64(c.records.Len())
	if err := writeRecordEnvelope(&c.records, OpMessage, body); err != nil {
		return err
	}
	idx, ok := c.indexes[channelID]
	if !ok {
		idx = &MessageIndex{ChannelID: channelID}
		c.indexes[channelID] = idx
	}
	idx.Records = append(idx.Records, MessageIndexEntry{LogTime: logTime, Offset: offset})
	if c.count == 0 || logTime < c.startTime {
		c.startTime = logTime
	}
	if logTime > c.endTime {
		c.endTime = logTime
	}
	c.count++
	return nil
}

// messageIndexes returns the accumulated per-channel indexes in ascending
// channel-ID order, for deterministic output.
func (c *chunkBuilder) messageIndexes() []*MessageIndex {
	ids := make([]uint16, 0, len(c.indexes))
	for id := range c.indexes {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	out := make([]*MessageIndex, len(ids))
	for i, id := range ids {
		out[i] = c.indexes[id]
	}
	return out
}

func (c *chunkBuilder) reset() {
	c.records.Reset()
	for k := range c.indexes {
		delete(c.indexes, k)
	}
	c.schemaIDs = c.schemaIDs[:0]
	c.startTime = 0
	c.endTime = 0
	c.count = 0
}

// writeRecordEnvelope writes the TLV envelope (opcode, u64 length, body) for
// one record to w. It is the single choke point every record write passes
// through, inside or outside a chunk.
func writeRecordEnvelope(w io.Writer, code OpCode, body []byte) error {
	var header [9]byte
	header[0] = byte(code)
	putUint64(header[1:], uint64(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}
