package mcap

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildUnchunkedFile assembles a minimal, well-formed unchunked MCAP byte
// stream: magic, header, schema, channel, one message, dataend, a (trivial,
// no-summary) footer, magic.
func buildUnchunkedFile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(Magic)
	headerBody, n := encodeBody(nil, &Header{Profile: "p", Library: "l"})
	require.NoError(t, writeRecordEnvelope(&buf, OpHeader, headerBody[:n]))
	schemaBody, n := encodeBody(nil, &Schema{ID: 1, Name: "s", Encoding: "json", Data: []byte("{}")})
	require.NoError(t, writeRecordEnvelope(&buf, OpSchema, schemaBody[:n]))
	channelBody, n := encodeBody(nil, &Channel{ID: 1, SchemaID: 1, Topic: "/t", MessageEncoding: "json"})
	require.NoError(t, writeRecordEnvelope(&buf, OpChannel, channelBody[:n]))
	msgBody, n := encodeBody(nil, &Message{ChannelID: 1, LogTime: 1, PublishTime: 1, Data: []byte("x")})
	require.NoError(t, writeRecordEnvelope(&buf, OpMessage, msgBody[:n]))
	dataEndBody, n := encodeBody(nil, &DataEnd{})
	require.NoError(t, writeRecordEnvelope(&buf, OpDataEnd, dataEndBody[:n]))
	footerBody, n := encodeBody(nil, &Footer{})
	require.NoError(t, writeRecordEnvelope(&buf, OpFooter, footerBody[:n]))
	buf.Write(Magic)
	return buf.Bytes()
}

func TestStreamReaderReadsMinimalFile(t *testing.T) {
	data := buildUnchunkedFile(t)
	sr, err := NewStreamReader(bytes.NewReader(data), nil)
	require.NoError(t, err)

	var kinds []string
	for {
		rec, err := sr.Next()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		switch rec.(type) {
		case *Header:
			kinds = append(kinds, "header")
		case *Schema:
			kinds = append(kinds, "schema")
		case *Channel:
			kinds = append(kinds, "channel")
		case *Message:
			kinds = append(kinds, "message")
		case *DataEnd:
			kinds = append(kinds, "dataend")
		case *Footer:
			kinds = append(kinds, "footer")
		}
	}
	assert.Equal(t, []string{"header", "schema", "channel", "message", "dataend", "footer"}, kinds)
}

func TestStreamReaderRejectsMissingLeadMagic(t *testing.T) {
	data := buildUnchunkedFile(t)
	sr, err := NewStreamReader(bytes.NewReader(data[1:]), nil)
	require.NoError(t, err)
	_, err = sr.Next()
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestStreamReaderNoMagicPrefixSkipsLeadCheck(t *testing.T) {
	data := buildUnchunkedFile(t)
	sr, err := NewStreamReader(bytes.NewReader(data[len(Magic):]), &StreamReaderOptions{NoMagicPrefix: true})
	require.NoError(t, err)
	rec, err := sr.Next()
	require.NoError(t, err)
	_, ok := rec.(*Header)
	assert.True(t, ok)
}

func TestStreamReaderRejectsMessageBeforeChannel(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	headerBody, n := encodeBody(nil, &Header{})
	require.NoError(t, writeRecordEnvelope(&buf, OpHeader, headerBody[:n]))
	msgBody, n := encodeBody(nil, &Message{ChannelID: 1})
	require.NoError(t, writeRecordEnvelope(&buf, OpMessage, msgBody[:n]))
	buf.Write(Magic)

	sr, err := NewStreamReader(bytes.NewReader(buf.Bytes()), nil)
	require.NoError(t, err)
	_, err = sr.Next() // header
	require.NoError(t, err)
	_, err = sr.Next() // message, should fail
	require.ErrorIs(t, err, ErrMessageBeforeChannel)
}

func TestStreamReaderDetectsChannelMismatch(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	headerBody, n := encodeBody(nil, &Header{})
	require.NoError(t, writeRecordEnvelope(&buf, OpHeader, headerBody[:n]))
	c1Body, n := encodeBody(nil, &Channel{ID: 1, Topic: "/a", MessageEncoding: "json"})
	require.NoError(t, writeRecordEnvelope(&buf, OpChannel, c1Body[:n]))
	c2Body, n := encodeBody(nil, &Channel{ID: 1, Topic: "/b", MessageEncoding: "json"})
	require.NoError(t, writeRecordEnvelope(&buf, OpChannel, c2Body[:n]))
	buf.Write(Magic)

	sr, err := NewStreamReader(bytes.NewReader(buf.Bytes()), nil)
	require.NoError(t, err)
	_, err = sr.Next() // header
	require.NoError(t, err)
	_, err = sr.Next() // first channel
	require.NoError(t, err)
	_, err = sr.Next() // redefined channel
	var mismatch *ChannelMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint16(1), mismatch.ID)
}

func TestStreamReaderIdenticalDuplicateChannelIsAllowed(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	headerBody, n := encodeBody(nil, &Header{})
	require.NoError(t, writeRecordEnvelope(&buf, OpHeader, headerBody[:n]))
	cBody, n := encodeBody(nil, &Channel{ID: 1, Topic: "/a", MessageEncoding: "json"})
	require.NoError(t, writeRecordEnvelope(&buf, OpChannel, cBody[:n]))
	require.NoError(t, writeRecordEnvelope(&buf, OpChannel, cBody[:n]))
	buf.Write(Magic)

	sr, err := NewStreamReader(bytes.NewReader(buf.Bytes()), nil)
	require.NoError(t, err)
	_, err = sr.Next()
	require.NoError(t, err)
	_, err = sr.Next()
	require.NoError(t, err)
	_, err = sr.Next()
	require.NoError(t, err)
}

func TestStreamReaderExpandsChunkContents(t *testing.T) {
	sink := &memSink{}
	w, err := NewWriter(sink, &WriterOptions{UseChunks: true, ChunkSize: 1 << 20, IncludeCRCs: true})
	require.NoError(t, err)
	require.NoError(t, w.Start("p", "l"))
	chanID, err := w.RegisterChannel(0, "/t", "json", nil)
	require.NoError(t, err)
	require.NoError(t, w.AddMessage(&Message{ChannelID: chanID, LogTime: 1, PublishTime: 1, Data: []byte("m")}))
	require.NoError(t, w.End())

	sr, err := NewStreamReader(bytes.NewReader(sink.bytes()), &StreamReaderOptions{ValidateCRCs: true})
	require.NoError(t, err)
	var sawMessage bool
	for {
		rec, err := sr.Next()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		if _, ok := rec.(*Chunk); ok {
			t.Fatal("expected chunk contents to be expanded, got raw Chunk record")
		}
		if _, ok := rec.(*Message); ok {
			sawMessage = true
		}
	}
	assert.True(t, sawMessage)
}

func TestStreamReaderIncludeChunksYieldsRawChunk(t *testing.T) {
	sink := &memSink{}
	w, err := NewWriter(sink, &WriterOptions{UseChunks: true, ChunkSize: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, w.Start("p", "l"))
	chanID, err := w.RegisterChannel(0, "/t", "json", nil)
	require.NoError(t, err)
	require.NoError(t, w.AddMessage(&Message{ChannelID: chanID, LogTime: 1, PublishTime: 1}))
	require.NoError(t, w.End())

	sr, err := NewStreamReader(bytes.NewReader(sink.bytes()), &StreamReaderOptions{IncludeChunks: true})
	require.NoError(t, err)
	var sawChunk bool
	for {
		rec, err := sr.Next()
		if err != nil {
			break
		}
		if _, ok := rec.(*Chunk); ok {
			sawChunk = true
		}
	}
	assert.True(t, sawChunk)
}

func TestStreamReaderRejectsNestedChunk(t *testing.T) {
	inner := &Chunk{Compression: CompressionNone, Records: []byte("junk")}
	innerBody, n := encodeBody(nil, inner)
	var innerEnvelope bytes.Buffer
	require.NoError(t, writeRecordEnvelope(&innerEnvelope, OpChunk, innerBody[:n]))

	outer := &Chunk{
		Compression:      CompressionNone,
		UncompressedSize: uint64(innerEnvelope.Len()),
		Records:          innerEnvelope.Bytes(),
	}
	outerBody, n := encodeBody(nil, outer)

	var buf bytes.Buffer
	buf.Write(Magic)
	headerBody, n2 := encodeBody(nil, &Header{})
	require.NoError(t, writeRecordEnvelope(&buf, OpHeader, headerBody[:n2]))
	require.NoError(t, writeRecordEnvelope(&buf, OpChunk, outerBody[:n]))
	buf.Write(Magic)

	sr, err := NewStreamReader(bytes.NewReader(buf.Bytes()), nil)
	require.NoError(t, err)
	_, err = sr.Next() // header
	require.NoError(t, err)
	_, err = sr.Next() // chunk expansion should fail on the nested chunk
	require.ErrorIs(t, err, ErrNestedChunk)
}

func TestStreamReaderValidatesDataSectionCRC(t *testing.T) {
	sink := &memSink{}
	w, err := NewWriter(sink, &WriterOptions{IncludeCRCs: true})
	require.NoError(t, err)
	require.NoError(t, w.Start("p", "l"))
	chanID, err := w.RegisterChannel(0, "/t", "json", nil)
	require.NoError(t, err)
	require.NoError(t, w.AddMessage(&Message{ChannelID: chanID, LogTime: 1, PublishTime: 1, Data: []byte("x")}))
	lastMessageByte := sink.Position() - 1
	require.NoError(t, w.End())

	data := sink.bytes()
	// flip the message payload's one data byte, before DataEnd, to break the CRC
	data[lastMessageByte] ^= 0xFF
	sr, err := NewStreamReader(bytes.NewReader(data), &StreamReaderOptions{ValidateCRCs: true})
	require.NoError(t, err)
	var lastErr error
	for {
		_, err := sr.Next()
		if err != nil {
			lastErr = err
			break
		}
	}
	var mismatch *CRCMismatchError
	require.ErrorAs(t, lastErr, &mismatch)
}

func TestStreamReaderUnknownOpcodeIsForwardCompatible(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	headerBody, n := encodeBody(nil, &Header{})
	require.NoError(t, writeRecordEnvelope(&buf, OpHeader, headerBody[:n]))
	require.NoError(t, writeRecordEnvelope(&buf, OpCode(0x7E), []byte{9, 9, 9}))
	buf.Write(Magic)

	sr, err := NewStreamReader(bytes.NewReader(buf.Bytes()), nil)
	require.NoError(t, err)
	_, err = sr.Next() // header
	require.NoError(t, err)
	rec, err := sr.Next()
	require.NoError(t, err)
	op, ok := rec.(*OpaqueRecord)
	require.True(t, ok)
	assert.Equal(t, OpCode(0x7E), op.Code)
}
