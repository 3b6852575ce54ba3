package mcap

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, opts *WriterOptions) (*Writer, *memSink) {
	t.Helper()
	sink := &memSink{}
	w, err := NewWriter(sink, opts)
	require.NoError(t, err)
	require.NoError(t, w.Start("testprofile", "testlib"))
	return w, sink
}

func TestWriterRejectsDoubleStart(t *testing.T) {
	w, _ := newTestWriter(t, &WriterOptions{})
	require.ErrorIs(t, w.Start("p", "l"), ErrAlreadyStarted)
}

func TestWriterRejectsDoubleEnd(t *testing.T) {
	w, _ := newTestWriter(t, &WriterOptions{})
	require.NoError(t, w.End())
	require.ErrorIs(t, w.End(), ErrAlreadyEnded)
}

func TestRegisterSchemaDedupsByContent(t *testing.T) {
	w, _ := newTestWriter(t, &WriterOptions{})
	id1, err := w.RegisterSchema("pose", "json", []byte(`{"a":1}`))
	require.NoError(t, err)
	id2, err := w.RegisterSchema("pose", "json", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := w.RegisterSchema("pose", "json", []byte(`{"a":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestRegisterChannelRejectsUnknownSchema(t *testing.T) {
	w, _ := newTestWriter(t, &WriterOptions{})
	_, err := w.RegisterChannel(99, "/t", "json", nil)
	require.ErrorIs(t, err, ErrUnknownSchema)
}

func TestAddMessageRejectsUnknownChannel(t *testing.T) {
	w, _ := newTestWriter(t, &WriterOptions{})
	err := w.AddMessage(&Message{ChannelID: 5})
	require.ErrorIs(t, err, ErrUnknownChannel)
}

func TestWriterUnchunkedRoundTrip(t *testing.T) {
	w, sink := newTestWriter(t, &WriterOptions{IncludeCRCs: true, UseStatistics: true})
	schemaID, err := w.RegisterSchema("pose", "json", []byte(`{}`))
	require.NoError(t, err)
	chanID, err := w.RegisterChannel(schemaID, "/pose", "json", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, w.AddMessage(&Message{ChannelID: chanID, Sequence: 1, LogTime: 10, PublishTime: 10, Data: []byte("one")}))
	require.NoError(t, w.AddMessage(&Message{ChannelID: chanID, Sequence: 2, LogTime: 20, PublishTime: 20, Data: []byte("two")}))
	require.NoError(t, w.End())

	sr, err := NewStreamReader(bytes.NewReader(sink.bytes()), &StreamReaderOptions{ValidateCRCs: true})
	require.NoError(t, err)

	var messages []*Message
	for {
		rec, err := sr.Next()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		if m, ok := rec.(*Message); ok {
			messages = append(messages, m)
		}
	}
	require.Len(t, messages, 2)
	assert.Equal(t, []byte("one"), messages[0].Data)
	assert.Equal(t, []byte("two"), messages[1].Data)
}

func TestWriterChunkedRoundTripThroughIndexedReader(t *testing.T) {
	w, sink := newTestWriter(t, &WriterOptions{
		UseChunks:          true,
		ChunkSize:          1, // force a new chunk per message
		Compression:        CompressionZSTD,
		IncludeCRCs:        true,
		UseMessageIndex:    true,
		UseChunkIndex:      true,
		UseStatistics:      true,
		UseSummaryOffsets:  true,
		UseAttachmentIndex: true,
		UseMetadataIndex:   true,
	})
	schemaID, err := w.RegisterSchema("pose", "json", []byte(`{}`))
	require.NoError(t, err)
	chanID, err := w.RegisterChannel(schemaID, "/pose", "json", nil)
	require.NoError(t, err)

	require.NoError(t, w.AddMessage(&Message{ChannelID: chanID, Sequence: 1, LogTime: 10, PublishTime: 10, Data: []byte("one")}))
	require.NoError(t, w.AddMessage(&Message{ChannelID: chanID, Sequence: 2, LogTime: 30, PublishTime: 30, Data: []byte("three")}))
	require.NoError(t, w.AddMessage(&Message{ChannelID: chanID, Sequence: 3, LogTime: 20, PublishTime: 20, Data: []byte("two")}))
	require.NoError(t, w.AddAttachment(&Attachment{LogTime: 1, CreateTime: 1, Name: "cal", MediaType: "application/octet-stream", Data: []byte{1, 2, 3}}))
	require.NoError(t, w.AddMetadata(&Metadata{Name: "info", Metadata: map[string]string{"k": "v"}}))
	require.NoError(t, w.End())

	r, err := NewIndexedReader(BytesSource(sink.bytes()), &IndexedReaderOptions{ValidateCRCs: true})
	require.NoError(t, err)
	assert.Len(t, r.ChunkIndexes, 3)
	assert.Len(t, r.AttachmentIndexes, 1)
	assert.Len(t, r.MetadataIndexes, 1)
	assert.True(t, r.CanReadMessagesUsingIndex())
	assert.Equal(t, map[string]uint64{"/pose": 3}, r.ChannelCounts())

	it, err := r.ReadMessages(nil)
	require.NoError(t, err)
	var logTimes []uint64
	for {
		msg, err := it.Next()
		if err != nil {
			break
		}
		require.NotNil(t, msg.Channel)
		require.NotNil(t, msg.Schema)
		logTimes = append(logTimes, msg.Message.LogTime)
	}
	assert.Equal(t, []uint64{10, 20, 30}, logTimes)
}

func TestWriterReverseIteration(t *testing.T) {
	w, sink := newTestWriter(t, &WriterOptions{
		UseChunks: true, ChunkSize: 1, UseMessageIndex: true, UseChunkIndex: true,
	})
	chanID, err := w.RegisterChannel(0, "/t", "json", nil)
	require.NoError(t, err)
	for _, lt := range []uint64{1, 2, 3} {
		require.NoError(t, w.AddMessage(&Message{ChannelID: chanID, LogTime: lt, PublishTime: lt}))
	}
	require.NoError(t, w.End())

	r, err := NewIndexedReader(BytesSource(sink.bytes()), nil)
	require.NoError(t, err)
	it, err := r.ReadMessages(&ReadMessagesOptions{Reverse: true})
	require.NoError(t, err)
	var logTimes []uint64
	for {
		msg, err := it.Next()
		if err != nil {
			break
		}
		logTimes = append(logTimes, msg.Message.LogTime)
	}
	assert.Equal(t, []uint64{3, 2, 1}, logTimes)
}

func TestSkipRepeatedSchemasOmitsSummaryCopies(t *testing.T) {
	w, sink := newTestWriter(t, &WriterOptions{
		UseChunks: true, ChunkSize: 1024, UseMessageIndex: true, UseChunkIndex: true,
		SkipRepeatedSchemas: true, SkipRepeatedChannels: true,
	})
	schemaID, err := w.RegisterSchema("s", "json", []byte(`{}`))
	require.NoError(t, err)
	chanID, err := w.RegisterChannel(schemaID, "/t", "json", nil)
	require.NoError(t, err)
	require.NoError(t, w.AddMessage(&Message{ChannelID: chanID, LogTime: 1, PublishTime: 1}))
	require.NoError(t, w.End())

	r, err := NewIndexedReader(BytesSource(sink.bytes()), nil)
	require.NoError(t, err)
	assert.Nil(t, r.channels.get(chanID))
	assert.Nil(t, r.schemas.get(schemaID))
}

func TestAppendWriterReplaysRegistriesAndResumes(t *testing.T) {
	sink := &memSink{}
	w, err := NewWriter(sink, &WriterOptions{IncludeCRCs: true, UseStatistics: true})
	require.NoError(t, err)
	require.NoError(t, w.Start("p", "l"))
	schemaID, err := w.RegisterSchema("s", "json", []byte(`{}`))
	require.NoError(t, err)
	chanID, err := w.RegisterChannel(schemaID, "/t", "json", nil)
	require.NoError(t, err)
	require.NoError(t, w.AddMessage(&Message{ChannelID: chanID, LogTime: 1, PublishTime: 1, Data: []byte("a")}))
	require.NoError(t, w.End())

	source := BytesSource(sink.bytes())
	aw, err := NewAppendWriter(sink, source, &WriterOptions{IncludeCRCs: true, UseStatistics: true})
	require.NoError(t, err)
	// the replayed registry already knows this schema/channel pair
	sameSchemaID, err := aw.RegisterSchema("s", "json", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, schemaID, sameSchemaID)
	sameChanID, err := aw.RegisterChannel(schemaID, "/t", "json", nil)
	require.NoError(t, err)
	assert.Equal(t, chanID, sameChanID)

	require.NoError(t, aw.AddMessage(&Message{ChannelID: chanID, LogTime: 2, PublishTime: 2, Data: []byte("b")}))
	require.NoError(t, aw.End())

	r, err := NewIndexedReader(BytesSource(sink.bytes()), &IndexedReaderOptions{ValidateCRCs: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, r.Statistics.MessageCount)
}

func TestNewAppendWriterFailsWithoutSummary(t *testing.T) {
	w, sink := newTestWriter(t, &WriterOptions{})
	// no schemas/channels/statistics registered, so writeSummary emits nothing
	// and End() leaves footer.SummaryStart at 0.
	require.NoError(t, w.End())
	_, err := NewAppendWriter(sink, BytesSource(sink.bytes()), &WriterOptions{})
	require.ErrorIs(t, err, ErrMissingSummary)
}
