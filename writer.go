package mcap

import (
	"bytes"
	"fmt"
	"io"
)

// This file is the streaming Writer (spec component F): it emits magic and
// header, assigns schema/channel IDs at registration, lazily emits their
// records into every chunk (or inline stream position) that first references them,
// flushes chunks once they cross a size threshold, and on End writes
// DataEnd, the summary section, summary offsets, and the footer. The public
// operations (Start/RegisterSchema/RegisterChannel/AddMessage/AddAttachment/
// AddMetadata/End) follow §4.F; the per-field byte layout is delegated to
// encodeBody in record.go so this file stays about sequencing, not bit
// twiddling.

// WriterOptions configures a Writer. Every flag is independently
// toggleable; NewWriter rejects only a negative ChunkSize when UseChunks is
// set, and chunk-only options set without UseChunks are ignored.
type WriterOptions struct {
	// UseChunks routes messages (and their schemas/channels) through the
	// chunk builder. When false, every record is written inline and the
	// chunk-only options below are ignored.
	UseChunks bool
	// ChunkSize is the uncompressed-byte threshold at which the active
	// chunk is flushed. Zero selects a 1 MiB default.
	ChunkSize int64
	// Compression names the per-chunk compression adapter. CompressionNone
	// disables compression.
	Compression CompressionFormat
	// CompressionLevel tunes the adapter named by Compression.
	CompressionLevel CompressionLevel

	UseMessageIndex    bool
	UseChunkIndex      bool
	UseStatistics      bool
	UseAttachmentIndex bool
	UseMetadataIndex   bool
	UseSummaryOffsets  bool

	// SkipRepeatedSchemas and SkipRepeatedChannels suppress the re-emission
	// of every known Schema/Channel into the summary section at End. They
	// default to false: every Schema and Channel registered over the
	// recording's lifetime is repeated into the summary, so an indexed
	// reader can resolve a message's channel and schema without
	// decompressing the chunk that produced it.
	SkipRepeatedSchemas  bool
	SkipRepeatedChannels bool

	// IncludeCRCs computes the uncompressed-chunk CRC, the DataEnd
	// data-section CRC, and the summary CRC.
	IncludeCRCs bool

	// AppendMode indicates the sink was opened over an existing MCAP file
	// whose summary and footer should be discarded and rebuilt. Use
	// NewAppendWriter rather than setting this directly.
	AppendMode bool

	// OverrideLibrary suppresses the "mcap-go" prefix normally prepended to
	// Header.Library, using the caller's string verbatim.
	OverrideLibrary bool
}

func (o *WriterOptions) validate() error {
	if !o.UseChunks {
		return nil
	}
	if o.ChunkSize < 0 {
		return fmt.Errorf("mcap: negative chunk size")
	}
	return nil
}

// Writer produces an MCAP file on a Sink.
type Writer struct {
	Statistics        *Statistics
	ChunkIndexes      []*ChunkIndex
	AttachmentIndexes []*AttachmentIndex
	MetadataIndexes   []*MetadataIndex

	sink *crcWriter
	opts *WriterOptions

	started bool
	ended   bool

	nextSchemaID  uint16
	nextChannelID uint16
	schemas       map[uint16]*Schema
	channels      map[uint16]*Channel
	schemaOrder   []uint16
	channelOrder  []uint16
	schemaByKey   map[schemaKey]uint16
	channelByKey  map[channelKey]uint16

	// emittedSchemas/emittedChannels track which IDs have already been
	// written into the *current* on-disk context (the open chunk, or the
	// unchunked stream). Each flushed chunk is self-contained: a reader
	// that starts at any ChunkIndex never needs to look outside that
	// chunk for the schemas and channels its messages reference.
	emittedSchemas  map[uint16]bool
	emittedChannels map[uint16]bool

	chunk            *chunkBuilder
	chunkStartTime   uint64
	chunkEndTime     uint64
	chunkHasMessages bool
	compressed       *bytes.Buffer
	compressor       compressor

	encodeBuf []byte
}

type schemaKey struct {
	name, encoding, data string
}

type channelKey struct {
	schemaID               uint16
	topic, messageEncoding string
	metadata               string
}

// NewWriter returns a Writer that has not yet written anything; call Start
// before any other method.
func NewWriter(sink Sink, opts *WriterOptions) (*Writer, error) {
	if opts == nil {
		opts = &WriterOptions{}
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.UseChunks && opts.ChunkSize == 0 {
		opts.ChunkSize = 1024 * 1024
	}
	compressed := &bytes.Buffer{}
	compressor, err := newCompressorFor(opts.Compression, compressed, opts.CompressionLevel)
	if err != nil {
		return nil, err
	}
	return &Writer{
		sink:            newCRCWriter(sink, opts.IncludeCRCs),
		opts:            opts,
		nextSchemaID:    1,
		nextChannelID:   0,
		schemas:         make(map[uint16]*Schema),
		channels:        make(map[uint16]*Channel),
		schemaByKey:     make(map[schemaKey]uint16),
		channelByKey:    make(map[channelKey]uint16),
		emittedSchemas:  make(map[uint16]bool),
		emittedChannels: make(map[uint16]bool),
		chunk:           newChunkBuilder(),
		compressed:      compressed,
		compressor:      compressor,
		Statistics: &Statistics{
			ChannelMessageCounts: make(map[uint16]uint64),
		},
	}, nil
}

// NewAppendWriter opens sink, which must already contain a complete MCAP
// file ending in source's bytes, in append mode: it locates the existing
// footer, truncates the summary and footer, and replays the pre-summary
// Schema/Channel records to rebuild the ID registries described in §4.F.
// Writing then resumes at the truncation point.
func NewAppendWriter(sink AppendSink, source Source, opts *WriterOptions) (*Writer, error) {
	if opts == nil {
		opts = &WriterOptions{}
	}
	opts.AppendMode = true
	footer, footerOffset, err := readTrailingFooter(source)
	if err != nil {
		return nil, err
	}
	if footer.SummaryStart == 0 {
		return nil, ErrMissingSummary
	}
	if footer.SummaryStart > footerOffset {
		return nil, fmt.Errorf("mcap: footer summary_start %d past footer record at %d", footer.SummaryStart, footerOffset)
	}
	w, err := NewWriter(sink, opts)
	if err != nil {
		return nil, err
	}
	if err := w.replayRegistries(source, footer.SummaryStart); err != nil {
		return nil, err
	}
	if opts.IncludeCRCs {
		// seed the data-section CRC with the bytes kept before the append point
		prior, err := source.ReadAt(0, footer.SummaryStart)
		if err != nil {
			return nil, fmt.Errorf("mcap: read existing data section for append: %w", err)
		}
		_, _ = w.sink.crc.Write(prior)
	}
	if err := sink.Truncate(int64(footer.SummaryStart)); err != nil {
		return nil, fmt.Errorf("mcap: truncate for append: %w", err)
	}
	if _, err := sink.Seek(int64(footer.SummaryStart), 0); err != nil {
		return nil, fmt.Errorf("mcap: seek for append: %w", err)
	}
	w.sink.ResetSize()
	w.sink.size = int64(footer.SummaryStart)
	w.started = true
	return w, nil
}

// replayRegistries rebuilds nextSchemaID/nextChannelID and the dedup maps by
// stream-reading every Schema and Channel record from the start of the file
// up to summaryStart, including those nested in chunks. Every Message read on
// the way is counted into Statistics (message count, per-channel counts and
// time bounds); the other Statistics fields start from zero.
func (w *Writer) replayRegistries(source Source, summaryStart uint64) error {
	data, err := source.ReadAt(0, summaryStart)
	if err != nil {
		return fmt.Errorf("mcap: read existing data section for append: %w", err)
	}
	sr, err := NewStreamReader(bytes.NewReader(data), &StreamReaderOptions{IncludeChunks: false, NoMagicSuffix: true})
	if err != nil {
		return err
	}
	for {
		rec, err := sr.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("mcap: replay existing records for append: %w", err)
		}
		switch v := rec.(type) {
		case *Schema:
			w.schemas[v.ID] = v
			w.schemaOrder = append(w.schemaOrder, v.ID)
			w.schemaByKey[schemaKeyOf(v)] = v.ID
			if v.ID >= w.nextSchemaID {
				w.nextSchemaID = v.ID + 1
			}
		case *Channel:
			w.channels[v.ID] = v
			w.channelOrder = append(w.channelOrder, v.ID)
			w.channelByKey[channelKeyOf(v)] = v.ID
			if v.ID+1 > w.nextChannelID {
				w.nextChannelID = v.ID + 1
			}
		case *Message:
			w.Statistics.MessageCount++
			w.Statistics.ChannelMessageCounts[v.ChannelID]++
			if v.LogTime > w.Statistics.MessageEndTime {
				w.Statistics.MessageEndTime = v.LogTime
			}
			if w.Statistics.MessageStartTime == 0 || v.LogTime < w.Statistics.MessageStartTime {
				w.Statistics.MessageStartTime = v.LogTime
			}
		}
	}
	return nil
}

func schemaKeyOf(s *Schema) schemaKey {
	return schemaKey{name: s.Name, encoding: s.Encoding, data: string(s.Data)}
}

func channelKeyOf(c *Channel) channelKey {
	return channelKey{
		schemaID:        c.SchemaID,
		topic:           c.Topic,
		messageEncoding: c.MessageEncoding,
		metadata:        string(encodeStringMap(c.Metadata)),
	}
}

// Start writes the lead magic and Header record.
func (w *Writer) Start(profile, library string) error {
	if w.started {
		if w.opts.AppendMode {
			return ErrNotInAppendMode
		}
		return ErrAlreadyStarted
	}
	if _, err := w.sink.Write(Magic); err != nil {
		return err
	}
	if !w.opts.OverrideLibrary {
		if library != "" {
			library = "mcap-go/0.1; " + library
		} else {
			library = "mcap-go/0.1"
		}
	}
	w.started = true
	return w.writeRecordToSink(&Header{Profile: profile, Library: library})
}

// RegisterSchema allocates (or returns the existing) SchemaId for the given
// content and stores it for lazy emission. The returned Schema.ID is always
// nonzero.
func (w *Writer) RegisterSchema(name, encoding string, data []byte) (uint16, error) {
	key := schemaKey{name: name, encoding: encoding, data: string(data)}
	if id, ok := w.schemaByKey[key]; ok {
		return id, nil
	}
	id := w.nextSchemaID
	w.nextSchemaID++
	s := &Schema{ID: id, Name: name, Encoding: encoding, Data: data}
	w.schemas[id] = s
	w.schemaOrder = append(w.schemaOrder, id)
	w.schemaByKey[key] = id
	w.Statistics.SchemaCount++
	return id, nil
}

// RegisterChannel allocates (or returns the existing) ChannelId for the
// given content. schemaID must already be registered, or zero.
func (w *Writer) RegisterChannel(schemaID uint16, topic, messageEncoding string, metadata map[string]string) (uint16, error) {
	if schemaID != 0 {
		if _, ok := w.schemas[schemaID]; !ok {
			return 0, ErrUnknownSchema
		}
	}
	key := channelKey{schemaID: schemaID, topic: topic, messageEncoding: messageEncoding, metadata: string(encodeStringMap(metadata))}
	if id, ok := w.channelByKey[key]; ok {
		return id, nil
	}
	id := w.nextChannelID
	w.nextChannelID++
	c := &Channel{ID: id, SchemaID: schemaID, Topic: topic, MessageEncoding: messageEncoding, Metadata: metadata}
	w.channels[id] = c
	w.channelOrder = append(w.channelOrder, id)
	w.channelByKey[key] = id
	w.Statistics.ChannelCount++
	return id, nil
}

// AddMessage appends one message to the file, lazily emitting its channel
// (and schema) into the current on-disk context on first use, and flushing
// the active chunk if it has crossed ChunkSize.
func (w *Writer) AddMessage(m *Message) error {
	channel, ok := w.channels[m.ChannelID]
	if !ok {
		return ErrUnknownChannel
	}
	if err := w.ensureEmitted(channel); err != nil {
		return err
	}
	buf, n := encodeBody(w.encodeBuf, m)
	w.encodeBuf = buf
	body := buf[:n]

	w.Statistics.ChannelMessageCounts[m.ChannelID]++
	w.Statistics.MessageCount++
	if m.LogTime > w.Statistics.MessageEndTime {
		w.Statistics.MessageEndTime = m.LogTime
	}
	if w.Statistics.MessageStartTime == 0 || m.LogTime < w.Statistics.MessageStartTime {
		w.Statistics.MessageStartTime = m.LogTime
	}

	if !w.opts.UseChunks {
		return writeRecordEnvelope(w.sink, OpMessage, body)
	}
	if !w.chunkHasMessages || m.LogTime < w.chunkStartTime {
		w.chunkStartTime = m.LogTime
	}
	if m.LogTime > w.chunkEndTime {
		w.chunkEndTime = m.LogTime
	}
	w.chunkHasMessages = true
	if err := w.chunk.addMessage(body, m.ChannelID, m.LogTime); err != nil {
		return err
	}
	if int64(w.chunk.size()) >= w.opts.ChunkSize {
		return w.finalizeChunk()
	}
	return nil
}

// ensureEmitted writes channel (and its schema, if any) into the current
// chunk or the unchunked stream, unless already emitted there.
func (w *Writer) ensureEmitted(channel *Channel) error {
	if channel.SchemaID != 0 && !w.emittedSchemas[channel.SchemaID] {
		schema := w.schemas[channel.SchemaID]
		buf, n := encodeBody(w.encodeBuf, schema)
		w.encodeBuf = buf
		if err := w.writeContextRecord(OpSchema, buf[:n]); err != nil {
			return err
		}
		w.emittedSchemas[channel.SchemaID] = true
	}
	if !w.emittedChannels[channel.ID] {
		buf, n := encodeBody(w.encodeBuf, channel)
		w.encodeBuf = buf
		if err := w.writeContextRecord(OpChannel, buf[:n]); err != nil {
			return err
		}
		w.emittedChannels[channel.ID] = true
	}
	return nil
}

func (w *Writer) writeContextRecord(code OpCode, body []byte) error {
	if w.opts.UseChunks {
		return w.chunk.addRecord(code, body)
	}
	return writeRecordEnvelope(w.sink, code, body)
}

// AddAttachment writes an Attachment record, which never appears inside a
// chunk, and records an AttachmentIndex entry if UseAttachmentIndex is set.
func (w *Writer) AddAttachment(a *Attachment) error {
	a.CRC = crc32Of(attachmentCRCBytes(a))
	buf, n := encodeBody(w.encodeBuf, a)
	w.encodeBuf = buf
	offset := w.sink.Position()
	if err := writeRecordEnvelope(w.sink, OpAttachment, buf[:n]); err != nil {
		return err
	}
	length := w.sink.Position() - offset
	w.Statistics.AttachmentCount++
	if w.opts.UseAttachmentIndex {
		w.AttachmentIndexes = append(w.AttachmentIndexes, &AttachmentIndex{
			Offset:     offset,
			Length:     length,
			LogTime:    a.LogTime,
			CreateTime: a.CreateTime,
			DataSize:   uint64(len(a.Data)),
			Name:       a.Name,
			MediaType:  a.MediaType,
		})
	}
	return nil
}

// attachmentCRCBytes reproduces the byte range the Attachment CRC covers:
// everything in the record body preceding the CRC field itself.
func attachmentCRCBytes(a *Attachment) []byte {
	var buf bytes.Buffer
	var tmp [8]byte
	putUint64(tmp[:], a.LogTime)
	buf.Write(tmp[:])
	putUint64(tmp[:], a.CreateTime)
	buf.Write(tmp[:])
	var strBuf [4]byte
	putUint32(strBuf[:], uint32(len(a.Name)))
	buf.Write(strBuf[:])
	buf.WriteString(a.Name)
	putUint32(strBuf[:], uint32(len(a.MediaType)))
	buf.Write(strBuf[:])
	buf.WriteString(a.MediaType)
	putUint64(tmp[:], uint64(len(a.Data)))
	buf.Write(tmp[:])
	buf.Write(a.Data)
	return buf.Bytes()
}

// AddMetadata writes a Metadata record and records a MetadataIndex entry if
// UseMetadataIndex is set.
func (w *Writer) AddMetadata(m *Metadata) error {
	buf, n := encodeBody(w.encodeBuf, m)
	w.encodeBuf = buf
	offset := w.sink.Position()
	if err := writeRecordEnvelope(w.sink, OpMetadata, buf[:n]); err != nil {
		return err
	}
	length := w.sink.Position() - offset
	w.Statistics.MetadataCount++
	if w.opts.UseMetadataIndex {
		w.MetadataIndexes = append(w.MetadataIndexes, &MetadataIndex{Offset: offset, Length: length, Name: m.Name})
	}
	return nil
}

// finalizeChunk implements the §4.F finalize-chunk algorithm.
func (w *Writer) finalizeChunk() error {
	if w.chunk.empty() {
		return nil
	}
	uncompressed := w.chunk.records.Bytes()
	uncompressedLen := uint64(len(uncompressed))
	var uncompressedCRC uint32
	if w.opts.IncludeCRCs {
		uncompressedCRC = crc32Of(uncompressed)
	}

	w.compressed.Reset()
	w.compressor.Reset(w.compressed)
	if _, err := w.compressor.Write(uncompressed); err != nil {
		return fmt.Errorf("mcap: compress chunk: %w", err)
	}
	if err := w.compressor.Close(); err != nil {
		return fmt.Errorf("mcap: flush chunk compressor: %w", err)
	}

	chunkStartOffset := w.sink.Position()
	chunkRecord := &Chunk{
		MessageStartTime: w.chunkStartTime,
		MessageEndTime:   w.chunkEndTime,
		UncompressedSize: uncompressedLen,
		UncompressedCRC:  uncompressedCRC,
		Compression:      w.opts.Compression,
		Records:          w.compressed.Bytes(),
	}
	buf, n := encodeBody(w.encodeBuf, chunkRecord)
	w.encodeBuf = buf
	if err := writeRecordEnvelope(w.sink, OpChunk, buf[:n]); err != nil {
		return err
	}
	chunkEndOffset := w.sink.Position()

	messageIndexOffsets := make(map[uint16]uint64)
	if w.opts.UseMessageIndex {
		for _, idx := range w.chunk.messageIndexes() {
			offset := w.sink.Position()
			ibuf, in := encodeBody(w.encodeBuf, idx)
			w.encodeBuf = ibuf
			if err := writeRecordEnvelope(w.sink, OpMessageIndex, ibuf[:in]); err != nil {
				return err
			}
			messageIndexOffsets[idx.ChannelID] = offset
		}
	}
	messageIndexLength := w.sink.Position() - chunkEndOffset

	if w.opts.UseChunkIndex {
		w.ChunkIndexes = append(w.ChunkIndexes, &ChunkIndex{
			MessageStartTime:    w.chunkStartTime,
			MessageEndTime:      w.chunkEndTime,
			ChunkStartOffset:    chunkStartOffset,
			ChunkLength:         chunkEndOffset - chunkStartOffset,
			MessageIndexOffsets: messageIndexOffsets,
			MessageIndexLength:  messageIndexLength,
			Compression:         w.opts.Compression,
			CompressedSize:      uint64(w.compressed.Len()),
			UncompressedSize:    uncompressedLen,
		})
	}

	w.Statistics.ChunkCount++
	w.chunk.reset()
	for k := range w.emittedSchemas {
		delete(w.emittedSchemas, k)
	}
	for k := range w.emittedChannels {
		delete(w.emittedChannels, k)
	}
	w.chunkHasMessages = false
	w.chunkStartTime = 0
	w.chunkEndTime = 0
	return nil
}

// End finalizes any outstanding chunk, then writes DataEnd, the summary
// section, optional summary offsets, and the footer plus trailing magic.
func (w *Writer) End() error {
	if w.ended {
		return ErrAlreadyEnded
	}
	if w.opts.UseChunks {
		if err := w.finalizeChunk(); err != nil {
			return err
		}
	}
	var dataCRC uint32
	if w.opts.IncludeCRCs {
		dataCRC = w.sink.Checksum()
	}
	if err := w.writeRecordToSink(&DataEnd{DataSectionCRC: dataCRC}); err != nil {
		return err
	}

	w.sink.ResetCRC()
	summaryStart := w.sink.Position()
	offsets, err := w.writeSummary()
	if err != nil {
		return err
	}
	if len(offsets) == 0 {
		summaryStart = 0
	}
	var summaryOffsetStart uint64
	if w.opts.UseSummaryOffsets && len(offsets) > 0 {
		summaryOffsetStart = w.sink.Position()
		for _, o := range offsets {
			if err := w.writeRecordToSink(o); err != nil {
				return err
			}
		}
	}
	// The footer's CRC covers the summary section plus the footer's own
	// leading fields, up to but not including the CRC field itself (§3
	// invariant 7). So the envelope and the two offset fields are written
	// first, the running checksum is read, and only then is the 4-byte CRC
	// field appended on top of it.
	var header [9]byte
	header[0] = byte(OpFooter)
	putUint64(header[1:], 20)
	if _, err := w.sink.Write(header[:]); err != nil {
		return err
	}
	var body [16]byte
	putUint64(body[:], summaryStart)
	putUint64(body[8:], summaryOffsetStart)
	if _, err := w.sink.Write(body[:]); err != nil {
		return err
	}
	var summaryCRC uint32
	if w.opts.IncludeCRCs {
		summaryCRC = w.sink.Checksum()
	}
	var crcField [4]byte
	putUint32(crcField[:], summaryCRC)
	if _, err := w.sink.Write(crcField[:]); err != nil {
		return err
	}
	if _, err := w.sink.Write(Magic); err != nil {
		return err
	}
	w.ended = true
	return nil
}

func (w *Writer) writeSummary() ([]*SummaryOffset, error) {
	var offsets []*SummaryOffset
	addGroup := func(code OpCode, start uint64) {
		if end := w.sink.Position(); end > start {
			offsets = append(offsets, &SummaryOffset{GroupOpcode: code, GroupStart: start, GroupLength: end - start})
		}
	}

	if !w.opts.SkipRepeatedSchemas && len(w.schemaOrder) > 0 {
		start := w.sink.Position()
		for _, id := range w.schemaOrder {
			if err := w.writeRecordToSink(w.schemas[id]); err != nil {
				return nil, err
			}
		}
		addGroup(OpSchema, start)
	}
	if !w.opts.SkipRepeatedChannels && len(w.channelOrder) > 0 {
		start := w.sink.Position()
		for _, id := range w.channelOrder {
			if err := w.writeRecordToSink(w.channels[id]); err != nil {
				return nil, err
			}
		}
		addGroup(OpChannel, start)
	}
	if w.opts.UseStatistics {
		start := w.sink.Position()
		if err := w.writeRecordToSink(w.Statistics); err != nil {
			return nil, err
		}
		addGroup(OpStatistics, start)
	}
	if w.opts.UseMetadataIndex && len(w.MetadataIndexes) > 0 {
		start := w.sink.Position()
		for _, idx := range w.MetadataIndexes {
			if err := w.writeRecordToSink(idx); err != nil {
				return nil, err
			}
		}
		addGroup(OpMetadataIndex, start)
	}
	if w.opts.UseAttachmentIndex && len(w.AttachmentIndexes) > 0 {
		start := w.sink.Position()
		for _, idx := range w.AttachmentIndexes {
			if err := w.writeRecordToSink(idx); err != nil {
				return nil, err
			}
		}
		addGroup(OpAttachmentIndex, start)
	}
	if w.opts.UseChunkIndex && len(w.ChunkIndexes) > 0 {
		start := w.sink.Position()
		for _, idx := range w.ChunkIndexes {
			if err := w.writeRecordToSink(idx); err != nil {
				return nil, err
			}
		}
		addGroup(OpChunkIndex, start)
	}
	return offsets, nil
}

func (w *Writer) writeRecordToSink(r Record) error {
	buf, n := encodeBody(w.encodeBuf, r)
	w.encodeBuf = buf
	return writeRecordEnvelope(w.sink, r.Opcode(), buf[:n])
}
