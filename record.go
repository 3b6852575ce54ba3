package mcap

import "fmt"

// This file is the record grammar (spec component B): for each opcode, the
// body layout of §6 and the functions that serialize a record's body into a
// caller-supplied buffer, or parse one back out of raw bytes. The envelope
// itself (opcode byte + u64 little-endian length) is handled by
// writeRecordEnvelope and the readers, not here.

// encodeBody serializes a Record's body into buf, growing buf if necessary,
// and returns the buffer and the number of bytes written. Kept as a type
// switch rather than a method on each type so the record bodies themselves
// stay plain data structures with no encoding logic of their own.
func encodeBody(buf []byte, r Record) ([]byte, int) {
	switch v := r.(type) {
	case *Header:
		n := 4 + len(v.Profile) + 4 + len(v.Library)
		buf = ensureCap(buf, n)
		offset := putPrefixedString(buf, v.Profile)
		offset += putPrefixedString(buf[offset:], v.Library)
		return buf, offset
	case *Footer:
		buf = ensureCap(buf, 8+8+4)
		offset := putUint64(buf, v.SummaryStart)
		offset += putUint64(buf[offset:], v.SummaryOffsetStart)
		offset += putUint32(buf[offset:], v.SummaryCRC)
		return buf, offset
	case *Schema:
		n := 2 + 4 + len(v.Name) + 4 + len(v.Encoding) + 4 + len(v.Data)
		buf = ensureCap(buf, n)
		offset := putUint16(buf, v.ID)
		offset += putPrefixedString(buf[offset:], v.Name)
		offset += putPrefixedString(buf[offset:], v.Encoding)
		offset += putPrefixedBytes(buf[offset:], v.Data)
		return buf, offset
	case *Channel:
		encodedMeta := encodeStringMap(v.Metadata)
		n := 2 + 2 + 4 + len(v.Topic) + 4 + len(v.MessageEncoding) + len(encodedMeta)
		buf = ensureCap(buf, n)
		offset := putUint16(buf, v.ID)
		offset += putUint16(buf[offset:], v.SchemaID)
		offset += putPrefixedString(buf[offset:], v.Topic)
		offset += putPrefixedString(buf[offset:], v.MessageEncoding)
		offset += copy(buf[offset:], encodedMeta)
		return buf, offset
	case *Message:
		n := 2 + 4 + 8 + 8 + len(v.Data)
		buf = ensureCap(buf, n)
		offset := putUint16(buf, v.ChannelID)
		offset += putUint32(buf[offset:], v.Sequence)
		offset += putUint64(buf[offset:], v.LogTime)
		offset += putUint64(buf[offset:], v.PublishTime)
		offset += copy(buf[offset:], v.Data)
		return buf, offset
	case *Chunk:
		n := 8 + 8 + 8 + 4 + 4 + len(v.Compression) + 8 + len(v.Records)
		buf = ensureCap(buf, n)
		offset := putUint64(buf, v.MessageStartTime)
		offset += putUint64(buf[offset:], v.MessageEndTime)
		offset += putUint64(buf[offset:], v.UncompressedSize)
		offset += putUint32(buf[offset:], v.UncompressedCRC)
		offset += putPrefixedString(buf[offset:], string(v.Compression))
		offset += putUint64(buf[offset:], uint64(len(v.Records)))
		offset += copy(buf[offset:], v.Records)
		return buf, offset
	case *MessageIndex:
		n := 2 + 4 + len(v.Records)*16
		buf = ensureCap(buf, n)
		offset := putUint16(buf, v.ChannelID)
		offset += putUint32(buf[offset:], uint32(len(v.Records)*16))
		for _, e := range v.Records {
			offset += putUint64(buf[offset:], e.LogTime)
			offset += putUint64(buf[offset:], e.Offset)
		}
		return buf, offset
	case *ChunkIndex:
		ids := sortedChannelIDs(v.MessageIndexOffsets)
		mapLen := len(ids) * 10
		n := 8 + 8 + 8 + 8 + 4 + mapLen + 8 + 4 + len(v.Compression) + 8 + 8
		buf = ensureCap(buf, n)
		offset := putUint64(buf, v.MessageStartTime)
		offset += putUint64(buf[offset:], v.MessageEndTime)
		offset += putUint64(buf[offset:], v.ChunkStartOffset)
		offset += putUint64(buf[offset:], v.ChunkLength)
		offset += putUint32(buf[offset:], uint32(mapLen))
		for _, id := range ids {
			offset += putUint16(buf[offset:], id)
			offset += putUint64(buf[offset:], v.MessageIndexOffsets[id])
		}
		offset += putUint64(buf[offset:], v.MessageIndexLength)
		offset += putPrefixedString(buf[offset:], string(v.Compression))
		offset += putUint64(buf[offset:], v.CompressedSize)
		offset += putUint64(buf[offset:], v.UncompressedSize)
		return buf, offset
	case *Attachment:
		n := 8 + 8 + 4 + len(v.Name) + 4 + len(v.MediaType) + 8 + len(v.Data) + 4
		buf = ensureCap(buf, n)
		offset := putUint64(buf, v.LogTime)
		offset += putUint64(buf[offset:], v.CreateTime)
		offset += putPrefixedString(buf[offset:], v.Name)
		offset += putPrefixedString(buf[offset:], v.MediaType)
		offset += putUint64(buf[offset:], uint64(len(v.Data)))
		offset += copy(buf[offset:], v.Data)
		crc := v.CRC
		offset += putUint32(buf[offset:], crc)
		return buf, offset
	case *AttachmentIndex:
		n := 8 + 8 + 8 + 8 + 8 + 4 + len(v.Name) + 4 + len(v.MediaType)
		buf = ensureCap(buf, n)
		offset := putUint64(buf, v.Offset)
		offset += putUint64(buf[offset:], v.Length)
		offset += putUint64(buf[offset:], v.LogTime)
		offset += putUint64(buf[offset:], v.CreateTime)
		offset += putUint64(buf[offset:], v.DataSize)
		offset += putPrefixedString(buf[offset:], v.Name)
		offset += putPrefixedString(buf[offset:], v.MediaType)
		return buf, offset
	case *Statistics:
		n := 8 + 2 + 4 + 4 + 4 + 4 + 8 + 8 + 4 + len(v.ChannelMessageCounts)*10
		buf = ensureCap(buf, n)
		offset := putUint64(buf, v.MessageCount)
		offset += putUint16(buf[offset:], v.SchemaCount)
		offset += putUint32(buf[offset:], v.ChannelCount)
		offset += putUint32(buf[offset:], v.AttachmentCount)
		offset += putUint32(buf[offset:], v.MetadataCount)
		offset += putUint32(buf[offset:], v.ChunkCount)
		offset += putUint64(buf[offset:], v.MessageStartTime)
		offset += putUint64(buf[offset:], v.MessageEndTime)
		ids := sortedChannelIDs(v.ChannelMessageCounts)
		offset += putUint32(buf[offset:], uint32(len(ids)*10))
		for _, id := range ids {
			offset += putUint16(buf[offset:], id)
			offset += putUint64(buf[offset:], v.ChannelMessageCounts[id])
		}
		return buf, offset
	case *Metadata:
		encodedMeta := encodeStringMap(v.Metadata)
		n := 4 + len(v.Name) + len(encodedMeta)
		buf = ensureCap(buf, n)
		offset := putPrefixedString(buf, v.Name)
		offset += copy(buf[offset:], encodedMeta)
		return buf, offset
	case *MetadataIndex:
		n := 8 + 8 + 4 + len(v.Name)
		buf = ensureCap(buf, n)
		offset := putUint64(buf, v.Offset)
		offset += putUint64(buf[offset:], v.Length)
		offset += putPrefixedString(buf[offset:], v.Name)
		return buf, offset
	case *SummaryOffset:
		buf = ensureCap(buf, 1+8+8)
		buf[0] = byte(v.GroupOpcode)
		offset := 1
		offset += putUint64(buf[offset:], v.GroupStart)
		offset += putUint64(buf[offset:], v.GroupLength)
		return buf, offset
	case *DataEnd:
		buf = ensureCap(buf, 4)
		return buf, putUint32(buf, v.DataSectionCRC)
	case *OpaqueRecord:
		buf = ensureCap(buf, len(v.Data))
		return buf, copy(buf, v.Data)
	default:
		panic(fmt.Sprintf("mcap: unencodable record type %T", r))
	}
}

func ensureCap(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}

func sortedChannelIDs[V any](m map[uint16]V) []uint16 {
	ids := make([]uint16, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// ParseHeader parses a Header record body.
func ParseHeader(buf []byte) (*Header, error) {
	profile, offset, err := getPrefixedString(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("header profile: %w", err)
	}
	library, _, err := getPrefixedString(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("header library: %w", err)
	}
	return &Header{Profile: profile, Library: library}, nil
}

// ParseFooter parses a Footer record body.
func ParseFooter(buf []byte) (*Footer, error) {
	summaryStart, offset, err := getUint64(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("footer summary start: %w", err)
	}
	summaryOffsetStart, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("footer summary offset start: %w", err)
	}
	summaryCRC, _, err := getUint32(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("footer summary crc: %w", err)
	}
	return &Footer{SummaryStart: summaryStart, SummaryOffsetStart: summaryOffsetStart, SummaryCRC: summaryCRC}, nil
}

// ParseSchema parses a Schema record body. The returned Data slice is a copy
// independent of buf.
func ParseSchema(buf []byte) (*Schema, error) {
	id, offset, err := getUint16(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("schema id: %w", err)
	}
	name, offset, err := getPrefixedString(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("schema name: %w", err)
	}
	encoding, offset, err := getPrefixedString(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("schema encoding: %w", err)
	}
	data, _, err := getPrefixedBytes(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("schema data: %w", err)
	}
	return &Schema{ID: id, Name: name, Encoding: encoding, Data: append([]byte(nil), data...)}, nil
}

// ParseChannel parses a Channel record body.
func ParseChannel(buf []byte) (*Channel, error) {
	id, offset, err := getUint16(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("channel id: %w", err)
	}
	schemaID, offset, err := getUint16(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("channel schema id: %w", err)
	}
	topic, offset, err := getPrefixedString(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("channel topic: %w", err)
	}
	encoding, offset, err := getPrefixedString(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("channel message encoding: %w", err)
	}
	metadata, _, err := decodeStringMap(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("channel metadata: %w", err)
	}
	return &Channel{ID: id, SchemaID: schemaID, Topic: topic, MessageEncoding: encoding, Metadata: metadata}, nil
}

// ParseMessage parses a Message record body. If copyData is false, Data
// aliases buf; callers that retain the Message past the lifetime of buf must
// pass true.
func ParseMessage(buf []byte, copyData bool) (*Message, error) {
	channelID, offset, err := getUint16(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("message channel id: %w", err)
	}
	sequence, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	logTime, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("message log time: %w", err)
	}
	publishTime, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("message publish time: %w", err)
	}
	data := buf[offset:]
	if copyData {
		data = append([]byte(nil), data...)
	}
	return &Message{
		ChannelID:   channelID,
		Sequence:    sequence,
		LogTime:     logTime,
		PublishTime: publishTime,
		Data:        data,
	}, nil
}

// ParseChunk parses a Chunk record body. Records aliases buf.
func ParseChunk(buf []byte) (*Chunk, error) {
	start, offset, err := getUint64(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("chunk start: %w", err)
	}
	end, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk end: %w", err)
	}
	uncompressedSize, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk uncompressed size: %w", err)
	}
	uncompressedCRC, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk uncompressed crc: %w", err)
	}
	compression, offset, err := getPrefixedString(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk compression: %w", err)
	}
	recordsSize, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk records size: %w", err)
	}
	if recordsSize > uint64(len(buf)-offset) {
		return nil, fmt.Errorf("chunk records: %w", ErrTruncatedInput)
	}
	records := buf[offset : offset+int(recordsSize)]
	return &Chunk{
		MessageStartTime: start,
		MessageEndTime:   end,
		UncompressedSize: uncompressedSize,
		UncompressedCRC:  uncompressedCRC,
		Compression:      CompressionFormat(compression),
		Records:          records,
	}, nil
}

// ParseMessageIndex parses a MessageIndex record body.
func ParseMessageIndex(buf []byte) (*MessageIndex, error) {
	channelID, offset, err := getUint16(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("message index channel id: %w", err)
	}
	length, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("message index length: %w", err)
	}
	if uint64(length) > uint64(len(buf)-offset) {
		return nil, ErrTruncatedInput
	}
	if length%16 != 0 {
		return nil, fmt.Errorf("message index entries: %w", ErrTruncatedInput)
	}
	count := int(length) / 16
	records := make([]MessageIndexEntry, count)
	for i := 0; i < count; i++ {
		var ts, off uint64
		ts, offset, err = getUint64(buf, offset)
		if err != nil {
			return nil, fmt.Errorf("message index entry %d timestamp: %w", i, err)
		}
		off, offset, err = getUint64(buf, offset)
		if err != nil {
			return nil, fmt.Errorf("message index entry %d offset: %w", i, err)
		}
		records[i] = MessageIndexEntry{LogTime: ts, Offset: off}
	}
	return &MessageIndex{ChannelID: channelID, Records: records}, nil
}

// ParseChunkIndex parses a ChunkIndex record body.
func ParseChunkIndex(buf []byte) (*ChunkIndex, error) {
	messageStart, offset, err := getUint64(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("chunk index message start: %w", err)
	}
	messageEnd, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk index message end: %w", err)
	}
	chunkStart, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk index chunk start: %w", err)
	}
	chunkLength, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk index chunk length: %w", err)
	}
	mapLen, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk index message index offsets length: %w", err)
	}
	if uint64(mapLen) > uint64(len(buf)-offset) || mapLen%10 != 0 {
		return nil, ErrTruncatedInput
	}
	offsets := make(map[uint16]uint64, mapLen/10)
	end := offset + int(mapLen)
	for offset < end {
		var id uint16
		var off uint64
		id, offset, err = getUint16(buf, offset)
		if err != nil {
			return nil, fmt.Errorf("chunk index channel id: %w", err)
		}
		off, offset, err = getUint64(buf, offset)
		if err != nil {
			return nil, fmt.Errorf("chunk index message index offset: %w", err)
		}
		offsets[id] = off
	}
	messageIndexLength, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk index message index length: %w", err)
	}
	compression, offset, err := getPrefixedString(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk index compression: %w", err)
	}
	compressedSize, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk index compressed size: %w", err)
	}
	uncompressedSize, _, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("chunk index uncompressed size: %w", err)
	}
	return &ChunkIndex{
		MessageStartTime:    messageStart,
		MessageEndTime:      messageEnd,
		ChunkStartOffset:    chunkStart,
		ChunkLength:         chunkLength,
		MessageIndexOffsets: offsets,
		MessageIndexLength:  messageIndexLength,
		Compression:         CompressionFormat(compression),
		CompressedSize:      compressedSize,
		UncompressedSize:    uncompressedSize,
	}, nil
}

// ParseAttachment parses an Attachment record body.
func ParseAttachment(buf []byte) (*Attachment, error) {
	logTime, offset, err := getUint64(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("attachment log time: %w", err)
	}
	createTime, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("attachment create time: %w", err)
	}
	name, offset, err := getPrefixedString(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("attachment name: %w", err)
	}
	mediaType, offset, err := getPrefixedString(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("attachment media type: %w", err)
	}
	dataSize, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("attachment data size: %w", err)
	}
	if uint64(len(buf)-offset) < dataSize+4 {
		return nil, ErrTruncatedInput
	}
	data := buf[offset : offset+int(dataSize)]
	offset += int(dataSize)
	crc, _, err := getUint32(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("attachment crc: %w", err)
	}
	return &Attachment{
		LogTime:    logTime,
		CreateTime: createTime,
		Name:       name,
		MediaType:  mediaType,
		Data:       append([]byte(nil), data...),
		CRC:        crc,
	}, nil
}

// ParseAttachmentIndex parses an AttachmentIndex record body.
func ParseAttachmentIndex(buf []byte) (*AttachmentIndex, error) {
	offsetField, offset, err := getUint64(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("attachment index offset: %w", err)
	}
	length, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("attachment index length: %w", err)
	}
	logTime, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("attachment index log time: %w", err)
	}
	createTime, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("attachment index create time: %w", err)
	}
	dataSize, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("attachment index data size: %w", err)
	}
	name, offset, err := getPrefixedString(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("attachment index name: %w", err)
	}
	mediaType, _, err := getPrefixedString(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("attachment index media type: %w", err)
	}
	return &AttachmentIndex{
		Offset:     offsetField,
		Length:     length,
		LogTime:    logTime,
		CreateTime: createTime,
		DataSize:   dataSize,
		Name:       name,
		MediaType:  mediaType,
	}, nil
}

// ParseStatistics parses a Statistics record body.
func ParseStatistics(buf []byte) (*Statistics, error) {
	messageCount, offset, err := getUint64(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("statistics message count: %w", err)
	}
	schemaCount, offset, err := getUint16(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("statistics schema count: %w", err)
	}
	channelCount, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("statistics channel count: %w", err)
	}
	attachmentCount, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("statistics attachment count: %w", err)
	}
	metadataCount, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("statistics metadata count: %w", err)
	}
	chunkCount, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("statistics chunk count: %w", err)
	}
	messageStart, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("statistics message start time: %w", err)
	}
	messageEnd, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("statistics message end time: %w", err)
	}
	mapLen, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("statistics channel message counts length: %w", err)
	}
	if uint64(mapLen) > uint64(len(buf)-offset) || mapLen%10 != 0 {
		return nil, ErrTruncatedInput
	}
	counts := make(map[uint16]uint64, mapLen/10)
	end := offset + int(mapLen)
	for offset < end {
		var id uint16
		var count uint64
		id, offset, err = getUint16(buf, offset)
		if err != nil {
			return nil, fmt.Errorf("statistics channel id: %w", err)
		}
		count, offset, err = getUint64(buf, offset)
		if err != nil {
			return nil, fmt.Errorf("statistics channel message count: %w", err)
		}
		counts[id] = count
	}
	return &Statistics{
		MessageCount:         messageCount,
		SchemaCount:          schemaCount,
		ChannelCount:         channelCount,
		AttachmentCount:      attachmentCount,
		MetadataCount:        metadataCount,
		ChunkCount:           chunkCount,
		MessageStartTime:     messageStart,
		MessageEndTime:       messageEnd,
		ChannelMessageCounts: counts,
	}, nil
}

// ParseMetadata parses a Metadata record body.
func ParseMetadata(buf []byte) (*Metadata, error) {
	name, offset, err := getPrefixedString(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("metadata name: %w", err)
	}
	meta, _, err := decodeStringMap(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("metadata entries: %w", err)
	}
	return &Metadata{Name: name, Metadata: meta}, nil
}

// ParseMetadataIndex parses a MetadataIndex record body.
func ParseMetadataIndex(buf []byte) (*MetadataIndex, error) {
	offsetField, offset, err := getUint64(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("metadata index offset: %w", err)
	}
	length, offset, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("metadata index length: %w", err)
	}
	name, _, err := getPrefixedString(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("metadata index name: %w", err)
	}
	return &MetadataIndex{Offset: offsetField, Length: length, Name: name}, nil
}

// ParseSummaryOffset parses a SummaryOffset record body.
func ParseSummaryOffset(buf []byte) (*SummaryOffset, error) {
	if len(buf) < 1 {
		return nil, ErrTruncatedInput
	}
	code := OpCode(buf[0])
	groupStart, offset, err := getUint64(buf, 1)
	if err != nil {
		return nil, fmt.Errorf("summary offset group start: %w", err)
	}
	groupLength, _, err := getUint64(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("summary offset group length: %w", err)
	}
	return &SummaryOffset{GroupOpcode: code, GroupStart: groupStart, GroupLength: groupLength}, nil
}

// ParseDataEnd parses a DataEnd record body.
func ParseDataEnd(buf []byte) (*DataEnd, error) {
	crc, _, err := getUint32(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("data end crc: %w", err)
	}
	return &DataEnd{DataSectionCRC: crc}, nil
}

// parseRecord dispatches to the opcode-specific parser. Opcodes outside the
// known range produce an OpaqueRecord rather than an error.
func parseRecord(code OpCode, buf []byte) (Record, error) {
	switch code {
	case OpHeader:
		return ParseHeader(buf)
	case OpFooter:
		return ParseFooter(buf)
	case OpSchema:
		return ParseSchema(buf)
	case OpChannel:
		return ParseChannel(buf)
	case OpMessage:
		return ParseMessage(buf, true)
	case OpChunk:
		return ParseChunk(buf)
	case OpMessageIndex:
		return ParseMessageIndex(buf)
	case OpChunkIndex:
		return ParseChunkIndex(buf)
	case OpAttachment:
		return ParseAttachment(buf)
	case OpAttachmentIndex:
		return ParseAttachmentIndex(buf)
	case OpStatistics:
		return ParseStatistics(buf)
	case OpMetadata:
		return ParseMetadata(buf)
	case OpMetadataIndex:
		return ParseMetadataIndex(buf)
	case OpSummaryOffset:
		return ParseSummaryOffset(buf)
	case OpDataEnd:
		return ParseDataEnd(buf)
	default:
		return &OpaqueRecord{Code: code, Data: append([]byte(nil), buf...)}, nil
	}
}
