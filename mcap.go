package mcap

import "fmt"

// Magic is the 8-byte sequence that must open and close every MCAP file.
var Magic = []byte{0x89, 'M', 'C', 'A', 'P', 0x30, '\r', '\n'}

// OpCode identifies the type of a record. Values outside 0x01-0x0F are
// forward-compatible: readers must treat them as opaque, skippable records
// rather than errors.
type OpCode byte

const (
	OpInvalid         OpCode = 0x00
	OpHeader          OpCode = 0x01
	OpFooter          OpCode = 0x02
	OpSchema          OpCode = 0x03
	OpChannel         OpCode = 0x04
	OpMessage         OpCode = 0x05
	OpChunk           OpCode = 0x06
	OpMessageIndex    OpCode = 0x07
	OpChunkIndex      OpCode = 0x08
	OpAttachment      OpCode = 0x09
	OpAttachmentIndex OpCode = 0x0A
	OpStatistics      OpCode = 0x0B
	OpMetadata        OpCode = 0x0C
	OpMetadataIndex   OpCode = 0x0D
	OpSummaryOffset   OpCode = 0x0E
	OpDataEnd         OpCode = 0x0F
)

func (o OpCode) String() string {
	switch o {
	case OpHeader:
		return "header"
	case OpFooter:
		return "footer"
	case OpSchema:
		return "schema"
	case OpChannel:
		return "channel"
	case OpMessage:
		return "message"
	case OpChunk:
		return "chunk"
	case OpMessageIndex:
		return "message index"
	case OpChunkIndex:
		return "chunk index"
	case OpAttachment:
		return "attachment"
	case OpAttachmentIndex:
		return "attachment index"
	case OpStatistics:
		return "statistics"
	case OpMetadata:
		return "metadata"
	case OpMetadataIndex:
		return "metadata index"
	case OpSummaryOffset:
		return "summary offset"
	case OpDataEnd:
		return "data end"
	default:
		return fmt.Sprintf("opcode(0x%02x)", byte(o))
	}
}

// CompressionFormat names a chunk compression scheme. The empty string is
// the identity (uncompressed) format.
type CompressionFormat string

const (
	CompressionNone CompressionFormat = ""
	CompressionZSTD CompressionFormat = "zstd"
	CompressionLZ4  CompressionFormat = "lz4"
)

func (c CompressionFormat) String() string { return string(c) }

// Record is implemented by every record body type. It exists so readers can
// hand back a uniform value regardless of which opcode was parsed.
type Record interface {
	Opcode() OpCode
}

// Header is the first record in an MCAP file, carrying the recording
// profile and the name of the library that produced the file.
type Header struct {
	Profile string
	Library string
}

func (*Header) Opcode() OpCode { return OpHeader }

// Footer is the last record before the trailing magic. It locates the
// summary section (zero if absent) and carries the summary's checksum.
type Footer struct {
	SummaryStart       uint64
	SummaryOffsetStart uint64
	SummaryCRC         uint32
}

func (*Footer) Opcode() OpCode { return OpFooter }

// Schema describes one message schema, identified within the file by ID.
// Every occurrence of a given ID must be byte-identical.
type Schema struct {
	ID       uint16
	Name     string
	Encoding string
	Data     []byte
}

func (*Schema) Opcode() OpCode { return OpSchema }

// Channel binds a topic to a schema and a message encoding. SchemaID may be
// zero, meaning the channel has no associated schema.
type Channel struct {
	ID              uint16
	SchemaID        uint16
	Topic           string
	MessageEncoding string
	Metadata        map[string]string
}

func (*Channel) Opcode() OpCode { return OpChannel }

// Message is a single timestamped payload on a channel.
type Message struct {
	ChannelID   uint16
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
	Data        []byte
}

func (*Message) Opcode() OpCode { return OpMessage }

// Chunk batches Schema, Channel and Message records, optionally compressed
// as a unit. Records carries the (possibly compressed) inner bytes; callers
// typically never see a Chunk directly unless the reader was configured to
// leave chunks intact.
type Chunk struct {
	MessageStartTime uint64
	MessageEndTime   uint64
	UncompressedSize uint64
	UncompressedCRC  uint32
	Compression      CompressionFormat
	Records          []byte
}

func (*Chunk) Opcode() OpCode { return OpChunk }

// MessageIndexEntry maps one message's log time to its byte offset within a
// chunk's uncompressed record stream.
type MessageIndexEntry struct {
	LogTime uint64
	Offset  uint64
}

// MessageIndex locates every message on one channel within the chunk that
// immediately precedes it. A run of MessageIndex records, one per channel
// appearing in that chunk, follows each Chunk record.
type MessageIndex struct {
	ChannelID uint16
	Records   []MessageIndexEntry
}

func (*MessageIndex) Opcode() OpCode { return OpMessageIndex }

// ChunkIndex locates a Chunk record and its associated MessageIndex run
// within the file; it lives in the summary section.
type ChunkIndex struct {
	MessageStartTime    uint64
	MessageEndTime      uint64
	ChunkStartOffset    uint64
	ChunkLength         uint64
	MessageIndexOffsets map[uint16]uint64
	MessageIndexLength  uint64
	Compression         CompressionFormat
	CompressedSize      uint64
	UncompressedSize    uint64
}

func (*ChunkIndex) Opcode() OpCode { return OpChunkIndex }

// Attachment carries an auxiliary artifact (calibration data, a core dump,
// free-form text, ...). Attachments never appear inside a chunk.
type Attachment struct {
	LogTime    uint64
	CreateTime uint64
	Name       string
	MediaType  string
	Data       []byte
	CRC        uint32
}

func (*Attachment) Opcode() OpCode { return OpAttachment }

// AttachmentIndex locates one Attachment record in the file.
type AttachmentIndex struct {
	Offset     uint64
	Length     uint64
	LogTime    uint64
	CreateTime uint64
	DataSize   uint64
	Name       string
	MediaType  string
}

func (*AttachmentIndex) Opcode() OpCode { return OpAttachmentIndex }

// Statistics summarizes the recorded data. At most one should appear in a
// file's summary section.
type Statistics struct {
	MessageCount         uint64
	SchemaCount          uint16
	ChannelCount         uint32
	AttachmentCount      uint32
	MetadataCount        uint32
	ChunkCount           uint32
	MessageStartTime     uint64
	MessageEndTime       uint64
	ChannelMessageCounts map[uint16]uint64
}

func (*Statistics) Opcode() OpCode { return OpStatistics }

// Metadata holds arbitrary user-supplied key/value pairs under a name.
type Metadata struct {
	Name     string
	Metadata map[string]string
}

func (*Metadata) Opcode() OpCode { return OpMetadata }

// MetadataIndex locates one Metadata record in the file.
type MetadataIndex struct {
	Offset uint64
	Length uint64
	Name   string
}

func (*MetadataIndex) Opcode() OpCode { return OpMetadataIndex }

// SummaryOffset locates one contiguous run of same-opcode records within the
// summary section, letting a reader jump straight to (say) all ChunkIndex
// records without scanning the rest of the summary.
type SummaryOffset struct {
	GroupOpcode OpCode
	GroupStart  uint64
	GroupLength uint64
}

func (*SummaryOffset) Opcode() OpCode { return OpSummaryOffset }

// DataEnd marks the end of the data section, optionally carrying a CRC over
// everything from the lead magic up to (not including) this record.
type DataEnd struct {
	DataSectionCRC uint32
}

func (*DataEnd) Opcode() OpCode { return OpDataEnd }

// OpaqueRecord is yielded for any opcode outside 0x01-0x0F. Unknown opcodes
// are forward-compatible and never fail parsing.
type OpaqueRecord struct {
	Code OpCode
	Data []byte
}

func (o *OpaqueRecord) Opcode() OpCode { return o.Code }
