// Package mcap implements the MCAP container format: a log of heterogeneous,
// timestamped pub/sub messages, each on a channel with its own schema and
// serialization encoding, plus free-form attachments and metadata.
//
// The package is organized around four pieces that mirror the format itself:
// a primitive codec for the little-endian wire types (codec.go), a record
// grammar mapping opcodes to typed bodies (record.go), a streaming Writer
// that produces appendable MCAP files (writer.go), and two readers: a
// forward-only StreamReader (stream_reader.go) for sequential access and an
// IndexedReader (indexed_reader.go) that uses the summary section for
// random-access, time-ordered iteration.
//
// Decoding message payloads (ROS, Protobuf, JSON, FlatBuffers, ...) is left
// to the caller; this package only understands the container.
package mcap
