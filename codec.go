package mcap

import (
	"encoding/binary"
	"io"
	"math"
	"sort"
	"unicode/utf8"
)

// This file implements the primitive wire codec shared by every record body:
// little-endian fixed-width integers, length-prefixed strings and byte
// arrays, and length-prefixed string maps. Every decode helper returns the
// offset immediately following the value it read, so callers thread offsets
// through a record body without re-slicing at each step.

func putUint16(buf []byte, v uint16) int {
	binary.LittleEndian.PutUint16(buf, v)
	return 2
}

func putUint32(buf []byte, v uint32) int {
	binary.LittleEndian.PutUint32(buf, v)
	return 4
}

func putUint64(buf []byte, v uint64) int {
	binary.LittleEndian.PutUint64(buf, v)
	return 8
}

func getUint16(buf []byte, offset int) (uint16, int, error) {
	if offset < 0 || len(buf)-offset < 2 {
		return 0, 0, io.ErrShortBuffer
	}
	return binary.LittleEndian.Uint16(buf[offset:]), offset + 2, nil
}

func getUint32(buf []byte, offset int) (uint32, int, error) {
	if offset < 0 || len(buf)-offset < 4 {
		return 0, 0, io.ErrShortBuffer
	}
	return binary.LittleEndian.Uint32(buf[offset:]), offset + 4, nil
}

func getUint64(buf []byte, offset int) (uint64, int, error) {
	if offset < 0 || len(buf)-offset < 8 {
		return 0, 0, io.ErrShortBuffer
	}
	return binary.LittleEndian.Uint64(buf[offset:]), offset + 8, nil
}

// putPrefixedString writes a u32 byte-length followed by the string's UTF-8
// bytes, and returns the number of bytes written.
func putPrefixedString(buf []byte, s string) int {
	n := putUint32(buf, uint32(len(s)))
	n += copy(buf[n:], s)
	return n
}

// putPrefixedBytes writes a u32 byte-length followed by b, and returns the
// number of bytes written.
func putPrefixedBytes(buf []byte, b []byte) int {
	n := putUint32(buf, uint32(len(b)))
	n += copy(buf[n:], b)
	return n
}

func getPrefixedString(buf []byte, offset int) (string, int, error) {
	length, offset, err := getUint32(buf, offset)
	if err != nil {
		return "", 0, err
	}
	if uint64(length) > uint64(len(buf)-offset) {
		return "", 0, ErrTruncatedInput
	}
	s := buf[offset : offset+int(length)]
	if !utf8.Valid(s) {
		return "", 0, ErrInvalidUTF8
	}
	return string(s), offset + int(length), nil
}

func getPrefixedBytes(buf []byte, offset int) ([]byte, int, error) {
	length, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, 0, err
	}
	if uint64(length) > uint64(len(buf)-offset) {
		return nil, 0, ErrTruncatedInput
	}
	return buf[offset : offset+int(length)], offset + int(length), nil
}

// encodeStringMap serializes a map[string]string as the Map<String,String>
// grammar: a u32 total byte length of the entries, followed by the
// concatenated <key><value> pairs. Keys are sorted for a deterministic,
// reproducible encoding.
func encodeStringMap(m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	total := 0
	for k, v := range m {
		keys = append(keys, k)
		total += 4 + len(k) + 4 + len(v)
	}
	sort.Strings(keys)
	buf := make([]byte, 4+total)
	offset := putUint32(buf, uint32(total))
	for _, k := range keys {
		offset += putPrefixedString(buf[offset:], k)
		offset += putPrefixedString(buf[offset:], m[k])
	}
	return buf
}

// decodeStringMap parses a Map<String,String> field starting at offset,
// returning the map and the offset immediately past it.
func decodeStringMap(buf []byte, offset int) (map[string]string, int, error) {
	length, offset, err := getUint32(buf, offset)
	if err != nil {
		return nil, 0, err
	}
	if uint64(length) > uint64(len(buf)-offset) {
		return nil, 0, ErrTruncatedInput
	}
	end := offset + int(length)
	m := make(map[string]string)
	cursor := offset
	for cursor < end {
		var key, value string
		key, cursor, err = getPrefixedString(buf, cursor)
		if err != nil {
			return nil, 0, err
		}
		value, cursor, err = getPrefixedString(buf, cursor)
		if err != nil {
			return nil, 0, err
		}
		if _, dup := m[key]; dup {
			return nil, 0, ErrDuplicateMapKey
		}
		m[key] = value
	}
	if cursor != end {
		return nil, 0, ErrTruncatedInput
	}
	return m, end, nil
}

// safeMakeByteSlice allocates a buffer of length n, rejecting sizes that
// would not fit in a Go int on 32-bit platforms or are implausibly large for
// a single record body (a truncated or adversarial length field).
func safeMakeByteSlice(n uint64) ([]byte, error) {
	if n >= math.MaxInt32 {
		return nil, ErrNegativeOrOverflowingLength
	}
	return make([]byte, n), nil
}
