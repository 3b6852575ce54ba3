package mcap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC32OfMatchesIncremental(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	whole := crc32Of(data)

	var buf bytes.Buffer
	w := newCRCWriter(&buf, true)
	_, err := w.Write(data[:10])
	require.NoError(t, err)
	_, err = w.Write(data[10:])
	require.NoError(t, err)
	assert.Equal(t, whole, w.Checksum())
	assert.Equal(t, int64(len(data)), w.Size())
}

func TestCheckCRCSkipsWhenExpectedZero(t *testing.T) {
	require.NoError(t, checkCRC(0, 0xDEADBEEF))
}

func TestCheckCRCMismatch(t *testing.T) {
	err := checkCRC(1, 2)
	require.Error(t, err)
	var mismatch *CRCMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint32(1), mismatch.Expected)
	assert.Equal(t, uint32(2), mismatch.Actual)
}

func TestCRCWriterResetCRCAndSize(t *testing.T) {
	var buf bytes.Buffer
	w := newCRCWriter(&buf, true)
	_, _ = w.Write([]byte("abc"))
	w.ResetCRC()
	w.ResetSize()
	assert.Equal(t, uint32(0), w.Checksum())
	assert.Equal(t, int64(0), w.Size())
}

func TestCRCReaderAccumulates(t *testing.T) {
	data := []byte("payload")
	r := newCRCReader(bytes.NewReader(data), true)
	out := make([]byte, len(data))
	_, err := r.Read(out)
	require.NoError(t, err)
	assert.Equal(t, crc32Of(data), r.Checksum())
}

func TestBufCloserPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	bc := &bufCloser{w: &buf}
	_, err := bc.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, bc.Close())
	assert.Equal(t, "hello", buf.String())

	var buf2 bytes.Buffer
	bc.Reset(&buf2)
	_, _ = bc.Write([]byte("world"))
	assert.Equal(t, "world", buf2.String())
}
