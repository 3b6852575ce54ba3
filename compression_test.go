package mcap

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionRoundTrip(t *testing.T) {
	for _, format := range []CompressionFormat{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(string(format)+"/empty", func(t *testing.T) {
			testCompressionRoundTrip(t, format, nil)
		})
		t.Run(string(format), func(t *testing.T) {
			testCompressionRoundTrip(t, format, bytes.Repeat([]byte("mcap payload "), 100))
		})
	}
}

func testCompressionRoundTrip(t *testing.T, format CompressionFormat, data []byte) {
	var buf bytes.Buffer
	comp, err := newCompressorFor(format, &buf, CompressionDefault)
	require.NoError(t, err)
	_, err = comp.Write(data)
	require.NoError(t, err)
	require.NoError(t, comp.Close())

	out, err := decompressAll(format, buf.Bytes(), uint64(len(data)), 0)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompressAllRejectsOversizedDeclaredLength(t *testing.T) {
	_, err := decompressAll(CompressionZSTD, []byte{0x00}, 1<<30, 1024)
	require.Error(t, err)
}

func TestDecompressAllIdentityForNoneFormat(t *testing.T) {
	data := []byte("raw bytes")
	out, err := decompressAll(CompressionNone, data, uint64(len(data)), 0)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestUnsupportedCompressionFormat(t *testing.T) {
	_, err := newCompressorFor(CompressionFormat("bz2"), io.Discard, CompressionDefault)
	require.Error(t, err)
	var unsupported *UnsupportedCompressionError
	require.ErrorAs(t, err, &unsupported)
}

func TestRegisterCompressionCustomFormat(t *testing.T) {
	const custom = CompressionFormat("identity-test")
	RegisterCompression(custom, CompressionCodec{
		NewCompressor: func(w io.Writer, _ CompressionLevel) (compressor, error) {
			return &bufCloser{w: w}, nil
		},
		NewDecompressor: func() decompressor { return &identityDecompressor{} },
	})
	testCompressionRoundTrip(t, custom, []byte("custom codec"))
}

func TestCompressionLevelFromString(t *testing.T) {
	assert.Equal(t, CompressionFastest, CompressionLevelFromString("fastest"))
	assert.Equal(t, CompressionDefault, CompressionLevelFromString("nonsense"))
}
