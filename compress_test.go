package revivemc74

import (
	"bytes"
	"errors"
	"testing"

	"gotest.tools/v3/assert"
)

func TestCompressRoundTrip(t *testing.T) {
	archive := bytes.Repeat([]byte("070701 ramdisk payload "), 500)

	compr, err := CompressRamdisk(archive, CompGzip)
	assert.NilError(t, err)
	assert.Equal(t, DetectCompressor(compr), CompGzip)
	assert.Check(t, len(compr) < len(archive))

	got, err := ExtractRamdisk(compr, CompGzip)
	assert.NilError(t, err)
	assert.Check(t, bytes.Equal(got, archive))
}

func TestDetectCompressor(t *testing.T) {
	for _, tc := range []struct {
		magic []byte
		want  Compression
	}{
		{[]byte{0x1f, 0x8b, 0x08}, CompGzip},
		{[]byte{0x42, 0x5a, 0x68}, CompBzip2},
		{[]byte{0x5d, 0x00, 0x00}, CompLzma},
		{[]byte{0x89, 0x4c, 0x5a}, CompLzo},
		{[]byte{0x00}, CompUnknown},
		{[]byte("0707"), CompUnknown},
	} {
		assert.Check(t, DetectCompressor(tc.magic) == tc.want, "magic % x", tc.magic)
	}
}

func TestUnsupportedCompression(t *testing.T) {
	_, err := CompressRamdisk([]byte("x"), CompXz)
	assert.Assert(t, errors.Is(err, ErrExternalTool))

	_, err = ExtractRamdisk([]byte{0x5d, 0x00}, CompLzma)
	assert.Assert(t, errors.Is(err, ErrExternalTool))

	_, err = ExtractRamdisk([]byte("definitely not gzip"), CompGzip)
	assert.Assert(t, err != nil)
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, ParseCompression("gzip\n"), CompGzip)
	assert.Equal(t, ParseCompression("xz"), CompXz)
	assert.Equal(t, ParseCompression("zstd"), CompUnknown)
	assert.Equal(t, Compression(99).String(), "unknown")
}
