package revivemc74

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	gzip "github.com/klauspost/pgzip"
)

// Compression identifies a ramdisk compression format.
type Compression int

// Compression types/modes
const (
	CompGzip Compression = iota
	CompLz4
	CompLzo
	CompXz
	CompBzip2
	CompLzma
	CompUnknown
)

var compNames = [...]string{
	CompGzip:    "gzip",
	CompLz4:     "lz4",
	CompLzo:     "lzo",
	CompXz:      "xz",
	CompBzip2:   "bzip2",
	CompLzma:    "lzma",
	CompUnknown: "unknown",
}

func (c Compression) String() string {
	if c < 0 || int(c) >= len(compNames) {
		return compNames[CompUnknown]
	}

	return compNames[c]
}

// ParseCompression is the inverse of Compression.String.
func ParseCompression(name string) Compression {
	name = strings.TrimSpace(name)
	for i, n := range compNames {
		if n == name {
			return Compression(i)
		}
	}

	return CompUnknown
}

func gzipReader(compr []byte) (io.ReadCloser, error) {
	return gzip.NewReader(bytes.NewReader(compr))
}

// CompressRamdisk compresses the input ramdisk in a certain mode.
func CompressRamdisk(ramdisk []byte, cMode Compression) ([]byte, error) {
	if cMode != CompGzip {
		return nil, eMsg(fmt.Errorf("%w: %s ramdisk compression is not supported", ErrExternalTool, cMode),
			"preparing to compress ramdisk")
	}

	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, eMsg(err, "preparing to compress ramdisk")
	}

	_, err = writer.Write(ramdisk)
	if err != nil {
		return nil, eMsg(err, "compressing ramdisk")
	}

	err = writer.Flush()
	if err != nil {
		return nil, eMsg(err, "finishing up ramdisk compression")
	}

	err = writer.Close()
	if err != nil {
		return nil, eMsg(err, "cleaning up ramdisk compression")
	}

	return buf.Bytes(), nil
}

// CompressRamdisk compresses the Image's ramdisk.
func (img *Image) CompressRamdisk(cMode Compression) (err error) {
	rd, err := CompressRamdisk(img.Ramdisk, cMode)
	if err != nil {
		return
	}

	img.Ramdisk = rd
	return
}
