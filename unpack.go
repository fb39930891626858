package revivemc74

// Header parsing follows https://github.com/chenxiaolong/DualBootPatcher

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// paddingFor returns how many bytes follow an item of itemSize to reach
// the next page boundary.
func paddingFor(itemSize uint32, pageSize uint32) int64 {
	pageMask := pageSize - 1

	if (itemSize & pageMask) == 0 {
		return 0
	}

	return int64(pageSize - (itemSize & pageMask))
}

// SkipPadding skips padding in the input up to the next page boundary.
func SkipPadding(fin io.Seeker, itemSize uint32, pageSize uint32) (err error) {
	_, err = fin.Seek(paddingFor(itemSize, pageSize), io.SeekCurrent)
	return
}

// findMagic returns the offset of the header magic within the first
// BootMagicSearch bytes of the input.
func findMagic(fin io.ReadSeeker) (int64, error) {
	var i int64
	magicbuf := make([]byte, BootMagicSize)
	for i = 0; i <= BootMagicSearch; i++ {
		_, err := fin.Seek(i, io.SeekStart)
		if err != nil {
			return 0, eMsg(err, "seeking in input")
		}

		_, err = io.ReadFull(fin, magicbuf)
		if err != nil {
			break
		}

		if bytes.Equal(magicbuf, []byte(BootMagic)) {
			return i, nil
		}
	}

	return 0, eMsg(fmt.Errorf("%w: no %q magic, perhaps this is not a boot image?", ErrStructuralMismatch, BootMagic),
		"finding Android header")
}

// readSection reads a size-byte section, refusing sizes that run past
// the end of the input before allocating for them.
func readSection(fin io.ReadSeeker, end int64, size uint32, what string) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	pos, err := fin.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, eMsg(err, "seeking in input")
	}
	if int64(size) > end-pos {
		return nil, eMsg(fmt.Errorf("%w: %s of %d bytes runs past the end of the input", ErrStructuralMismatch, what, size),
			"reading "+what+" from input")
	}

	data := make([]byte, size)
	_, err = io.ReadFull(fin, data)
	if err != nil {
		return nil, eMsg(err, "reading "+what+" from input")
	}

	return data, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}

	return string(b)
}

// UnpackImage unpacks an image and reads all the embedded data blocks.
func UnpackImage(fin io.ReadSeeker) (*Image, error) {
	end, err := fin.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, eMsg(err, "seeking in input")
	}

	start, err := findMagic(fin)
	if err != nil {
		return nil, err
	}

	_, err = fin.Seek(start, io.SeekStart)
	if err != nil {
		return nil, eMsg(err, "seeking to read header")
	}

	var header RawImage
	err = binary.Read(fin, binary.LittleEndian, &header)
	if err != nil {
		return nil, eMsg(err, "reading header from input")
	}

	if header.PageSize == 0 || header.PageSize&(header.PageSize-1) != 0 {
		return nil, eMsg(fmt.Errorf("%w: page size %d is not a power of two", ErrStructuralMismatch, header.PageSize),
			"reading header from input")
	}
	if header.KernelSize == 0 || header.RamdiskSize == 0 {
		return nil, eMsg(fmt.Errorf("%w: kernel or ramdisk is empty", ErrStructuralMismatch),
			"reading header from input")
	}

	baseAddr := header.KernelAddr - DefaultKernelOffset

	err = SkipPadding(fin, HeaderSize, header.PageSize)
	if err != nil {
		return nil, eMsg(err, "seeking past header")
	}
	kernel, err := readSection(fin, end, header.KernelSize, "kernel")
	if err != nil {
		return nil, err
	}

	err = SkipPadding(fin, header.KernelSize, header.PageSize)
	if err != nil {
		return nil, eMsg(err, "seeking past kernel")
	}
	ramdisk, err := readSection(fin, end, header.RamdiskSize, "ramdisk")
	if err != nil {
		return nil, err
	}

	err = SkipPadding(fin, header.RamdiskSize, header.PageSize)
	if err != nil {
		return nil, eMsg(err, "seeking past ramdisk")
	}
	second, err := readSection(fin, end, header.SecondSize, "second stage bootloader")
	if err != nil {
		return nil, err
	}

	err = SkipPadding(fin, header.SecondSize, header.PageSize)
	if err != nil {
		return nil, eMsg(err, "seeking past second stage bootloader")
	}
	deviceTree, err := readSection(fin, end, header.DtSize, "device tree")
	if err != nil {
		return nil, err
	}

	cmdline := cString(header.Cmdline[:])
	if extra := cString(header.ExtraCmdline[:]); extra != "" {
		cmdline += extra
	}

	return &Image{
		Board:     cString(header.Board[:]),
		Cmdline:   cmdline,
		OSVersion: header.OSVersion,

		Base:          baseAddr,
		KernelOffset:  header.KernelAddr - baseAddr,
		RamdiskOffset: header.RamdiskAddr - baseAddr,
		SecondOffset:  header.SecondAddr - baseAddr,
		TagsOffset:    header.TagsAddr - baseAddr,
		PageSize:      header.PageSize,

		Kernel:     kernel,
		Ramdisk:    ramdisk,
		Second:     second,
		DeviceTree: deviceTree,
	}, nil
}

// DetectCompressor detects the compressor used for the input ramdisk.
func DetectCompressor(compr []byte) Compression {
	if len(compr) < 2 {
		return CompUnknown
	}

	switch fmt.Sprintf("%02x%02x", compr[0], compr[1]) {
	case "425a":
		return CompBzip2
	case "1f8b":
		return CompGzip
	case "1f9e":
		return CompGzip
	case "0422", "0221":
		return CompLz4
	case "894c":
		return CompLzo
	case "5d00":
		return CompLzma
	case "fd37":
		return CompXz
	default:
		return CompUnknown
	}
}

// ExtractRamdisk decompresses the provided ramdisk.
func ExtractRamdisk(compr []byte, cMode Compression) (ramdisk []byte, err error) {
	if cMode != CompGzip {
		return nil, eMsg(fmt.Errorf("%w: %s ramdisk compression is not supported", ErrExternalTool, cMode),
			"preparing to extract ramdisk")
	}

	gReader, err := gzipReader(compr)
	if err != nil {
		return nil, eMsg(err, "preparing to extract ramdisk")
	}

	ramdisk, err = io.ReadAll(gReader)
	if err != nil {
		return nil, eMsg(err, "extracting ramdisk")
	}

	err = gReader.Close()
	if err != nil {
		return nil, eMsg(err, "cleaning up ramdisk extraction")
	}

	if len(ramdisk) == 0 {
		return nil, eMsg(errors.New("ramdisk is empty"), "extracting ramdisk")
	}

	return
}

// DecompressRamdisk decompresses the Image's ramdisk.
func (img *Image) DecompressRamdisk(cMode Compression) (err error) {
	rd, err := ExtractRamdisk(img.Ramdisk, cMode)
	if err != nil {
		return
	}

	img.Ramdisk = rd
	return
}

// UnpackImageBytes unpacks an image from the given byte slice.
func UnpackImageBytes(data []byte) (*Image, error) {
	reader := bytes.NewReader(data)
	return UnpackImage(reader)
}
