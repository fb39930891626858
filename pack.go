package revivemc74

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash"
)

// paddingSize calculates the amount of padding necessary for the Image's page size.
func (img *Image) paddingSize(dataSize int) int {
	return int(paddingFor(uint32(dataSize), img.PageSize))
}

// writePadding writes padding for the image's page size.
func (img *Image) writePadding(out io.Writer, dataSize int) (err error) {
	size := img.paddingSize(dataSize)
	if size == 0 {
		return
	}

	pad := make([]byte, size)
	_, err = out.Write(pad)

	return
}

// checksum computes a checksum corresponding to all the data in the image.
func (img *Image) checksum() uint64 {
	xxh := xxhash.New()

	xxh.Write(img.Kernel)
	xxh.Write(img.Ramdisk)
	xxh.Write(img.Second)
	xxh.Write(img.DeviceTree)

	return xxh.Sum64()
}

// header builds the raw header for the Image.
func (img *Image) header() (*RawImage, error) {
	if img.PageSize == 0 || img.PageSize&(img.PageSize-1) != 0 {
		return nil, fmt.Errorf("%w: page size %d is not a power of two", ErrStructuralMismatch, img.PageSize)
	}

	var magic [BootMagicSize]byte
	copy(magic[:], BootMagic)

	var board [BootNameSize]byte
	if len(img.Board) >= BootNameSize {
		return nil, fmt.Errorf("%w: board name %q is too long", ErrStructuralMismatch, img.Board)
	}
	copy(board[:], img.Board)

	var cmdline [BootArgsSize]byte
	var extraCmdline [BootExtraArgsSize]byte

	// Both fields keep a terminating NUL.
	cmdLen := len(img.Cmdline)
	if cmdLen < BootArgsSize {
		copy(cmdline[:], img.Cmdline)
	} else if cmdLen < BootArgsSize+BootExtraArgsSize-1 {
		copy(cmdline[:], img.Cmdline[:BootArgsSize-1])
		copy(extraCmdline[:], img.Cmdline[BootArgsSize-1:])
	} else {
		return nil, fmt.Errorf("%w: kernel command line is %d bytes", ErrStructuralMismatch, cmdLen)
	}

	hdr := &RawImage{
		Magic: magic,

		KernelSize: uint32(len(img.Kernel)),
		KernelAddr: img.Base + img.KernelOffset,

		RamdiskSize: uint32(len(img.Ramdisk)),
		RamdiskAddr: img.Base + img.RamdiskOffset,

		SecondSize: uint32(len(img.Second)),
		SecondAddr: img.Base + img.SecondOffset,

		TagsAddr: img.Base + img.TagsOffset,
		PageSize: img.PageSize,
		DtSize:   uint32(len(img.DeviceTree)),

		OSVersion: img.OSVersion,

		Board:   board,
		Cmdline: cmdline,

		ExtraCmdline: extraCmdline,
	}

	binary.LittleEndian.PutUint64(hdr.ID[:], img.checksum())
	return hdr, nil
}

// WriteHeader writes the Image's header in Android boot format.
func (img *Image) WriteHeader(out io.Writer) (err error) {
	hdr, err := img.header()
	if err != nil {
		return eMsg(err, "building header")
	}

	err = binary.Write(out, binary.LittleEndian, hdr)
	if err != nil {
		return eMsg(err, "writing header")
	}

	err = img.writePadding(out, HeaderSize)
	if err != nil {
		return eMsg(err, "padding header")
	}

	return
}

// writePaddedSection writes data to the output, then pads it to the page size.
func (img *Image) writePaddedSection(out io.Writer, data []byte) (err error) {
	count, err := out.Write(data)
	if err != nil {
		return
	}

	err = img.writePadding(out, count)
	return
}

// WriteData writes the data chunks (ramdisk, kernel, etc) to the output.
func (img *Image) WriteData(out io.Writer) (err error) {
	err = img.writePaddedSection(out, img.Kernel)
	if err != nil {
		return eMsg(err, "writing kernel")
	}

	err = img.writePaddedSection(out, img.Ramdisk)
	if err != nil {
		return eMsg(err, "writing ramdisk")
	}

	if len(img.Second) > 0 {
		err = img.writePaddedSection(out, img.Second)
		if err != nil {
			return eMsg(err, "writing second stage bootloader")
		}
	}

	if len(img.DeviceTree) > 0 {
		err = img.writePaddedSection(out, img.DeviceTree)
		if err != nil {
			return eMsg(err, "writing device tree")
		}
	}

	return
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteTo writes the header and data sections to out, implementing
// io.WriterTo.
func (img *Image) WriteTo(out io.Writer) (int64, error) {
	cw := &countingWriter{w: out}

	if err := img.WriteHeader(cw); err != nil {
		return cw.n, err
	}
	if err := img.WriteData(cw); err != nil {
		return cw.n, err
	}

	return cw.n, nil
}

// Size is the encoded size of the Image, before any partition padding.
func (img *Image) Size() int {
	ps := func(data []byte) int {
		return len(data) + img.paddingSize(len(data))
	}

	return HeaderSize + img.paddingSize(HeaderSize) + ps(img.Kernel) + ps(img.Ramdisk) + ps(img.Second) + ps(img.DeviceTree)
}

// DumpBytes dumps the Image data into a byte slice.
func (img *Image) DumpBytes() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, img.Size()))

	if _, err := img.WriteTo(buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DumpPartition dumps the Image zero-padded to exactly partSize bytes.
// A partSize of zero returns the unpadded image.
func (img *Image) DumpPartition(partSize int) ([]byte, error) {
	data, err := img.DumpBytes()
	if err != nil {
		return nil, err
	}

	if partSize == 0 {
		return data, nil
	}
	if len(data) > partSize {
		return nil, eMsg(fmt.Errorf("%w: image is %d bytes, partition holds %d", ErrStructuralMismatch, len(data), partSize),
			"fitting image to partition")
	}

	return append(data, make([]byte, partSize-len(data))...), nil
}
