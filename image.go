package revivemc74

// Boot image format constants
const (
	BootMagic         = "ANDROID!"
	BootMagicSize     = 8
	BootNameSize      = 16
	BootArgsSize      = 512
	BootExtraArgsSize = 1024
	BootIDSize        = 32

	// How far into the input the header magic is searched for
	BootMagicSearch = 512
)

// Default load offsets, relative to the base address, used by mkbootimg
const (
	DefaultKernelOffset  = 0x00008000
	DefaultRamdiskOffset = 0x01000000
	DefaultSecondOffset  = 0x00f00000
	DefaultTagsOffset    = 0x00000100
	DefaultPageSize      = 2048
)

// General constants
const (
	MinImageSize = 2097152 // 2 MiB

	// PartitionSize is the size of the MC74 boot and recovery partitions.
	PartitionSize = 8 * 1024 * 1024
)

// Image represents the contents of a boot image.
type Image struct {
	Board     string
	Cmdline   string
	OSVersion uint32

	Base          uint32
	KernelOffset  uint32
	RamdiskOffset uint32
	SecondOffset  uint32
	TagsOffset    uint32
	PageSize      uint32

	Kernel     []byte
	Ramdisk    []byte
	Second     []byte
	DeviceTree []byte
}

// NewImage returns an empty image with the mkbootimg default layout.
func NewImage() *Image {
	return &Image{
		KernelOffset:  DefaultKernelOffset,
		RamdiskOffset: DefaultRamdiskOffset,
		SecondOffset:  DefaultSecondOffset,
		TagsOffset:    DefaultTagsOffset,
		PageSize:      DefaultPageSize,
	}
}

// RawImage is the on-disk v0 header, little endian, as read and
// written by encoding/binary.
type RawImage struct {
	Magic [BootMagicSize]byte

	KernelSize  uint32
	KernelAddr  uint32
	RamdiskSize uint32
	RamdiskAddr uint32
	SecondSize  uint32
	SecondAddr  uint32
	TagsAddr    uint32
	PageSize    uint32
	DtSize      uint32
	// Packed A.B.C version and Y-M patch level; zero on the MC74
	OSVersion uint32

	Board   [BootNameSize]byte
	Cmdline [BootArgsSize]byte
	// Holds an xxhash64 of the payload sections in its first 8 bytes
	ID           [BootIDSize]byte
	ExtraCmdline [BootExtraArgsSize]byte
}

// HeaderSize is the encoded size of RawImage.
const HeaderSize = BootMagicSize + 10*4 + BootNameSize + BootArgsSize + BootIDSize + BootExtraArgsSize
