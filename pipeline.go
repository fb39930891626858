package revivemc74

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// Component file suffixes inside the unpack directory.
const (
	CompKernel        = "zImage"
	CompRamdisk       = "ramdisk"
	CompRamdiskGz     = "ramdisk.gz"
	CompCmdline       = "cmdline"
	CompBase          = "base"
	CompPageSize      = "pagesize"
	CompBoard         = "board"
	CompKernelOffset  = "kernel_offset"
	CompRamdiskOffset = "ramdisk_offset"
	CompSecondOffset  = "second_offset"
	CompTagsOffset    = "tags_offset"
	CompOSVersion     = "os_version"
	CompSecond        = "second"
	CompDeviceTree    = "dt"
	CompCompression   = "ramdiskcomp"
)

// StampFormat is the YYMMDDHHmm tag appended to a freshly packed image.
const StampFormat = "0601021504"

// Layout names the files belonging to one boot image file. Every path
// is derived from the image location, never from the working directory.
type Layout struct {
	Dir  string
	File string
}

// NewLayout returns the layout for the image at imagePath.
func NewLayout(imagePath string) Layout {
	return Layout{
		Dir:  filepath.Dir(imagePath),
		File: filepath.Base(imagePath),
	}
}

// Name is the image file name without its extension.
func (l Layout) Name() string {
	return strings.TrimSuffix(l.File, filepath.Ext(l.File))
}

// ImagePath is the canonical image path.
func (l Layout) ImagePath() string {
	return filepath.Join(l.Dir, l.File)
}

// UnpackDir holds the split image components.
func (l Layout) UnpackDir() string {
	return filepath.Join(l.Dir, l.Name()+"Unpack")
}

// RamdiskDir holds the exploded ramdisk tree.
func (l Layout) RamdiskDir() string {
	return filepath.Join(l.Dir, l.Name()+"Ramdisk")
}

// Component is the path of one split component.
func (l Layout) Component(suffix string) string {
	return filepath.Join(l.UnpackDir(), l.Name()+"-"+suffix)
}

// OrigListing is the listing of the ramdisk as unpacked.
func (l Layout) OrigListing() string {
	return filepath.Join(l.UnpackDir(), l.Name()+"LsRdOrig")
}

// NewListing is the listing of the ramdisk as last packed.
func (l Layout) NewListing() string {
	return filepath.Join(l.UnpackDir(), l.Name()+"LsRdNew")
}

// StampedPath is where Pack writes the image before renaming it.
func (l Layout) StampedPath(t time.Time) string {
	return l.ImagePath() + t.Format(StampFormat)
}

// Options tune Unpack and Pack.
type Options struct {
	// Exact size of the target partition; zero disables size checks.
	PartitionSize int
	// Clock for the image stamp; time.Now when nil.
	Now func() time.Time
}

// DefaultOptions are the MC74 boot partition settings.
func DefaultOptions() Options {
	return Options{PartitionSize: PartitionSize}
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}

	return time.Now()
}

// CheckSize reports a StructuralMismatch when size isn't partSize.
func CheckSize(size int64, partSize int) error {
	if partSize == 0 || size == int64(partSize) {
		return nil
	}

	return fmt.Errorf("%w: image is %s (%d bytes), the partition is %s", ErrStructuralMismatch,
		units.BytesSize(float64(size)), size, units.BytesSize(float64(partSize)))
}

func writeComponent(l Layout, suffix string, data []byte) error {
	err := os.WriteFile(l.Component(suffix), data, 0o644)
	if err != nil {
		return eMsg(err, "writing "+suffix)
	}

	return nil
}

func writeTextComponent(l Layout, suffix, value string) error {
	return writeComponent(l, suffix, []byte(value+"\n"))
}

func readComponent(l Layout, suffix string) ([]byte, error) {
	data, err := os.ReadFile(l.Component(suffix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, eMsg(fmt.Errorf("%w: %s", ErrFileMissing, l.Component(suffix)), "reading "+suffix)
		}
		return nil, eMsg(err, "reading "+suffix)
	}

	return data, nil
}

// readTextComponent reads a component and strips its trailing newline.
func readTextComponent(l Layout, suffix string) (string, error) {
	data, err := readComponent(l, suffix)
	if err != nil {
		return "", err
	}

	s := strings.TrimSuffix(string(data), "\n")
	return strings.TrimSuffix(s, "\r"), nil
}

func readHexComponent(l Layout, suffix string, def uint32, required bool) (uint32, error) {
	s, err := readTextComponent(l, suffix)
	if err != nil {
		if !required && errors.Is(err, ErrFileMissing) {
			return def, nil
		}
		return 0, err
	}

	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(s), "0x"), 16, 32)
	if err != nil {
		return 0, eMsg(err, "parsing "+suffix)
	}

	return uint32(v), nil
}

func readOptionalBlob(l Layout, suffix string) ([]byte, error) {
	data, err := readComponent(l, suffix)
	if err != nil && errors.Is(err, ErrFileMissing) {
		return nil, nil
	}

	return data, err
}

// writeComponents splits img into component files.
func writeComponents(l Layout, img *Image, cMode Compression) error {
	texts := []struct {
		suffix, value string
	}{
		{CompCmdline, img.Cmdline},
		{CompBase, fmt.Sprintf("%08x", img.Base)},
		{CompPageSize, strconv.FormatUint(uint64(img.PageSize), 10)},
		{CompBoard, img.Board},
		{CompKernelOffset, fmt.Sprintf("%08x", img.KernelOffset)},
		{CompRamdiskOffset, fmt.Sprintf("%08x", img.RamdiskOffset)},
		{CompSecondOffset, fmt.Sprintf("%08x", img.SecondOffset)},
		{CompTagsOffset, fmt.Sprintf("%08x", img.TagsOffset)},
		{CompOSVersion, fmt.Sprintf("%08x", img.OSVersion)},
		{CompCompression, cMode.String()},
	}
	for _, t := range texts {
		if err := writeTextComponent(l, t.suffix, t.value); err != nil {
			return err
		}
	}

	if err := writeComponent(l, CompKernel, img.Kernel); err != nil {
		return err
	}
	if err := writeComponent(l, CompRamdiskGz, img.Ramdisk); err != nil {
		return err
	}
	if len(img.Second) > 0 {
		if err := writeComponent(l, CompSecond, img.Second); err != nil {
			return err
		}
	}
	if len(img.DeviceTree) > 0 {
		if err := writeComponent(l, CompDeviceTree, img.DeviceTree); err != nil {
			return err
		}
	}

	return nil
}

// Unpack splits the boot image at imagePath into <name>Unpack and
// explodes its ramdisk into <name>Ramdisk. Both directories are
// recreated from scratch.
func Unpack(imagePath string, opts Options) (*Image, error) {
	l := NewLayout(imagePath)

	data, err := os.ReadFile(l.ImagePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, eMsg(fmt.Errorf("%w: %s", ErrFileMissing, l.ImagePath()), "opening image for reading")
		}
		return nil, eMsg(err, "opening image for reading")
	}

	if err := CheckSize(int64(len(data)), opts.PartitionSize); err != nil {
		return nil, eMsg(err, "verifying image size")
	}

	img, err := UnpackImageBytes(data)
	if err != nil {
		return nil, err
	}

	err = os.RemoveAll(l.UnpackDir())
	if err != nil {
		return nil, eMsg(err, "clearing unpack directory")
	}
	err = os.Mkdir(l.UnpackDir(), 0o755)
	if err != nil {
		return nil, eMsg(err, "creating unpack directory")
	}

	cMode := DetectCompressor(img.Ramdisk)
	if err := writeComponents(l, img, cMode); err != nil {
		return nil, err
	}

	// Decompress in place, the way gunzip replaces the .gz file.
	ramdisk, err := ExtractRamdisk(img.Ramdisk, cMode)
	if err != nil {
		return nil, err
	}
	if err := writeComponent(l, CompRamdisk, ramdisk); err != nil {
		return nil, err
	}
	if err := os.Remove(l.Component(CompRamdiskGz)); err != nil {
		return nil, eMsg(err, "removing compressed ramdisk")
	}

	_, err = Decompile(ramdisk, l.RamdiskDir(), l.OrigListing())
	if err != nil {
		return nil, err
	}

	return img, nil
}

// loadImage assembles an Image from the component files, using
// ramdisk as the compressed ramdisk.
func loadImage(l Layout, ramdisk []byte) (*Image, error) {
	img := NewImage()
	img.Ramdisk = ramdisk

	var err error
	img.Kernel, err = readComponent(l, CompKernel)
	if err != nil {
		return nil, err
	}

	img.Cmdline, err = readTextComponent(l, CompCmdline)
	if err != nil {
		return nil, err
	}

	img.Base, err = readHexComponent(l, CompBase, 0, true)
	if err != nil {
		return nil, err
	}

	pageSize, err := readTextComponent(l, CompPageSize)
	if err != nil {
		return nil, err
	}
	ps, err := strconv.ParseUint(strings.TrimSpace(pageSize), 10, 32)
	if err != nil {
		return nil, eMsg(err, "parsing "+CompPageSize)
	}
	img.PageSize = uint32(ps)

	if board, err := readTextComponent(l, CompBoard); err == nil {
		img.Board = board
	} else if !errors.Is(err, ErrFileMissing) {
		return nil, err
	}

	offsets := []struct {
		suffix string
		def    uint32
		dst    *uint32
	}{
		{CompKernelOffset, DefaultKernelOffset, &img.KernelOffset},
		{CompRamdiskOffset, DefaultRamdiskOffset, &img.RamdiskOffset},
		{CompSecondOffset, DefaultSecondOffset, &img.SecondOffset},
		{CompTagsOffset, DefaultTagsOffset, &img.TagsOffset},
		{CompOSVersion, 0, &img.OSVersion},
	}
	for _, o := range offsets {
		*o.dst, err = readHexComponent(l, o.suffix, o.def, false)
		if err != nil {
			return nil, err
		}
	}

	img.Second, err = readOptionalBlob(l, CompSecond)
	if err != nil {
		return nil, err
	}
	img.DeviceTree, err = readOptionalBlob(l, CompDeviceTree)
	if err != nil {
		return nil, err
	}

	return img, nil
}

// compressionOf returns the compression recorded at unpack time.
func compressionOf(l Layout) (Compression, error) {
	name, err := readTextComponent(l, CompCompression)
	if err != nil {
		if errors.Is(err, ErrFileMissing) {
			return CompGzip, nil
		}
		return CompUnknown, err
	}

	return ParseCompression(name), nil
}

func requireOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s was not written", ErrPackFailed, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrPackFailed, path)
	}

	return nil
}

// Pack rebuilds the ramdisk from <name>Ramdisk, recompresses it and
// builds a new image at imagePath from the preserved components. The
// image is written to a stamped path first and then renamed over the
// canonical name. It returns the path of the new image.
func Pack(imagePath string, opts Options) (string, error) {
	l := NewLayout(imagePath)

	archive, tree, err := Compile(l.RamdiskDir())
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(l.UnpackDir()); err != nil {
		return "", eMsg(fmt.Errorf("%w: %s", ErrFileMissing, l.UnpackDir()), "finding unpack directory")
	}

	rdPath := l.Component(CompRamdisk)
	if err := writeComponent(l, CompRamdisk, archive); err != nil {
		return "", err
	}
	if err := requireOutput(rdPath); err != nil {
		return "", eMsg(err, "archiving ramdisk")
	}

	err = os.WriteFile(l.NewListing(), []byte(tree.Listing()), 0o644)
	if err != nil {
		return "", eMsg(err, "writing ramdisk listing")
	}

	cMode, err := compressionOf(l)
	if err != nil {
		return "", err
	}
	compressed, err := CompressRamdisk(archive, cMode)
	if err != nil {
		return "", err
	}

	gzPath := l.Component(CompRamdiskGz)
	if err := os.Remove(gzPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", eMsg(err, "removing previous compressed ramdisk")
	}
	if err := writeComponent(l, CompRamdiskGz, compressed); err != nil {
		return "", err
	}
	if err := requireOutput(gzPath); err != nil {
		return "", eMsg(err, "compressing ramdisk")
	}

	img, err := loadImage(l, compressed)
	if err != nil {
		return "", err
	}

	data, err := img.DumpPartition(opts.PartitionSize)
	if err != nil {
		return "", err
	}

	if err := os.Remove(l.ImagePath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", eMsg(err, "removing previous image")
	}

	stamped := l.StampedPath(opts.now())
	err = os.WriteFile(stamped, data, 0o644)
	if err != nil {
		return "", eMsg(err, "writing image")
	}
	if err := requireOutput(stamped); err != nil {
		return "", eMsg(err, "building image")
	}

	err = os.Rename(stamped, l.ImagePath())
	if err != nil {
		return "", eMsg(err, "renaming "+filepath.Base(stamped))
	}

	return l.ImagePath(), nil
}
