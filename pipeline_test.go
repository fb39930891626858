package revivemc74

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

// writeStockImage writes an MC74 sized boot image holding a small
// unrooted ramdisk and returns its path.
func writeStockImage(t *testing.T, dir string) string {
	t.Helper()

	tree := Tree{
		{Path: "default.prop", Mode: 0o644, ModTime: testTime, Data: []byte(stockProps)},
		{Path: "init.bcm911130_me1.rc", Mode: 0o750, ModTime: testTime, Data: []byte("    symlink /storage/emulated/legacy /sdcard\n")},
		{Path: "init.rc", Mode: 0o750, ModTime: testTime, Data: []byte("on init\n    symlink /system/etc /etc\n")},
		{Path: "sbin", Mode: os.ModeDir | 0o750, ModTime: testTime},
		{Path: "sbin/adbd", Mode: 0o750, ModTime: testTime, Data: []byte("adbd")},
	}
	compr, err := CompressRamdisk(archiveOf(t, tree), CompGzip)
	assert.NilError(t, err)

	img := sampleImage()
	img.Ramdisk = compr
	data, err := img.DumpPartition(PartitionSize)
	assert.NilError(t, err)

	path := filepath.Join(dir, "rmcBoot.img")
	assert.NilError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLayout(t *testing.T) {
	l := NewLayout(filepath.Join("work", "rmcBoot.img"))

	assert.Equal(t, l.Name(), "rmcBoot")
	assert.Equal(t, l.UnpackDir(), filepath.Join("work", "rmcBootUnpack"))
	assert.Equal(t, l.RamdiskDir(), filepath.Join("work", "rmcBootRamdisk"))
	assert.Equal(t, l.Component(CompKernel), filepath.Join("work", "rmcBootUnpack", "rmcBoot-zImage"))
	assert.Equal(t, l.OrigListing(), filepath.Join("work", "rmcBootUnpack", "rmcBootLsRdOrig"))
	assert.Equal(t, l.StampedPath(time.Date(2021, 3, 4, 5, 6, 0, 0, time.UTC)),
		filepath.Join("work", "rmcBoot.img2103040506"))
}

func TestUnpack(t *testing.T) {
	dir := t.TempDir()
	path := writeStockImage(t, dir)
	l := NewLayout(path)

	img, err := Unpack(path, DefaultOptions())
	assert.NilError(t, err)
	assert.Equal(t, img.Board, "mc74")

	for suffix, want := range map[string]string{
		CompCmdline:      "console=ttyS0,115200n8 mem=1024M\n",
		CompBase:         "10000000\n",
		CompPageSize:     "2048\n",
		CompKernelOffset: "00008000\n",
		CompCompression:  "gzip\n",
	} {
		assert.Equal(t, readString(t, l.Component(suffix)), want, suffix)
	}

	_, err = os.Stat(l.Component(CompRamdiskGz))
	assert.Assert(t, os.IsNotExist(err))
	_, err = os.Stat(l.Component(CompRamdisk))
	assert.NilError(t, err)

	assert.Equal(t, readString(t, filepath.Join(l.RamdiskDir(), "sbin", "adbd")), "adbd")
	assert.Check(t, is.Contains(readString(t, l.OrigListing()), "sbin/adbd"))
}

func TestUnpackChecksSize(t *testing.T) {
	dir := t.TempDir()
	data, err := sampleImage().DumpBytes()
	assert.NilError(t, err)
	path := filepath.Join(dir, "rmcBoot.img")
	assert.NilError(t, os.WriteFile(path, data, 0o644))

	_, err = Unpack(path, DefaultOptions())
	assert.Assert(t, errors.Is(err, ErrStructuralMismatch))

	_, err = os.Stat(NewLayout(path).UnpackDir())
	assert.Assert(t, os.IsNotExist(err))
}

func TestUnpackMissingImage(t *testing.T) {
	_, err := Unpack(filepath.Join(t.TempDir(), "rmcBoot.img"), DefaultOptions())
	assert.Assert(t, errors.Is(err, ErrFileMissing))
}

func TestUnpackFixPack(t *testing.T) {
	dir := t.TempDir()
	path := writeStockImage(t, dir)
	stock, err := os.ReadFile(path)
	assert.NilError(t, err)

	_, err = Unpack(path, DefaultOptions())
	assert.NilError(t, err)
	assert.NilError(t, FixRamdisk(NewLayout(path).RamdiskDir(), ReplNormal))

	stamp := time.Date(2021, 3, 4, 5, 6, 0, 0, time.Local)
	opts := DefaultOptions()
	opts.Now = func() time.Time { return stamp }

	out, err := Pack(path, opts)
	assert.NilError(t, err)
	assert.Equal(t, out, path)

	_, err = os.Stat(NewLayout(path).StampedPath(stamp))
	assert.Assert(t, os.IsNotExist(err))

	packed, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Equal(t, len(packed), PartitionSize)
	assert.Check(t, !bytes.Equal(packed, stock))

	img, err := UnpackImageBytes(packed)
	assert.NilError(t, err)
	want := sampleImage()
	assert.Equal(t, img.Cmdline, want.Cmdline)
	assert.Equal(t, img.Base, want.Base)
	assert.Check(t, bytes.Equal(img.Kernel, want.Kernel))
	assert.Check(t, bytes.Equal(img.Second, want.Second))
	assert.Equal(t, DetectCompressor(img.Ramdisk), CompGzip)

	assert.NilError(t, img.DecompressRamdisk(CompGzip))
	tree, err := ReadArchive(img.Ramdisk)
	assert.NilError(t, err)
	assert.Equal(t, tree.Manifest(), "default.prop\ninit.bcm911130_me1.rc\ninit.rc\nsbin\nsbin/adbd\n")
	assert.Equal(t, string(tree[0].Data), "ro.secure=0\nro.allow.mock.location=0\npersist.meraki.usb_debug=1")

	newListing := readString(t, NewLayout(path).NewListing())
	assert.Check(t, is.Contains(newListing, "init.rc"))
}

func TestPackWithoutUnpack(t *testing.T) {
	_, err := Pack(filepath.Join(t.TempDir(), "rmcBoot.img"), DefaultOptions())
	assert.Assert(t, errors.Is(err, ErrFileMissing))
}
