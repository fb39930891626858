package revivemc74

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash"
	"github.com/docker/go-units"
)

// FileSig identifies one file of an unpacked image for comparison.
type FileSig struct {
	Name    string
	Size    int64
	ModTime time.Time
	// Hex xxhash64 of the contents; empty for directories and links
	Hash string
}

func (s FileSig) String() string {
	hash := s.Hash
	if len(hash) > 8 {
		hash = hash[:8]
	}

	return fmt.Sprintf("  %-8s %9d %s %s", hash, s.Size, s.ModTime.Format("06/01/02-15:04:05"), s.Name)
}

// Signatures describes every file under dir, sorted by path.
func Signatures(dir string) ([]FileSig, error) {
	var sigs []FileSig
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}

		sig := FileSig{
			Name:    filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if info.Mode().IsRegular() {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			sig.Hash = fmt.Sprintf("%016x", xxhash.Sum64(data))
		}

		sigs = append(sigs, sig)
		return nil
	})
	if err != nil {
		return nil, eMsg(err, "describing "+dir)
	}

	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Name < sigs[j].Name })
	return sigs, nil
}

// Summary renders the header fields of the image.
func (img *Image) Summary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "board:          %q\n", img.Board)
	fmt.Fprintf(&sb, "cmdline:        %q\n", img.Cmdline)
	fmt.Fprintf(&sb, "base:           0x%08x\n", img.Base)
	fmt.Fprintf(&sb, "page size:      %d\n", img.PageSize)
	fmt.Fprintf(&sb, "kernel offset:  0x%08x (%s)\n", img.KernelOffset, units.BytesSize(float64(len(img.Kernel))))
	fmt.Fprintf(&sb, "ramdisk offset: 0x%08x (%s, %s)\n", img.RamdiskOffset,
		units.BytesSize(float64(len(img.Ramdisk))), DetectCompressor(img.Ramdisk))
	fmt.Fprintf(&sb, "second offset:  0x%08x (%s)\n", img.SecondOffset, units.BytesSize(float64(len(img.Second))))
	fmt.Fprintf(&sb, "tags offset:    0x%08x\n", img.TagsOffset)
	if len(img.DeviceTree) > 0 {
		fmt.Fprintf(&sb, "device tree:    %s\n", units.BytesSize(float64(len(img.DeviceTree))))
	}
	fmt.Fprintf(&sb, "encoded size:   %s\n", units.BytesSize(float64(img.Size())))

	return sb.String()
}
