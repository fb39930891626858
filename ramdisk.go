package revivemc74

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cavaliergopher/cpio"
)

const (
	cpioTypeMask cpio.FileMode = 0170000
	cpioSetuid   cpio.FileMode = 04000
	cpioSetgid   cpio.FileMode = 02000
	cpioSticky   cpio.FileMode = 01000
)

// Entry is one member of a ramdisk.
type Entry struct {
	// Slash separated, relative to the ramdisk root, without "./"
	Path     string
	Mode     os.FileMode
	ModTime  time.Time
	Uid      int
	Gid      int
	Data     []byte
	Linkname string
}

// Tree is a ramdisk as an ordered list of entries.
type Tree []Entry

func cleanMember(name string) (string, error) {
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimLeft(name, "/")
	if name == "" || name == "." {
		return "", nil
	}

	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: member %q escapes the ramdisk", ErrStructuralMismatch, name)
	}

	return clean, nil
}

func fromCpioMode(m cpio.FileMode) (os.FileMode, error) {
	mode := os.FileMode(m & 0777)
	if m&cpioSetuid != 0 {
		mode |= os.ModeSetuid
	}
	if m&cpioSetgid != 0 {
		mode |= os.ModeSetgid
	}
	if m&cpioSticky != 0 {
		mode |= os.ModeSticky
	}

	switch m & cpioTypeMask {
	case cpio.TypeReg:
	case cpio.TypeDir:
		mode |= os.ModeDir
	case cpio.TypeSymlink:
		mode |= os.ModeSymlink
	default:
		return 0, fmt.Errorf("unsupported member type %o", uint32(m&cpioTypeMask))
	}

	return mode, nil
}

func toCpioMode(mode os.FileMode) cpio.FileMode {
	m := cpio.FileMode(mode.Perm())
	if mode&os.ModeSetuid != 0 {
		m |= cpioSetuid
	}
	if mode&os.ModeSetgid != 0 {
		m |= cpioSetgid
	}
	if mode&os.ModeSticky != 0 {
		m |= cpioSticky
	}

	switch {
	case mode.IsDir():
		m |= cpio.TypeDir
	case mode&os.ModeSymlink != 0:
		m |= cpio.TypeSymlink
	default:
		m |= cpio.TypeReg
	}

	return m
}

// ReadArchive reads every member of an uncompressed newc archive.
func ReadArchive(archive []byte) (Tree, error) {
	var tree Tree
	r := cpio.NewReader(bytes.NewReader(archive))

	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eMsg(err, "reading ramdisk archive")
		}

		name, err := cleanMember(hdr.Name)
		if err != nil {
			return nil, eMsg(err, "reading ramdisk archive")
		}
		if name == "" {
			continue
		}

		mode, err := fromCpioMode(hdr.Mode)
		if err != nil {
			return nil, eMsg(err, "reading member "+name)
		}

		e := Entry{
			Path:    name,
			Mode:    mode,
			ModTime: hdr.ModTime,
			Uid:     hdr.Uid,
			Gid:     hdr.Guid,
		}

		if !mode.IsDir() {
			body, err := io.ReadAll(r)
			if err != nil {
				return nil, eMsg(err, "reading member "+name)
			}

			if mode&os.ModeSymlink != 0 {
				e.Linkname = hdr.Linkname
				if e.Linkname == "" {
					e.Linkname = string(body)
				}
			} else {
				e.Data = body
			}
		}

		tree = append(tree, e)
	}

	if len(tree) == 0 {
		return nil, eMsg(fmt.Errorf("%w: archive has no members", ErrStructuralMismatch), "reading ramdisk archive")
	}

	return tree, nil
}

// ReadTree reads the directory tree rooted at dir in lexicographic
// path order.
func ReadTree(dir string) (Tree, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, eMsg(fmt.Errorf("%w: %s", ErrFileMissing, dir), "reading ramdisk directory")
		}
		return nil, eMsg(err, "reading ramdisk directory")
	}
	if !info.IsDir() {
		return nil, eMsg(fmt.Errorf("%s is not a directory", dir), "reading ramdisk directory")
	}

	var names []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, eMsg(err, "listing ramdisk directory")
	}

	// Whole paths are sorted, not each directory level, to match
	// `find . | sort`.
	sort.Strings(names)

	tree := make(Tree, 0, len(names))
	for _, name := range names {
		p := filepath.Join(dir, filepath.FromSlash(name))
		fi, err := os.Lstat(p)
		if err != nil {
			return nil, eMsg(err, "reading "+name)
		}

		e := Entry{
			Path:    name,
			Mode:    fi.Mode() & (os.ModeType | os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky),
			ModTime: fi.ModTime(),
		}

		switch {
		case fi.Mode().IsDir():
		case fi.Mode()&os.ModeSymlink != 0:
			e.Linkname, err = os.Readlink(p)
			if err != nil {
				return nil, eMsg(err, "reading link "+name)
			}
		case fi.Mode().IsRegular():
			e.Data, err = os.ReadFile(p)
			if err != nil {
				return nil, eMsg(err, "reading "+name)
			}
		default:
			return nil, eMsg(fmt.Errorf("unsupported file type %s", fi.Mode().Type()), "reading "+name)
		}

		tree = append(tree, e)
	}

	return tree, nil
}

// Manifest returns the member paths, one per line, in archive order.
func (t Tree) Manifest() string {
	var sb strings.Builder
	for _, e := range t {
		sb.WriteString(e.Path)
		sb.WriteByte('\n')
	}

	return sb.String()
}

// Listing renders the tree like `cpio -tv`.
func (t Tree) Listing() string {
	var sb strings.Builder
	for _, e := range t {
		size := len(e.Data)
		name := e.Path
		if e.Mode&os.ModeSymlink != 0 {
			size = len(e.Linkname)
			name += " -> " + e.Linkname
		}

		fmt.Fprintf(&sb, "%s %-5d %-5d %9d %s %s\n", e.Mode, e.Uid, e.Gid, size,
			e.ModTime.UTC().Format("2006-01-02 15:04:05"), name)
	}

	return sb.String()
}

// WriteArchive writes the tree as a newc archive, owned by root.
func (t Tree) WriteArchive(out io.Writer) error {
	w := cpio.NewWriter(out)

	for _, e := range t {
		hdr := &cpio.Header{
			Name:    e.Path,
			Mode:    toCpioMode(e.Mode),
			ModTime: e.ModTime,
			Uid:     0,
			Guid:    0,
		}

		var body []byte
		switch {
		case e.Mode.IsDir():
		case e.Mode&os.ModeSymlink != 0:
			hdr.Linkname = e.Linkname
			body = []byte(e.Linkname)
		default:
			body = e.Data
		}
		hdr.Size = int64(len(body))

		if err := w.WriteHeader(hdr); err != nil {
			return eMsg(err, "writing archive header for "+e.Path)
		}
		if _, err := w.Write(body); err != nil {
			return eMsg(err, "writing archive member "+e.Path)
		}
	}

	if err := w.Close(); err != nil {
		return eMsg(err, "finishing archive")
	}

	return nil
}

// Extract recreates the tree under dir, which must exist.
func (t Tree) Extract(dir string) error {
	var dirs []Entry

	for _, e := range t {
		target := filepath.Join(dir, filepath.FromSlash(e.Path))

		if e.Mode.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return eMsg(err, "creating "+e.Path)
			}
			dirs = append(dirs, e)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return eMsg(err, "creating parent of "+e.Path)
		}

		if e.Mode&os.ModeSymlink != 0 {
			_ = os.Remove(target)
			if err := os.Symlink(e.Linkname, target); err != nil {
				return eMsg(err, "linking "+e.Path)
			}
			if err := lchtimes(target, e.ModTime); err != nil {
				return eMsg(err, "setting time of "+e.Path)
			}
			continue
		}

		if err := os.WriteFile(target, e.Data, 0o600); err != nil {
			return eMsg(err, "writing "+e.Path)
		}
		if err := os.Chmod(target, e.Mode); err != nil {
			return eMsg(err, "setting mode of "+e.Path)
		}
		if err := os.Chtimes(target, e.ModTime, e.ModTime); err != nil {
			return eMsg(err, "setting time of "+e.Path)
		}
	}

	// Children first, so creating them does not bump the directory times.
	for i := len(dirs) - 1; i >= 0; i-- {
		e := dirs[i]
		target := filepath.Join(dir, filepath.FromSlash(e.Path))
		if err := os.Chmod(target, e.Mode); err != nil {
			return eMsg(err, "setting mode of "+e.Path)
		}
		if err := os.Chtimes(target, e.ModTime, e.ModTime); err != nil {
			return eMsg(err, "setting time of "+e.Path)
		}
	}

	return nil
}

// Decompile extracts an uncompressed ramdisk archive into a fresh
// ramdiskDir and writes its listing to listingPath.
func Decompile(ramdisk []byte, ramdiskDir, listingPath string) (Tree, error) {
	tree, err := ReadArchive(ramdisk)
	if err != nil {
		return nil, err
	}

	if listingPath != "" {
		err = os.WriteFile(listingPath, []byte(tree.Listing()), 0o644)
		if err != nil {
			return nil, eMsg(err, "writing ramdisk listing")
		}
	}

	err = os.RemoveAll(ramdiskDir)
	if err != nil {
		return nil, eMsg(err, "clearing ramdisk directory")
	}
	err = os.Mkdir(ramdiskDir, 0o755)
	if err != nil {
		return nil, eMsg(err, "creating ramdisk directory")
	}

	err = tree.Extract(ramdiskDir)
	if err != nil {
		return nil, err
	}

	return tree, nil
}

// Compile archives ramdiskDir into an uncompressed newc archive.
func Compile(ramdiskDir string) ([]byte, Tree, error) {
	tree, err := ReadTree(ramdiskDir)
	if err != nil {
		return nil, nil, err
	}
	if len(tree) == 0 {
		return nil, nil, eMsg(fmt.Errorf("%w: %s is empty", ErrPackFailed, ramdiskDir), "archiving ramdisk")
	}

	var buf bytes.Buffer
	err = tree.WriteArchive(&buf)
	if err != nil {
		return nil, nil, err
	}

	return buf.Bytes(), tree, nil
}
