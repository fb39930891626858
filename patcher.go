package revivemc74

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go4.org/bytereplacer"
)

// Direction selects whether patches are applied or reverted.
type Direction int

// Replacement directions
const (
	ReplNormal Direction = iota
	ReplReverse
)

// PropPatch replaces one property assignment with another.
type PropPatch struct {
	From string
	To   string
}

// DefaultPropPatches root the MC74 and keep USB debugging on.
var DefaultPropPatches = []PropPatch{
	{From: "ro.secure=1", To: "ro.secure=0"},
	{From: "persist.meraki.usb_debug=0", To: "persist.meraki.usb_debug=1"},
}

type replList struct {
	replacements []string
	from         [][]byte
}

func newRepl(size int) *replList {
	return &replList{
		replacements: make([]string, 0, size*2),
	}
}

func (r *replList) add(from string, to string, direction Direction) {
	if direction == ReplReverse {
		from, to = to, from
	}

	r.replacements = append(r.replacements, from, to)
	r.from = append(r.from, []byte(from))
}

// matches counts how many patch sources occur in data.
func (r *replList) matches(data []byte) (n int) {
	for _, f := range r.from {
		n += bytes.Count(data, f)
	}

	return
}

func (r *replList) create() *bytereplacer.Replacer {
	return bytereplacer.New(r.replacements...)
}

// normalizeProps strips carriage returns and blank lines.
func normalizeProps(data []byte) []byte {
	var lines [][]byte
	for _, ln := range bytes.Split(data, []byte("\n")) {
		ln = bytes.TrimSuffix(ln, []byte("\r"))
		if len(ln) > 0 {
			lines = append(lines, ln)
		}
	}

	return bytes.Join(lines, []byte("\n"))
}

// PatchProps applies patches to the property file at path and drops its
// group/other write bits, since init ignores a writable default.prop.
// It reports how many replacements were made.
func PatchProps(path string, patches []PropPatch, dir Direction) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, eMsg(missingFile(path), "patching properties")
		}
		return 0, eMsg(err, "reading "+path)
	}

	r := newRepl(len(patches))
	for _, p := range patches {
		r.add(p.From, p.To, dir)
	}

	props := normalizeProps(data)
	n := r.matches(props)
	if n == 0 {
		return 0, eMsg(fmt.Errorf("%w: none of %d property patches matched", ErrPatchNotApplied, len(patches)),
			"patching "+path)
	}
	props = r.create().Replace(props)

	info, err := os.Stat(path)
	if err != nil {
		return 0, eMsg(err, "reading "+path)
	}

	err = os.WriteFile(path, props, info.Mode().Perm())
	if err != nil {
		return 0, eMsg(err, "writing "+path)
	}

	err = os.Chmod(path, info.Mode().Perm()&^0o022)
	if err != nil {
		return 0, eMsg(err, "protecting "+path)
	}

	return n, nil
}
