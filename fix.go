package revivemc74

import (
	"errors"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// SSMLink is the init.rc line linking the SSM service data into the root.
const SSMLink = "symlink /storage/emulated/legacy/ssm /ssm"

// RamdiskEdit is an edit of one file of the ramdisk tree.
type RamdiskEdit struct {
	File      string
	Directive EditDirective
}

// FixEdits are the MC74 init script edits.
var FixEdits = []RamdiskEdit{
	{File: "init.rc", Directive: EditDirective{Find: "symlink /system/etc", Insert: []string{SSMLink}}},
	{File: "init.bcm911130_me1.rc", Directive: EditDirective{Find: "symlink /storage/emulated/legacy /sdcard", Insert: []string{SSMLink}}},
}

// revertEdits undoes FixEdits.
func revertEdits() []RamdiskEdit {
	var edits []RamdiskEdit
	for _, e := range FixEdits {
		for _, ln := range e.Directive.Insert {
			edits = append(edits, RamdiskEdit{File: e.File, Directive: EditDirective{Find: ln, Delete: true}})
		}
	}

	return edits
}

// FixRamdisk roots the unpacked ramdisk at ramdiskDir, or reverts a
// previous fix. Unmatched edits are logged and skipped since an
// already patched file need not match again. Only a missing
// default.prop is fatal.
func FixRamdisk(ramdiskDir string, dir Direction) error {
	prop := filepath.Join(ramdiskDir, "default.prop")
	n, err := PatchProps(prop, DefaultPropPatches, dir)
	switch {
	case errors.Is(err, ErrPatchNotApplied):
		logrus.Warn(Describe(err))
	case err != nil:
		return err
	default:
		logrus.Infof("patched %d properties in %s", n, prop)
	}

	edits := FixEdits
	if dir == ReplReverse {
		edits = revertEdits()
	}
	for _, e := range edits {
		ApplyEdit(filepath.Join(ramdiskDir, filepath.FromSlash(e.File)), e.Directive)
	}

	return nil
}
