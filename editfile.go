package revivemc74

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// EditDirective describes one line-oriented edit of a text file.
//
// The first line containing Find is the match. Replace substitutes it,
// Delete drops it, and otherwise it is kept. Insert lines are added
// right after the match unless the line that already follows it equals
// Insert[0], so applying a directive twice is the same as applying it
// once.
type EditDirective struct {
	Find    string
	Replace string
	Insert  []string
	Delete  bool
}

func (d EditDirective) validate() error {
	if d.Find == "" {
		return errors.New("edit has no find pattern")
	}
	if d.Replace != "" && d.Delete {
		return errors.New("edit both replaces and deletes the matched line")
	}

	return nil
}

func (d EditDirective) apply(matched string, next *string) []string {
	var out []string
	switch {
	case d.Replace != "":
		out = append(out, d.Replace)
	case !d.Delete:
		out = append(out, matched)
	}

	if len(d.Insert) > 0 && (next == nil || *next != d.Insert[0]) {
		out = append(out, d.Insert...)
	}

	return out
}

func splitLines(body string) []string {
	lines := strings.Split(body, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimSuffix(ln, "\r")
	}

	return lines
}

func missingFile(path string) error {
	cwd, _ := os.Getwd()
	return fmt.Errorf("%w: can't find %s in %s", ErrFileMissing, path, cwd)
}

// rewriteFirst replaces the first line of path containing find with the
// lines returned by fn. next is the line after the match, nil at EOF.
func rewriteFirst(path, find string, fn func(matched string, next *string) []string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return eMsg(missingFile(path), "editing "+path)
		}
		return eMsg(err, "reading "+path)
	}

	lines := splitLines(string(body))
	found := -1
	for i, ln := range lines {
		if strings.Contains(ln, find) {
			found = i
			break
		}
	}

	if found < 0 {
		return eMsg(fmt.Errorf("%w: failed to find %q", ErrPatchNotApplied, find), "editing "+path)
	}

	var next *string
	if found+1 < len(lines) {
		next = &lines[found+1]
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:found]...)
	out = append(out, fn(lines[found], next)...)
	out = append(out, lines[found+1:]...)

	result := strings.Join(out, "\n")
	if result == string(body) {
		return nil
	}

	err = os.WriteFile(path, []byte(result), 0o644)
	if err != nil {
		return eMsg(err, "writing "+path)
	}

	return nil
}

// EditFile applies d to the file at path.
func EditFile(path string, d EditDirective) error {
	if err := d.validate(); err != nil {
		return eMsg(err, "editing "+path)
	}

	return rewriteFirst(path, d.Find, d.apply)
}

// ApplyEdit is EditFile for callers that only need to know whether the
// edit went in. Failures are logged.
func ApplyEdit(path string, d EditDirective) bool {
	logrus.Debugf("editFile %s find %q", path, d.Find)

	err := EditFile(path, d)
	if err != nil {
		logrus.Warn(Describe(err))
		return false
	}

	return true
}

// SetPropChar overwrites the single character following key on the
// first line containing key, e.g. "secure=" and '0' turn
// "ro.secure=1" into "ro.secure=0".
func SetPropChar(path, key string, value byte) error {
	return rewriteFirst(path, key, func(matched string, _ *string) []string {
		i := strings.Index(matched, key) + len(key)
		if i >= len(matched) {
			return []string{matched + string(value)}
		}

		return []string{matched[:i] + string(value) + matched[i+1:]}
	})
}
