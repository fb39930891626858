package revivemc74

import (
	"errors"

	"github.com/hashicorp/errwrap"
)

// Failure categories. Callers match them with errors.Is.
var (
	// ErrExternalTool is a failed helper step: a codec that can't run or
	// output that was not produced.
	ErrExternalTool = errors.New("tool failed")
	// ErrStructuralMismatch is an image whose size or layout does not
	// match what the MC74 expects.
	ErrStructuralMismatch = errors.New("structural mismatch")
	// ErrPatchNotApplied is an edit whose find pattern matched nothing.
	ErrPatchNotApplied = errors.New("patch not applied")
	// ErrFileMissing is an expected local path that does not exist.
	ErrFileMissing = errors.New("file missing")
	// ErrPackFailed is a rebuilt ramdisk or image that is empty or absent.
	ErrPackFailed = errors.New("pack failed")
)

// eMsg wraps err with a description of what was being done.
func eMsg(err error, msg string) error {
	return errwrap.Wrap(errors.New(msg), err)
}

// GetErrors returns the wrapped errors from one error.
func GetErrors(err error) []string {
	if err == nil {
		return []string{}
	}

	if w, ok := err.(errwrap.Wrapper); ok {
		wrapped := w.WrappedErrors()
		if len(wrapped) == 2 {
			return []string{wrapped[0].Error(), wrapped[1].Error()}
		}
	}

	return []string{"", err.Error()}
}

// Describe flattens a wrapped error into "doing thing: cause".
func Describe(err error) string {
	errs := GetErrors(err)
	if len(errs) == 0 {
		return ""
	}
	if errs[0] == "" {
		return errs[1]
	}

	return errs[0] + ": " + errs[1]
}
