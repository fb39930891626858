//go:build linux || darwin

package revivemc74

import (
	"time"

	"golang.org/x/sys/unix"
)

// lchtimes sets the times of a symlink itself.
func lchtimes(path string, mtime time.Time) error {
	ts := unix.NsecToTimespec(mtime.UnixNano())
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, []unix.Timespec{ts, ts}, unix.AT_SYMLINK_NOFOLLOW)
}
