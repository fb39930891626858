package main

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestUnquote(t *testing.T) {
	for in, want := range map[string]string{
		`"/tmp/rmc Boot.img"`: "/tmp/rmc Boot.img",
		" 'rmcBoot.img' \n":   "rmcBoot.img",
		`"half`:               `"half`,
		"'":                   "'",
		"plain.img":           "plain.img",
	} {
		assert.Equal(t, unquote(in), want, in)
	}
}

func TestCheckImagePath(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.img")
	assert.NilError(t, os.WriteFile(small, []byte("tiny"), 0o644))

	assert.Check(t, is.Contains(checkImagePath("", false), "wasn't the path"))
	assert.Equal(t, checkImagePath(filepath.Join(dir, "new.img"), false), "")
	assert.Check(t, is.Contains(checkImagePath(filepath.Join(dir, "new.img"), true), "doesn't exist"))
	assert.Check(t, is.Contains(checkImagePath(dir, true), "folder"))
	assert.Check(t, is.Contains(checkImagePath(small, true), "too small"))
}
