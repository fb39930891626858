//go:build unix

package run

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
)

func TestExecCapturesOutput(t *testing.T) {
	e := &Exec{}
	res, err := e.Run(context.Background(), []string{"sh", "-c", "echo out; echo err >&2"}, nil)
	assert.NilError(t, err)
	assert.Equal(t, res.Output(), "out\n")
	assert.Equal(t, string(res.Stderr), "err\n")
	assert.Assert(t, res.OK())
}

func TestExecExitCodeIsNotAnError(t *testing.T) {
	e := &Exec{}
	res, err := e.Run(context.Background(), []string{"sh", "-c", "exit 3"}, nil)
	assert.NilError(t, err)
	assert.Equal(t, res.ExitCode, 3)
	assert.Assert(t, !res.OK())
}

func TestExecStdin(t *testing.T) {
	e := &Exec{Dir: t.TempDir()}
	res, err := e.Run(context.Background(), []string{"cat"}, []byte("manifest\n"))
	assert.NilError(t, err)
	assert.Equal(t, res.Output(), "manifest\n")
}

func TestExecMissingProgram(t *testing.T) {
	e := &Exec{}
	_, err := e.Run(context.Background(), []string{"definitely-not-a-real-program-mc74"}, nil)
	assert.ErrorContains(t, err, "failed to run")
}

func TestQuote(t *testing.T) {
	assert.Equal(t, Quote([]string{"adb", "shell", "echo b >/proc/sysrq-trigger"}),
		`adb shell 'echo b >/proc/sysrq-trigger'`)
}
