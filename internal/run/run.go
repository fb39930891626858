// Package run executes external programs and captures their output.
package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/sirupsen/logrus"
)

// Result is the captured outcome of one program run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// OK reports a zero exit status.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Output is stdout as a string.
func (r Result) Output() string {
	return string(r.Stdout)
}

// Runner runs a program to completion. A non-zero exit is reported in
// Result, not as an error; the error is for programs that could not be
// started at all.
type Runner interface {
	Run(ctx context.Context, argv []string, stdin []byte) (Result, error)
}

// Exec is a Runner backed by os/exec.
type Exec struct {
	// Dir is the working directory of the child; the current one when empty.
	Dir string
}

var _ Runner = (*Exec)(nil)

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, argv []string, stdin []byte) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.Dir
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("failed to run %s: %w", Quote(argv), err)
	}

	logrus.WithField("rc", res.ExitCode).Debugf("ran %s", Quote(argv))
	if len(res.Stderr) > 0 {
		logrus.Debugf("stderr of %s: %s", argv[0], strings.TrimSpace(string(res.Stderr)))
	}

	return res, nil
}

// Quote renders argv as a shell command line for logs.
func Quote(argv []string) string {
	return shellescape.QuoteCommand(argv)
}

// LookPath reports whether program can be found in PATH.
func LookPath(program string) error {
	_, err := exec.LookPath(program)
	return err
}
