// Package logutil wires logrus to the console and the session log file.
package logutil

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// TimestampFormat is the log file timestamp layout.
const TimestampFormat = "06/01/02-15:04:05"

// consoleHook echoes entries at or above Info to the operator.
type consoleHook struct {
	out io.Writer
}

func (h *consoleHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}

func (h *consoleHook) Fire(entry *logrus.Entry) error {
	prefix := "  "
	if entry.Level <= logrus.WarnLevel {
		prefix = "  !! "
	}

	_, err := fmt.Fprintln(h.out, prefix+entry.Message)
	return err
}

// Setup sends full logs to the file at path, appending, and echoes
// messages to console. The returned closer closes the log file.
func Setup(logger *logrus.Logger, path string, console io.Writer, debug bool) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q: %w", path, err)
	}

	logger.SetOutput(f)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: TimestampFormat,
	})
	logger.AddHook(&consoleHook{out: console})

	logger.SetLevel(logrus.InfoLevel)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	return f, nil
}
