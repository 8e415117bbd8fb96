package testhelper

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// NewDiscardingLogger creates a logger that discards everything.
func NewDiscardingLogger(tb testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}

// NewDiscardingLogEntry creates a logrus entry that discards everything.
func NewDiscardingLogEntry(tb testing.TB) *logrus.Entry {
	return logrus.NewEntry(NewDiscardingLogger(tb))
}

// NewCapturingLogger returns a discarding logger whose entries are recorded by the returned hook.
func NewCapturingLogger(tb testing.TB) (*logrus.Logger, *test.Hook) {
	logger := NewDiscardingLogger(tb)
	hook := test.NewLocal(logger)
	return logger, hook
}
