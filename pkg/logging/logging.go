// Package logging builds the shared logrus logger and the human-readable run log.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RunLogName is the file, relative to the work directory, that collects
// timestamped lines from every run.
const RunLogName = "run.log"

const (
	runLogMaxMB      = 100
	runLogMaxBackups = 10
)

// New returns a logger writing to stderr. When workDir is non-empty the same
// lines are appended to the run log inside it, rotated once it reaches
// runLogMaxMB; the returned closer releases that file.
func New(workDir string, debug bool) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	if workDir == "" {
		logger.SetOutput(os.Stderr)
		return logger, nopCloser{}, nil
	}

	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create work directory %s: %w", workDir, err)
	}
	runLog := &lumberjack.Logger{
		Filename:   filepath.Join(workDir, RunLogName),
		MaxSize:    runLogMaxMB,
		MaxBackups: runLogMaxBackups,
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, runLog))
	return logger, runLog, nil
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
