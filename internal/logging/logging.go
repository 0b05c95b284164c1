// Package logging builds the prefixed *log.Logger values the rest of
// myclass takes, writing to stderr and optionally to a rotating file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Sink.
type Options struct {
	// File enables a rotating log file when non-empty.
	File       string
	MaxSizeMB  int // megabytes before rotation (default 10)
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Console receives every line as well (default os.Stderr). Set Quiet
	// to log only to File.
	Console io.Writer
	Quiet   bool
}

// Sink is the shared destination for all loggers of one process. Loggers
// made from the same Sink rotate the same file.
type Sink struct {
	w    io.Writer
	file *lumberjack.Logger
}

// Open creates a Sink from opts. It does not touch the file until the
// first write.
func Open(opts Options) *Sink {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	s := &Sink{}
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, console)
	}
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		s.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, s.file)
	}

	switch len(writers) {
	case 0:
		s.w = io.Discard
	case 1:
		s.w = writers[0]
	default:
		s.w = io.MultiWriter(writers...)
	}
	return s
}

// Logger returns a logger with the given prefix, e.g. "[inbox] ".
func (s *Sink) Logger(prefix string) *log.Logger {
	return log.New(s.w, prefix, log.LstdFlags)
}

// Writer returns the underlying writer, for libraries that log to an
// io.Writer directly.
func (s *Sink) Writer() io.Writer { return s.w }

// Rotate closes the current log file and starts a new one.
func (s *Sink) Rotate() error {
	if s.file == nil {
		return nil
	}
	return s.file.Rotate()
}

// Close releases the log file, if any.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
