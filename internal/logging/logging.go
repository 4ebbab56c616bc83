// Package logging points the standard logger at stderr and, when a log file
// is configured, at a size-rotated file as well.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/securelog/entries-api/internal/config"
)

// Setup configures the standard logger from cfg. The returned closer
// releases the log file and is safe to call when no file is in use.
func Setup(cfg config.LogConfig) io.Closer {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename: cfg.File,
		MaxSize:  cfg.MaxSizeMB, // megabytes
		MaxAge:   cfg.MaxAgeDays,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
