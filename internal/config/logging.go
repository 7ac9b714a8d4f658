package config

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger returns a text logger writing to stderr.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// NewSyncLogger returns a logger that writes to stderr and to the fixed,
// append-only sync log file. The scheduler reads exit codes; the file keeps
// per-document failure detail for manual replay.
func NewSyncLogger(logPath string) (*slog.Logger, io.Closer) {
	rotating := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		Compress:   true,
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, rotating), nil)
	return slog.New(handler), rotating
}
