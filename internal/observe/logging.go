package observe

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures [NewLogger].
type LogConfig struct {
	// Level is shared with the config watcher so the level can change at
	// runtime. Nil means info.
	Level *slog.LevelVar

	// File, when set, receives a copy of every line and is rotated by size.
	File string

	// MaxSizeMB is the rotation threshold. Default: 25.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Default: 10.
	MaxBackups int

	// MaxAgeDays is the retention of rotated files. Default: 14.
	MaxAgeDays int
}

// NewLogger returns a text logger writing to stderr and, when cfg.File is
// set, to a rotating log file. The returned closer releases the file and
// is never nil.
func NewLogger(cfg LogConfig) (*slog.Logger, io.Closer) {
	level := cfg.Level
	if level == nil {
		level = new(slog.LevelVar)
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 25),
			MaxBackups: orDefault(cfg.MaxBackups, 10),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
