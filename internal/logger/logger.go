// Package logger configures the global zerolog logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/victorivanov/rolesync/internal/config"
)

// LevelWriter sends warnings and errors to one writer and everything else
// to another.
type LevelWriter struct {
	InfoWriter  io.Writer
	ErrorWriter io.Writer
}

func (lw *LevelWriter) Write(p []byte) (int, error) {
	return lw.InfoWriter.Write(p)
}

// WriteLevel implements zerolog.LevelWriter.
func (lw *LevelWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	switch {
	case l == zerolog.Disabled:
		return 0, nil
	case l >= zerolog.WarnLevel && l != zerolog.NoLevel:
		return lw.ErrorWriter.Write(p)
	default:
		return lw.InfoWriter.Write(p)
	}
}

// Init replaces the global logger according to cfg.
func Init(cfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return errors.Wrapf(err, "log level %q", cfg.Level)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	writers := []io.Writer{consoleWriter(cfg.Format)}
	if cfg.File.Enabled {
		fw, err := fileWriter(cfg.File)
		if err != nil {
			return err
		}
		writers = append(writers, fw)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Hook(NewPrometheusHook(cfg.Service)).
		With().Timestamp().Str("service", cfg.Service).
		Logger()
	return nil
}

func consoleWriter(format string) io.Writer {
	if format == "json" {
		return &LevelWriter{InfoWriter: os.Stdout, ErrorWriter: os.Stderr}
	}
	return &LevelWriter{
		InfoWriter:  zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339},
		ErrorWriter: zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	}
}

// fileWriter writes JSON logs to rotating info and error files.
func fileWriter(cfg config.LogFileConfig) (io.Writer, error) {
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, errors.Wrapf(err, "creating log directory %s", cfg.Path)
	}
	rotating := func(name string) *lumberjack.Logger {
		return &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Path, name),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}
	return &LevelWriter{InfoWriter: rotating("info.log"), ErrorWriter: rotating("error.log")}, nil
}
