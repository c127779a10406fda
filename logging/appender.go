package logging

import (
	"io"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

// ConsoleAppender writes console encoded entries to an io.Writer.
type ConsoleAppender struct {
	io.Writer
	encoder zapcore.Encoder
}

// NewWriterAppender creates a new appender that outputs to the given writer.
func NewWriterAppender(writer io.Writer) ConsoleAppender {
	return ConsoleAppender{writer, zapcore.NewConsoleEncoder(NewEncoderConfig())}
}

// FileAppenderConfig controls the rotation of a file appender.
type FileAppenderConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewFileAppender creates an appender writing to a size-rotated log file.
func NewFileAppender(cfg FileAppenderConfig) ConsoleAppender {
	return NewWriterAppender(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	})
}

// Write outputs the log entry to the underlying writer.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()

	_, err = appender.Writer.Write(buf.Bytes())
	return err
}

// Sync flushes the writer when it supports syncing.
func (appender ConsoleAppender) Sync() error {
	if syncer, ok := appender.Writer.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}
