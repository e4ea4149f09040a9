// Package logx provides the structured logger used across mailkit's
// transport, imap, and smtp packages. It generalizes the teacher's
// format-string Logger interface (imap_core.Logger) onto zerolog, the
// logging library the rest of the retrieval pack reaches for.
package logx

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the narrow logging collaborator every client-facing package
// depends on. Its methods take printf-style formats like the teacher's
// Logger did; callers that want zerolog's field chaining can type-assert
// to *ZerologLogger and use Raw().
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	z zerolog.Logger
}

// New builds a ZerologLogger writing to w at the given level. level
// accepts zerolog's names ("debug", "info", "warn", "error"); an unknown
// or empty level defaults to info.
func New(w io.Writer, level string) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return &ZerologLogger{z: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// NewConsole builds a ZerologLogger with zerolog's human-readable console
// writer, the way aerion's CLI entrypoint configures output for a terminal.
func NewConsole(level string) *ZerologLogger {
	return New(zerolog.ConsoleWriter{Out: os.Stderr}, level)
}

// Raw exposes the underlying zerolog.Logger for structured field chaining.
func (l *ZerologLogger) Raw() zerolog.Logger { return l.z }

func (l *ZerologLogger) Debug(format string, args ...interface{}) {
	l.z.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *ZerologLogger) Info(format string, args ...interface{}) {
	l.z.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *ZerologLogger) Warn(format string, args ...interface{}) {
	l.z.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *ZerologLogger) Error(format string, args ...interface{}) {
	l.z.Error().Msg(fmt.Sprintf(format, args...))
}

// Nop discards everything; used as the default when a caller supplies no
// Logger (the teacher's Session never logs if options.Logger is nil).
type Nop struct{}

func (Nop) Debug(string, ...interface{}) {}
func (Nop) Info(string, ...interface{})  {}
func (Nop) Warn(string, ...interface{})  {}
func (Nop) Error(string, ...interface{}) {}
