package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger represents a simple structured logger interface
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

type zeroLogger struct {
	log zerolog.Logger
}

// NewLogger creates a JSON logger on stdout with the specified level
func NewLogger(level string) Logger {
	return New(level, os.Stdout, false)
}

// NewDevelopmentLogger creates a human readable console logger
func NewDevelopmentLogger(level string) Logger {
	return New(level, os.Stdout, true)
}

// New creates a logger writing to w. When console is true the output is
// formatted for terminals instead of JSON.
func New(level string, w io.Writer, console bool) Logger {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	l := zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()

	return &zeroLogger{log: l}
}

// NewNop returns a logger that discards everything
func NewNop() Logger {
	return &zeroLogger{log: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zeroLogger) Debug(msg string, keyvals ...interface{}) {
	write(l.log.Debug(), msg, keyvals)
}

func (l *zeroLogger) Info(msg string, keyvals ...interface{}) {
	write(l.log.Info(), msg, keyvals)
}

func (l *zeroLogger) Warn(msg string, keyvals ...interface{}) {
	write(l.log.Warn(), msg, keyvals)
}

func (l *zeroLogger) Error(msg string, keyvals ...interface{}) {
	write(l.log.Error(), msg, keyvals)
}

// write attaches key/value pairs to the event. A trailing key without a value
// is logged as "missing".
func write(e *zerolog.Event, msg string, keyvals []interface{}) {
	if e == nil {
		return
	}

	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}

		if i+1 >= len(keyvals) {
			e = e.Str(key, "missing")
			break
		}

		switch v := keyvals[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case fmt.Stringer:
			e = e.Str(key, v.String())
		default:
			e = e.Interface(key, v)
		}
	}

	e.Msg(msg)
}
