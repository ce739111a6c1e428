// Package logging provides the component-scoped logger used across the
// engine, mirroring the calling convention of printf-style Info/Warn/Error/
// Debug methods rather than a struct-typed "fields first" API.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the interface every component depends on. Each method formats
// like fmt.Sprintf.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	// With returns a logger that always attaches the given key/value pair.
	With(key string, value any) Logger
}

// zlog adapts zerolog.Logger to the Logger interface.
type zlog struct {
	l zerolog.Logger
}

// New builds the root logger writing to w at the given level
// ("debug"|"info"|"warn"|"error"). An unrecognised level defaults to info.
func New(w io.Writer, level string) Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	base := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &zlog{l: base}
}

// NewComponentLogger returns the root logger scoped to a named component,
// the pattern used throughout this engine's server and store layers.
func NewComponentLogger(component string) Logger {
	return New(os.Stderr, "info").With("component", component)
}

func (z *zlog) Debug(format string, args ...any) { z.l.Debug().Msg(fmt.Sprintf(format, args...)) }
func (z *zlog) Info(format string, args ...any)  { z.l.Info().Msg(fmt.Sprintf(format, args...)) }
func (z *zlog) Warn(format string, args ...any)  { z.l.Warn().Msg(fmt.Sprintf(format, args...)) }
func (z *zlog) Error(format string, args ...any) { z.l.Error().Msg(fmt.Sprintf(format, args...)) }

func (z *zlog) With(key string, value any) Logger {
	return &zlog{l: z.l.With().Interface(key, value).Logger()}
}

// nop discards everything; used by components under test that don't supply
// a logger.
type nop struct{}

func (nop) Debug(string, ...any)    {}
func (nop) Info(string, ...any)     {}
func (nop) Warn(string, ...any)     {}
func (nop) Error(string, ...any)    {}
func (n nop) With(string, any) Logger { return n }

// Nop returns a logger that discards all output.
func Nop() Logger { return nop{} }

// OrNop returns l, or a no-op logger if l is nil (including typed nils).
func OrNop(l Logger) Logger {
	if IsNil(l) {
		return Nop()
	}
	return l
}

// IsNil reports whether l is a nil interface or a typed nil pointer behind
// a non-nil interface value — both are unsafe to call methods on.
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	if z, ok := l.(*zlog); ok {
		return z == nil
	}
	return false
}
