package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, "json", LevelInfo)
)

// Setup replaces the global logger. format is "json" (default) or "console".
func Setup(w io.Writer, format string, level Level) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w, format, level)
}

func newLogger(w io.Writer, format string, level Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(toZerolog(level)).With().Timestamp().Logger()
}

// ParseLevel maps "debug", "info", "error" (any case) to a Level.
// Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(LevelDebug):
		return LevelDebug
	case string(LevelError):
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	logger = logger.Level(toZerolog(l))
}

// Logger returns the current zerolog logger, for middleware that wants
// request-scoped children.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, kv ...any) {
	l := Logger()
	l.Debug().Fields(fields(kv)).Msg(msg)
}

func Info(msg string, kv ...any) {
	l := Logger()
	l.Info().Fields(fields(kv)).Msg(msg)
}

func Error(msg string, err error, kv ...any) {
	l := Logger()
	l.Error().Err(err).Fields(fields(kv)).Msg(msg)
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// fields turns key, value, key, value, ... into a map. Non-string keys
// are skipped and a trailing odd value is ignored.
func fields(kv []any) map[string]any {
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case fmt.Stringer:
			out[key] = v.String()
		default:
			out[key] = v
		}
	}
	return out
}
