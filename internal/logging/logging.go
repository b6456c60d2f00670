package logging

import (
	"strings"

	"github.com/phuslu/log"
)

// Setup configures the process-wide default logger. Pretty selects a
// human-readable console writer for development; otherwise JSON lines
// go to stderr.
func Setup(level string, pretty bool) {
	log.DefaultLogger = log.Logger{
		Level:      parseLevel(level),
		Caller:     0,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	if pretty {
		log.DefaultLogger.Writer = &log.ConsoleWriter{
			ColorOutput:    true,
			EndWithMessage: true,
		}
	}
}

// Component returns a logger carrying a component context field, the
// shape every package uses for its own logger value.
func Component(name string) log.Logger {
	l := log.DefaultLogger
	l.Context = log.NewContext(nil).Str("component", name).Value()
	return l
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
