package observability

import (
	"io"
	"log/slog"
)

// LevelTrace is below slog.LevelDebug and carries per-read detail that is
// only useful when diagnosing a specific device.
const LevelTrace = slog.Level(-8)

// LevelForVerbosity maps the count of -v flags to a log level:
// 0 error, 1 warn, 2 info, 3 debug, 4 and above trace.
func LevelForVerbosity(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelError
	case verbosity == 1:
		return slog.LevelWarn
	case verbosity == 2:
		return slog.LevelInfo
	case verbosity == 3:
		return slog.LevelDebug
	default:
		return LevelTrace
	}
}

// NewLogger returns a text logger writing to w at the level for verbosity.
func NewLogger(w io.Writer, verbosity int) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: LevelForVerbosity(verbosity),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}))
}
