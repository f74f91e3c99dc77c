package logging

import (
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/m307-core/internal/infrastructure/config"
)

// ServiceName is attached to every entry as the "service" field.
const ServiceName = "m307"

// Logger is the slog logger shared by the CLI and the bridge.
//
// Every entry carries service and version fields. Byte slice values, such
// as raw packets logged at debug level, are written as hex strings.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the destination named by cfg.Output:
// "stdout", "discard", or stderr for anything else. The CLI prints command
// results on stdout, so stderr is the default.
//
// Parameters:
//   - cfg: Logging configuration (level, format, output)
//   - version: Build version for the version field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "discard":
		output = io.Discard
	default:
		output = os.Stderr
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter creates a Logger writing to w, ignoring cfg.Output.
//
// cfg.Format selects the handler: "text" for key=value lines, JSON for
// anything else.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: hexBytes,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)
	return &Logger{Logger: logger}
}

// hexBytes renders []byte attribute values as lowercase hex.
func hexBytes(_ []string, a slog.Attr) slog.Attr {
	if b, ok := a.Value.Any().([]byte); ok && a.Value.Kind() == slog.KindAny {
		a.Value = slog.StringValue(hex.EncodeToString(b))
	}
	return a
}

// parseLevel converts a level name to slog.Level.
//
// Supported levels: debug, info, warn (or warning), error. Anything else
// is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child Logger with additional attributes.
//
// Example:
//
//	bridgeLogger := logger.With("component", "bridge", "device", "cold-room-2")
//	bridgeLogger.Info("status polled")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
