// Package logging provides structured logging for the M307 tools.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the CLI and the bridge.
//
// # Features
//
//   - JSON output for the bridge service (machine-parsable)
//   - Text output for interactive use (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// *Logger satisfies m307.Logger, so it can be handed straight to the
// protocol client and the bridge.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stderr, stdout, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("polling device", "device_id", cfg.Device.ID)
//	logger.Error("failed to connect", "error", err)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
