// Package logging provides structured logging for the gateway.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text for development, with service and version attributes on
// every record.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("register store ready", "path", cfg.Registers.Path)
//	logger.With("component", "fieldbus").Error("listener failed", "error", err)
package logging
