// Package logging provides structured logging for Switchboard.
//
// It wraps log/slog so every component logs with the same handler,
// level filter and default fields (service, version).
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("starting service", "port", 8000)
//	logger.Component("mqtt").Error("connect failed", "error", err)
//
// Never log the password hash or the request body of POST /password.
package logging
