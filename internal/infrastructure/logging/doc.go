// Package logging provides structured logging built on log/slog.
//
// # Features
//
//   - JSON output for production, text output for development
//   - Level-based filtering (debug, info, warn, error)
//   - Default fields on every record (service name, version)
//   - Optional rotating file output alongside the console stream
//   - Child loggers with additional default attributes via With
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("bridge started", "device", cfg.Device.Link.URL)
//
//	bridgeLogger := logger.With("component", "bridge")
//	bridgeLogger.Warn("link lost", "error", err)
//
// Before configuration is loaded, Default returns a stdout JSON logger
// suitable for early startup errors.
package logging
