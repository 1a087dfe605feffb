// Package logging provides structured logging for Triggerflow Core.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same shape.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, environment, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
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
//	logger := logging.New(cfg.Logging, cfg.Service, version)
//	engineLog := logger.With("component", "automation")
//	engineLog.Info("rule executed", "rule_id", id)
//
// *Logger satisfies the small Logger interfaces declared by the
// automation, agent, ingest and api packages.
//
// Never log secrets, bearer tokens or LLM API keys. Trigger payloads may
// contain user email content and are only logged at debug level.
package logging
