// Package logging provides structured logging for the cover bridge.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same default fields and format.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/graylogic/cover.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Info("starting service", "covers", len(cfg.Covers))
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
