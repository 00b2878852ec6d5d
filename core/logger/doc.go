// Package logger configures the application-wide zap logger.
//
// Production runs use the JSON encoder; setting the level to "debug"
// switches to the development config with a colored console encoder.
// WithRequestID decorates a logger with the per-request id injected by
// the requestid middleware so every log line of a request can be
// correlated.
package logger
