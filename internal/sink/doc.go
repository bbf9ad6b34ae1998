// Package sink provides runner.Sink implementations: logger and writer sinks,
// fan-out, rate limiting for progress lines and a Telegram chat sink.
package sink
