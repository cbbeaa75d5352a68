package telemetry

import (
	"log/slog"
)

// Common log attribute keys, kept consistent across every package so that
// log aggregation can group attempts, operations, and failures uniformly.
const (
	KeyOperation  = "operation"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeyBackendRef = "backend_ref"
	KeyNode       = "node"
	KeyGroup      = "group"
	KeyPath       = "path"
	KeyStatus     = "status"
	KeyDuration   = "duration"
	KeyError      = "error"
	KeyCommand    = "command"
)

// Status values used for the KeyStatus attribute.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// WithOperation returns a logger annotated with the operation attribute.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithNode returns a logger annotated with the node attribute.
func WithNode(logger *slog.Logger, node string) *slog.Logger {
	return logger.With(slog.String(KeyNode, node))
}

// WithBackendRef returns a logger annotated with a backend-ref identity.
func WithBackendRef(logger *slog.Logger, root, workspace string) *slog.Logger {
	return logger.With(slog.String(KeyBackendRef, root+"/"+workspace))
}

// Attempt returns a slog attribute describing a retry attempt count.
func Attempt(n, max int) slog.Attr {
	return slog.Group("retry", slog.Int(KeyAttempt, n), slog.Int(KeyMaxRetries, max))
}
