// Package retry wraps a fallible operation with a fixed-attempt,
// fixed-delay retry policy and structured attempt logging (spec §4.2).
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tuee22/amoebius-go/internal/telemetry"
)

// Config controls one retry decorator instance.
type Config struct {
	// Retries is the total number of attempts (1-indexed in logs), so
	// Retries=1 means "try once, no retry".
	Retries int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// Label identifies the wrapped operation in log lines and truncated
	// argument descriptions (e.g. "secretclient.login", "cmdrunner.run").
	Label string
}

const defaultArgTruncateLen = 120

// Do runs fn up to cfg.Retries times, sleeping cfg.Delay between failed
// attempts. Every failed attempt logs at warn; final exhaustion logs at
// error and returns the last error, wrapped with attempt context.
func Do[T any](ctx context.Context, logger *slog.Logger, metrics *telemetry.Metrics, cfg Config, args any, fn func(context.Context) (T, error)) (T, error) {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = telemetry.WithOperation(logger, cfg.Label)

	var zero T
	var lastErr error
	argDesc := truncateArgs(args)

	for attempt := 1; attempt <= cfg.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		metrics.RecordRetryAttempt(ctx)
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.Retries {
			metrics.RecordRetryExhausted(ctx)
			logger.Error("retry exhausted",
				telemetry.Attempt(attempt, cfg.Retries),
				slog.String("args", argDesc),
				slog.String(telemetry.KeyError, err.Error()),
			)
			return zero, fmt.Errorf("%s: exhausted %d attempts: %w", cfg.Label, cfg.Retries, lastErr)
		}

		logger.Warn("retry attempt failed",
			telemetry.Attempt(attempt, cfg.Retries),
			slog.String("args", argDesc),
			slog.String(telemetry.KeyError, err.Error()),
		)

		if cfg.Delay > 0 {
			timer := time.NewTimer(cfg.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return zero, lastErr
}

func truncateArgs(args any) string {
	s := fmt.Sprintf("%v", args)
	if len(s) <= defaultArgTruncateLen {
		return s
	}
	return s[:defaultArgTruncateLen] + "…"
}
