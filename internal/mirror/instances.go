package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lvcoi/deckproxy/internal/downloader"
)

// ErrNoInstances is returned by adapters configured without instances.
var ErrNoInstances = errors.New("no instances configured")

// tryInstances calls fn on each instance in order and returns the first
// non-empty result. Failing instances are logged and skipped. When every
// instance fails the last error is returned; when they are merely empty the
// zero value and a nil error are returned.
func tryInstances[T any](ctx context.Context, logger *slog.Logger, provider, op string, instances []string, fn func(ctx context.Context, base string) (T, bool, error)) (T, string, error) {
	var zero T
	if len(instances) == 0 {
		return zero, "", ErrNoInstances
	}
	var lastErr error
	for _, base := range instances {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		result, ok, err := fn(ctx, base)
		switch {
		case err != nil:
			lastErr = err
			logger.Warn("mirror instance failed",
				slog.String("provider", provider),
				slog.String("op", op),
				slog.String("instance", base),
				slog.String("outcome", "error"),
				slog.String("category", string(downloader.CategoryOf(err))),
				slog.Any("error", err),
			)
		case !ok:
			logger.Debug("mirror instance returned nothing",
				slog.String("provider", provider),
				slog.String("op", op),
				slog.String("instance", base),
				slog.String("outcome", "empty"),
			)
		default:
			logger.Info("mirror instance succeeded",
				slog.String("provider", provider),
				slog.String("op", op),
				slog.String("instance", base),
				slog.String("outcome", "success"),
			)
			return result, base, nil
		}
	}
	if lastErr != nil {
		return zero, "", fmt.Errorf("%s: all instances failed: %w", provider, lastErr)
	}
	return zero, "", nil
}

func loggerOr(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
