package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Closer is anything released at shutdown with a deadline.
type Closer interface {
	Close(ctx context.Context) error
}

type CloserFunc func(ctx context.Context) error

func (f CloserFunc) Close(ctx context.Context) error { return f(ctx) }

// Shutdown closes each closer in order under one shared timeout and joins
// their errors.
func Shutdown(timeout time.Duration, logger *slog.Logger, closers ...Closer) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(ctx); err != nil {
			if logger != nil {
				logger.Warn("shutdown_close_failed", slog.String("error", err.Error()))
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
