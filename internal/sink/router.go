package sink

import (
	"context"
	"errors"
	"log/slog"
)

// Router fans out images to all configured writers. One writer error
// does not block the others: errors are logged and the first
// encountered is returned.
type Router struct {
	writers []Writer
	logger  *slog.Logger
}

// NewRouter creates a fan-out router delivering to all writers.
func NewRouter(logger *slog.Logger, writers ...Writer) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{writers: writers, logger: logger}
}

// Len returns the number of writers.
func (r *Router) Len() int { return len(r.writers) }

func (r *Router) WriteImage(ctx context.Context, buf []byte, name string) error {
	if len(r.writers) == 0 {
		return &PersistError{Sink: "router", Name: name, Err: errors.New("no writers configured")}
	}
	var firstErr error
	for _, w := range r.writers {
		if err := w.WriteImage(ctx, buf, name); err != nil {
			r.logger.Warn("sink: write image failed", "name", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, w := range r.writers {
		if err := w.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
