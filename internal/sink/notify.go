package sink

import (
	"context"
	"log/slog"
)

// Notifier reports screenshot outcomes to the user.
type Notifier interface {
	Info(ctx context.Context, msg string)
	Alert(ctx context.Context, msg string, err error)
}

// LogNotifier reports through slog: Info at info level, Alert at error level.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Info(ctx context.Context, msg string) {
	n.logger.InfoContext(ctx, msg)
}

func (n *LogNotifier) Alert(ctx context.Context, msg string, err error) {
	n.logger.ErrorContext(ctx, msg, "error", err)
}

// Notice is one recorded notification.
type Notice struct {
	Alert bool
	Msg   string
	Err   error
}

// NotifyFunc adapts a function to Notifier.
type NotifyFunc func(ctx context.Context, n Notice)

func (f NotifyFunc) Info(ctx context.Context, msg string) { f(ctx, Notice{Msg: msg}) }

func (f NotifyFunc) Alert(ctx context.Context, msg string, err error) {
	f(ctx, Notice{Alert: true, Msg: msg, Err: err})
}
