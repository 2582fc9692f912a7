package devmirror

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/devmirror/internal/sink"
)

// Writer stores composed screenshots.
type Writer = sink.Writer

// Notifier reports screenshot outcomes.
type Notifier = sink.Notifier

// Notice is one notification passed to a NotifyFunc.
type Notice = sink.Notice

// NotifyFunc adapts a function to Notifier.
type NotifyFunc = sink.NotifyFunc

// NewFolderWriter writes PNG files into dir (default
// ~/Desktop/Responsively-Screenshots).
func NewFolderWriter(dir string) Writer {
	return sink.NewFolder(dir)
}

// NewWebhookWriter POSTs each PNG to url with retry.
func NewWebhookWriter(url string, logger *slog.Logger) Writer {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackWriter hands each PNG to fn in-process.
func NewCallbackWriter(fn func(ctx context.Context, buf []byte, name string) error) Writer {
	return sink.NewCallback(fn)
}

func buildWriters(cfg ScreenshotConfig, logger *slog.Logger) []Writer {
	var ws []Writer
	for _, f := range cfg.Formats {
		switch f {
		case "png":
			ws = append(ws, sink.NewFolder(cfg.Folder))
		case "pdf":
			ws = append(ws, sink.NewPDFFolder(cfg.Folder))
		}
	}
	if cfg.Webhook != "" {
		ws = append(ws, sink.NewWebhook(cfg.Webhook,
			sink.WithWebhookRetries(cfg.WebhookRetries),
			sink.WithWebhookLogger(logger)))
	}
	return ws
}
