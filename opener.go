package devmirror

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/devmirror/interaction"
	"github.com/hazyhaar/devmirror/internal/browser"
)

type browserOpener struct {
	mgr *browser.Manager
}

func newBrowserOpener(cfg *Config, logger *slog.Logger) *browserOpener {
	return &browserOpener{mgr: browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Headful:          cfg.Browser.Mode == "headful",
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Stealth:          cfg.Browser.Stealth,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		SettleDelay:      cfg.Browser.SettleDelay,
		NavigateTimeout:  cfg.Browser.NavigateTimeout,
		Logger:           logger,
	})}
}

func (o *browserOpener) Start(ctx context.Context) error { return o.mgr.Start(ctx) }

func (o *browserOpener) Open(ctx context.Context, dev interaction.Device, hooks Hooks) (Surface, error) {
	s, err := browser.OpenSurface(ctx, o.mgr, dev, hooks)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (o *browserOpener) Close() error { return o.mgr.Close() }
