package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/devmirror/bridge"
	"github.com/hazyhaar/devmirror/interaction"
	"github.com/hazyhaar/devmirror/snapshot"
)

// Hooks receive page-side events of a surface. Any hook may be nil.
type Hooks struct {
	// Signal receives every bridge binding payload.
	Signal func(ctx context.Context, payload string)
	// Navigated fires when the main frame commits a new document.
	Navigated func(url string)
}

// Surface is one emulated device page. It implements snapshot.Surface,
// bridge.Target and controller.Navigator.
type Surface struct {
	Device interaction.Device
	Page   *rod.Page

	mgr    *Manager
	router *rod.HijackRouter
	cancel context.CancelFunc

	mu       sync.Mutex
	devtools bool
}

// OpenSurface creates a page emulating dev, installs the bridge script and
// binding, and starts forwarding page events to hooks. The page starts
// blank; call Navigate.
func OpenSurface(ctx context.Context, mgr *Manager, dev interaction.Device, hooks Hooks) (*Surface, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	s := &Surface{Device: dev, Page: page, mgr: mgr}
	if err := s.emulate(); err != nil {
		page.Close()
		return nil, err
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		s.router = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	if err := (proto.RuntimeAddBinding{Name: bridge.BindingName}).Call(page); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: add binding: %w", err)
	}
	if _, err := page.EvalOnNewDocument(bridge.Script()); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: install bridge: %w", err)
	}

	lctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.listen(lctx, hooks)

	return s, nil
}

func (s *Surface) emulate() error {
	dev := s.Device
	scale := dev.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	err := s.Page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             dev.Width,
		Height:            dev.Height,
		DeviceScaleFactor: scale,
		Mobile:            dev.Mobile,
	})
	if err != nil {
		return fmt.Errorf("browser: emulate %s: %w", dev.ID, err)
	}
	if dev.UserAgent != "" {
		if err := s.Page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: dev.UserAgent}); err != nil {
			return fmt.Errorf("browser: user agent %s: %w", dev.ID, err)
		}
	}
	if dev.Zoom > 0 && dev.Zoom != 1 {
		if err := (proto.EmulationSetPageScaleFactor{PageScaleFactor: dev.Zoom}).Call(s.Page); err != nil {
			return fmt.Errorf("browser: zoom %s: %w", dev.ID, err)
		}
	}
	return nil
}

func (s *Surface) listen(ctx context.Context, hooks Hooks) {
	s.Page.Context(ctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != bridge.BindingName || hooks.Signal == nil {
				return
			}
			hooks.Signal(ctx, e.Payload)
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" || hooks.Navigated == nil {
				return
			}
			hooks.Navigated(e.Frame.URL)
		},
	)()
}

// Navigate loads url and waits for the load event.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	nctx, cancel := context.WithTimeout(ctx, s.mgr.cfg.NavigateTimeout)
	defer cancel()

	p := s.Page.Context(nctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		s.mgr.cfg.Logger.Warn("browser: wait load", "device", s.Device.ID, "url", url, "error", err)
	}
	return nil
}

// URL returns the current document URL.
func (s *Surface) URL(ctx context.Context) (string, error) {
	info, err := s.Page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

// eval runs a bridge API call and decodes its result into out.
func (s *Surface) eval(ctx context.Context, out any, js string, args ...any) error {
	res, err := s.Page.Context(ctx).Eval(js, args...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(res.Value.JSON("", "")), out)
}

func (s *Surface) Offset(ctx context.Context) (interaction.Position, error) {
	var p interaction.Position
	if err := s.eval(ctx, &p, `() => window.__devmirror.offset()`); err != nil {
		return p, fmt.Errorf("browser: offset: %w", err)
	}
	return p, nil
}

func (s *Surface) Metrics(ctx context.Context) (snapshot.Metrics, error) {
	var m snapshot.Metrics
	if err := s.eval(ctx, &m, `() => window.__devmirror.metrics()`); err != nil {
		return m, fmt.Errorf("browser: metrics: %w", err)
	}
	return m, nil
}

// ScrollTo sets the offset and returns after two animation frames plus the
// configured settle delay.
func (s *Surface) ScrollTo(ctx context.Context, pos interaction.Position) error {
	if err := s.eval(ctx, nil, `(x, y) => window.__devmirror.scrollTo(x, y)`, pos.X, pos.Y); err != nil {
		return fmt.Errorf("browser: scroll: %w", err)
	}
	return s.settle(ctx)
}

func (s *Surface) ScrollBy(ctx context.Context, dy float64) error {
	if err := s.eval(ctx, nil, `(dy) => window.__devmirror.scrollBy(dy)`, dy); err != nil {
		return fmt.Errorf("browser: scroll by: %w", err)
	}
	return s.settle(ctx)
}

func (s *Surface) settle(ctx context.Context) error {
	d := s.mgr.cfg.SettleDelay
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Click replays a click on the node at cssPath.
func (s *Surface) Click(ctx context.Context, cssPath string) error {
	var found bool
	if err := s.eval(ctx, &found, `(p) => window.__devmirror.click(p)`, cssPath); err != nil {
		return fmt.Errorf("browser: click: %w", err)
	}
	if !found {
		return bridge.ErrLocatorMiss
	}
	return nil
}

// HTML returns the serialized current document.
func (s *Surface) HTML(ctx context.Context) (string, error) {
	doc, err := s.Page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: html: %w", err)
	}
	return doc, nil
}

// Capture screenshots the visible viewport as PNG.
func (s *Surface) Capture(ctx context.Context) ([]byte, error) {
	buf, err := s.Page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return buf, nil
}

func (s *Surface) GoBack(ctx context.Context) error {
	return s.Page.Context(ctx).NavigateBack()
}

func (s *Surface) GoForward(ctx context.Context) error {
	return s.Page.Context(ctx).NavigateForward()
}

func (s *Surface) Reload(ctx context.Context) error {
	return s.Page.Context(ctx).Reload()
}

// ToggleDevTools flips the dev tools flag. Pages have no docked inspector
// under CDP; an open state hands out the inspector frontend URL instead.
func (s *Surface) ToggleDevTools(ctx context.Context) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.devtools {
		s.devtools = false
		return false, "", nil
	}
	u, err := devtoolsURL(s.mgr.ControlURL(), string(s.Page.TargetID))
	if err != nil {
		return false, "", err
	}
	s.devtools = true
	return true, u, nil
}

// Close stops event forwarding and closes the page.
func (s *Surface) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.router != nil {
		_ = s.router.Stop()
	}
	return s.Page.Close()
}
