// Package devmirror renders one page on several emulated devices at once and
// keeps them in step: scrolling or clicking on one device is replayed on all
// the others, and any device can produce a full-page screenshot stitched
// from viewport captures.
//
// A Host owns the browser, the bus and one surface per device. Each surface
// runs an in-page bridge that reports local interactions; the host
// republishes them on the bus and the mirror fans them out to every other
// surface. Screenshots go through the device controller to the configured
// sinks.
package devmirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/devmirror/bridge"
	"github.com/hazyhaar/devmirror/bus"
	"github.com/hazyhaar/devmirror/controller"
	"github.com/hazyhaar/devmirror/interaction"
	"github.com/hazyhaar/devmirror/internal/browser"
	"github.com/hazyhaar/devmirror/internal/config"
	"github.com/hazyhaar/devmirror/internal/safeurl"
	"github.com/hazyhaar/devmirror/internal/sink"
	"github.com/hazyhaar/devmirror/locator"
	"github.com/hazyhaar/devmirror/mirror"
	"github.com/hazyhaar/devmirror/observability"
)

var (
	// ErrUnknownDevice is returned for device ids the host does not hold.
	ErrUnknownDevice = errors.New("devmirror: unknown device")
	// ErrDuplicateDevice is returned when opening an id twice.
	ErrDuplicateDevice = errors.New("devmirror: device already open")
	// ErrNotStarted is returned by operations that need Start first.
	ErrNotStarted = errors.New("devmirror: host not started")
)

// Surface is the rendering page of one device.
type Surface interface {
	controller.Surface
	bridge.Target
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Hooks receive page-side events of a surface.
type Hooks = browser.Hooks

// Opener provisions surfaces. The default opener drives Chrome through Rod.
type Opener interface {
	Start(ctx context.Context) error
	Open(ctx context.Context, dev interaction.Device, hooks Hooks) (Surface, error)
	Close() error
}

// DeviceInfo is the public view of an open device.
type DeviceInfo struct {
	interaction.Device
	URL   string `json:"url"`
	Ready bool   `json:"ready"`
}

// Option configures a Host.
type Option func(*Host)

// WithOpener replaces the Chrome-backed surface opener.
func WithOpener(o Opener) Option { return func(h *Host) { h.opener = o } }

// WithBus injects a bus instead of building one from the configuration.
// The host does not close an injected bus.
func WithBus(b bus.Bus) Option { return func(h *Host) { h.bus = b } }

// WithWriters adds screenshot writers to those built from the configuration.
func WithWriters(ws ...Writer) Option {
	return func(h *Host) { h.extraWriters = append(h.extraWriters, ws...) }
}

// WithNotifier replaces the log notifier.
func WithNotifier(n Notifier) Option { return func(h *Host) { h.notifier = n } }

// WithJournal injects a capture journal instead of opening journal.path.
// The host does not close an injected journal.
func WithJournal(j *observability.Journal) Option { return func(h *Host) { h.journal = j } }

// OnNavigate registers a callback for address changes of any device.
func OnNavigate(fn func(deviceID, url string)) Option {
	return func(h *Host) { h.onNavigate = append(h.onNavigate, fn) }
}

// Host is the top-level orchestrator. Create one per devmirror instance.
type Host struct {
	cfg    *config.Config
	logger *slog.Logger

	opener       Opener
	bus          bus.Bus
	ownBus       bool
	journal      *observability.Journal
	ownJournal   bool
	extraWriters []Writer
	writer       *sink.Router
	notifier     Notifier
	onNavigate   []func(deviceID, url string)
	mirror       *mirror.Mirror

	mu      sync.RWMutex
	runCtx  context.Context
	devices map[string]*device
	pending map[string]bool
	order   []string
}

type device struct {
	dev     interaction.Device
	bridge  *bridge.Bridge
	ctrl    *controller.Controller
	surface Surface
	ready   atomic.Bool

	mu  sync.Mutex
	url string
}

// New creates a Host from configuration.
func New(cfg *Config, logger *slog.Logger, opts ...Option) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		cfg:     cfg,
		logger:  logger,
		devices: make(map[string]*device),
		pending: make(map[string]bool),
	}
	for _, o := range opts {
		o(h)
	}
	if h.opener == nil {
		h.opener = newBrowserOpener(cfg, logger)
	}
	if h.notifier == nil {
		h.notifier = sink.NewLogNotifier(logger)
	}
	h.mirror = mirror.New(mirror.Config{Queue: cfg.Mirror.Queue, Logger: logger})
	return h
}

// Start connects the bus, launches the browser, opens every configured
// device and loads the configured URL. ctx bounds the host's lifetime.
func (h *Host) Start(ctx context.Context) error {
	if h.bus == nil {
		b, err := bus.New(h.cfg.Bus)
		if err != nil {
			return fmt.Errorf("devmirror: bus: %w", err)
		}
		h.bus, h.ownBus = b, true
	}

	if h.journal == nil && h.cfg.Journal.Path != "" {
		j, err := observability.Open(h.cfg.Journal.Path, observability.WithLogger(h.logger))
		if err != nil {
			return fmt.Errorf("devmirror: journal: %w", err)
		}
		h.journal, h.ownJournal = j, true
	}

	h.writer = sink.NewRouter(h.logger, append(buildWriters(h.cfg.Screenshots, h.logger), h.extraWriters...)...)

	if err := h.mirror.Attach(ctx, h.bus); err != nil {
		return fmt.Errorf("devmirror: attach mirror: %w", err)
	}
	if err := h.opener.Start(ctx); err != nil {
		return fmt.Errorf("devmirror: start browser: %w", err)
	}

	h.mu.Lock()
	h.runCtx = ctx
	h.mu.Unlock()

	for _, dev := range h.cfg.Devices {
		if err := h.OpenDevice(ctx, dev); err != nil {
			h.logger.Error("devmirror: failed to open device", "device", dev.ID, "error", err)
		}
	}

	if h.cfg.URL != "" {
		if err := h.Navigate(ctx, h.cfg.URL); err != nil {
			h.logger.Warn("devmirror: initial navigation", "url", h.cfg.URL, "error", err)
		}
	}
	return nil
}

// OpenDevice provisions a surface for dev and wires it into the mirror and
// the control topics. It can be called after Start to add devices.
func (h *Host) OpenDevice(ctx context.Context, dev interaction.Device) error {
	if err := dev.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	runCtx := h.runCtx
	if runCtx == nil {
		h.mu.Unlock()
		return ErrNotStarted
	}
	if _, ok := h.devices[dev.ID]; ok || h.pending[dev.ID] {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, dev.ID)
	}
	h.pending[dev.ID] = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, dev.ID)
		h.mu.Unlock()
	}()

	d := &device{dev: dev}

	d.bridge = bridge.New(bridge.Config{
		DeviceID: dev.ID,
		Target:   d,
		Outbox: func(ctx context.Context, msg interaction.Message) {
			if err := mirror.Publish(ctx, h.bus, msg); err != nil {
				h.logger.Debug("devmirror: publish", "device", dev.ID, "error", err)
			}
		},
		OnReady: func() {
			d.ready.Store(true)
			h.mirror.SetReady(dev.ID, true)
		},
		Logger: h.logger,
	})

	surface, err := h.opener.Open(runCtx, dev, Hooks{
		Signal:    d.bridge.HandlePayload,
		Navigated: func(url string) { h.navigated(d, url) },
	})
	if err != nil {
		return fmt.Errorf("devmirror: open %s: %w", dev.ID, err)
	}
	d.surface = surface

	ccfg := controller.Config{
		Device:     dev,
		Surface:    surface,
		Writer:     h.writer,
		Notifier:   h.notifier,
		ScrollStep: h.cfg.ScrollStep,
		Logger:     h.logger,
	}
	if h.journal != nil {
		ccfg.Recorder = h.journal
	}
	d.ctrl = controller.New(ccfg)
	if err := d.ctrl.Subscribe(runCtx, h.bus); err != nil {
		surface.Close()
		return fmt.Errorf("devmirror: subscribe %s: %w", dev.ID, err)
	}

	h.mirror.Register(runCtx, d.bridge)
	// The ready signal may have arrived while the surface was opening.
	h.mirror.SetReady(dev.ID, d.ready.Load())

	h.mu.Lock()
	h.devices[dev.ID] = d
	h.order = append(h.order, dev.ID)
	h.mu.Unlock()

	h.logger.Info("devmirror: device open", "device", dev.ID, "size", fmt.Sprintf("%dx%d", dev.Width, dev.Height))
	return nil
}

func (h *Host) navigated(d *device, url string) {
	d.ready.Store(false)
	h.mirror.SetReady(d.dev.ID, false)

	d.mu.Lock()
	d.url = url
	d.mu.Unlock()

	if h.journal != nil {
		if err := h.journal.RecordNavigation(context.Background(), d.dev.ID, url); err != nil {
			h.logger.Debug("devmirror: journal navigation", "error", err)
		}
	}
	for _, fn := range h.onNavigate {
		fn(d.dev.ID, url)
	}
	h.logger.Debug("devmirror: navigated", "device", d.dev.ID, "url", url)
}

// CloseDevice removes a device and closes its surface.
func (h *Host) CloseDevice(id string) error {
	h.mu.Lock()
	d, ok := h.devices[id]
	if ok {
		delete(h.devices, id)
		for i, other := range h.order {
			if other == id {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return h.closeDevice(d)
}

func (h *Host) closeDevice(d *device) error {
	h.mirror.Unregister(d.dev.ID)
	d.ctrl.Close()
	if err := d.surface.Close(); err != nil {
		return fmt.Errorf("devmirror: close %s: %w", d.dev.ID, err)
	}
	h.logger.Info("devmirror: device closed", "device", d.dev.ID)
	return nil
}

// Controller returns the controller of a device.
func (h *Host) Controller(id string) (*controller.Controller, error) {
	h.mu.RLock()
	d, ok := h.devices[id]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return d.ctrl, nil
}

// Devices lists open devices in opening order.
func (h *Host) Devices() []DeviceInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]DeviceInfo, 0, len(h.order))
	for _, id := range h.order {
		d := h.devices[id]
		d.mu.Lock()
		url := d.url
		d.mu.Unlock()
		out = append(out, DeviceInfo{Device: d.dev, URL: url, Ready: d.ready.Load()})
	}
	return out
}

// Navigate loads url on every device concurrently. Bare hosts are
// completed with a scheme; non-web schemes are rejected.
func (h *Host) Navigate(ctx context.Context, rawURL string) error {
	url, err := safeurl.Page(rawURL)
	if err != nil {
		return fmt.Errorf("devmirror: navigate: %w", err)
	}

	h.mu.RLock()
	targets := make([]*device, 0, len(h.order))
	for _, id := range h.order {
		targets = append(targets, h.devices[id])
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return fmt.Errorf("devmirror: navigate: no devices")
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, d := range targets {
		wg.Add(1)
		go func(i int, d *device) {
			defer wg.Done()
			if err := d.surface.Navigate(ctx, url); err != nil {
				errs[i] = fmt.Errorf("%s: %w", d.dev.ID, err)
			}
		}(i, d)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Click clicks the node at cssPath on one device and mirrors the click to
// every other device. It returns bridge.ErrLocatorMiss when the path does
// not resolve in the device's current document.
func (h *Host) Click(ctx context.Context, deviceID, cssPath string) error {
	h.mu.RLock()
	d, ok := h.devices[deviceID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	doc, err := d.surface.HTML(ctx)
	if err != nil {
		return fmt.Errorf("devmirror: click %s: %w", deviceID, err)
	}
	if _, found, err := locator.ResolveHTML(strings.NewReader(doc), cssPath); err != nil {
		return fmt.Errorf("devmirror: click %s: %w", deviceID, err)
	} else if !found {
		return fmt.Errorf("%w: %s", bridge.ErrLocatorMiss, cssPath)
	}

	// The surface flags the synthetic click as replayed, so its bridge
	// stays quiet and the host publishes on its behalf.
	if err := d.Click(ctx, cssPath); err != nil {
		return fmt.Errorf("devmirror: click %s: %w", deviceID, err)
	}
	msg, err := interaction.NewMessage(interaction.NewClick(deviceID, cssPath))
	if err != nil {
		return err
	}
	return mirror.Publish(ctx, h.bus, msg)
}

// Command publishes a control command on topic.
func (h *Host) Command(ctx context.Context, topic string, cmd interaction.Command) error {
	if h.bus == nil {
		return ErrNotStarted
	}
	data, err := interaction.MarshalCommand(cmd)
	if err != nil {
		return err
	}
	return h.bus.Publish(ctx, topic, data)
}

// Stats returns mirror delivery counters.
func (h *Host) Stats() mirror.Stats { return h.mirror.Stats() }

// Journal returns the capture journal, or nil when disabled.
func (h *Host) Journal() *observability.Journal { return h.journal }

// Stop closes every device, the browser and the resources the host opened.
func (h *Host) Stop() {
	h.mu.Lock()
	devices := h.devices
	order := h.order
	h.devices = make(map[string]*device)
	h.order = nil
	h.mu.Unlock()

	for _, id := range order {
		if err := h.closeDevice(devices[id]); err != nil {
			h.logger.Warn("devmirror: stop device", "device", id, "error", err)
		}
	}

	h.mirror.Close()
	if err := h.opener.Close(); err != nil {
		h.logger.Warn("devmirror: close browser", "error", err)
	}
	if h.writer != nil {
		h.writer.Close()
	}
	if h.ownJournal {
		h.journal.Close()
	}
	if h.ownBus {
		h.bus.Close()
	}
}

// ScrollTo, Click and Busy make a device the replay target of its own
// bridge. Replays only start once the surface is open and registered, and
// are refused with snapshot.ErrBusy while a capture run holds the surface.

func (d *device) ScrollTo(ctx context.Context, pos interaction.Position) error {
	return d.ctrl.Guard(func() error { return d.surface.ScrollTo(ctx, pos) })
}

func (d *device) Click(ctx context.Context, cssPath string) error {
	return d.ctrl.Guard(func() error { return d.surface.Click(ctx, cssPath) })
}

func (d *device) Busy() bool { return d.ctrl.Busy() }
