// Package controller is the per-device facade the host and external controls
// drive: history navigation, dev tools, scroll steps and screenshots saved
// with a user notification.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/devmirror/bus"
	"github.com/hazyhaar/devmirror/idgen"
	"github.com/hazyhaar/devmirror/interaction"
	"github.com/hazyhaar/devmirror/internal/sink"
	"github.com/hazyhaar/devmirror/snapshot"
)

// Capture modes.
const (
	ModeFull    = "full"
	ModeVisible = "visible"
)

// Direction of a scroll step.
type Direction int

const (
	Down Direction = 1
	Up   Direction = -1
)

const defaultScrollStep = 400

// Navigator is the surface capability behind history and dev tools.
type Navigator interface {
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Reload(ctx context.Context) error
	// ToggleDevTools opens or closes dev tools. When open, it returns the
	// inspector URL for the surface.
	ToggleDevTools(ctx context.Context) (open bool, url string, err error)
	ScrollBy(ctx context.Context, dy float64) error
}

// Surface combines the capabilities a controller drives.
type Surface interface {
	snapshot.Surface
	Navigator
}

// Capture describes one finished or failed screenshot attempt.
type Capture struct {
	ID       string
	DeviceID string
	Mode     string
	Name     string
	Width    int
	Height   int
	Frames   int
	Duration time.Duration
	Err      error
	At       time.Time
}

// Recorder persists capture outcomes.
type Recorder interface {
	RecordCapture(ctx context.Context, c Capture) error
}

// Config for a Controller.
type Config struct {
	Device   interaction.Device
	Surface  Surface
	Writer   sink.Writer
	Notifier sink.Notifier
	Recorder Recorder // optional

	// ScrollStep is the distance of one scrollDown/scrollUp step in CSS
	// pixels. Zero selects 400.
	ScrollStep float64

	Now    func() time.Time
	NewID  idgen.Generator
	Logger *slog.Logger
}

// Controller drives one device surface.
type Controller struct {
	device   interaction.Device
	surface  Surface
	comp     *snapshot.Compositor
	writer   sink.Writer
	notifier sink.Notifier
	recorder Recorder
	step     float64
	now      func() time.Time
	newID    idgen.Generator
	logger   *slog.Logger

	mu   sync.Mutex
	subs []bus.Subscription
}

// New creates a Controller.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = sink.NewLogNotifier(cfg.Logger)
	}
	if cfg.Writer == nil {
		cfg.Writer = sink.NewFolder("")
	}
	if cfg.ScrollStep <= 0 {
		cfg.ScrollStep = defaultScrollStep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = idgen.Default
	}
	return &Controller{
		device:   cfg.Device,
		surface:  cfg.Surface,
		comp:     snapshot.New(cfg.Surface, cfg.Logger),
		writer:   cfg.Writer,
		notifier: cfg.Notifier,
		recorder: cfg.Recorder,
		step:     cfg.ScrollStep,
		now:      cfg.Now,
		newID:    cfg.NewID,
		logger:   cfg.Logger,
	}
}

// Device returns the controlled device.
func (c *Controller) Device() interaction.Device { return c.device }

func (c *Controller) NavigateBack(ctx context.Context) error {
	return c.wrap("back", c.surface.GoBack(ctx))
}

func (c *Controller) NavigateForward(ctx context.Context) error {
	return c.wrap("forward", c.surface.GoForward(ctx))
}

func (c *Controller) Reload(ctx context.Context) error {
	return c.wrap("reload", c.surface.Reload(ctx))
}

// ToggleDevTools flips the dev tools state and returns the inspector URL
// when they are open.
func (c *Controller) ToggleDevTools(ctx context.Context) (string, error) {
	open, url, err := c.surface.ToggleDevTools(ctx)
	if err != nil {
		return "", c.wrap("devtools", err)
	}
	c.logger.Info("controller: devtools", "device", c.device.ID, "open", open, "url", url)
	return url, nil
}

// ScrollStep scrolls the surface by one configured step. It returns
// snapshot.ErrBusy while a capture run holds the surface.
func (c *Controller) ScrollStep(ctx context.Context, dir Direction) error {
	err := c.comp.Guard(func() error {
		return c.surface.ScrollBy(ctx, float64(dir)*c.step)
	})
	if errors.Is(err, snapshot.ErrBusy) {
		return err
	}
	return c.wrap("scroll step", err)
}

// Busy reports whether a capture run holds the surface.
func (c *Controller) Busy() bool { return c.comp.Busy() }

// Guard runs fn on the surface unless a capture run holds it, in which case
// it returns snapshot.ErrBusy. Mirrored replays go through here.
func (c *Controller) Guard(fn func() error) error { return c.comp.Guard(fn) }

// CaptureFullPage composes the whole document.
func (c *Controller) CaptureFullPage(ctx context.Context) (*snapshot.Composed, error) {
	return c.comp.FullPage(ctx)
}

// CaptureVisible captures the current viewport as a single frame.
func (c *Controller) CaptureVisible(ctx context.Context) (snapshot.Frame, error) {
	return c.comp.Visible(ctx)
}

// SaveFullPage captures the full page, writes it and notifies the user.
// It returns the file name used.
func (c *Controller) SaveFullPage(ctx context.Context) (string, error) {
	return c.save(ctx, ModeFull)
}

// SaveVisible captures the viewport, writes it and notifies the user.
func (c *Controller) SaveVisible(ctx context.Context) (string, error) {
	return c.save(ctx, ModeVisible)
}

// Save dispatches on mode; an empty mode is a full-page capture.
func (c *Controller) Save(ctx context.Context, mode string) (string, error) {
	switch mode {
	case "", ModeFull:
		return c.save(ctx, ModeFull)
	case ModeVisible:
		return c.save(ctx, ModeVisible)
	}
	return "", fmt.Errorf("controller: unknown capture mode %q", mode)
}

func (c *Controller) save(ctx context.Context, mode string) (string, error) {
	start := c.now()
	rec := Capture{ID: c.newID(), DeviceID: c.device.ID, Mode: mode, At: start}

	out, err := c.capture(ctx, mode)
	if err == nil {
		rec.Name = sink.FileName(c.device.Name, start)
		rec.Width, rec.Height, rec.Frames = out.Width, out.Height, out.Frames
		err = c.writer.WriteImage(ctx, out.PNG, rec.Name)
	}
	rec.Duration = c.now().Sub(start)
	rec.Err = err
	c.record(ctx, rec)

	if err != nil {
		c.notifier.Alert(ctx, "Error while taking the screenshot", err)
		if errors.Is(err, snapshot.ErrBusy) {
			return "", err
		}
		return "", fmt.Errorf("controller: %s: save %s: %w", c.device.ID, mode, err)
	}
	c.notifier.Info(ctx, c.device.Name+" screenshot taken!")
	c.logger.Info("controller: screenshot saved", "device", c.device.ID, "name", rec.Name, "frames", rec.Frames)
	return rec.Name, nil
}

func (c *Controller) capture(ctx context.Context, mode string) (*snapshot.Composed, error) {
	if mode != ModeVisible {
		return c.comp.FullPage(ctx)
	}
	f, err := c.comp.Visible(ctx)
	if err != nil {
		return nil, err
	}
	out, err := snapshot.Compose([]snapshot.Frame{f})
	if err != nil {
		return nil, &snapshot.CaptureError{Frame: -1, Op: "compose", Err: err}
	}
	return out, nil
}

func (c *Controller) record(ctx context.Context, rec Capture) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordCapture(ctx, rec); err != nil {
		c.logger.Warn("controller: record capture", "device", c.device.ID, "error", err)
	}
}

func (c *Controller) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("controller: %s: %s: %w", c.device.ID, op, err)
}
