// Package snapshot drives one surface through a scroll-and-capture sequence
// and stitches the frames into a single full-page image.
//
// A run is linear: read the scroll origin, measure the document, reset to the
// top, capture one viewport per step, restore the origin, compose. Any
// failure aborts the run, discards the frames and still attempts the restore.
// The final frame is not cropped: when the document height is not a multiple
// of the viewport height its bottom band appears twice in the result.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/devmirror/interaction"
)

var (
	// ErrCaptureFailure is the root of every aborted run.
	ErrCaptureFailure = errors.New("snapshot: capture failed")
	// ErrBusy is returned when a run is already in progress on the surface.
	ErrBusy = errors.New("snapshot: capture already in progress")
)

// CaptureError reports the step at which a run aborted. Frame is the index
// of the frame being captured, or -1 before the loop started.
type CaptureError struct {
	Frame int
	Op    string
	Err   error
}

func (e *CaptureError) Error() string {
	if e.Frame < 0 {
		return fmt.Sprintf("snapshot: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("snapshot: frame %d: %s: %v", e.Frame, e.Op, e.Err)
}

func (e *CaptureError) Unwrap() []error { return []error{ErrCaptureFailure, e.Err} }

// Metrics are the document measurements a run needs, in CSS pixels.
type Metrics struct {
	ScrollHeight   float64 `json:"scrollHeight"`
	ViewportHeight float64 `json:"viewportHeight"`
	ViewportWidth  float64 `json:"viewportWidth"`
}

// Surface is the rendering capability a run drives.
type Surface interface {
	Offset(ctx context.Context) (interaction.Position, error)
	Metrics(ctx context.Context) (Metrics, error)
	// ScrollTo returns once the surface confirmed rendering settled.
	ScrollTo(ctx context.Context, pos interaction.Position) error
	// Capture returns the visible viewport as an encoded image.
	Capture(ctx context.Context) ([]byte, error)
}

// Frame is one viewport capture. Index 0 is the topmost.
type Frame struct {
	Image []byte
	Index int
}

// Composed is the stitched result.
type Composed struct {
	PNG    []byte
	Width  int
	Height int
	Frames int
}

// Compositor serialises capture runs on one surface. While a run is in
// progress, other drivers of the surface go through Guard and are refused.
type Compositor struct {
	surface Surface
	logger  *slog.Logger
	// restoreTimeout bounds the restore when the caller's context is done.
	restoreTimeout time.Duration

	running atomic.Bool
	mu      sync.Mutex
}

// New creates a Compositor for surface.
func New(surface Surface, logger *slog.Logger) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{surface: surface, logger: logger, restoreTimeout: 5 * time.Second}
}

// Busy reports whether a capture run is in progress.
func (c *Compositor) Busy() bool { return c.running.Load() }

// Guard runs fn unless a capture run is in progress, in which case it
// returns ErrBusy without calling fn. A run cannot start while fn executes.
func (c *Compositor) Guard(fn func() error) error {
	if c.running.Load() {
		return ErrBusy
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn()
}

// acquire claims the surface for a run. The returned func releases it.
func (c *Compositor) acquire() (func(), error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	c.mu.Lock()
	return func() {
		c.mu.Unlock()
		c.running.Store(false)
	}, nil
}

// FullPage captures and composes the whole document.
func (c *Compositor) FullPage(ctx context.Context) (*Composed, error) {
	release, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	frames, err := c.captureAll(ctx)
	if err != nil {
		return nil, err
	}
	out, err := Compose(frames)
	if err != nil {
		return nil, &CaptureError{Frame: -1, Op: "compose", Err: err}
	}
	return out, nil
}

// Visible captures the current viewport without scrolling. The frame is
// returned as captured; Compose turns it into a PNG.
func (c *Compositor) Visible(ctx context.Context) (Frame, error) {
	release, err := c.acquire()
	if err != nil {
		return Frame{}, err
	}
	defer release()

	img, err := c.surface.Capture(ctx)
	if err != nil {
		return Frame{}, &CaptureError{Frame: 0, Op: "capture", Err: err}
	}
	return Frame{Image: img}, nil
}

func (c *Compositor) captureAll(ctx context.Context) (_ []Frame, err error) {
	origin, err := c.surface.Offset(ctx)
	if err != nil {
		return nil, &CaptureError{Frame: -1, Op: "read offset", Err: err}
	}
	defer func() {
		if rerr := c.restore(ctx, origin); rerr != nil && err == nil {
			err = &CaptureError{Frame: -1, Op: "restore", Err: rerr}
		}
	}()

	m, err := c.surface.Metrics(ctx)
	if err != nil {
		return nil, &CaptureError{Frame: -1, Op: "measure", Err: err}
	}
	if err := c.surface.ScrollTo(ctx, interaction.Position{}); err != nil {
		return nil, &CaptureError{Frame: -1, Op: "reset", Err: err}
	}

	var frames []Frame
	y := 0.0
	for {
		idx := len(frames)
		img, err := c.surface.Capture(ctx)
		if err != nil {
			return nil, &CaptureError{Frame: idx, Op: "capture", Err: err}
		}
		frames = append(frames, Frame{Image: img, Index: idx})

		if m.ViewportHeight <= 0 {
			break
		}
		y += m.ViewportHeight
		if y >= m.ScrollHeight {
			break
		}
		if err := c.surface.ScrollTo(ctx, interaction.Position{Y: y}); err != nil {
			return nil, &CaptureError{Frame: idx + 1, Op: "scroll", Err: err}
		}
	}

	c.logger.Debug("snapshot: frames captured",
		"frames", len(frames), "scroll_height", m.ScrollHeight, "viewport", m.ViewportHeight)
	return frames, nil
}

func (c *Compositor) restore(ctx context.Context, origin interaction.Position) error {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), c.restoreTimeout)
		defer cancel()
	}
	if err := c.surface.ScrollTo(ctx, origin); err != nil {
		c.logger.Warn("snapshot: restore failed", "x", origin.X, "y", origin.Y, "error", err)
		return err
	}
	return nil
}
