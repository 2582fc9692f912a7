package sink

import "context"

// ImageFunc receives each image in-process.
type ImageFunc func(ctx context.Context, buf []byte, name string) error

// Callback hands images to a Go function, for embedding hosts that keep
// captures in memory or forward them themselves.
type Callback struct {
	fn ImageFunc
}

// NewCallback creates a Callback sink. A nil fn discards images.
func NewCallback(fn ImageFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) WriteImage(ctx context.Context, buf []byte, name string) error {
	if c.fn == nil {
		return nil
	}
	if err := c.fn(ctx, buf, name); err != nil {
		return &PersistError{Sink: "callback", Name: name, Err: err}
	}
	return nil
}

func (c *Callback) Close() error { return nil }
