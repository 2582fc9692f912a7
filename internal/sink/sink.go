// Package sink persists composed screenshots and reports the outcome.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPersistence is the root of every failed write.
var ErrPersistence = errors.New("sink: persistence failed")

// Writer stores one encoded image under name. Implementations deliver to
// different backends (folder, PDF folder, webhook, in-process callback).
type Writer interface {
	WriteImage(ctx context.Context, buf []byte, name string) error
	Close() error
}

// PersistError wraps a backend failure with the sink and file involved.
type PersistError struct {
	Sink string
	Name string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("sink: %s: write %q: %v", e.Sink, e.Name, e.Err)
}

func (e *PersistError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// FileName builds the screenshot file name for a device:
// "<device> - DD-MM-YYYY at HH.MM.SS AM.png", 12-hour clock.
func FileName(device string, t time.Time) string {
	stamp := t.Format("02-01-2006 at 03.04.05 PM")
	return device + " - " + stamp + ".png"
}

// sanitize drops path separators from a caller-supplied name.
func sanitize(name string) string {
	r := strings.NewReplacer("/", "-", "\\", "-", "\x00", "")
	name = r.Replace(name)
	if name == "" || name == "." || name == ".." {
		return "screenshot.png"
	}
	return name
}
