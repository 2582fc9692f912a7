// Package observability keeps the capture journal: one row per screenshot
// attempt and one per main-frame navigation, written asynchronously so a
// slow disk never delays a capture.
package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/devmirror/controller"
	"github.com/hazyhaar/devmirror/dbopen"
	"github.com/hazyhaar/devmirror/idgen"
)

// Capture statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry is one journaled capture.
type Entry struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	Mode         string    `json:"mode"`
	FileName     string    `json:"file_name,omitempty"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	Frames       int       `json:"frames,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Navigation is one journaled address change.
type Navigation struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter narrows History results.
type Filter struct {
	DeviceID string
	Status   string
	Since    time.Time
	Limit    int // default 50
}

type write struct {
	query string
	args  []any
}

// Journal persists capture outcomes. It implements controller.Recorder.
type Journal struct {
	db     *sql.DB
	owned  bool
	newID  idgen.Generator
	logger *slog.Logger
	ch     chan write
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// ErrClosed is returned when recording on a closed journal.
var ErrClosed = errors.New("observability: journal closed")

// Option configures a Journal.
type Option func(*Journal)

// WithIDGenerator sets the generator for navigation ids.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(j *Journal) { j.newID = gen }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// Open opens (or creates) the journal database at path.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	j := New(db, opts...)
	j.owned = true
	return j, nil
}

// New creates a Journal on an existing database. The schema must already be
// applied (see Init).
func New(db *sql.DB, opts ...Option) *Journal {
	j := &Journal{
		db:     db,
		newID:  idgen.Prefixed("nav_", idgen.Default),
		logger: slog.Default(),
		ch:     make(chan write, 256),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(j)
	}
	go j.flushLoop()
	return j
}

// RecordCapture queues a capture outcome. When the buffer is full the row
// is written synchronously.
func (j *Journal) RecordCapture(ctx context.Context, c controller.Capture) error {
	status, msg := StatusSuccess, ""
	if c.Err != nil {
		status, msg = StatusError, c.Err.Error()
	}
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	return j.enqueue(ctx, write{
		query: `INSERT INTO captures (
			capture_id, device_id, mode, file_name, width, height, frames,
			duration_ms, status, error_message, timestamp
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		args: []any{c.ID, c.DeviceID, c.Mode, c.Name, c.Width, c.Height, c.Frames,
			c.Duration.Milliseconds(), status, msg, at.UnixMilli()},
	})
}

// RecordNavigation queues an address change.
func (j *Journal) RecordNavigation(ctx context.Context, deviceID, url string) error {
	return j.enqueue(ctx, write{
		query: `INSERT INTO navigations (navigation_id, device_id, url, timestamp) VALUES (?,?,?,?)`,
		args:  []any{j.newID(), deviceID, url, time.Now().UnixMilli()},
	})
}

func (j *Journal) enqueue(ctx context.Context, w write) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	select {
	case j.ch <- w:
		return nil
	default:
		j.logger.Warn("observability: journal buffer full, sync fallback")
		_, err := dbopen.Exec(ctx, j.db, w.query, w.args...)
		return err
	}
}

func (j *Journal) flushLoop() {
	defer close(j.done)
	for w := range j.ch {
		if _, err := dbopen.Exec(context.Background(), j.db, w.query, w.args...); err != nil {
			j.logger.Error("observability: journal write failed", "error", err)
		}
	}
}

// Close writes every queued row and stops the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	<-j.done
	if j.owned {
		return j.db.Close()
	}
	return nil
}

// History returns captures matching f, newest first.
func (j *Journal) History(ctx context.Context, f Filter) ([]Entry, error) {
	q := `SELECT capture_id, device_id, mode, COALESCE(file_name, ''), COALESCE(width, 0),
		COALESCE(height, 0), COALESCE(frames, 0), COALESCE(duration_ms, 0), status,
		COALESCE(error_message, ''), timestamp
		FROM captures WHERE 1=1`
	var args []any
	if f.DeviceID != "" {
		q += " AND device_id = ?"
		args = append(args, f.DeviceID)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := 50
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY timestamp DESC, capture_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query captures: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Mode, &e.FileName, &e.Width, &e.Height,
			&e.Frames, &e.DurationMs, &e.Status, &e.ErrorMessage, &ts); err != nil {
			return nil, fmt.Errorf("observability: scan capture: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Navigations returns the latest address changes of a device, newest first.
// An empty deviceID returns every device.
func (j *Journal) Navigations(ctx context.Context, deviceID string, limit int) ([]Navigation, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT navigation_id, device_id, url, timestamp FROM navigations`
	var args []any
	if deviceID != "" {
		q += " WHERE device_id = ?"
		args = append(args, deviceID)
	}
	q += " ORDER BY timestamp DESC, navigation_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query navigations: %w", err)
	}
	defer rows.Close()

	var out []Navigation
	for rows.Next() {
		var n Navigation
		var ts int64
		if err := rows.Scan(&n.ID, &n.DeviceID, &n.URL, &ts); err != nil {
			return nil, fmt.Errorf("observability: scan navigation: %w", err)
		}
		n.Timestamp = time.UnixMilli(ts)
		out = append(out, n)
	}
	return out, rows.Err()
}

// Cleanup deletes rows older than the retention window.
func (j *Journal) Cleanup(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention).UnixMilli()
	for _, q := range []string{
		`DELETE FROM captures WHERE timestamp < ?`,
		`DELETE FROM navigations WHERE timestamp < ?`,
	} {
		if _, err := dbopen.Exec(ctx, j.db, q, cutoff); err != nil {
			return fmt.Errorf("observability: cleanup: %w", err)
		}
	}
	return nil
}
