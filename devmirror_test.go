package devmirror

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/devmirror/bridge"
	"github.com/hazyhaar/devmirror/interaction"
	"github.com/hazyhaar/devmirror/observability"
	"github.com/hazyhaar/devmirror/snapshot"
)

// fakeSurface is an in-memory page: a 2000px document on the device viewport.
type fakeSurface struct {
	dev   interaction.Device
	hooks Hooks

	mu         sync.Mutex
	offset     interaction.Position
	scrolls    []interaction.Position
	clicks     []string
	urls       []string
	scrolledBy []float64
	reloads    int
	closed     bool
	// gate, when set, holds every capture until closed.
	gate chan struct{}
}

func (s *fakeSurface) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.urls = append(s.urls, url)
	s.offset = interaction.Position{}
	s.mu.Unlock()
	s.hooks.Navigated(url)
	s.hooks.Signal(ctx, `{"kind":"ready"}`)
	return nil
}

func (s *fakeSurface) Offset(context.Context) (interaction.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset, nil
}

func (s *fakeSurface) Metrics(context.Context) (snapshot.Metrics, error) {
	return snapshot.Metrics{ScrollHeight: 2000, ViewportHeight: float64(s.dev.Height), ViewportWidth: float64(s.dev.Width)}, nil
}

func (s *fakeSurface) ScrollTo(_ context.Context, pos interaction.Position) error {
	s.mu.Lock()
	s.offset = pos
	s.scrolls = append(s.scrolls, pos)
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) Capture(context.Context) ([]byte, error) {
	if s.gate != nil {
		<-s.gate
	}
	img := image.NewRGBA(image.Rect(0, 0, s.dev.Width, s.dev.Height))
	for x := 0; x < s.dev.Width; x++ {
		img.Set(x, 0, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *fakeSurface) Click(_ context.Context, cssPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks = append(s.clicks, cssPath)
	return nil
}

func (s *fakeSurface) HTML(context.Context) (string, error) {
	return `<html><body><div><a href="/a">a</a><a href="/b">b</a></div></body></html>`, nil
}

func (s *fakeSurface) GoBack(context.Context) error { return nil }

func (s *fakeSurface) GoForward(context.Context) error { return nil }

func (s *fakeSurface) Reload(context.Context) error {
	s.mu.Lock()
	s.reloads++
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) ToggleDevTools(context.Context) (bool, string, error) {
	return true, "http://127.0.0.1:9222/devtools/" + s.dev.ID, nil
}

func (s *fakeSurface) ScrollBy(_ context.Context, dy float64) error {
	s.mu.Lock()
	s.scrolledBy = append(s.scrolledBy, dy)
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) snapshotState() (scrolls []interaction.Position, clicks []string, by []float64, reloads int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interaction.Position(nil), s.scrolls...), append([]string(nil), s.clicks...),
		append([]float64(nil), s.scrolledBy...), s.reloads
}

type fakeOpener struct {
	mu       sync.Mutex
	surfaces map[string]*fakeSurface
	failOn   string
	closed   bool
}

func newFakeOpener() *fakeOpener { return &fakeOpener{surfaces: make(map[string]*fakeSurface)} }

func (o *fakeOpener) Start(context.Context) error { return nil }

func (o *fakeOpener) Open(_ context.Context, dev interaction.Device, hooks Hooks) (Surface, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if dev.ID == o.failOn {
		return nil, errors.New("no target")
	}
	s := &fakeSurface{dev: dev, hooks: hooks}
	o.surfaces[dev.ID] = s
	return s, nil
}

func (o *fakeOpener) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

func (o *fakeOpener) get(id string) *fakeSurface {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.surfaces[id]
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// logBuffer collects debug logs written from any goroutine.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(b, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = "https://example.com/"
	cfg.Devices = []interaction.Device{
		{ID: "phone", Name: "Phone", Width: 40, Height: 80, Mobile: true},
		{ID: "desk", Name: "Desk", Width: 120, Height: 90},
	}
	cfg.Screenshots.Folder = t.TempDir()
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	return cfg
}

func startHost(t *testing.T, cfg *Config, opts ...Option) (*Host, *fakeOpener) {
	t.Helper()
	return startHostLogged(t, cfg, quietLogger(), opts...)
}

func startHostLogged(t *testing.T, cfg *Config, logger *slog.Logger, opts ...Option) (*Host, *fakeOpener) {
	t.Helper()
	op := newFakeOpener()
	h := New(cfg, logger, append([]Option{WithOpener(op)}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		h.Stop()
		cancel()
	})
	return h, op
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHost_StartOpensAndNavigates(t *testing.T) {
	var mu sync.Mutex
	navs := map[string]string{}
	h, op := startHost(t, testConfig(t), OnNavigate(func(id, url string) {
		mu.Lock()
		navs[id] = url
		mu.Unlock()
	}))

	devs := h.Devices()
	if len(devs) != 2 || devs[0].ID != "phone" || devs[1].ID != "desk" {
		t.Fatalf("devices = %+v", devs)
	}
	for _, d := range devs {
		if !d.Ready || d.URL != "https://example.com/" {
			t.Errorf("device %s: ready=%v url=%q", d.ID, d.Ready, d.URL)
		}
	}
	mu.Lock()
	if len(navs) != 2 {
		t.Errorf("navigate callbacks = %v", navs)
	}
	mu.Unlock()
	if op.get("phone") == nil || op.get("desk") == nil {
		t.Fatal("surfaces not opened")
	}
}

func TestHost_ScrollMirroredToOtherDevices(t *testing.T) {
	h, op := startHost(t, testConfig(t))
	ctx := context.Background()
	phone, desk := op.get("phone"), op.get("desk")

	phone.hooks.Signal(ctx, `{"kind":"enter"}`)
	phone.hooks.Signal(ctx, `{"kind":"scroll","position":{"x":0,"y":300}}`)

	eventually(t, "desk scroll", func() bool {
		s, _, _, _ := desk.snapshotState()
		return len(s) == 1 && s[0].Y == 300
	})
	if s, _, _, _ := phone.snapshotState(); len(s) != 0 {
		t.Errorf("source replayed its own scroll: %+v", s)
	}
	eventually(t, "delivery count", func() bool {
		st := h.Stats()
		return st.Dispatched == 1 && st.Delivered == 1
	})
}

func TestHost_ReplayDroppedDuringCapture(t *testing.T) {
	h, op := startHost(t, testConfig(t))
	ctx := context.Background()
	phone, desk := op.get("phone"), op.get("desk")

	ctrl, err := h.Controller("desk")
	if err != nil {
		t.Fatal(err)
	}
	desk.gate = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := ctrl.SaveFullPage(ctx)
		done <- err
	}()
	eventually(t, "capture start", ctrl.Busy)

	phone.hooks.Signal(ctx, `{"kind":"enter"}`)
	phone.hooks.Signal(ctx, `{"kind":"scroll","position":{"x":0,"y":300}}`)
	eventually(t, "drop count", func() bool {
		st := h.Stats()
		return st.Dispatched == 1 && st.Dropped == 1
	})
	if err := h.Click(ctx, "desk", "html > body > div > a:nth-of-type(2)"); !errors.Is(err, snapshot.ErrBusy) {
		t.Errorf("click during capture: got %v, want ErrBusy", err)
	}

	close(desk.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	scrolls, clicks, _, _ := desk.snapshotState()
	for _, p := range scrolls {
		if p.Y == 300 {
			t.Fatalf("mirrored scroll reached the surface during capture: %+v", scrolls)
		}
	}
	if scrolls[0].Y != 0 || len(clicks) != 0 {
		t.Errorf("scrolls = %+v, clicks = %v", scrolls, clicks)
	}
	if st := h.Stats(); st.Delivered != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestHost_ScrollWithoutPointerStaysLocal(t *testing.T) {
	h, op := startHost(t, testConfig(t))
	op.get("phone").hooks.Signal(context.Background(), `{"kind":"scroll","position":{"x":0,"y":300}}`)

	time.Sleep(50 * time.Millisecond)
	if st := h.Stats(); st.Dispatched != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestHost_ClickMirrored(t *testing.T) {
	_, op := startHost(t, testConfig(t))
	op.get("desk").hooks.Signal(context.Background(), `{"kind":"click","cssPath":"body > a:nth-child(2)","dispatch":"d1"}`)

	eventually(t, "phone click", func() bool {
		_, c, _, _ := op.get("phone").snapshotState()
		return len(c) == 1 && c[0] == "body > a:nth-child(2)"
	})
	if _, c, _, _ := op.get("desk").snapshotState(); len(c) != 0 {
		t.Errorf("source replayed its own click: %v", c)
	}
}

func TestHost_OpenDeviceErrors(t *testing.T) {
	cfg := testConfig(t)
	h, op := startHost(t, cfg)
	ctx := context.Background()

	if err := h.OpenDevice(ctx, cfg.Devices[0]); !errors.Is(err, ErrDuplicateDevice) {
		t.Errorf("duplicate: %v", err)
	}
	op.mu.Lock()
	op.failOn = "tablet"
	op.mu.Unlock()
	if err := h.OpenDevice(ctx, interaction.Device{ID: "tablet", Width: 10, Height: 10}); err == nil {
		t.Error("expected open failure")
	}
	if len(h.Devices()) != 2 {
		t.Errorf("failed device left behind: %+v", h.Devices())
	}
	if err := h.OpenDevice(ctx, interaction.Device{ID: "bad"}); err == nil {
		t.Error("expected validation failure")
	}
}

func TestHost_OpenDeviceBeforeStart(t *testing.T) {
	h := New(testConfig(t), quietLogger(), WithOpener(newFakeOpener()))
	err := h.OpenDevice(context.Background(), interaction.Device{ID: "x", Width: 1, Height: 1})
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err = %v", err)
	}
}

func TestHost_CloseDevice(t *testing.T) {
	h, op := startHost(t, testConfig(t))
	if err := h.CloseDevice("phone"); err != nil {
		t.Fatal(err)
	}
	if !op.get("phone").closed {
		t.Error("surface not closed")
	}
	if _, err := h.Controller("phone"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("controller lookup: %v", err)
	}
	if err := h.CloseDevice("phone"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("second close: %v", err)
	}
	if len(h.Devices()) != 1 {
		t.Errorf("devices = %+v", h.Devices())
	}
}

func TestHost_SaveWritesFileAndJournal(t *testing.T) {
	cfg := testConfig(t)
	var got []string
	var mu sync.Mutex
	h, _ := startHost(t, cfg, WithWriters(NewCallbackWriter(func(_ context.Context, buf []byte, name string) error {
		cfgImg, err := png.DecodeConfig(bytes.NewReader(buf))
		if err != nil {
			return err
		}
		mu.Lock()
		got = append(got, name)
		mu.Unlock()
		if cfgImg.Width != 40 || cfgImg.Height != 2000 {
			t.Errorf("composed size = %dx%d", cfgImg.Width, cfgImg.Height)
		}
		return nil
	})))

	ctrl, err := h.Controller("phone")
	if err != nil {
		t.Fatal(err)
	}
	name, err := ctrl.SaveFullPage(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Screenshots.Folder, name)); err != nil {
		t.Errorf("file not written: %v", err)
	}
	mu.Lock()
	if len(got) != 1 || got[0] != name {
		t.Errorf("callback got %v", got)
	}
	mu.Unlock()

	eventually(t, "journal entry", func() bool {
		entries, err := h.Journal().History(context.Background(), observability.Filter{DeviceID: "phone"})
		return err == nil && len(entries) == 1 && entries[0].FileName == name
	})
}

func TestHost_NavigateNoDevices(t *testing.T) {
	cfg := testConfig(t)
	cfg.URL = ""
	h, _ := startHost(t, cfg)
	h.CloseDevice("phone")
	h.CloseDevice("desk")
	if err := h.Navigate(context.Background(), "https://example.org"); err == nil {
		t.Fatal("expected error")
	}
}

func TestHost_StopClosesEverything(t *testing.T) {
	op := newFakeOpener()
	h := New(testConfig(t), quietLogger(), WithOpener(op))
	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.Stop()
	if !op.closed || !op.get("phone").closed || !op.get("desk").closed {
		t.Error("not everything closed")
	}
	if len(h.Devices()) != 0 {
		t.Error("devices survive Stop")
	}
}

func TestHost_ClickResolvesAndMirrors(t *testing.T) {
	h, op := startHost(t, testConfig(t))
	ctx := context.Background()
	const path = "html > body > div > a:nth-of-type(2)"

	if err := h.Click(ctx, "phone", path); err != nil {
		t.Fatal(err)
	}
	if _, c, _, _ := op.get("phone").snapshotState(); len(c) != 1 || c[0] != path {
		t.Errorf("phone clicks = %v", c)
	}
	eventually(t, "desk replay", func() bool {
		_, c, _, _ := op.get("desk").snapshotState()
		return len(c) == 1 && c[0] == path
	})

	if err := h.Click(ctx, "phone", "body > table"); !errors.Is(err, bridge.ErrLocatorMiss) {
		t.Errorf("missing node: %v", err)
	}
	if err := h.Click(ctx, "ghost", path); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("unknown device: %v", err)
	}
}
