package sink

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 3))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFileName(t *testing.T) {
	at := time.Date(2024, 1, 5, 14, 30, 0, 0, time.UTC)
	got := FileName("iPhone 12", at)
	want := "iPhone 12 - 05-01-2024 at 02.30.00 PM.png"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	morning := time.Date(2023, 11, 22, 9, 5, 7, 0, time.UTC)
	if got := FileName("Pixel", morning); got != "Pixel - 22-11-2023 at 09.05.07 AM.png" {
		t.Errorf("got %q", got)
	}
}

func TestFolder_WriteImage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shots")
	f := NewFolder(dir)
	data := testPNG(t)

	if err := f.WriteImage(context.Background(), data, "a/b.png"); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "a-b.png"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("content mismatch")
	}
}

func TestFolder_PersistError(t *testing.T) {
	// A regular file where the directory should be.
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	err := NewFolder(blocker).WriteImage(context.Background(), []byte("x"), "y.png")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("got %v, want ErrPersistence", err)
	}
	var pe *PersistError
	if !errors.As(err, &pe) || pe.Name != "y.png" || pe.Sink != "folder" {
		t.Errorf("got %#v", pe)
	}
}

func TestDefaultFolder(t *testing.T) {
	if !strings.HasSuffix(DefaultFolder(), filepath.Join("Desktop", DefaultFolderName)) {
		t.Errorf("got %q", DefaultFolder())
	}
	if NewFolder("").Dir() != DefaultFolder() {
		t.Error("empty dir does not select the default")
	}
}

func TestPDFFolder_WriteImage(t *testing.T) {
	dir := t.TempDir()
	p := NewPDFFolder(dir)
	if err := p.WriteImage(context.Background(), testPNG(t), "Pixel - shot.png"); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "Pixel - shot.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(got, []byte("%PDF")) {
		t.Errorf("not a PDF: %q", got[:min(len(got), 8)])
	}
}

func TestPDFFolder_BadImage(t *testing.T) {
	err := NewPDFFolder(t.TempDir()).WriteImage(context.Background(), []byte("nope"), "x.png")
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("got %v, want ErrPersistence", err)
	}
}

func TestWebhook_Retry(t *testing.T) {
	var calls atomic.Int32
	var gotName, gotType string
	var gotLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		body, _ := io.ReadAll(r.Body)
		gotLen = len(body)
		gotType = r.Header.Get("Content-Type")
		gotName = r.Header.Get("Content-Disposition")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := wh.WriteImage(context.Background(), []byte("png-bytes"), "iPhone 12 - x.png"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if gotLen != len("png-bytes") || gotType != "image/png" {
		t.Errorf("len=%d type=%q", gotLen, gotType)
	}
	if !strings.Contains(gotName, `filename="iPhone 12 - x.png"`) {
		t.Errorf("disposition = %q", gotName)
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	err := wh.WriteImage(context.Background(), []byte("x"), "x.png")
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("got %v, want ErrPersistence", err)
	}
}

func TestRouter_FanOutFirstError(t *testing.T) {
	var got []string
	ok := NewCallback(func(_ context.Context, _ []byte, name string) error {
		got = append(got, name)
		return nil
	})
	bad := NewCallback(func(context.Context, []byte, string) error { return errors.New("disk full") })

	r := NewRouter(nil, bad, ok)
	err := r.WriteImage(context.Background(), []byte("x"), "n.png")
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("got %v, want ErrPersistence", err)
	}
	if len(got) != 1 || got[0] != "n.png" {
		t.Errorf("healthy writer skipped: %v", got)
	}
}

func TestRouter_Empty(t *testing.T) {
	if err := NewRouter(nil).WriteImage(context.Background(), nil, "n.png"); !errors.Is(err, ErrPersistence) {
		t.Errorf("got %v, want ErrPersistence", err)
	}
}

func TestNotifyFunc(t *testing.T) {
	var notes []Notice
	n := NotifyFunc(func(_ context.Context, no Notice) { notes = append(notes, no) })
	n.Info(context.Background(), "saved")
	n.Alert(context.Background(), "failed", errors.New("boom"))

	if len(notes) != 2 || notes[0].Alert || !notes[1].Alert || notes[1].Err == nil {
		t.Errorf("got %+v", notes)
	}
}
