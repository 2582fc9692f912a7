package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("url: https://example.com\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.URL != "https://example.com" {
		t.Errorf("url = %q", cfg.URL)
	}
	if len(cfg.Devices) != len(DefaultDevices()) {
		t.Errorf("devices = %d", len(cfg.Devices))
	}
	if cfg.Browser.Mode != "headless" || cfg.Browser.NavigateTimeout != 30*time.Second {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if cfg.Bus.Kind != "memory" || cfg.ScrollStep != 400 || cfg.Mirror.Queue != 64 {
		t.Errorf("bus=%q step=%v queue=%d", cfg.Bus.Kind, cfg.ScrollStep, cfg.Mirror.Queue)
	}
	if len(cfg.Screenshots.Formats) != 1 || cfg.Screenshots.Formats[0] != "png" {
		t.Errorf("formats = %v", cfg.Screenshots.Formats)
	}
}

func TestLoadFile_Full(t *testing.T) {
	yml := `
url: http://localhost:3000
scroll_step: 250
browser:
  mode: headful
  stealth: true
  settle_delay: 150ms
  resource_blocking: [fonts, media]
devices:
  - name: Galaxy S20
    width: 360
    height: 800
    mobile: true
    useragent: "Mozilla/5.0 (Linux; Android 10)"
  - id: desk
    name: Desktop
    width: 1920
    height: 1080
bus:
  kind: nats
  url: nats://127.0.0.1:4222
  prefix: devmirror
screenshots:
  folder: /tmp/shots
  formats: [png, pdf]
journal:
  path: /tmp/devmirror.db
http:
  addr: 127.0.0.1:8390
`
	path := filepath.Join(t.TempDir(), "devmirror.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ScrollStep != 250 || cfg.Browser.Mode != "headful" || !cfg.Browser.Stealth {
		t.Errorf("got %+v", cfg)
	}
	if cfg.Browser.SettleDelay != 150*time.Millisecond {
		t.Errorf("settle_delay = %v", cfg.Browser.SettleDelay)
	}
	if cfg.Devices[0].ID != "galaxy-s20" || cfg.Devices[0].UserAgent == "" || !cfg.Devices[0].Mobile {
		t.Errorf("device[0] = %+v", cfg.Devices[0])
	}
	if cfg.Devices[1].ID != "desk" {
		t.Errorf("device[1] = %+v", cfg.Devices[1])
	}
	if cfg.Bus.Kind != "nats" || cfg.Bus.Prefix != "devmirror" {
		t.Errorf("bus = %+v", cfg.Bus)
	}
	if cfg.Journal.Path != "/tmp/devmirror.db" || cfg.HTTP.Addr != "127.0.0.1:8390" {
		t.Errorf("journal=%q http=%q", cfg.Journal.Path, cfg.HTTP.Addr)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"duplicate": "devices:\n  - {id: a, width: 1, height: 1}\n  - {id: a, width: 2, height: 2}\n",
		"size":      "devices:\n  - {id: a, width: 0, height: 1}\n",
		"mode":      "browser: {mode: kiosk}\n",
		"format":    "screenshots: {formats: [gif]}\n",
		"auth":      "http: {user: admin}\n",
		"yaml":      "devices: [\n",
		"hookproto": "screenshots: {webhook: ftp://203.0.113.7/in}\n",
		"hookpriv":  "screenshots: {webhook: http://127.0.0.1:9000/in}\n",
	}
	for name, yml := range cases {
		if _, err := Parse([]byte(yml)); err == nil {
			t.Errorf("%s: expected error", name)
		} else if !strings.HasPrefix(err.Error(), "config:") && !strings.HasPrefix(err.Error(), "interaction:") {
			t.Errorf("%s: unprefixed error %q", name, err)
		}
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error")
	}
}

func TestParse_WebhookAllowPrivate(t *testing.T) {
	cfg, err := Parse([]byte("screenshots: {webhook: http://127.0.0.1:9000/in, webhook_allow_private: true}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Screenshots.Webhook != "http://127.0.0.1:9000/in" || cfg.Screenshots.WebhookRetries != 3 {
		t.Errorf("screenshots = %+v", cfg.Screenshots)
	}
}
