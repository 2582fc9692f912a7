package browser

import "testing"

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "xhr": true}
	cases := []struct {
		typ  string
		want bool
	}{
		{"Image", true},
		{"Font", true},
		{"Stylesheet", false},
		{"Media", false},
		{"XHR", true},
		{"Document", false},
	}
	for _, c := range cases {
		if got := shouldBlock(set, c.typ); got != c.want {
			t.Errorf("shouldBlock(%q) = %v, want %v", c.typ, got, c.want)
		}
	}
}

func TestDevtoolsURL(t *testing.T) {
	got, err := devtoolsURL("ws://127.0.0.1:9222/devtools/browser/abc", "PAGE1")
	if err != nil {
		t.Fatal(err)
	}
	want := "http://127.0.0.1:9222/devtools/inspector.html?ws=127.0.0.1:9222/devtools/page/PAGE1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got, err = devtoolsURL("wss://chrome.internal:443/devtools/browser/x", "P")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://chrome.internal:443/devtools/inspector.html?ws=chrome.internal:443/devtools/page/P" {
		t.Errorf("got %q", got)
	}

	if _, err := devtoolsURL("", "P"); err == nil {
		t.Error("expected error for empty control url")
	}
}

func TestConfigDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.XvfbDisplay != ":99" || m.cfg.NavigateTimeout == 0 || m.cfg.Logger == nil {
		t.Errorf("defaults not applied: %+v", m.cfg)
	}
	if m.Browser() != nil {
		t.Error("browser before Start")
	}
	if err := m.Close(); err != nil {
		t.Errorf("close unstarted: %v", err)
	}
}
