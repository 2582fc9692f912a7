package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestShort_LengthAndAlphabet(t *testing.T) {
	for _, length := range []int{6, 12, 40} {
		id := Short(length)()
		if len(id) != length {
			t.Fatalf("Short(%d): got length %d", length, len(id))
		}
		for _, c := range id {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
				t.Fatalf("Short: unexpected character %q in %q", c, id)
			}
		}
	}
}

func TestUUIDv7_VersionAndOrder(t *testing.T) {
	gen := UUIDv7()
	prev := ""
	for i := 0; i < 50; i++ {
		id := gen()
		u, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("invalid uuid %q: %v", id, err)
		}
		if u.Version() != 7 {
			t.Fatalf("version = %d, want 7", u.Version())
		}
		if prev != "" && id < prev {
			t.Fatalf("ids not time-sortable: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("cap_", Short(8))()
	if !strings.HasPrefix(id, "cap_") || len(id) != 12 {
		t.Fatalf("got %q", id)
	}
}

func TestDefault(t *testing.T) {
	if _, err := uuid.Parse(New()); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"iPhone 12":           "iphone-12",
		"  Galaxy S20 Ultra ": "galaxy-s20-ultra",
		"iPad (Pro) 12.9\"":   "ipad-pro-12-9",
		"Pixel_7":             "pixel-7",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
	if got := Slug("***"); !strings.HasPrefix(got, "device-") {
		t.Errorf("Slug(***) = %q", got)
	}
}
