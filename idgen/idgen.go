// Package idgen generates the identifiers devmirror hands out: device ids
// derived from display names and time-sortable capture ids.
package idgen

import (
	"crypto/rand"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// Short returns a Generator of base-36 ids of the given length.
func Short(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings. Time-sortable,
// so capture history orders by id.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed prefix to every id of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is used for capture ids.
var Default Generator = UUIDv7()

// New produces an id using Default.
func New() string {
	return Default()
}

// Slug derives a device id from a display name: "iPhone 12 Pro" becomes
// "iphone-12-pro". A name with no letters or digits gets a random id.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return "device-" + Short(6)()
	}
	return b.String()
}
