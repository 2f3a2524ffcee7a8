// Package idgen provides pluggable ID generation for sketchbridge.
//
// Constructors that mint identifiers (correlation registry, export records,
// scene rows) accept a Generator, so tests can pin ids and production code
// keeps the UUIDv7 default.
package idgen

import (
	"crypto/rand"
	"sync"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
func NanoID(length int) Generator {
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

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed prefix to every ID ("cor_", "exp_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Fixed returns a Generator that yields ids in order and then falls back to
// next. Handy for replaying a recorded exchange with known correlation ids.
// It is safe for concurrent use.
func Fixed(next Generator, ids ...string) Generator {
	var mu sync.Mutex
	queue := append([]string(nil), ids...)
	return func() string {
		mu.Lock()
		if len(queue) == 0 {
			mu.Unlock()
			return next()
		}
		id := queue[0]
		queue = queue[1:]
		mu.Unlock()
		return id
	}
}

// Default is UUIDv7: time-sortable and globally unique.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
