// Package scene derives comparable versions from scene element sequences so
// the dispatcher can drop snapshots it has already seen.
package scene

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/hazyhaar/sketchbridge/bridge/message"
)

// Version is an opaque scene version. Equal element sequences map to the
// same Version; only equality is meaningful.
type Version string

// Empty is the version of a scene with no elements.
const Empty Version = "v0"

// Compute derives the version of an ordered element sequence from each
// element's (id, version, versionNonce, isDeleted). Engine-specific fields
// are ignored: the engine bumps version/versionNonce on every edit.
func Compute(elements []message.Element) Version {
	if len(elements) == 0 {
		return Empty
	}
	h := sha256.New()
	var num [8]byte
	for _, e := range elements {
		binary.BigEndian.PutUint64(num[:], uint64(len(e.ID)))
		h.Write(num[:])
		h.Write([]byte(e.ID))
		binary.BigEndian.PutUint64(num[:], uint64(e.Version))
		h.Write(num[:])
		binary.BigEndian.PutUint64(num[:], uint64(e.VersionNonce))
		h.Write(num[:])
		if e.IsDeleted {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	return Version(hex.EncodeToString(h.Sum(nil)))
}

// DiffersFrom reports whether elements hash to something other than previous.
func DiffersFrom(previous Version, elements []message.Element) bool {
	return Compute(elements) != previous
}

// Tracker remembers the last observed version. Not safe for concurrent use.
type Tracker struct {
	current Version
	seeded  bool
}

// Seed records the version of the initial snapshot and returns it.
func (t *Tracker) Seed(elements []message.Element) Version {
	t.current = Compute(elements)
	t.seeded = true
	return t.current
}

// Observe records elements' version and reports whether it changed. The
// first observation on an unseeded tracker always counts as a change.
func (t *Tracker) Observe(elements []message.Element) (Version, bool) {
	v := Compute(elements)
	if t.seeded && v == t.current {
		return v, false
	}
	t.current = v
	t.seeded = true
	return v, true
}

// Current returns the last recorded version, if any.
func (t *Tracker) Current() (Version, bool) {
	return t.current, t.seeded
}

// Reset forgets the recorded version.
func (t *Tracker) Reset() {
	t.current = ""
	t.seeded = false
}
