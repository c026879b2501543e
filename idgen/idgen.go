// Package idgen generates the opaque row identifiers used across kto's
// store — watches, snapshots, and changes all get one from the same
// generator so the ID strategy is a single swappable function rather
// than scattered ad-hoc calls.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Generator produces unique string identifiers.
type Generator func() string

// Hex128 returns a Generator that produces 128-bit random IDs as 32
// lowercase hex characters. Opaque, collision-resistant, and cheap to
// index — the chosen strategy for kto's high-volume rows (watches,
// snapshots, changes) where a UUID's dashes and version nibble add
// nothing.
func Hex128() Generator {
	return func() string {
		var b [16]byte
		if _, err := rand.Read(b[:]); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		return hex.EncodeToString(b[:])
	}
}
