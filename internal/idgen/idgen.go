// Package idgen generates random identifiers for ledger entries, events,
// subscriptions, and sync requests.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func random(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// New returns a UUID-shaped random id.
func New() string {
	b := random(16)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix returns prefix followed by 24 random hex characters, e.g.
// "sub_3f9a...". The prefix makes ids self-describing in logs.
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(random(12))
}

// Hex returns 2*n random hex characters.
func Hex(n int) string {
	return hex.EncodeToString(random(n))
}
