// Package util holds small helpers shared across packages.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// idBytes gives 96 bits of entropy, enough that identifiers never need a
// uniqueness check against the store.
const idBytes = 12

// NewID returns an opaque random identifier carrying a type prefix, for
// example "doc_6c90f2...". The prefix makes log lines and audit payloads
// readable; nothing parses it back out.
func NewID(prefix string) string {
	buf := make([]byte, idBytes)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
