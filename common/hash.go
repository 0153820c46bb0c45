// Package common holds small helpers shared by every blocksim package:
// canonical JSON serialization and SHA-256 hex hashing, as specified by
// the wire protocol (spec §6).
package common

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// ZeroHash is the previous_hash of the genesis block: 64 hex zero
// characters, one per nibble of a SHA-256 digest.
var ZeroHash = strings.Repeat("0", 64)

// Sha256Hex returns the lowercase hex SHA-256 digest of b.
func Sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON marshals v using Go's default map/struct key ordering,
// which for the ordered structs in this codebase (ledger's txCanonical
// and blockHeaderCanonical) is the declaration order, and with compact
// separators — matching spec §6's canonical serialization requirement.
func CanonicalJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every canonical payload in this codebase is built from plain
		// structs of strings/numbers; Marshal cannot fail on them.
		panic(err)
	}
	return b
}
