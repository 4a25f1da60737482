package tamper

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// HashCanonical hashes a canonical string with Keccak-256 and returns the
// 0x-prefixed hex digest, matching what downstream ledger tooling expects.
func HashCanonical(canonical string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(canonical))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
