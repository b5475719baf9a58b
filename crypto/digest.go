package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string. It is
// the digest behind transaction IDs (ledger.Transaction.Hash). Commit
// hashes, and so block hashes, are git's own SHA-1 object ids and do not
// go through this function.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw SHA-256 bytes of data.
func HashBytes(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// DigestFields hashes an ordered, pipe-joined sequence of fields into a
// single hex digest. It exists so deterministic-digest computations in
// the repo — agenda digests, anything keyed on "this exact tuple of
// values, in this exact order" — go through one
// collision-consistent separator convention instead of each call site
// re-deriving its own fmt.Sprintf format string.
//
// A field must never itself contain the pipe separator unprotected,
// since "a|b" joined with "c" collides with "a" joined with "b|c"; every
// current caller passes hex strings, decimal integers, or public keys,
// none of which can contain "|".
func DigestFields(fields ...string) string {
	h := sha256.New()
	for i, f := range fields {
		if i > 0 {
			h.Write(pipeSeparator)
		}
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

var pipeSeparator = []byte("|")
