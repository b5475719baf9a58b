package rawrepo

import (
	"encoding/hex"
	"encoding/json"

	"github.com/go-git/go-git/v5/plumbing"
)

// Hash is the spec's opaque 20-byte commit identifier. It is realized as
// go-git's SHA-1 object id, which is exactly 20 bytes and totally
// ordered lexicographically over its byte representation — matching the
// data model's CommitHash contract without inventing a new encoding.
type Hash plumbing.Hash

// ZeroHash is the hash with all bytes zero, used as a sentinel for "no
// commit yet" in places that cannot use a nil *Hash.
var ZeroHash Hash

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	return plumbing.Hash(h).String()
}

// IsZero reports whether h is the zero value.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Less reports whether h sorts before other under byte-wise lexicographic
// order, the total order required by the data model.
func (h Hash) Less(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// ParseHash decodes a 40-character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 20 {
		return ZeroHash, &IntegrityError{Msg: "malformed commit hash: " + s}
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func toPlumbing(h Hash) plumbing.Hash { return plumbing.Hash(h) }
func fromPlumbing(h plumbing.Hash) Hash { return Hash(h) }

// MarshalJSON encodes the hash as a hex string so it composes cleanly
// inside the JSON event bodies the codec produces.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = ZeroHash
		return nil
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
