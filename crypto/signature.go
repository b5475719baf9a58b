package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrSignatureInvalid is returned by Verify when the signature does not
// match data under pub, as distinct from a malformed sigHex (which
// returns a wrapped hex-decode error instead).
var ErrSignatureInvalid = errors.New("crypto: signature verification failed")

// Sign signs data with priv and returns a hex-encoded ed25519 signature.
// Callers in this repo sign a transaction's hash or a proof digest (a
// commit hash or an agenda hash), never raw unstructured bytes.
func Sign(priv PrivateKey, data []byte) string {
	sig := ed25519.Sign(ed25519.PrivateKey(priv), data)
	return hex.EncodeToString(sig)
}

// Verify checks a hex-encoded signature against data under pub. It is
// the primitive chainstate.VerifiedWeight and ledger transaction
// validation both build their quorum and authorship checks on.
func Verify(pub PublicKey, data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("crypto: invalid signature hex: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
