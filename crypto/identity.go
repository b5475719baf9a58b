package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PrivateKey wraps ed25519 private key bytes. It is the signing half of
// a validator or wallet identity.
type PrivateKey []byte

// PublicKey wraps ed25519 public key bytes. chainstate.Validator and
// chainstate.Signature both reference identities by this type's Hex
// encoding — PubKeyHex and ValidatorPubKeyHex are never anything but
// PublicKey.Hex() output.
type PublicKey []byte

// GenerateKeyPair generates a new ed25519 identity.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: generate key pair: %w", err)
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

// Address derives a short identity tag from the public key: the first
// 20 bytes of SHA-256(pubkey), hex-encoded. It is a display convenience
// only — every on-chain reference to an identity (validator set
// membership, signature attribution) uses the full Hex public key, not
// Address.
func (pub PublicKey) Address() string {
	return hex.EncodeToString(HashBytes(pub)[:20])
}

// Hex returns the full hex-encoded public key — the form stored in
// chainstate.Validator.PubKeyHex and chainstate.Signature.ValidatorPubKeyHex.
func (pub PublicKey) Hex() string {
	return hex.EncodeToString(pub)
}

// Hex returns the hex-encoded private key.
func (priv PrivateKey) Hex() string {
	return hex.EncodeToString(priv)
}

// Public derives the public half of priv.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// PubKeyFromHex decodes a hex-encoded public key, as read back out of a
// chainstate.Validator entry or a chainstate.Signature.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid pubkey hex: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("crypto: pubkey must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return PublicKey(b), nil
}

// PrivKeyFromHex decodes a hex-encoded private key.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid privkey hex: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: privkey must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	return PrivateKey(b), nil
}
