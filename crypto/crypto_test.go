package crypto_test

import (
	"testing"

	"github.com/tolelom/repochain/crypto"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sig := crypto.Sign(priv, []byte("hello"))
	if err := crypto.Verify(pub, []byte("hello"), sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := crypto.Verify(pub, []byte("goodbye"), sig); err == nil {
		t.Fatal("Verify must reject a signature over a different payload")
	}
}

func TestVerifyRejectsMalformedHex(t *testing.T) {
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if err := crypto.Verify(pub, []byte("hello"), "not-hex!!"); err == nil {
		t.Fatal("Verify must reject a non-hex signature")
	}
}

func TestPubKeyHexRoundTrip(t *testing.T) {
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	got, err := crypto.PubKeyFromHex(pub.Hex())
	if err != nil {
		t.Fatalf("PubKeyFromHex: %v", err)
	}
	if got.Hex() != pub.Hex() {
		t.Fatalf("round trip = %q, want %q", got.Hex(), pub.Hex())
	}
}

func TestPubKeyFromHexRejectsWrongLength(t *testing.T) {
	if _, err := crypto.PubKeyFromHex("ab"); err == nil {
		t.Fatal("expected PubKeyFromHex to reject a too-short key")
	}
}

func TestPublicDerivesFromPrivate(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if priv.Public().Hex() != pub.Hex() {
		t.Fatal("PrivateKey.Public() did not derive the matching public key")
	}
}

func TestHashIsDeterministic(t *testing.T) {
	if crypto.Hash([]byte("a")) != crypto.Hash([]byte("a")) {
		t.Fatal("Hash must be deterministic")
	}
	if crypto.Hash([]byte("a")) == crypto.Hash([]byte("b")) {
		t.Fatal("different inputs must hash differently")
	}
}

func TestDigestFieldsIsOrderSensitive(t *testing.T) {
	if crypto.DigestFields("a", "b") != crypto.DigestFields("a", "b") {
		t.Fatal("DigestFields must be deterministic")
	}
	if crypto.DigestFields("a", "b") == crypto.DigestFields("b", "a") {
		t.Fatal("DigestFields must be sensitive to field order")
	}
}

func TestDigestFieldsDistinguishesFieldBoundaries(t *testing.T) {
	// "ab" joined as a single field must not collide with "a","b" joined
	// as two fields.
	if crypto.DigestFields("ab") == crypto.DigestFields("a", "b") {
		t.Fatal("DigestFields must not collide across a field boundary")
	}
}
