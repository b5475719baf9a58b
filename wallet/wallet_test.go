package wallet_test

import (
	"path/filepath"
	"testing"

	"github.com/tolelom/repochain/ledger"
	"github.com/tolelom/repochain/wallet"
)

func TestGenerateProducesUsableIdentity(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if w.PubKey() == "" || w.Address() == "" {
		t.Fatal("Generate must produce a non-empty pubkey and address")
	}
}

func TestNewDerivesMatchingPubKey(t *testing.T) {
	w1, err := wallet.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	w2 := wallet.New(w1.PrivKey())
	if w1.PubKey() != w2.PubKey() {
		t.Fatal("New(priv) must derive the same pubkey as the original wallet")
	}
}

func TestTransferProducesVerifiableSignedTx(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tx, err := w.Transfer("cafe", 10, 0, 1)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if tx.From != w.PubKey() {
		t.Fatalf("From = %q, want %q", tx.From, w.PubKey())
	}
	if tx.Type != ledger.TxTransfer {
		t.Fatalf("Type = %q, want transfer", tx.Type)
	}
	if err := tx.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestNewTxSignsWithDistinctNonces(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	a, err := w.Transfer("cafe", 1, 0, 1)
	if err != nil {
		t.Fatalf("Transfer(0): %v", err)
	}
	b, err := w.Transfer("cafe", 1, 1, 1)
	if err != nil {
		t.Fatalf("Transfer(1): %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("transactions differing only by nonce must not collide")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := wallet.SaveKey(path, "correct horse battery staple", w.PrivKey()); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	priv, err := wallet.LoadKey(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if priv.Public().Hex() != w.PubKey() {
		t.Fatal("LoadKey did not recover the original key pair")
	}
}

func TestKeystoreRejectsWrongPassword(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := wallet.SaveKey(path, "right-password", w.PrivKey()); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if _, err := wallet.LoadKey(path, "wrong-password"); err == nil {
		t.Fatal("LoadKey must reject the wrong password")
	}
}
