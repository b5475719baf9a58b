package chainstate_test

import (
	"testing"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/crypto"
)

func TestWeightAndTotalWeight(t *testing.T) {
	rs := chainstate.ReservedState{Validators: []chainstate.Validator{
		{PubKeyHex: "a", Weight: 1},
		{PubKeyHex: "b", Weight: 2},
	}}
	if rs.Weight("a") != 1 || rs.Weight("b") != 2 {
		t.Fatalf("Weight lookups wrong: a=%d b=%d", rs.Weight("a"), rs.Weight("b"))
	}
	if rs.Weight("c") != 0 {
		t.Fatalf("Weight of unknown validator = %d, want 0", rs.Weight("c"))
	}
	if rs.TotalWeight() != 3 {
		t.Fatalf("TotalWeight = %d, want 3", rs.TotalWeight())
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	rs := chainstate.ReservedState{Validators: []chainstate.Validator{{PubKeyHex: "a", Weight: 1}}, Quorum: 1}
	cp := rs.Clone()
	cp.Validators[0].Weight = 99
	if rs.Validators[0].Weight != 1 {
		t.Fatal("mutating the clone's validator slice mutated the original")
	}
}

func TestVerifiedWeightIgnoresUnknownSignerAndDuplicates(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	rs := chainstate.ReservedState{Validators: []chainstate.Validator{{PubKeyHex: pub.Hex(), Weight: 5}}, Quorum: 5}
	sig := chainstate.Signature{ValidatorPubKeyHex: pub.Hex(), SigHex: crypto.Sign(priv, []byte("d"))}
	ms := chainstate.MultiSig{Digest: "d", Signatures: []chainstate.Signature{sig, sig, {ValidatorPubKeyHex: "unknown", SigHex: "bad"}}}

	weight, err := ms.VerifiedWeight(rs)
	if err != nil {
		t.Fatalf("VerifiedWeight: %v", err)
	}
	if weight != 5 {
		t.Fatalf("VerifiedWeight = %d, want 5 (duplicate signer and unknown signer must not inflate)", weight)
	}
	ok, err := ms.MeetsQuorum(rs)
	if err != nil {
		t.Fatalf("MeetsQuorum: %v", err)
	}
	if !ok {
		t.Fatal("MeetsQuorum = false, want true")
	}
}

func TestVerifiedWeightRejectsWrongDigestSignature(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	rs := chainstate.ReservedState{Validators: []chainstate.Validator{{PubKeyHex: pub.Hex(), Weight: 1}}, Quorum: 1}
	sig := chainstate.Signature{ValidatorPubKeyHex: pub.Hex(), SigHex: crypto.Sign(priv, []byte("other-digest"))}
	ms := chainstate.MultiSig{Digest: "d", Signatures: []chainstate.Signature{sig}}

	if ok, _ := ms.MeetsQuorum(rs); ok {
		t.Fatal("MeetsQuorum must reject a signature over a different digest")
	}
}

func TestSortedValidatorsDoesNotMutateInput(t *testing.T) {
	vs := []chainstate.Validator{{PubKeyHex: "b"}, {PubKeyHex: "a"}}
	sorted := chainstate.SortedValidators(vs)
	if sorted[0].PubKeyHex != "a" || sorted[1].PubKeyHex != "b" {
		t.Fatalf("SortedValidators = %v, want a before b", sorted)
	}
	if vs[0].PubKeyHex != "b" {
		t.Fatal("SortedValidators mutated its input slice")
	}
}
