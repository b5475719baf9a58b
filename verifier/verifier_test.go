package verifier_test

import (
	"testing"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/crypto"
	"github.com/tolelom/repochain/semantic"
	"github.com/tolelom/repochain/verifier"
)

func signDigest(t *testing.T, priv crypto.PrivateKey, pub crypto.PublicKey, digest string) chainstate.Signature {
	t.Helper()
	return chainstate.Signature{
		ValidatorPubKeyHex: pub.Hex(),
		SigHex:             crypto.Sign(priv, []byte(digest)),
	}
}

func TestFullSequenceHappyPath(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	state := chainstate.ReservedState{
		Validators: []chainstate.Validator{{PubKeyHex: pub.Hex(), Weight: 1}},
		Quorum:     1,
	}

	m := verifier.New()
	if err := m.ApplyCommit(semantic.Event{Kind: semantic.KindGenesis, Genesis: &semantic.Genesis{ReservedState: state}}); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	if m.Phase() != verifier.PhaseTransactions {
		t.Fatalf("phase after genesis = %q, want transactions", m.Phase())
	}

	if err := m.ApplyCommit(semantic.Event{Kind: semantic.KindTransaction, Transaction: &semantic.Transaction{}}); err != nil {
		t.Fatalf("apply transaction: %v", err)
	}

	agenda := &semantic.Agenda{Height: 1, Hash: "agenda-hash", TxHashes: []string{"tx1"}}
	if err := m.ApplyCommit(semantic.Event{Kind: semantic.KindAgenda, Agenda: agenda}); err != nil {
		t.Fatalf("apply agenda: %v", err)
	}
	if m.Phase() != verifier.PhaseAgendaOpen {
		t.Fatalf("phase after agenda = %q, want agenda_open", m.Phase())
	}

	proof := &semantic.AgendaProof{
		AgendaHash: agenda.Hash,
		Proof:      chainstate.MultiSig{Digest: agenda.Hash, Signatures: []chainstate.Signature{signDigest(t, priv, pub, agenda.Hash)}},
	}
	if err := m.ApplyCommit(semantic.Event{Kind: semantic.KindAgendaProof, AgendaProof: proof}); err != nil {
		t.Fatalf("apply agenda proof: %v", err)
	}
	if m.Phase() != verifier.PhaseAgendaApproved {
		t.Fatalf("phase after agenda proof = %q, want agenda_approved", m.Phase())
	}

	block := &semantic.Block{Header: chainstate.BlockHeader{Height: 1, AgendaHash: agenda.Hash}}
	if err := m.ApplyCommit(semantic.Event{Kind: semantic.KindBlock, Block: block}); err != nil {
		t.Fatalf("apply block: %v", err)
	}
	if m.Phase() != verifier.PhaseTransactions {
		t.Fatalf("phase after block = %q, want transactions (ready for next cycle)", m.Phase())
	}
	if m.LastBlock() == nil || m.LastBlock().Height != 1 {
		t.Fatalf("LastBlock = %+v, want height 1", m.LastBlock())
	}
}

func TestAgendaBeforeGenesisIsPhaseViolation(t *testing.T) {
	m := verifier.New()
	err := m.ApplyCommit(semantic.Event{Kind: semantic.KindAgenda, Agenda: &semantic.Agenda{}})
	if _, ok := err.(*verifier.ErrPhaseViolation); !ok {
		t.Fatalf("expected *ErrPhaseViolation, got %v (%T)", err, err)
	}
}

func TestAgendaProofUnderQuorumIsRejected(t *testing.T) {
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	state := chainstate.ReservedState{
		Validators: []chainstate.Validator{{PubKeyHex: pub.Hex(), Weight: 1}},
		Quorum:     2,
	}
	m := verifier.New()
	mustApply(t, m, semantic.Event{Kind: semantic.KindGenesis, Genesis: &semantic.Genesis{ReservedState: state}})
	agenda := &semantic.Agenda{Hash: "h"}
	mustApply(t, m, semantic.Event{Kind: semantic.KindAgenda, Agenda: agenda})

	proof := &semantic.AgendaProof{AgendaHash: "h", Proof: chainstate.MultiSig{Digest: "h"}}
	err = m.ApplyCommit(semantic.Event{Kind: semantic.KindAgendaProof, AgendaProof: proof})
	if _, ok := err.(*verifier.ErrQuorumNotMet); !ok {
		t.Fatalf("expected *ErrQuorumNotMet, got %v (%T)", err, err)
	}
}

func TestBlockReferencingWrongAgendaIsRejected(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	state := chainstate.ReservedState{Validators: []chainstate.Validator{{PubKeyHex: pub.Hex(), Weight: 1}}, Quorum: 1}
	m := verifier.New()
	mustApply(t, m, semantic.Event{Kind: semantic.KindGenesis, Genesis: &semantic.Genesis{ReservedState: state}})
	agenda := &semantic.Agenda{Hash: "real-agenda"}
	mustApply(t, m, semantic.Event{Kind: semantic.KindAgenda, Agenda: agenda})
	mustApply(t, m, semantic.Event{Kind: semantic.KindAgendaProof, AgendaProof: &semantic.AgendaProof{
		AgendaHash: agenda.Hash,
		Proof:      chainstate.MultiSig{Digest: agenda.Hash, Signatures: []chainstate.Signature{signDigest(t, priv, pub, agenda.Hash)}},
	}})

	err = m.ApplyCommit(semantic.Event{Kind: semantic.KindBlock, Block: &semantic.Block{Header: chainstate.BlockHeader{AgendaHash: "different-agenda"}}})
	if _, ok := err.(*verifier.ErrFinalizationProofInvalid); !ok {
		t.Fatalf("expected *ErrFinalizationProofInvalid, got %v (%T)", err, err)
	}
}

func TestVerifyFinalizationProofStandalone(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	state := chainstate.ReservedState{Validators: []chainstate.Validator{{PubKeyHex: pub.Hex(), Weight: 2}}, Quorum: 2}
	fp := chainstate.FinalizationProof{
		Height:    1,
		Proof:     chainstate.MultiSig{Digest: "block-digest", Signatures: []chainstate.Signature{signDigest(t, priv, pub, "block-digest")}},
	}
	if err := verifier.VerifyFinalizationProof(fp, state); err != nil {
		t.Fatalf("VerifyFinalizationProof: %v", err)
	}

	tampered := fp
	tampered.Proof.Digest = "tampered-digest"
	if err := verifier.VerifyFinalizationProof(tampered, state); err == nil {
		t.Fatal("expected VerifyFinalizationProof to reject a tampered digest")
	}
}

func TestResumeStartsInTransactionsPhase(t *testing.T) {
	header := chainstate.BlockHeader{Height: 5}
	state := chainstate.ReservedState{Quorum: 1}
	m := verifier.Resume(header, state)
	if m.Phase() != verifier.PhaseTransactions {
		t.Fatalf("Resume phase = %q, want transactions", m.Phase())
	}
	if m.LastBlock() == nil || m.LastBlock().Height != 5 {
		t.Fatalf("Resume LastBlock = %+v, want height 5", m.LastBlock())
	}
}

func mustApply(t *testing.T, m *verifier.Machine, ev semantic.Event) {
	t.Helper()
	if err := m.ApplyCommit(ev); err != nil {
		t.Fatalf("ApplyCommit(%s): %v", ev.Kind, err)
	}
}
