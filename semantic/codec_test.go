package semantic_test

import (
	"testing"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/ledger"
	"github.com/tolelom/repochain/rawrepo"
	"github.com/tolelom/repochain/semantic"
)

func TestEncodeDecodeGenesisRoundTrip(t *testing.T) {
	ev := semantic.Event{
		Kind: semantic.KindGenesis,
		Genesis: &semantic.Genesis{
			ReservedState: chainstate.ReservedState{
				Validators: []chainstate.Validator{{PubKeyHex: "ab", Weight: 1}},
				Quorum:     1,
			},
			Timestamp: 1000,
		},
	}
	sc, err := semantic.Encode(ev)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if sc.Title != "genesis" {
		t.Errorf("title = %q, want genesis", sc.Title)
	}
	if sc.ReservedState == nil {
		t.Fatal("genesis commit must carry a reserved-state snapshot")
	}

	decoded, err := semantic.Decode(rawrepo.ZeroHash, sc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != semantic.KindGenesis {
		t.Fatalf("Kind = %q, want genesis", decoded.Kind)
	}
	if got, want := decoded.Genesis.ReservedState.Quorum, 1; got != want {
		t.Errorf("quorum = %d, want %d", got, want)
	}
	if len(decoded.Genesis.ReservedState.Validators) != 1 {
		t.Fatalf("validators = %v, want 1 entry", decoded.Genesis.ReservedState.Validators)
	}
}

func TestEncodeRejectsMultiplePayloads(t *testing.T) {
	ev := semantic.Event{
		Kind:        semantic.KindTransaction,
		Transaction: &semantic.Transaction{},
		Agenda:      &semantic.Agenda{},
	}
	if _, err := semantic.Encode(ev); err == nil {
		t.Fatal("expected Encode to reject an event with two payloads set")
	}
}

func TestEncodeRejectsKindPayloadMismatch(t *testing.T) {
	ev := semantic.Event{
		Kind:        semantic.KindAgenda,
		Transaction: &semantic.Transaction{},
	}
	if _, err := semantic.Encode(ev); err == nil {
		t.Fatal("expected Encode to reject a kind/payload mismatch")
	}
}

func TestDecodeRejectsMalformedBody(t *testing.T) {
	sc := rawrepo.SemanticCommit{Title: "tx", Body: []byte("not json")}
	if _, err := semantic.Decode(rawrepo.ZeroHash, sc); err == nil {
		t.Fatal("expected Decode to reject malformed JSON")
	}
}

func TestTransactionEventRoundTrip(t *testing.T) {
	tx := ledger.Transaction{ID: "deadbeef", Type: ledger.TxTransfer, From: "ab", Nonce: 1}
	ev := semantic.Event{Kind: semantic.KindTransaction, Transaction: &semantic.Transaction{Tx: tx}}
	sc, err := semantic.Encode(ev)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if sc.ReservedState != nil {
		t.Error("a plain transaction commit must not carry a reserved-state snapshot")
	}
	decoded, err := semantic.Decode(rawrepo.ZeroHash, sc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Transaction.Tx.ID != tx.ID {
		t.Errorf("tx id = %q, want %q", decoded.Transaction.Tx.ID, tx.ID)
	}
}

func TestDecodeRejectsReservedStateOnNonMutatingKind(t *testing.T) {
	tx := ledger.Transaction{ID: "deadbeef", Type: ledger.TxTransfer, From: "ab", Nonce: 1}
	ev := semantic.Event{Kind: semantic.KindTransaction, Transaction: &semantic.Transaction{Tx: tx}}
	sc, err := semantic.Encode(ev)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sc.ReservedState = []byte(`{"quorum":1}`)
	if _, err := semantic.Decode(rawrepo.ZeroHash, sc); err == nil {
		t.Fatal("expected Decode to reject a reserved-state blob attached to a transaction commit")
	}
}

func TestBlockEventCarriesOptionalReservedState(t *testing.T) {
	state := chainstate.ReservedState{Quorum: 2}
	ev := semantic.Event{
		Kind: semantic.KindBlock,
		Block: &semantic.Block{
			Header:        chainstate.BlockHeader{Height: 1},
			ReservedState: &state,
		},
	}
	sc, err := semantic.Encode(ev)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if sc.ReservedState == nil {
		t.Fatal("a block carrying a reserved-state update must snapshot it")
	}
	decoded, err := semantic.Decode(rawrepo.ZeroHash, sc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Block.ReservedState == nil || decoded.Block.ReservedState.Quorum != 2 {
		t.Fatalf("reserved state did not round-trip: %+v", decoded.Block.ReservedState)
	}
}
