package distributed_test

import (
	"context"
	"testing"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/crypto"
	"github.com/tolelom/repochain/distributed"
	"github.com/tolelom/repochain/network"
	"github.com/tolelom/repochain/peerset"
	"github.com/tolelom/repochain/rawrepo"
	"github.com/tolelom/repochain/semantic"
	"github.com/tolelom/repochain/wallet"
)

// newTestNode brings up a single-validator repository through Genesis,
// with w as the lone validator holding the whole quorum weight. The
// returned repository is the handle the Node wraps; tests only touch it
// between Node calls, never while one is in flight.
func newTestNode(t *testing.T) (*distributed.Node, *wallet.Wallet, *rawrepo.Repository) {
	t.Helper()
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("wallet.Generate: %v", err)
	}

	repo, err := rawrepo.Init(t.TempDir())
	if err != nil {
		t.Fatalf("rawrepo.Init: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if _, err := repo.CreateCommit("initial", nil); err != nil {
		t.Fatalf("CreateCommit(initial): %v", err)
	}

	ev := semantic.Event{
		Kind: semantic.KindGenesis,
		Genesis: &semantic.Genesis{
			ReservedState: chainstate.ReservedState{
				Validators: []chainstate.Validator{{PubKeyHex: w.PubKey(), Weight: 1}},
				Quorum:     1,
			},
			Timestamp: 1,
		},
	}
	sc, err := semantic.Encode(ev)
	if err != nil {
		t.Fatalf("semantic.Encode(genesis): %v", err)
	}
	if _, err := repo.CreateSemanticCommit(sc); err != nil {
		t.Fatalf("CreateSemanticCommit(genesis): %v", err)
	}

	// peerset.New registers gossip handlers on node, so it must be a real,
	// non-nil *network.Node even though this test never calls Start().
	netNode := network.NewNode("test-node", "127.0.0.1:0", nil)
	peers := peerset.New("test-node", "", netNode)

	n := distributed.New(repo, peers, w, nil)
	if err := n.Genesis(context.Background()); err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	return n, w, repo
}

func TestGenesisBringsUpReservedBranches(t *testing.T) {
	n, _, _ := newTestNode(t)
	report, err := n.Check(context.Background(), 0)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !report.OK() {
		t.Fatalf("Check reported errors: %v", report.Errors)
	}
}

func TestStageAndCommitTransactions(t *testing.T) {
	n, w, _ := newTestNode(t)
	tx, err := w.Transfer("cafe", 10, 0, 1)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if err := n.StageTransaction(tx); err != nil {
		t.Fatalf("StageTransaction: %v", err)
	}
	hashes, err := n.CommitStaged(context.Background())
	if err != nil {
		t.Fatalf("CommitStaged: %v", err)
	}
	if len(hashes) != 1 {
		t.Fatalf("CommitStaged produced %d commits, want 1", len(hashes))
	}
}

func TestCreateAgendaWithoutStagedTransactionsFails(t *testing.T) {
	n, _, _ := newTestNode(t)
	if _, err := n.CreateAgenda(context.Background()); err == nil {
		t.Fatal("expected CreateAgenda to fail when work has no commits beyond finalized")
	}
}

func TestFullAgendaToFinalizeCycle(t *testing.T) {
	ctx := context.Background()
	n, w, repo := newTestNode(t)

	tx, err := w.Transfer("cafe", 10, 0, 1)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if err := n.StageTransaction(tx); err != nil {
		t.Fatalf("StageTransaction: %v", err)
	}
	if _, err := n.CommitStaged(ctx); err != nil {
		t.Fatalf("CommitStaged: %v", err)
	}

	agenda, err := n.CreateAgenda(ctx)
	if err != nil {
		t.Fatalf("CreateAgenda: %v", err)
	}

	// Approve does not itself check quorum, but CSV does when Finalize
	// walks the resulting commit, so the approval carries the lone
	// validator's signature over the agenda hash.
	agendaSC, err := repo.ReadSemanticCommit(agenda)
	if err != nil {
		t.Fatalf("ReadSemanticCommit(agenda): %v", err)
	}
	agendaEv, err := semantic.Decode(agenda, agendaSC)
	if err != nil {
		t.Fatalf("Decode(agenda): %v", err)
	}
	agendaSig := chainstate.Signature{ValidatorPubKeyHex: w.PubKey(), SigHex: crypto.Sign(w.PrivKey(), []byte(agendaEv.Agenda.Hash))}
	proofHash, err := n.Approve(ctx, agenda, []chainstate.Signature{agendaSig})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}

	block, err := n.CreateBlock(ctx, proofHash)
	if err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	digest := "finalize-" + block.String()
	sig := chainstate.Signature{ValidatorPubKeyHex: w.PubKey(), SigHex: crypto.Sign(w.PrivKey(), []byte(digest))}
	proof := chainstate.FinalizationProof{
		Height:    1,
		BlockHash: block,
		Proof:     chainstate.MultiSig{Digest: digest, Signatures: []chainstate.Signature{sig}},
	}
	if err := n.Finalize(ctx, block, proof); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	report, err := n.Check(ctx, 0)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !report.OK() {
		t.Fatalf("Check reported errors after finalize: %v", report.Errors)
	}
}

func TestCleanRemovesStaleCandidateBranches(t *testing.T) {
	n, _, repo := newTestNode(t)
	initial, err := repo.GetInitialCommit()
	if err != nil {
		t.Fatalf("GetInitialCommit: %v", err)
	}
	// a-1 at the initial commit has a merge-base with finalized below
	// finalized's tip, so it is outdated.
	if err := repo.CreateBranch("a-1", initial); err != nil {
		t.Fatalf("CreateBranch(a-1): %v", err)
	}
	if err := n.Clean(context.Background()); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if _, err := repo.LocateBranch("a-1"); err == nil {
		t.Fatal("Clean kept the outdated candidate branch a-1")
	}
	for _, b := range []string{distributed.BranchFinalized, distributed.BranchWork, distributed.BranchFP} {
		if _, err := repo.LocateBranch(b); err != nil {
			t.Fatalf("Clean removed reserved branch %s: %v", b, err)
		}
	}
}
