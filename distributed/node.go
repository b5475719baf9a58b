// Package distributed implements the Distributed Repository (DR): the
// fetch-and-integrate protocol and the small set of operations that move
// the reserved branches (finalized, work, fp, and the a-/b-/p- candidate
// families) forward as agendas are proposed, approved, and finalized.
package distributed

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/crypto"
	"github.com/tolelom/repochain/events"
	"github.com/tolelom/repochain/ledger"
	"github.com/tolelom/repochain/peerset"
	"github.com/tolelom/repochain/rawrepo"
	"github.com/tolelom/repochain/rawrepo/async"
	"github.com/tolelom/repochain/wallet"
)

// Reserved branch names, per spec.md's Design Notes.
const (
	BranchFinalized = "finalized"
	BranchWork      = "work"
	BranchFP        = "fp"

	PrefixAgenda     = "a-"
	PrefixBlock      = "b-"
	PrefixPreCommit  = "p-"
)

// MaxAgendaAncestors bounds how far work may run ahead of finalized
// before CreateAgenda refuses to build an agenda (spec.md's resolved
// Open Question: a hard error, never silent truncation).
const MaxAgendaAncestors = 256

// Node owns one repository handle (through the concurrency wrapper),
// the peer set it fetches from, and the signing identity it uses to
// author agendas, blocks, and proofs on this node's behalf.
type Node struct {
	repo    *async.Wrapper
	peers   *peerset.Set
	wallet  *wallet.Wallet
	emitter *events.Emitter

	mu         sync.Mutex
	state      chainstate.ReservedState
	lastHeader *chainstate.BlockHeader

	stageMu sync.Mutex
	staged  []*ledger.Transaction
}

// New wires a Node around repo, the node's peer set, and its signing
// wallet. emitter may be nil, in which case notifications are dropped.
func New(repo *rawrepo.Repository, peers *peerset.Set, w *wallet.Wallet, emitter *events.Emitter) *Node {
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	return &Node{repo: async.New(repo), peers: peers, wallet: w, emitter: emitter}
}

func (n *Node) emit(ev events.Event) {
	n.emitter.Emit(ev)
}

var branchIndexPattern = regexp.MustCompile(`^(.+-)(\d+)$`)

// nextBranchIndex scans branches for the given prefix and returns
// 1 + the highest existing suffix, or 1 if none exist.
func nextBranchIndex(repo *rawrepo.Repository, prefix string) (int, error) {
	branches, err := repo.ListBranches()
	if err != nil {
		return 0, err
	}
	max := 0
	for _, b := range branches {
		m := branchIndexPattern.FindStringSubmatch(b)
		if m == nil || m[1] != prefix {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(m[2], "%d", &n); err == nil && n > max {
			max = n
		}
	}
	return max + 1, nil
}

// ancestorsUpTo returns the commits strictly between stopAt (exclusive)
// and tip (inclusive), ordered oldest-first, ready for sequential CSV
// application. It errors if tip is not a linear descendant of stopAt.
func ancestorsUpTo(repo *rawrepo.Repository, tip, stopAt rawrepo.Hash) ([]rawrepo.Hash, error) {
	var chain []rawrepo.Hash
	cur := tip
	one := 1
	for cur != stopAt {
		chain = append(chain, cur)
		parents, err := repo.ListAncestors(cur, &one)
		if err != nil {
			return nil, err
		}
		if len(parents) == 0 {
			return nil, fmt.Errorf("distributed: %s is not a descendant of %s", tip, stopAt)
		}
		cur = parents[0]
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// readFinalizationProof reads the body of fp's tip commit as a
// chainstate.FinalizationProof. Unlike the six SCC event kinds, a
// FinalizationProof is not part of the verified commit sequence — it is
// side data the verifier consults, never a commit CSV itself applies.
func readFinalizationProof(repo *rawrepo.Repository, fpTip rawrepo.Hash) (chainstate.FinalizationProof, error) {
	sc, err := repo.ReadSemanticCommit(fpTip)
	if err != nil {
		return chainstate.FinalizationProof{}, err
	}
	var proof chainstate.FinalizationProof
	if err := json.Unmarshal(sc.Body, &proof); err != nil {
		return chainstate.FinalizationProof{}, fmt.Errorf("distributed: decode finalization proof: %w", err)
	}
	return proof, nil
}

// writeFinalizationProof commits proof as the new tip of fp, after a
// clean checkout of fp. The proof is embedded in the commit message body
// directly (not through package semantic — a FinalizationProof is not
// one of the six SCC event kinds).
func writeFinalizationProof(repo *rawrepo.Repository, proof chainstate.FinalizationProof) (rawrepo.Hash, error) {
	body, err := json.Marshal(proof)
	if err != nil {
		return rawrepo.ZeroHash, fmt.Errorf("distributed: encode finalization proof: %w", err)
	}
	if err := repo.Checkout(BranchFP); err != nil {
		return rawrepo.ZeroHash, err
	}
	msg := fmt.Sprintf("FP: height %d\n\n%s", proof.Height, body)
	return repo.CreateCommit(msg, nil)
}

func now() int64 { return time.Now().Unix() }

// signDigest signs digest with n's wallet key and returns the resulting
// chainstate.Signature.
func signDigest(n *Node, digest string) chainstate.Signature {
	sig := crypto.Sign(n.wallet.PrivKey(), []byte(digest))
	return chainstate.Signature{ValidatorPubKeyHex: n.wallet.PubKey(), SigHex: sig}
}

func sortedBranches(branches []string) []string {
	out := append([]string(nil), branches...)
	sort.Strings(out)
	return out
}
