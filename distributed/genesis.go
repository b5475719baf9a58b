package distributed

import (
	"context"
	"fmt"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/events"
	"github.com/tolelom/repochain/rawrepo"
	"github.com/tolelom/repochain/rawrepo/async"
	"github.com/tolelom/repochain/semantic"
)

// Genesis bootstraps the reserved branches from a freshly initialized
// repository. Precondition: the repository's current HEAD has exactly
// two commits — an empty "initial" commit and a "genesis" SemanticCommit
// embedding the initial reserved state. Genesis creates finalized at
// that tip, work at the same tip, and fp with a self-authored
// finalization proof over the genesis header.
func (n *Node) Genesis(ctx context.Context) error {
	type result struct {
		header chainstate.BlockHeader
		state  chainstate.ReservedState
	}
	res, err := async.Do(ctx, n.repo, func(repo *rawrepo.Repository) (result, error) {
		tip, err := repo.GetHead()
		if err != nil {
			return result{}, fmt.Errorf("distributed: genesis: %w", err)
		}
		root, err := repo.GetInitialCommit()
		if err != nil {
			return result{}, fmt.Errorf("distributed: genesis: %w", err)
		}
		chain, err := ancestorsUpTo(repo, tip, root)
		if err != nil {
			return result{}, fmt.Errorf("distributed: genesis: %w", err)
		}
		if len(chain) != 1 {
			return result{}, fmt.Errorf("distributed: genesis: expected exactly one genesis commit atop initial, found %d", len(chain))
		}
		sc, err := repo.ReadSemanticCommit(tip)
		if err != nil {
			return result{}, fmt.Errorf("distributed: genesis: %w", err)
		}
		ev, err := semantic.Decode(tip, sc)
		if err != nil {
			return result{}, fmt.Errorf("distributed: genesis: %w", err)
		}
		if ev.Kind != semantic.KindGenesis {
			return result{}, fmt.Errorf("distributed: genesis: tip commit is not a genesis event")
		}

		if err := repo.CreateBranch(BranchFinalized, tip); err != nil {
			return result{}, fmt.Errorf("distributed: genesis: %w", err)
		}
		if err := repo.CreateBranch(BranchWork, tip); err != nil {
			return result{}, fmt.Errorf("distributed: genesis: %w", err)
		}
		if err := repo.CreateBranch(BranchFP, tip); err != nil {
			return result{}, fmt.Errorf("distributed: genesis: %w", err)
		}

		header := chainstate.BlockHeader{
			Height:    0,
			PrevHash:  rawrepo.ZeroHash,
			Timestamp: ev.Genesis.Timestamp,
			Proposer:  n.wallet.PubKey(),
		}
		proof := chainstate.FinalizationProof{Height: 0, BlockHash: tip, Proof: n.signProof(tip)}
		if _, err := writeFinalizationProof(repo, proof); err != nil {
			return result{}, fmt.Errorf("distributed: genesis: %w", err)
		}
		if err := repo.Checkout(BranchFinalized); err != nil {
			return result{}, fmt.Errorf("distributed: genesis: %w", err)
		}
		return result{header: header, state: ev.Genesis.ReservedState}, nil
	})
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.lastHeader = &res.header
	n.state = res.state
	n.mu.Unlock()
	n.emit(events.Event{Type: events.EventFinalized, Branch: BranchFinalized, BlockHeight: 0})
	return nil
}

// signProof builds a single-signature MultiSig over hash using this
// node's own wallet key, the form a bring-up node uses to self-attest
// the genesis proof before any other validator is reachable.
func (n *Node) signProof(hash rawrepo.Hash) chainstate.MultiSig {
	digest := hash.String()
	sig := signDigest(n, digest)
	return chainstate.MultiSig{
		Digest:     digest,
		Signatures: []chainstate.Signature{sig},
	}
}

// Clean resets the repository to just its reserved branches: finalized,
// work, fp, and any a-/b-/p- candidate whose merge-base with finalized
// still equals finalized's tip. Every remote is removed. A follow-up
// RunGarbageCollection call is left to the caller.
func (n *Node) Clean(ctx context.Context) error {
	_, err := async.Do(ctx, n.repo, func(repo *rawrepo.Repository) (struct{}, error) {
		finalizedTip, err := repo.LocateBranch(BranchFinalized)
		if err != nil {
			return struct{}{}, fmt.Errorf("distributed: clean: %w", err)
		}
		branches, err := repo.ListBranches()
		if err != nil {
			return struct{}{}, fmt.Errorf("distributed: clean: %w", err)
		}
		for _, b := range branches {
			if b == BranchFinalized || b == BranchWork || b == BranchFP {
				continue
			}
			if isCandidateBranch(b) {
				tip, err := repo.LocateBranch(b)
				if err != nil {
					continue
				}
				base, err := repo.FindMergeBase(tip, finalizedTip)
				if err == nil && base == finalizedTip {
					continue
				}
			}
			if err := repo.DeleteBranch(b); err != nil {
				return struct{}{}, fmt.Errorf("distributed: clean: delete %s: %w", b, err)
			}
		}
		remotes, err := repo.ListRemotes()
		if err != nil {
			return struct{}{}, fmt.Errorf("distributed: clean: %w", err)
		}
		for _, r := range remotes {
			if err := repo.RemoveRemote(r.Name); err != nil {
				return struct{}{}, fmt.Errorf("distributed: clean: remove remote %s: %w", r.Name, err)
			}
		}
		return struct{}{}, nil
	})
	return err
}

func isCandidateBranch(name string) bool {
	return len(name) > len(PrefixAgenda) && (hasPrefix(name, PrefixAgenda) || hasPrefix(name, PrefixBlock) || hasPrefix(name, PrefixPreCommit))
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
