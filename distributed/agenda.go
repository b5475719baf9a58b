package distributed

import (
	"context"
	"fmt"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/crypto"
	"github.com/tolelom/repochain/events"
	"github.com/tolelom/repochain/rawrepo"
	"github.com/tolelom/repochain/rawrepo/async"
	"github.com/tolelom/repochain/semantic"
	"github.com/tolelom/repochain/verifier"
)

// CreateAgenda builds and commits an Agenda atop work, covering every
// Transaction committed since finalized's tip. It requires work to be a
// linear descendant of finalized and refuses to run (ErrTooFarFromFinalized)
// if more than MaxAgendaAncestors commits separate them — per spec.md's
// resolved Open Question, this is a hard error, never a silent truncation.
func (n *Node) CreateAgenda(ctx context.Context) (rawrepo.Hash, error) {
	n.mu.Lock()
	curHeader := n.lastHeader
	curState := n.state
	n.mu.Unlock()
	if curHeader == nil {
		return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: node has not been through Genesis")
	}

	hash, err := async.Do(ctx, n.repo, func(repo *rawrepo.Repository) (rawrepo.Hash, error) {
		workTip, err := repo.LocateBranch(BranchWork)
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: %w", err)
		}
		finalizedTip, err := repo.LocateBranch(BranchFinalized)
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: %w", err)
		}
		base, err := repo.FindMergeBase(workTip, finalizedTip)
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: %w", err)
		}
		if base != finalizedTip {
			return rawrepo.ZeroHash, &ErrOutdatedBranch{Branch: BranchWork}
		}
		if workTip == finalizedTip {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: work has no commits beyond finalized")
		}

		chain, err := ancestorsUpTo(repo, workTip, finalizedTip)
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: %w", err)
		}
		if len(chain) > MaxAgendaAncestors {
			return rawrepo.ZeroHash, &ErrTooFarFromFinalized{Ancestors: len(chain)}
		}

		machine := verifier.Resume(*curHeader, curState)
		txHashes := make([]string, 0, len(chain))
		for _, hash := range chain {
			sc, err := repo.ReadSemanticCommit(hash)
			if err != nil {
				return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: %w", err)
			}
			ev, err := semantic.Decode(hash, sc)
			if err != nil {
				return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: %w", err)
			}
			if ev.Kind != semantic.KindTransaction {
				return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: commit %s ahead of finalized is not a transaction (kind %q)", hash, ev.Kind)
			}
			if err := machine.ApplyCommit(ev); err != nil {
				return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: %w", err)
			}
			txHashes = append(txHashes, ev.Transaction.Tx.Hash())
		}

		agenda := &semantic.Agenda{
			Height:    curHeader.Height + 1,
			Author:    n.wallet.PubKey(),
			Timestamp: now(),
			TxHashes:  txHashes,
		}
		agenda.Hash = agendaDigest(agenda)

		if err := machine.ApplyCommit(semantic.Event{Kind: semantic.KindAgenda, Agenda: agenda}); err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: csv rejected agenda: %w", err)
		}

		sc, err := semantic.Encode(semantic.Event{Kind: semantic.KindAgenda, Agenda: agenda})
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: %w", err)
		}
		if err := repo.Checkout(BranchWork); err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: %w", err)
		}
		if err := repo.CheckoutClean(); err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create agenda: %w", err)
		}
		return repo.CreateSemanticCommit(sc)
	})
	if err == nil {
		n.emit(events.Event{Type: events.EventAgendaCreated, Branch: BranchWork, CommitHash: hash.String(), BlockHeight: curHeader.Height + 1})
	}
	return hash, err
}

// agendaDigest hashes the agenda's ordered transaction hashes
// deterministically so two nodes proposing the same transactions in the
// same order produce the same hash.
func agendaDigest(a *semantic.Agenda) string {
	return crypto.DigestFields(a.TxHashes...)
}

// Approve synthesizes an AgendaProof commit atop the branch carrying
// agenda, carrying sigs as the quorum witness, and returns its hash. It
// does not itself check quorum — CSV enforces that the moment a later
// walk applies the resulting commit via Machine.ApplyCommit.
func (n *Node) Approve(ctx context.Context, agenda rawrepo.Hash, sigs []chainstate.Signature) (rawrepo.Hash, error) {
	hash, err := async.Do(ctx, n.repo, func(repo *rawrepo.Repository) (rawrepo.Hash, error) {
		sc, err := repo.ReadSemanticCommit(agenda)
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: approve: %w", err)
		}
		ev, err := semantic.Decode(agenda, sc)
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: approve: %w", err)
		}
		if ev.Kind != semantic.KindAgenda {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: approve: commit %s is not an agenda", agenda)
		}

		branch, err := branchAt(repo, agenda)
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: approve: %w", err)
		}

		proof := &semantic.AgendaProof{
			AgendaHash: ev.Agenda.Hash,
			Proof:      chainstate.MultiSig{Digest: ev.Agenda.Hash, Signatures: sigs},
		}
		proofSC, err := semantic.Encode(semantic.Event{Kind: semantic.KindAgendaProof, AgendaProof: proof})
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: approve: %w", err)
		}
		if err := repo.Checkout(branch); err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: approve: %w", err)
		}
		if err := repo.CheckoutClean(); err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: approve: %w", err)
		}
		return repo.CreateSemanticCommit(proofSC)
	})
	if err == nil {
		n.emit(events.Event{Type: events.EventAgendaApproved, CommitHash: hash.String()})
	}
	return hash, err
}

// branchAt returns the name of a branch whose current tip is hash,
// preferring work and the a-/p- candidate families over any other match.
func branchAt(repo *rawrepo.Repository, hash rawrepo.Hash) (string, error) {
	branches, err := repo.ListBranches()
	if err != nil {
		return "", err
	}
	fallback := ""
	for _, b := range sortedBranches(branches) {
		tip, err := repo.LocateBranch(b)
		if err != nil || tip != hash {
			continue
		}
		if b == BranchWork || hasPrefix(b, PrefixAgenda) || hasPrefix(b, PrefixPreCommit) {
			return b, nil
		}
		if fallback == "" {
			fallback = b
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("distributed: no branch currently points at %s", hash)
}

// CreateBlock closes an approved agenda into a finalized block header,
// committing it atop the branch whose tip is agendaProof. The header's
// StateRoot is left empty and no reserved-state snapshot is attached, so
// a block created here never changes the validator set.
func (n *Node) CreateBlock(ctx context.Context, agendaProof rawrepo.Hash) (rawrepo.Hash, error) {
	n.mu.Lock()
	curHeader := n.lastHeader
	n.mu.Unlock()
	if curHeader == nil {
		return rawrepo.ZeroHash, fmt.Errorf("distributed: create block: node has not been through Genesis")
	}

	return async.Do(ctx, n.repo, func(repo *rawrepo.Repository) (rawrepo.Hash, error) {
		sc, err := repo.ReadSemanticCommit(agendaProof)
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create block: %w", err)
		}
		ev, err := semantic.Decode(agendaProof, sc)
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create block: %w", err)
		}
		if ev.Kind != semantic.KindAgendaProof {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create block: commit %s is not an agenda proof", agendaProof)
		}

		finalizedTip, err := repo.LocateBranch(BranchFinalized)
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create block: %w", err)
		}

		header := chainstate.BlockHeader{
			Height:     curHeader.Height + 1,
			PrevHash:   finalizedTip,
			AgendaHash: ev.AgendaProof.AgendaHash,
			Timestamp:  now(),
			Proposer:   n.wallet.PubKey(),
		}

		branch, err := branchAt(repo, agendaProof)
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create block: %w", err)
		}
		blockSC, err := semantic.Encode(semantic.Event{Kind: semantic.KindBlock, Block: &semantic.Block{Header: header}})
		if err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create block: %w", err)
		}
		if err := repo.Checkout(branch); err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create block: %w", err)
		}
		if err := repo.CheckoutClean(); err != nil {
			return rawrepo.ZeroHash, fmt.Errorf("distributed: create block: %w", err)
		}
		return repo.CreateSemanticCommit(blockSC)
	})
}
