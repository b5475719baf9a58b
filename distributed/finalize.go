package distributed

import (
	"context"
	"fmt"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/events"
	"github.com/tolelom/repochain/rawrepo"
	"github.com/tolelom/repochain/rawrepo/async"
	"github.com/tolelom/repochain/semantic"
	"github.com/tolelom/repochain/verifier"
)

// Finalize verifies proof against the previous finalized header and
// reserved state and, if it holds, moves finalized to block and
// overwrites fp with proof. Unlike Sync, which only checks an
// already-present fp, Finalize is the operation that writes one.
func (n *Node) Finalize(ctx context.Context, block rawrepo.Hash, proof chainstate.FinalizationProof) error {
	n.mu.Lock()
	curHeader := n.lastHeader
	curState := n.state
	n.mu.Unlock()
	if curHeader == nil {
		return fmt.Errorf("distributed: finalize: node has not been through Genesis")
	}
	if proof.BlockHash != block {
		return fmt.Errorf("distributed: finalize: proof is for %s, not %s", proof.BlockHash, block)
	}

	type result struct {
		header chainstate.BlockHeader
		state  chainstate.ReservedState
	}
	res, err := async.Do(ctx, n.repo, func(repo *rawrepo.Repository) (result, error) {
		finalizedTip, err := repo.LocateBranch(BranchFinalized)
		if err != nil {
			return result{}, fmt.Errorf("distributed: finalize: %w", err)
		}
		base, err := repo.FindMergeBase(block, finalizedTip)
		if err != nil || base != finalizedTip {
			return result{}, fmt.Errorf("distributed: finalize: %s is not a descendant of finalized", block)
		}

		chain, err := ancestorsUpTo(repo, block, finalizedTip)
		if err != nil {
			return result{}, fmt.Errorf("distributed: finalize: %w", err)
		}
		machine := verifier.Resume(*curHeader, curState)
		var blockEvent *semantic.Block
		for _, hash := range chain {
			sc, err := repo.ReadSemanticCommit(hash)
			if err != nil {
				return result{}, fmt.Errorf("distributed: finalize: %w", err)
			}
			ev, err := semantic.Decode(hash, sc)
			if err != nil {
				return result{}, fmt.Errorf("distributed: finalize: %w", err)
			}
			if err := machine.ApplyCommit(ev); err != nil {
				return result{}, fmt.Errorf("distributed: finalize: %w", err)
			}
			if ev.Kind == semantic.KindBlock {
				blockEvent = ev.Block
			}
		}
		if blockEvent == nil {
			return result{}, fmt.Errorf("distributed: finalize: %s does not carry a block event", block)
		}
		if err := verifier.VerifyFinalizationProof(proof, curState); err != nil {
			return result{}, fmt.Errorf("distributed: finalize: %w", err)
		}

		if err := repo.MoveBranch(BranchFinalized, block); err != nil {
			return result{}, fmt.Errorf("distributed: finalize: %w", err)
		}
		if _, err := writeFinalizationProof(repo, proof); err != nil {
			return result{}, fmt.Errorf("distributed: finalize: %w", err)
		}
		if err := repo.Checkout(BranchWork); err != nil {
			return result{}, fmt.Errorf("distributed: finalize: %w", err)
		}
		return result{header: blockEvent.Header, state: machine.State()}, nil
	})
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.lastHeader = &res.header
	n.state = res.state
	n.mu.Unlock()
	n.emit(events.Event{Type: events.EventFinalized, Branch: BranchFinalized, CommitHash: block.String(), BlockHeight: res.header.Height})
	return nil
}

// Sync fast-forwards finalized to target, but only if target is a
// descendant of finalized's current tip and carries a FinalizationProof
// already consistent with it — unlike Finalize, Sync never writes fp, it
// only checks the one already present.
func (n *Node) Sync(ctx context.Context, target rawrepo.Hash) error {
	n.mu.Lock()
	curHeader := n.lastHeader
	curState := n.state
	n.mu.Unlock()
	if curHeader == nil {
		return fmt.Errorf("distributed: sync: node has not been through Genesis")
	}

	type result struct {
		header chainstate.BlockHeader
		state  chainstate.ReservedState
	}
	res, err := async.Do(ctx, n.repo, func(repo *rawrepo.Repository) (result, error) {
		finalizedTip, err := repo.LocateBranch(BranchFinalized)
		if err != nil {
			return result{}, fmt.Errorf("distributed: sync: %w", err)
		}
		if target == finalizedTip {
			return result{header: *curHeader, state: curState}, nil
		}
		base, err := repo.FindMergeBase(target, finalizedTip)
		if err != nil || base != finalizedTip {
			return result{}, fmt.Errorf("distributed: sync: %s is not a descendant of finalized", target)
		}

		chain, err := ancestorsUpTo(repo, target, finalizedTip)
		if err != nil {
			return result{}, fmt.Errorf("distributed: sync: %w", err)
		}
		machine := verifier.Resume(*curHeader, curState)
		var lastBlock *semantic.Block
		for _, hash := range chain {
			sc, err := repo.ReadSemanticCommit(hash)
			if err != nil {
				return result{}, fmt.Errorf("distributed: sync: %w", err)
			}
			ev, err := semantic.Decode(hash, sc)
			if err != nil {
				return result{}, fmt.Errorf("distributed: sync: %w", err)
			}
			if err := machine.ApplyCommit(ev); err != nil {
				return result{}, fmt.Errorf("distributed: sync: %w", err)
			}
			if ev.Kind == semantic.KindBlock {
				lastBlock = ev.Block
			}
		}
		if lastBlock == nil {
			return result{}, fmt.Errorf("distributed: sync: %s does not carry a block event", target)
		}

		fpTip, err := repo.LocateBranch(BranchFP)
		if err != nil {
			return result{}, fmt.Errorf("distributed: sync: %w", err)
		}
		proof, err := readFinalizationProof(repo, fpTip)
		if err != nil {
			return result{}, fmt.Errorf("distributed: sync: %w", err)
		}
		if proof.BlockHash != target {
			return result{}, fmt.Errorf("distributed: sync: existing fp does not match target %s", target)
		}
		if err := verifier.VerifyFinalizationProof(proof, curState); err != nil {
			return result{}, fmt.Errorf("distributed: sync: %w", err)
		}

		if err := repo.MoveBranch(BranchFinalized, target); err != nil {
			return result{}, fmt.Errorf("distributed: sync: %w", err)
		}
		return result{header: lastBlock.Header, state: machine.State()}, nil
	})
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.lastHeader = &res.header
	n.state = res.state
	n.mu.Unlock()
	n.emit(events.Event{Type: events.EventFinalized, Branch: BranchFinalized, CommitHash: target.String(), BlockHeight: res.header.Height})
	return nil
}

// CheckReport is the result of a full-repository audit.
type CheckReport struct {
	ReservedBranchesOK bool
	FinalizationValid  bool
	LinearHistory      bool
	SequenceValid      bool
	Errors             []string
}

func (r *CheckReport) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// OK reports whether every audited property held.
func (r *CheckReport) OK() bool { return len(r.Errors) == 0 }

// Check performs a full-repository audit, reporting sequence violations
// found at or after block height fromHeight (0 audits the whole
// history): the three reserved branches exist and decode, fp verifies
// the current finalized tip, finalized carries no merge commits, and the
// audited range validates end to end under CSV.
func (n *Node) Check(ctx context.Context, fromHeight int64) (*CheckReport, error) {
	n.mu.Lock()
	curState := n.state
	n.mu.Unlock()

	return async.Do(ctx, n.repo, func(repo *rawrepo.Repository) (*CheckReport, error) {
		report := &CheckReport{ReservedBranchesOK: true, FinalizationValid: true, LinearHistory: true, SequenceValid: true}

		finalizedTip, err := repo.LocateBranch(BranchFinalized)
		if err != nil {
			report.ReservedBranchesOK = false
			report.fail("finalized branch: %v", err)
			return report, nil
		}
		if _, err := repo.LocateBranch(BranchWork); err != nil {
			report.ReservedBranchesOK = false
			report.fail("work branch: %v", err)
		}
		fpTip, err := repo.LocateBranch(BranchFP)
		if err != nil {
			report.ReservedBranchesOK = false
			report.fail("fp branch: %v", err)
		}

		if fpTip != rawrepo.ZeroHash {
			proof, err := readFinalizationProof(repo, fpTip)
			if err != nil {
				report.FinalizationValid = false
				report.fail("read fp: %v", err)
			} else if proof.BlockHash != finalizedTip {
				report.FinalizationValid = false
				report.fail("fp points at %s, finalized tip is %s", proof.BlockHash, finalizedTip)
			} else if err := verifier.VerifyFinalizationProof(proof, curState); err != nil {
				report.FinalizationValid = false
				report.fail("fp does not meet quorum: %v", err)
			}
		}

		root, err := repo.GetInitialCommit()
		if err != nil {
			report.fail("get initial commit: %v", err)
			return report, nil
		}
		chain, err := ancestorsUpTo(repo, finalizedTip, root)
		if err != nil {
			report.LinearHistory = false
			report.fail("finalized history is not linear: %v", err)
			return report, nil
		}

		// CSV has no notion of "start partway through" other than Resume,
		// which needs a known-good header — so the whole history is always
		// applied from Genesis; fromHeight only scopes which violations are
		// worth surfacing, since blocks below it have already been audited
		// by a prior Check call.
		machine := verifier.New()
		height := int64(0)
		for _, hash := range chain {
			sc, err := repo.ReadSemanticCommit(hash)
			if err != nil {
				if height >= fromHeight {
					report.SequenceValid = false
					report.fail("read %s: %v", hash, err)
				}
				continue
			}
			ev, err := semantic.Decode(hash, sc)
			if err != nil {
				if height >= fromHeight {
					report.SequenceValid = false
					report.fail("decode %s: %v", hash, err)
				}
				continue
			}
			if err := machine.ApplyCommit(ev); err != nil {
				if height >= fromHeight {
					report.SequenceValid = false
					report.fail("apply %s: %v", hash, err)
				}
				continue
			}
			if ev.Kind == semantic.KindBlock {
				height = ev.Block.Header.Height
			}
		}
		return report, nil
	})
}
