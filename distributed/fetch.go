package distributed

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/events"
	"github.com/tolelom/repochain/peerset"
	"github.com/tolelom/repochain/rawrepo"
	"github.com/tolelom/repochain/rawrepo/async"
	"github.com/tolelom/repochain/semantic"
	"github.com/tolelom/repochain/verifier"
)

// maxParallelDecode bounds how many commits FetchAndIntegrate decodes at
// once across all fetched branch tips combined.
const maxParallelDecode = 256

// BranchOutcome is the per-branch result of one FetchAndIntegrate pass.
type BranchOutcome struct {
	Branch  string
	Outcome string // "integrated", "outdated-deleted", "rejected:<reason>", "candidate-agenda", "candidate-block-pending-proof", "candidate-block-finalized"
}

// FetchReport summarizes one FetchAndIntegrate call.
type FetchReport struct {
	Branches  []BranchOutcome
	Finalized rawrepo.Hash // zero if finalized did not move this pass
}

// FetchAndIntegrate registers a remote for every known peer, fetches all
// of them, walks every remote-tracking branch tip against the current
// finalized tip, and advances finalized if a valid finalization
// candidate emerges. It returns *ErrFatalFork verbatim if two or more
// candidates tie at the winning height; finalized is left untouched in
// that case.
func (n *Node) FetchAndIntegrate(ctx context.Context) (*FetchReport, error) {
	if err := n.registerPeerRemotes(ctx); err != nil {
		return nil, err
	}

	n.mu.Lock()
	curHeader := n.lastHeader
	curState := n.state
	n.mu.Unlock()
	if curHeader == nil {
		return nil, fmt.Errorf("distributed: fetch and integrate: node has not been through Genesis")
	}

	type fetchResult struct {
		report    FetchReport
		newHeader chainstate.BlockHeader
		moved     bool
	}

	res, err := async.Do(ctx, n.repo, func(repo *rawrepo.Repository) (fetchResult, error) {
		if _, err := repo.FetchAll(ctx, 0); err != nil {
			return fetchResult{}, fmt.Errorf("distributed: fetch and integrate: %w", err)
		}

		finalizedTip, err := repo.LocateBranch(BranchFinalized)
		if err != nil {
			return fetchResult{}, fmt.Errorf("distributed: fetch and integrate: %w", err)
		}

		tracking, err := repo.ListRemoteTrackingBranches()
		if err != nil {
			return fetchResult{}, fmt.Errorf("distributed: fetch and integrate: %w", err)
		}

		var report FetchReport
		var candidates []ForkCandidate
		refOf := map[string]string{} // candidate branch name -> remote-tracking ref it came from

		plans := make([]branchPlan, 0, len(tracking))
		pending := map[rawrepo.Hash]struct{}{}
		for _, t := range tracking {
			ref := t.Remote + "/" + t.Branch
			chain, skip, err := planBranch(repo, t.Hash, finalizedTip)
			if err != nil {
				report.Branches = append(report.Branches, BranchOutcome{Branch: ref, Outcome: "rejected:" + err.Error()})
				continue
			}
			if skip != "" {
				report.Branches = append(report.Branches, BranchOutcome{Branch: ref, Outcome: skip})
				continue
			}
			plans = append(plans, branchPlan{ref: ref, tipHash: t.Hash, chain: chain})
			for _, h := range chain {
				pending[h] = struct{}{}
			}
		}

		decoded, err := decodeCommits(ctx, repo, pending)
		if err != nil {
			return fetchResult{}, fmt.Errorf("distributed: fetch and integrate: decode fetched commits: %w", err)
		}

		for _, p := range plans {
			outcome, candidate, err := n.classifyBranch(repo, p.tipHash, p.chain, decoded, *curHeader, curState)
			if err != nil {
				report.Branches = append(report.Branches, BranchOutcome{Branch: p.ref, Outcome: "rejected:" + err.Error()})
				continue
			}
			report.Branches = append(report.Branches, BranchOutcome{Branch: p.ref, Outcome: outcome})
			if candidate != nil {
				candidates = append(candidates, *candidate)
				refOf[candidate.Branch] = p.ref
			}
		}

		if len(candidates) == 0 {
			return fetchResult{report: report}, nil
		}

		var maxHeight int64
		for _, c := range candidates {
			if c.Height > maxHeight {
				maxHeight = c.Height
			}
		}
		var winners, losers []ForkCandidate
		for _, c := range candidates {
			if c.Height == maxHeight {
				winners = append(winners, c)
			} else {
				losers = append(losers, c)
			}
		}
		for _, l := range losers {
			_ = repo.DeleteBranch(l.Branch)
			markOutcome(&report, refOf[l.Branch], "outdated-deleted")
			n.emit(events.Event{Type: events.EventBranchOutdated, Branch: l.Branch, CommitHash: l.Hash.String(), BlockHeight: l.Height})
		}
		if len(winners) > 1 {
			n.emit(events.Event{Type: events.EventForkDetected, BlockHeight: maxHeight})
			return fetchResult{report: report}, &ErrFatalFork{Height: maxHeight, Candidates: winners}
		}

		winner := winners[0]
		candidateProof, err := n.verifiedProofFor(repo, winner, curState)
		if err != nil {
			return fetchResult{}, fmt.Errorf("distributed: fetch and integrate: %w", err)
		}
		if err := repo.MoveBranch(BranchFinalized, winner.Hash); err != nil {
			return fetchResult{}, fmt.Errorf("distributed: fetch and integrate: %w", err)
		}
		if _, err := writeFinalizationProof(repo, candidateProof); err != nil {
			return fetchResult{}, fmt.Errorf("distributed: fetch and integrate: %w", err)
		}
		_ = repo.DeleteBranch(winner.Branch)
		markOutcome(&report, refOf[winner.Branch], "candidate-block-finalized")
		if err := repo.Checkout(BranchWork); err != nil {
			return fetchResult{}, fmt.Errorf("distributed: fetch and integrate: %w", err)
		}
		return fetchResult{report: report, newHeader: winner.Header, moved: true}, nil
	})
	if err != nil {
		if fork, ok := err.(*ErrFatalFork); ok {
			return &res.report, fork
		}
		return nil, err
	}

	if res.moved {
		n.mu.Lock()
		header := res.newHeader
		n.lastHeader = &header
		n.mu.Unlock()
		n.emit(events.Event{Type: events.EventFinalized, Branch: BranchFinalized, BlockHeight: res.newHeader.Height})
	}
	n.emit(events.Event{Type: events.EventFetchCompleted, BlockHeight: -1})
	return &res.report, nil
}

func (n *Node) registerPeerRemotes(ctx context.Context) error {
	for _, p := range n.peers.Snapshot() {
		remote := peerset.RemoteName(p.ID)
		_, err := async.Do(ctx, n.repo, func(repo *rawrepo.Repository) (struct{}, error) {
			if err := repo.AddRemote(remote, p.RemoteURL); err != nil {
				if _, ok := err.(*rawrepo.AlreadyExistsError); ok {
					return struct{}{}, nil
				}
				return struct{}{}, err
			}
			return struct{}{}, nil
		})
		if err != nil {
			return fmt.Errorf("distributed: fetch and integrate: register peer %s: %w", p.ID, err)
		}
	}
	return nil
}

// verifiedProofFor re-reads the finalization proof at fp's tip, retargets
// it at the winning candidate's block hash and height, and re-validates it.
func (n *Node) verifiedProofFor(repo *rawrepo.Repository, winner ForkCandidate, state chainstate.ReservedState) (chainstate.FinalizationProof, error) {
	fpTip, err := repo.LocateBranch(BranchFP)
	if err != nil {
		return chainstate.FinalizationProof{}, err
	}
	proof, err := readFinalizationProof(repo, fpTip)
	if err != nil {
		return chainstate.FinalizationProof{}, err
	}
	proof.BlockHash = winner.Hash
	proof.Height = winner.Height
	if err := verifier.VerifyFinalizationProof(proof, state); err != nil {
		return chainstate.FinalizationProof{}, err
	}
	return proof, nil
}

func markOutcome(report *FetchReport, branch, outcome string) {
	for i, bo := range report.Branches {
		if bo.Branch == branch {
			report.Branches[i].Outcome = outcome
			return
		}
	}
}

// branchPlan is one remote-tracking branch's pending work: the ordered
// chain of commits (oldest first) it carries past finalizedTip, still
// to be decoded and classified.
type branchPlan struct {
	ref     string
	tipHash rawrepo.Hash
	chain   []rawrepo.Hash
}

// planBranch decides whether a remote-tracking branch tip carries new
// commits at all, without decoding any of them. It returns a non-empty
// skip outcome ("outdated-deleted" or "integrated") when there is
// nothing left to classify, or the ordered chain of new commits
// otherwise.
func planBranch(repo *rawrepo.Repository, tipHash, finalizedTip rawrepo.Hash) (chain []rawrepo.Hash, skip string, err error) {
	base, err := repo.FindMergeBase(tipHash, finalizedTip)
	if err != nil || base != finalizedTip {
		return nil, "outdated-deleted", nil
	}
	if tipHash == finalizedTip {
		return nil, "integrated", nil
	}
	chain, err = ancestorsUpTo(repo, tipHash, finalizedTip)
	if err != nil {
		return nil, "", err
	}
	return chain, "", nil
}

// decodeCommits reads and decodes every commit in hashes concurrently,
// bounded by maxParallelDecode outstanding reads at once — the
// "parallel-decode combinator" that lets FetchAndIntegrate decode every
// new commit across all fetched branch tips without processing branches
// one at a time. Each commit's ReadSemanticCommit is a read-only walk of
// the object store (no working-tree mutation), so it is safe to run
// concurrently against the same repository handle; the ref and
// working-tree mutations that follow classification stay strictly
// sequential.
func decodeCommits(ctx context.Context, repo *rawrepo.Repository, hashes map[rawrepo.Hash]struct{}) (map[rawrepo.Hash]semantic.Event, error) {
	out := make(map[rawrepo.Hash]semantic.Event, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	sem := semaphore.NewWeighted(maxParallelDecode)
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for hash := range hashes {
		hash := hash
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			sc, err := repo.ReadSemanticCommit(hash)
			if err != nil {
				return err
			}
			ev, err := semantic.Decode(hash, sc)
			if err != nil {
				return err
			}
			mu.Lock()
			out[hash] = ev
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// classifyBranch replays one branch's already-decoded commit chain
// through a fresh verifier and classifies the outcome. It returns the
// outcome string and, for a verified block tip, the finalization
// candidate it produced (recorded under its own pre-commit branch name
// rather than the remote-tracking ref, since that ref disappears on the
// next fetch).
func (n *Node) classifyBranch(
	repo *rawrepo.Repository,
	tipHash rawrepo.Hash,
	chain []rawrepo.Hash,
	decoded map[rawrepo.Hash]semantic.Event,
	header chainstate.BlockHeader,
	state chainstate.ReservedState,
) (string, *ForkCandidate, error) {
	machine := verifier.Resume(header, state)
	var lastEvent semantic.Event
	for _, hash := range chain {
		ev, ok := decoded[hash]
		if !ok {
			return "", nil, fmt.Errorf("distributed: commit %s missing from decode set", hash)
		}
		if err := machine.ApplyCommit(ev); err != nil {
			return "", nil, err
		}
		lastEvent = ev
	}

	switch lastEvent.Kind {
	case semantic.KindAgenda, semantic.KindAgendaProof:
		idx, err := nextBranchIndex(repo, PrefixAgenda)
		if err != nil {
			return "", nil, err
		}
		name := fmt.Sprintf("%s%d", PrefixAgenda, idx)
		if err := repo.CreateBranch(name, tipHash); err != nil {
			return "", nil, err
		}
		return "candidate-agenda", nil, nil
	case semantic.KindBlock:
		fpTip, err := repo.LocateBranch(BranchFP)
		if err != nil {
			return "", nil, err
		}
		proof, err := readFinalizationProof(repo, fpTip)
		if err != nil {
			return "", nil, err
		}
		proof.BlockHash = tipHash
		proof.Height = lastEvent.Block.Header.Height
		if err := verifier.VerifyFinalizationProof(proof, state); err != nil {
			idx, ierr := nextBranchIndex(repo, PrefixBlock)
			if ierr != nil {
				return "", nil, ierr
			}
			name := fmt.Sprintf("%s%d", PrefixBlock, idx)
			if err := repo.CreateBranch(name, tipHash); err != nil {
				return "", nil, err
			}
			return "rejected:finalization-proof-invalid", nil, nil
		}
		idx, err := nextBranchIndex(repo, PrefixPreCommit)
		if err != nil {
			return "", nil, err
		}
		name := fmt.Sprintf("%s%d", PrefixPreCommit, idx)
		if err := repo.CreateBranch(name, tipHash); err != nil {
			return "", nil, err
		}
		return "candidate-block-pending-proof", &ForkCandidate{Height: lastEvent.Block.Header.Height, Branch: name, Hash: tipHash, Header: lastEvent.Block.Header}, nil
	default:
		return "integrated", nil, nil
	}
}
