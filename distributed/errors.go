package distributed

import (
	"fmt"

	"github.com/tolelom/repochain/chainstate"
	"github.com/tolelom/repochain/rawrepo"
)

// ErrOutdatedBranch reports a candidate branch whose merge-base with
// finalized is no longer finalized's tip.
type ErrOutdatedBranch struct {
	Branch string
}

func (e *ErrOutdatedBranch) Error() string {
	return fmt.Sprintf("distributed: branch %q is outdated", e.Branch)
}

// ForkCandidate is one finalization candidate discovered during
// FetchAndIntegrate.
type ForkCandidate struct {
	Height int64
	Branch string
	Hash   rawrepo.Hash
	Header chainstate.BlockHeader
}

// ErrFatalFork reports two or more finalization candidates at the same
// (maximal) height. It is never wrapped away: callers must be able to
// type-assert it to halt rather than treat it as an ordinary
// integration failure.
type ErrFatalFork struct {
	Height     int64
	Candidates []ForkCandidate
}

func (e *ErrFatalFork) Error() string {
	return fmt.Sprintf("distributed: fatal fork at height %d: %d competing candidates", e.Height, len(e.Candidates))
}

// ErrTooFarFromFinalized reports that work's tip is more than 256
// commits ahead of finalized's tip. Per spec.md's resolved open
// question, this is a hard error, never silently truncated.
type ErrTooFarFromFinalized struct {
	Ancestors int
}

func (e *ErrTooFarFromFinalized) Error() string {
	return fmt.Sprintf("distributed: work branch too far from finalized (%d ancestors, max 256); rebase required", e.Ancestors)
}
