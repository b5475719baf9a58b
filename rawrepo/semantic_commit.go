package rawrepo

import (
	"fmt"
	"io"
	"strings"
)

// ReservedStatePath is the fixed working-tree path reserved-state
// snapshots are written to. Commits that do not carry a snapshot remove
// this path if it is present, so every semantic commit's diff stays
// inside it (spec.md §6: "the reserved area").
const ReservedStatePath = ".reserved/state.json"

// SemanticCommit is RR's view of a commit shaped for the codec in
// package semantic: a title line, an opaque body (the encoded event
// payload), and an optional reserved-state snapshot. RR itself never
// interprets Title or Body; it only stores and retrieves them.
type SemanticCommit struct {
	Title         string
	Body          []byte
	ReservedState []byte // nil if this commit does not touch reserved state
}

// CreateSemanticCommit writes sc's reserved-state snapshot (if any) to
// the working tree and commits Title+Body as the commit message.
func (r *Repository) CreateSemanticCommit(sc SemanticCommit) (Hash, error) {
	if sc.Title == "" {
		return ZeroHash, fmt.Errorf("rawrepo: semantic commit title must not be empty")
	}
	var changes []FileChange
	if sc.ReservedState != nil {
		changes = append(changes, FileChange{Path: ReservedStatePath, Content: sc.ReservedState})
	} else {
		// Commits are full tree snapshots, not diffs: without an explicit
		// delete, a reserved-state snapshot written by an earlier commit
		// (Genesis, or a reserved-state-mutating Block) would persist
		// into every descendant's tree forever, and ReadSemanticCommit
		// would keep reporting it as present.
		changes = append(changes, FileChange{Path: ReservedStatePath, Delete: true})
	}
	msg := sc.Title
	if len(sc.Body) > 0 {
		msg = sc.Title + "\n\n" + string(sc.Body)
	}
	return r.CreateCommit(msg, changes)
}

// ReadSemanticCommit parses a commit's message back into title and body,
// and reads its reserved-state snapshot if present. It fails if the
// commit has no title line (i.e. was not created by CreateSemanticCommit
// or an equivalent tool).
func (r *Repository) ReadSemanticCommit(hash Hash) (SemanticCommit, error) {
	commit, err := r.repo.CommitObject(toPlumbing(hash))
	if err != nil {
		return SemanticCommit{}, &NotFoundError{Kind: "commit", Name: hash.String()}
	}
	title, body, ok := splitMessage(commit.Message)
	if !ok {
		return SemanticCommit{}, &IntegrityError{Msg: fmt.Sprintf("commit %s is not semantically shaped", hash)}
	}
	sc := SemanticCommit{Title: title, Body: body}
	tree, err := commit.Tree()
	if err != nil {
		return SemanticCommit{}, fmt.Errorf("rawrepo: read semantic commit %s: %w", hash, err)
	}
	file, err := tree.File(ReservedStatePath)
	if err == nil {
		rc, err := file.Reader()
		if err != nil {
			return SemanticCommit{}, fmt.Errorf("rawrepo: read reserved state at %s: %w", hash, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return SemanticCommit{}, fmt.Errorf("rawrepo: read reserved state at %s: %w", hash, err)
		}
		sc.ReservedState = data
	}
	return sc, nil
}

// splitMessage separates a commit message into its title line and body.
// A blank line between them is optional; if absent the body is empty.
func splitMessage(msg string) (title string, body []byte, ok bool) {
	msg = strings.TrimRight(msg, "\n")
	if msg == "" {
		return "", nil, false
	}
	parts := strings.SplitN(msg, "\n", 2)
	title = parts[0]
	if title == "" {
		return "", nil, false
	}
	if len(parts) == 2 {
		body = []byte(strings.TrimPrefix(parts[1], "\n"))
	}
	return title, body, true
}
