// Package rawrepo implements the Raw Repository (RR): a minimal,
// synchronous, file-system-backed commit graph over branches, tags,
// commits, ancestry queries, merge-base, checkout, and remote fetch. It
// is a thin, opinionated layer on top of github.com/go-git/go-git/v5 —
// none of its methods are safe to call concurrently on the same handle;
// see rawrepo/async for the concurrency wrapper the rest of the system
// uses.
package rawrepo

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/tolelom/repochain/rawrepo/cache"
)

// Signature identifies the author/committer of a commit. The node always
// commits as itself; there is no separate author/committer distinction.
type Signature struct {
	Name  string
	Email string
}

// Repository is a handle to one on-disk git repository. It is not safe
// for concurrent use.
type Repository struct {
	path  string
	repo  *git.Repository
	wt    *git.Worktree
	sig   Signature
	cache *cache.Cache // nil if the sidecar could not be opened; callers fall back to uncached queries
}

// DefaultSignature is used when no Signature is configured.
var DefaultSignature = Signature{Name: "repochain", Email: "repochain@localhost"}

// Init creates a new non-bare repository at dir and returns a handle to
// it. It fails with *AlreadyExistsError if a repository already exists
// there.
func Init(dir string) (*Repository, error) {
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		if err == git.ErrRepositoryAlreadyExists {
			return nil, &AlreadyExistsError{Kind: "repository", Name: dir}
		}
		return nil, fmt.Errorf("rawrepo: init %s: %w", dir, err)
	}
	return wrap(dir, repo)
}

// Open opens an existing repository at dir. It fails with *NotFoundError
// if no repository exists there.
func Open(dir string) (*Repository, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		if err == git.ErrRepositoryNotExists {
			return nil, &NotFoundError{Kind: "repository", Name: dir}
		}
		return nil, fmt.Errorf("rawrepo: open %s: %w", dir, err)
	}
	return wrap(dir, repo)
}

func wrap(dir string, repo *git.Repository) (*Repository, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("rawrepo: worktree: %w", err)
	}
	c, err := cache.Open(dir)
	if err != nil {
		// The ancestry cache is a pure performance layer; a repository is
		// still fully correct without it, just slower on repeat queries.
		log.Printf("rawrepo: ancestry cache unavailable for %s, continuing uncached: %v", dir, err)
		c = nil
	}
	return &Repository{path: dir, repo: repo, wt: wt, sig: DefaultSignature, cache: c}, nil
}

// Close releases resources held by the repository handle, including its
// ancestry cache sidecar. It is safe to call on a Repository whose cache
// failed to open.
func (r *Repository) Close() error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Close()
}

// SetSignature overrides the commit author/committer identity.
func (r *Repository) SetSignature(sig Signature) { r.sig = sig }

// Path returns the repository's root directory.
func (r *Repository) Path() string { return r.path }

// ---- branches ----

// ListBranches returns every local branch name, sorted lexicographically.
func (r *Repository) ListBranches() ([]string, error) {
	iter, err := r.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("rawrepo: list branches: %w", err)
	}
	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rawrepo: list branches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// CreateBranch points a new branch name at hash. It fails if name
// already exists or hash is not a known commit.
func (r *Repository) CreateBranch(name string, hash Hash) error {
	refName := plumbing.NewBranchReferenceName(name)
	if _, err := r.repo.Reference(refName, false); err == nil {
		return &AlreadyExistsError{Kind: "branch", Name: name}
	}
	if _, err := r.repo.CommitObject(toPlumbing(hash)); err != nil {
		return fmt.Errorf("rawrepo: create branch %s: unknown commit %s: %w", name, hash, err)
	}
	ref := plumbing.NewHashReference(refName, toPlumbing(hash))
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("rawrepo: create branch %s: %w", name, err)
	}
	return nil
}

// LocateBranch returns the tip hash of the named branch.
func (r *Repository) LocateBranch(name string) (Hash, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		return ZeroHash, &NotFoundError{Kind: "branch", Name: name}
	}
	return fromPlumbing(ref.Hash()), nil
}

// MoveBranch repoints an existing branch at hash.
func (r *Repository) MoveBranch(name string, hash Hash) error {
	refName := plumbing.NewBranchReferenceName(name)
	if _, err := r.repo.Reference(refName, false); err != nil {
		return &NotFoundError{Kind: "branch", Name: name}
	}
	if _, err := r.repo.CommitObject(toPlumbing(hash)); err != nil {
		return fmt.Errorf("rawrepo: move branch %s: unknown commit %s: %w", name, hash, err)
	}
	ref := plumbing.NewHashReference(refName, toPlumbing(hash))
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("rawrepo: move branch %s: %w", name, err)
	}
	return nil
}

// DeleteBranch removes a branch. It fails if name is the branch HEAD
// currently points to.
func (r *Repository) DeleteBranch(name string) error {
	head, err := r.repo.Head()
	if err == nil && head.Name().IsBranch() && head.Name().Short() == name {
		return &CheckedOutError{Name: name}
	}
	refName := plumbing.NewBranchReferenceName(name)
	if _, err := r.repo.Reference(refName, false); err != nil {
		return &NotFoundError{Kind: "branch", Name: name}
	}
	if err := r.repo.Storer.RemoveReference(refName); err != nil {
		return fmt.Errorf("rawrepo: delete branch %s: %w", name, err)
	}
	return nil
}

// ---- tags ----

// ListTags returns every local tag name, sorted lexicographically.
func (r *Repository) ListTags() ([]string, error) {
	iter, err := r.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("rawrepo: list tags: %w", err)
	}
	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rawrepo: list tags: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// CreateTag applies a lightweight tag (a plain ref, no tag object) at hash.
func (r *Repository) CreateTag(name string, hash Hash) error {
	refName := plumbing.NewTagReferenceName(name)
	if _, err := r.repo.Reference(refName, false); err == nil {
		return &AlreadyExistsError{Kind: "tag", Name: name}
	}
	if _, err := r.repo.CommitObject(toPlumbing(hash)); err != nil {
		return fmt.Errorf("rawrepo: create tag %s: unknown commit %s: %w", name, hash, err)
	}
	ref := plumbing.NewHashReference(refName, toPlumbing(hash))
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("rawrepo: create tag %s: %w", name, err)
	}
	return nil
}

// LocateTag returns the commit hash a tag points at.
func (r *Repository) LocateTag(name string) (Hash, error) {
	ref, err := r.repo.Reference(plumbing.NewTagReferenceName(name), true)
	if err != nil {
		return ZeroHash, &NotFoundError{Kind: "tag", Name: name}
	}
	return fromPlumbing(ref.Hash()), nil
}

// RemoveTag deletes a tag.
func (r *Repository) RemoveTag(name string) error {
	refName := plumbing.NewTagReferenceName(name)
	if _, err := r.repo.Reference(refName, false); err != nil {
		return &NotFoundError{Kind: "tag", Name: name}
	}
	if err := r.repo.Storer.RemoveReference(refName); err != nil {
		return fmt.Errorf("rawrepo: remove tag %s: %w", name, err)
	}
	return nil
}

// ---- commits ----

// FileChange is a single write or delete applied to the working tree
// before a commit is created. Reserved-state changes use a dedicated
// path so that their diffs are confined to that sub-path (spec.md §6).
type FileChange struct {
	Path    string
	Content []byte
	Delete  bool
}

// CreateCommit applies changes to the working tree (if any) and commits
// them as a child of the current HEAD with the given message.
func (r *Repository) CreateCommit(msg string, changes []FileChange) (Hash, error) {
	for _, ch := range changes {
		full := r.wt.Filesystem.Join(r.wt.Filesystem.Root(), ch.Path)
		_ = full
		if ch.Delete {
			// A delete request for a path that was never written is a
			// no-op, not a failure: CreateSemanticCommit issues one for
			// every commit that doesn't carry a reserved-state snapshot,
			// including the first commits before Genesis has written one.
			err := r.wt.Filesystem.Remove(ch.Path)
			if err != nil && !os.IsNotExist(err) {
				return ZeroHash, fmt.Errorf("rawrepo: remove %s: %w", ch.Path, err)
			}
			if err == nil {
				if _, err := r.wt.Remove(ch.Path); err != nil {
					return ZeroHash, fmt.Errorf("rawrepo: stage removal of %s: %w", ch.Path, err)
				}
			}
			continue
		}
		if err := writeFile(r.wt, ch.Path, ch.Content); err != nil {
			return ZeroHash, err
		}
		if _, err := r.wt.Add(ch.Path); err != nil {
			return ZeroHash, fmt.Errorf("rawrepo: stage %s: %w", ch.Path, err)
		}
	}
	now := time.Now()
	hash, err := r.wt.Commit(msg, &git.CommitOptions{
		Author:            &object.Signature{Name: r.sig.Name, Email: r.sig.Email, When: now},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return ZeroHash, fmt.Errorf("rawrepo: commit: %w", err)
	}
	return fromPlumbing(hash), nil
}

func writeFile(wt *git.Worktree, path string, content []byte) error {
	f, err := wt.Filesystem.Create(path)
	if err != nil {
		return fmt.Errorf("rawrepo: create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("rawrepo: write %s: %w", path, err)
	}
	return nil
}

// ---- checkout ----

// Checkout switches HEAD and the working tree to branch.
func (r *Repository) Checkout(branch string) error {
	if err := r.wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(branch)}); err != nil {
		return fmt.Errorf("rawrepo: checkout %s: %w", branch, err)
	}
	return nil
}

// CheckoutDetach points HEAD directly at hash (detached).
func (r *Repository) CheckoutDetach(hash Hash) error {
	if err := r.wt.Checkout(&git.CheckoutOptions{Hash: toPlumbing(hash)}); err != nil {
		return fmt.Errorf("rawrepo: checkout detach %s: %w", hash, err)
	}
	return nil
}

// CheckoutClean discards unstaged and untracked changes in the working
// tree, leaving HEAD where it is.
func (r *Repository) CheckoutClean() error {
	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("rawrepo: checkout clean: %w", err)
	}
	opts := &git.CheckoutOptions{Force: true}
	if head.Name().IsBranch() {
		opts.Branch = head.Name()
	} else {
		opts.Hash = head.Hash()
	}
	if err := r.wt.Checkout(opts); err != nil {
		return fmt.Errorf("rawrepo: checkout clean: %w", err)
	}
	if err := r.wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("rawrepo: clean: %w", err)
	}
	return nil
}

// GetHead returns the hash HEAD currently resolves to.
func (r *Repository) GetHead() (Hash, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return ZeroHash, fmt.Errorf("rawrepo: get head: %w", err)
	}
	return fromPlumbing(ref.Hash()), nil
}

// GetInitialCommit walks HEAD's first-parent chain back to the root.
func (r *Repository) GetInitialCommit() (Hash, error) {
	head, err := r.GetHead()
	if err != nil {
		return ZeroHash, &NotFoundError{Kind: "commit", Name: "initial"}
	}
	cur, err := r.repo.CommitObject(toPlumbing(head))
	if err != nil {
		return ZeroHash, fmt.Errorf("rawrepo: get initial commit: %w", err)
	}
	for cur.NumParents() > 0 {
		parent, err := cur.Parents().Next()
		if err != nil {
			return ZeroHash, fmt.Errorf("rawrepo: get initial commit: %w", err)
		}
		cur = parent
	}
	return fromPlumbing(cur.Hash), nil
}

// ---- ancestry ----

// ListAncestors returns the linear ancestry of hash, nearest parent
// first, optionally limited to max entries. It fails with
// *IntegrityError the instant a visited commit has more than one parent
// — finalized history must never contain a merge commit.
func (r *Repository) ListAncestors(hash Hash, max *int) ([]Hash, error) {
	var out []Hash
	cur, err := r.repo.CommitObject(toPlumbing(hash))
	if err != nil {
		return nil, &NotFoundError{Kind: "commit", Name: hash.String()}
	}
	for cur.NumParents() > 0 {
		if cur.NumParents() > 1 {
			return nil, &IntegrityError{Msg: fmt.Sprintf("commit %s has %d parents, linear ancestry required", cur.Hash, cur.NumParents())}
		}
		parent, err := cur.Parents().Next()
		if err != nil {
			return nil, fmt.Errorf("rawrepo: list ancestors: %w", err)
		}
		out = append(out, fromPlumbing(parent.Hash))
		if max != nil && len(out) >= *max {
			return out, nil
		}
		cur = parent
	}
	return out, nil
}

// childIndex maps every commit to its direct children, built by a full
// scan of the object store. It is rebuilt per call; rawrepo/cache
// memoizes the expensive cases (ListDescendants, FindMergeBase) across
// calls.
func (r *Repository) childIndex() (map[Hash][]Hash, error) {
	iter, err := r.repo.CommitObjects()
	if err != nil {
		return nil, fmt.Errorf("rawrepo: child index: %w", err)
	}
	idx := make(map[Hash][]Hash)
	err = iter.ForEach(func(c *object.Commit) error {
		return c.Parents().ForEach(func(p *object.Commit) error {
			child := fromPlumbing(c.Hash)
			parent := fromPlumbing(p.Hash)
			idx[parent] = append(idx[parent], child)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("rawrepo: child index: %w", err)
	}
	return idx, nil
}

// ListChildren returns the direct children of hash.
func (r *Repository) ListChildren(hash Hash) ([]Hash, error) {
	idx, err := r.childIndex()
	if err != nil {
		return nil, err
	}
	return idx[hash], nil
}

// ListDescendants returns the linear line of descendants from hash,
// nearest child first, optionally limited to max entries. It fails if
// any visited commit has more than one child — a fork in descendants
// means "the" line of descendants is ambiguous.
func (r *Repository) ListDescendants(hash Hash, max *int) ([]Hash, error) {
	if r.cache != nil {
		if cached, ok := r.cache.Descendants(hash.String(), max); ok {
			return parseHashes(cached)
		}
	}
	idx, err := r.childIndex()
	if err != nil {
		return nil, err
	}
	var out []Hash
	cur := hash
	for {
		children := idx[cur]
		if len(children) == 0 {
			r.putDescendants(hash, max, out)
			return out, nil
		}
		if len(children) > 1 {
			return nil, &IntegrityError{Msg: fmt.Sprintf("commit %s has %d children, linear descendants required", cur, len(children))}
		}
		out = append(out, children[0])
		if max != nil && len(out) >= *max {
			r.putDescendants(hash, max, out)
			return out, nil
		}
		cur = children[0]
	}
}

func (r *Repository) putDescendants(hash Hash, max *int, out []Hash) {
	if r.cache == nil {
		return
	}
	encoded := make([]string, len(out))
	for i, h := range out {
		encoded[i] = h.String()
	}
	if err := r.cache.PutDescendants(hash.String(), max, encoded); err != nil {
		log.Printf("rawrepo: cache descendants %s: %v", hash, err)
	}
}

func parseHashes(encoded []string) ([]Hash, error) {
	out := make([]Hash, 0, len(encoded))
	for _, s := range encoded {
		h, err := ParseHash(s)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// FindMergeBase returns the lowest common ancestor of a and b.
func (r *Repository) FindMergeBase(a, b Hash) (Hash, error) {
	if r.cache != nil {
		if cached, ok := r.cache.MergeBase(a.String(), b.String()); ok {
			return ParseHash(cached)
		}
	}
	ca, err := r.repo.CommitObject(toPlumbing(a))
	if err != nil {
		return ZeroHash, &NotFoundError{Kind: "commit", Name: a.String()}
	}
	cb, err := r.repo.CommitObject(toPlumbing(b))
	if err != nil {
		return ZeroHash, &NotFoundError{Kind: "commit", Name: b.String()}
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return ZeroHash, fmt.Errorf("rawrepo: merge base: %w", err)
	}
	if len(bases) == 0 {
		return ZeroHash, fmt.Errorf("rawrepo: merge base: %s and %s are disconnected", a, b)
	}
	result := fromPlumbing(bases[0].Hash)
	if r.cache != nil {
		if err := r.cache.PutMergeBase(a.String(), b.String(), result.String()); err != nil {
			log.Printf("rawrepo: cache merge base %s/%s: %v", a, b, err)
		}
	}
	return result, nil
}

// IsMergeCommit reports whether hash has more than one parent.
func (r *Repository) IsMergeCommit(hash Hash) (bool, error) {
	c, err := r.repo.CommitObject(toPlumbing(hash))
	if err != nil {
		return false, &NotFoundError{Kind: "commit", Name: hash.String()}
	}
	return c.NumParents() > 1, nil
}

// shortRefName strips the leading refs/heads/ or refs/tags/ prefix, used
// for logging.
func shortRefName(full string) string {
	if i := strings.LastIndex(full, "/"); i >= 0 {
		return full[i+1:]
	}
	return full
}
