package rawrepo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/sync/errgroup"
)

// DefaultFetchConcurrency bounds how many remotes FetchAll contacts at
// once when the caller passes a concurrency of zero or less.
const DefaultFetchConcurrency = 8

// AddRemote registers a remote under name pointing at url.
func (r *Repository) AddRemote(name, url string) error {
	_, err := r.repo.CreateRemote(&config.RemoteConfig{
		Name: name,
		URLs: []string{url},
	})
	if err != nil {
		if err == git.ErrRemoteExists {
			return &AlreadyExistsError{Kind: "remote", Name: name}
		}
		return fmt.Errorf("rawrepo: add remote %s: %w", name, err)
	}
	return nil
}

// RemoveRemote deletes a remote.
func (r *Repository) RemoveRemote(name string) error {
	if err := r.repo.DeleteRemote(name); err != nil {
		if err == git.ErrRemoteNotFound {
			return &NotFoundError{Kind: "remote", Name: name}
		}
		return fmt.Errorf("rawrepo: remove remote %s: %w", name, err)
	}
	return nil
}

// RemoteInfo describes one configured remote.
type RemoteInfo struct {
	Name string
	URL  string
}

// ListRemotes returns every configured remote, sorted by name.
func (r *Repository) ListRemotes() ([]RemoteInfo, error) {
	remotes, err := r.repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("rawrepo: list remotes: %w", err)
	}
	out := make([]RemoteInfo, 0, len(remotes))
	for _, rem := range remotes {
		cfg := rem.Config()
		url := ""
		if len(cfg.URLs) > 0 {
			url = cfg.URLs[0]
		}
		out = append(out, RemoteInfo{Name: cfg.Name, URL: url})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FetchResult reports the outcome of fetching from a single remote.
type FetchResult struct {
	Remote string
	Err    error
}

// FetchAll fetches every configured remote concurrently (bounded by
// concurrency; <= 0 uses DefaultFetchConcurrency) and returns a result
// per remote. A failure on one remote does not stop the others — the
// caller decides what "fetch failed" means for the overall operation.
func (r *Repository) FetchAll(ctx context.Context, concurrency int) ([]FetchResult, error) {
	remotes, err := r.ListRemotes()
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	results := make([]FetchResult, len(remotes))
	g, ctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(concurrency)
	for i, info := range remotes {
		i, info := i, info
		g.Go(func() error {
			rem, err := r.repo.Remote(info.Name)
			if err != nil {
				results[i] = FetchResult{Remote: info.Name, Err: err}
				return nil
			}
			err = rem.FetchContext(ctx, &git.FetchOptions{
				RefSpecs: []config.RefSpec{
					config.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", info.Name)),
				},
				Tags: git.AllTags,
			})
			if err == git.NoErrAlreadyUpToDate {
				err = nil
			}
			results[i] = FetchResult{Remote: info.Name, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// RemoteTrackingBranch is a remote-tracking ref (refs/remotes/<r>/<b>).
type RemoteTrackingBranch struct {
	Remote string
	Branch string
	Hash   Hash
}

// ListRemoteTrackingBranches returns every remote-tracking ref across all
// remotes, sorted by remote then branch name.
func (r *Repository) ListRemoteTrackingBranches() ([]RemoteTrackingBranch, error) {
	refs, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("rawrepo: list remote tracking branches: %w", err)
	}
	var out []RemoteTrackingBranch
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		const prefix = "refs/remotes/"
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		rest := strings.TrimPrefix(name, prefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			return nil
		}
		out = append(out, RemoteTrackingBranch{Remote: parts[0], Branch: parts[1], Hash: fromPlumbing(ref.Hash())})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rawrepo: list remote tracking branches: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Remote != out[j].Remote {
			return out[i].Remote < out[j].Remote
		}
		return out[i].Branch < out[j].Branch
	})
	return out, nil
}

// RunGarbageCollection prunes loose objects that are no longer
// referenced by any reachable ref and have aged past a safety window,
// mirroring `git gc`'s default pruning behavior. Any pruned commit is
// also dropped from the ancestry cache, since a merge-base or
// descendant-line result naming an object that no longer exists is
// worse than a cache miss.
func (r *Repository) RunGarbageCollection() error {
	cutoff := time.Now().Add(-2 * time.Hour)
	var pruned []plumbing.Hash
	err := r.repo.Prune(git.PruneOptions{
		OnlyObjectsOlderThan: cutoff,
		Handler: func(h plumbing.Hash) error {
			pruned = append(pruned, h)
			return r.repo.DeleteObject(h)
		},
	})
	if err != nil {
		return fmt.Errorf("rawrepo: garbage collection: %w", err)
	}
	if r.cache != nil {
		for _, h := range pruned {
			if err := r.cache.Invalidate(fromPlumbing(h).String()); err != nil {
				return fmt.Errorf("rawrepo: garbage collection: invalidate cache: %w", err)
			}
		}
	}
	return nil
}
