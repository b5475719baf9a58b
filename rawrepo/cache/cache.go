// Package cache memoizes the expensive, purely-derived RR ancestry
// queries (FindMergeBase, ListDescendants) against a repository's commit
// graph. Results are keyed by the commit hashes involved, which never
// change meaning once computed — a merge-base or descendant-line result
// is valid forever, so entries are only grown, except that Invalidate
// drops every entry naming a commit that garbage collection pruned. Keys
// and values are plain hex strings rather than rawrepo.Hash so this
// package stays a leaf dependency of rawrepo instead of importing it.
//
// A small in-process LRU (hashicorp/golang-lru) absorbs repeat lookups
// within a node's lifetime; a storage.DB sidecar under
// <repo>/.repochain-cache/ (backed by LevelDB) persists them across
// restarts so a freshly started node does not have to re-walk the whole
// history again.
package cache

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/tolelom/repochain/storage"
)

// DirName is the fixed sidecar directory name created inside a
// repository's working tree root.
const DirName = ".repochain-cache"

const lruSize = 4096

// Cache memoizes ancestry-derived queries for one repository.
type Cache struct {
	hot  *lru.Cache
	cold storage.DB
}

// Open opens (creating if necessary) the cache sidecar for the
// repository rooted at repoPath.
func Open(repoPath string) (*Cache, error) {
	hot, err := lru.New(lruSize)
	if err != nil {
		return nil, fmt.Errorf("cache: new lru: %w", err)
	}
	cold, err := storage.NewLevelDB(filepath.Join(repoPath, DirName))
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", DirName, err)
	}
	return &Cache{hot: hot, cold: cold}, nil
}

// OpenWith builds a Cache over an already-opened storage.DB, letting
// tests inject testutil.NewMemDB() instead of touching disk.
func OpenWith(cold storage.DB) (*Cache, error) {
	hot, err := lru.New(lruSize)
	if err != nil {
		return nil, fmt.Errorf("cache: new lru: %w", err)
	}
	return &Cache{hot: hot, cold: cold}, nil
}

// Close releases the underlying sidecar database.
func (c *Cache) Close() error {
	return c.cold.Close()
}

func mergeBaseKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "mb:" + a + ":" + b
}

// MergeBase returns a cached merge-base result for (a, b), if known.
func (c *Cache) MergeBase(a, b string) (string, bool) {
	key := mergeBaseKey(a, b)
	if v, ok := c.hot.Get(key); ok {
		return v.(string), true
	}
	data, err := c.cold.Get([]byte(key))
	if err != nil {
		return "", false
	}
	result := string(data)
	c.hot.Add(key, result)
	return result, true
}

// PutMergeBase records the merge-base of (a, b) as result.
func (c *Cache) PutMergeBase(a, b, result string) error {
	key := mergeBaseKey(a, b)
	c.hot.Add(key, result)
	return c.cold.Set([]byte(key), []byte(result))
}

func descendantsKey(hash string, max *int) string {
	if max == nil {
		return "desc:" + hash + ":all"
	}
	return fmt.Sprintf("desc:%s:%d", hash, *max)
}

// Descendants returns a cached ListDescendants result, if known.
func (c *Cache) Descendants(hash string, max *int) ([]string, bool) {
	key := descendantsKey(hash, max)
	if v, ok := c.hot.Get(key); ok {
		return v.([]string), true
	}
	data, err := c.cold.Get([]byte(key))
	if err != nil {
		return nil, false
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	c.hot.Add(key, out)
	return out, true
}

// PutDescendants records the descendant line of hash.
func (c *Cache) PutDescendants(hash string, max *int, result []string) error {
	key := descendantsKey(hash, max)
	c.hot.Add(key, result)
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache: encode descendants: %w", err)
	}
	return c.cold.Set([]byte(key), data)
}

// Invalidate drops every cached entry mentioning hash, used when a
// branch reset or garbage collection makes a previously linear line of
// descendants diverge. This is a coarse, correctness-first sweep rather
// than precise dependency tracking.
func (c *Cache) Invalidate(hash string) error {
	iter := c.cold.NewIterator(nil)
	defer iter.Release()
	var stale [][]byte
	for iter.Next() {
		if strings.Contains(string(iter.Key()), hash) {
			stale = append(stale, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	batch := c.cold.NewBatch()
	for _, key := range stale {
		batch.Delete(key)
		c.hot.Remove(string(key))
	}
	return batch.Write()
}
