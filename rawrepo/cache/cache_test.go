package cache_test

import (
	"testing"

	"github.com/tolelom/repochain/internal/testutil"
	"github.com/tolelom/repochain/rawrepo/cache"
)

func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.OpenWith(testutil.NewMemDB())
	if err != nil {
		t.Fatalf("OpenWith: %v", err)
	}
	return c
}

func TestMergeBaseRoundTrip(t *testing.T) {
	c := newCache(t)
	if _, ok := c.MergeBase("aaa", "bbb"); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := c.PutMergeBase("aaa", "bbb", "ccc"); err != nil {
		t.Fatalf("PutMergeBase: %v", err)
	}
	got, ok := c.MergeBase("aaa", "bbb")
	if !ok || got != "ccc" {
		t.Fatalf("MergeBase(aaa, bbb) = %q, %v; want ccc, true", got, ok)
	}
	// order of a/b must not matter
	if got, ok := c.MergeBase("bbb", "aaa"); !ok || got != "ccc" {
		t.Fatalf("MergeBase(bbb, aaa) = %q, %v; want ccc, true", got, ok)
	}
}

func TestDescendantsRoundTrip(t *testing.T) {
	c := newCache(t)
	if _, ok := c.Descendants("root", nil); ok {
		t.Fatal("expected miss on empty cache")
	}
	want := []string{"a", "b", "c"}
	if err := c.PutDescendants("root", nil, want); err != nil {
		t.Fatalf("PutDescendants: %v", err)
	}
	got, ok := c.Descendants("root", nil)
	if !ok || len(got) != len(want) {
		t.Fatalf("Descendants(root, nil) = %v, %v; want %v, true", got, ok, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Descendants[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	max := 2
	if _, ok := c.Descendants("root", &max); ok {
		t.Fatal("a capped query must be cached under its own key")
	}
}

func TestInvalidateDropsMatchingEntries(t *testing.T) {
	c := newCache(t)
	if err := c.PutMergeBase("aaa", "bbb", "ccc"); err != nil {
		t.Fatalf("PutMergeBase: %v", err)
	}
	if err := c.PutDescendants("ccc", nil, []string{"ddd"}); err != nil {
		t.Fatalf("PutDescendants: %v", err)
	}
	if err := c.Invalidate("ccc"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := c.MergeBase("aaa", "bbb"); ok {
		t.Error("merge-base entry naming the invalidated hash should be gone")
	}
	if _, ok := c.Descendants("ccc", nil); ok {
		t.Error("descendants entry for the invalidated hash should be gone")
	}
}

func TestInvalidateLeavesUnrelatedEntries(t *testing.T) {
	c := newCache(t)
	if err := c.PutMergeBase("xxx", "yyy", "zzz"); err != nil {
		t.Fatalf("PutMergeBase: %v", err)
	}
	if err := c.Invalidate("unrelated"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := c.MergeBase("xxx", "yyy"); !ok {
		t.Error("unrelated entry should survive invalidation")
	}
}
