package rawrepo_test

import (
	"testing"

	"github.com/tolelom/repochain/rawrepo"
)

func openTestRepo(t *testing.T) *rawrepo.Repository {
	t.Helper()
	repo, err := rawrepo.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestInitOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	repo, err := rawrepo.Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	repo.Close()

	reopened, err := rawrepo.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
}

func TestInitTwiceFails(t *testing.T) {
	dir := t.TempDir()
	if _, err := rawrepo.Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, err := rawrepo.Init(dir)
	if _, ok := err.(*rawrepo.AlreadyExistsError); !ok {
		t.Fatalf("expected *AlreadyExistsError, got %v (%T)", err, err)
	}
}

func TestOpenMissingFails(t *testing.T) {
	_, err := rawrepo.Open(t.TempDir())
	if _, ok := err.(*rawrepo.NotFoundError); !ok {
		t.Fatalf("expected *NotFoundError, got %v (%T)", err, err)
	}
}

func TestCreateCommitAndSemanticCommitRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	first, err := repo.CreateCommit("root", nil)
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}

	sc := rawrepo.SemanticCommit{Title: "genesis", Body: []byte(`{"kind":"genesis"}`), ReservedState: []byte(`{"quorum":1}`)}
	hash, err := repo.CreateSemanticCommit(sc)
	if err != nil {
		t.Fatalf("CreateSemanticCommit: %v", err)
	}
	if hash == first {
		t.Fatal("semantic commit must be a new commit, not the same as root")
	}

	got, err := repo.ReadSemanticCommit(hash)
	if err != nil {
		t.Fatalf("ReadSemanticCommit: %v", err)
	}
	if got.Title != sc.Title {
		t.Errorf("title = %q, want %q", got.Title, sc.Title)
	}
	if string(got.Body) != string(sc.Body) {
		t.Errorf("body = %q, want %q", got.Body, sc.Body)
	}
	if string(got.ReservedState) != string(sc.ReservedState) {
		t.Errorf("reserved state = %q, want %q", got.ReservedState, sc.ReservedState)
	}
}

func TestBranchLifecycle(t *testing.T) {
	repo := openTestRepo(t)
	root, err := repo.CreateCommit("root", nil)
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	if err := repo.CreateBranch("work", root); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	tip, err := repo.LocateBranch("work")
	if err != nil {
		t.Fatalf("LocateBranch: %v", err)
	}
	if tip != root {
		t.Fatalf("LocateBranch = %s, want %s", tip, root)
	}
	if err := repo.DeleteBranch("work"); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	if _, err := repo.LocateBranch("work"); err == nil {
		t.Fatal("expected LocateBranch to fail after DeleteBranch")
	}
}

func TestDeleteBranchRefusesCheckedOutBranch(t *testing.T) {
	repo := openTestRepo(t)
	root, err := repo.CreateCommit("root", nil)
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	if err := repo.CreateBranch("work", root); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := repo.Checkout("work"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	err = repo.DeleteBranch("work")
	if _, ok := err.(*rawrepo.CheckedOutError); !ok {
		t.Fatalf("expected *CheckedOutError, got %v (%T)", err, err)
	}
}

func TestFindMergeBaseAndListAncestors(t *testing.T) {
	repo := openTestRepo(t)
	root, err := repo.CreateCommit("root", nil)
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	mid, err := repo.CreateCommit("mid", nil)
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	tip, err := repo.CreateCommit("tip", nil)
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}

	base, err := repo.FindMergeBase(tip, root)
	if err != nil {
		t.Fatalf("FindMergeBase: %v", err)
	}
	if base != root {
		t.Fatalf("FindMergeBase(tip, root) = %s, want %s", base, root)
	}

	// second call should hit the ancestry cache and return the same answer
	base2, err := repo.FindMergeBase(tip, root)
	if err != nil {
		t.Fatalf("FindMergeBase (cached): %v", err)
	}
	if base2 != root {
		t.Fatalf("cached FindMergeBase(tip, root) = %s, want %s", base2, root)
	}

	ancestors, err := repo.ListAncestors(tip, nil)
	if err != nil {
		t.Fatalf("ListAncestors: %v", err)
	}
	if len(ancestors) != 2 || ancestors[0] != mid || ancestors[1] != root {
		t.Fatalf("ListAncestors(tip) = %v, want [%s %s]", ancestors, mid, root)
	}

	descendants, err := repo.ListDescendants(root, nil)
	if err != nil {
		t.Fatalf("ListDescendants: %v", err)
	}
	if len(descendants) != 2 || descendants[0] != mid || descendants[1] != tip {
		t.Fatalf("ListDescendants(root) = %v, want [%s %s]", descendants, mid, tip)
	}
}

func TestGetInitialCommit(t *testing.T) {
	repo := openTestRepo(t)
	root, err := repo.CreateCommit("root", nil)
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	if _, err := repo.CreateCommit("second", nil); err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	initial, err := repo.GetInitialCommit()
	if err != nil {
		t.Fatalf("GetInitialCommit: %v", err)
	}
	if initial != root {
		t.Fatalf("GetInitialCommit = %s, want %s", initial, root)
	}
}
