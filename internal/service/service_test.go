package service

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/auth"
	"strata/internal/checkout"
	"strata/internal/diff"
	"strata/internal/errors"
	"strata/internal/history"
	"strata/internal/ident"
	"strata/internal/repo"
	"strata/internal/safepath"
)

var testSecret = []byte("strata-test")

type fixture struct {
	svc   *Service
	audit *auth.MemoryAudit
	root  string
	clock time.Time
}

func setupTestService(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	reg, err := repo.NewRegistry(root, repo.Options{})
	require.NoError(t, err)

	f := &fixture{audit: auth.NewMemoryAudit(), root: root, clock: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	tick := func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	authSvc := auth.NewService(auth.Options{Verifier: auth.NewHMACVerifier(testSecret), Audit: f.audit})
	f.svc = New(Options{Registry: reg, Auth: authSvc, Clock: tick})
	return f
}

func token(t *testing.T, c auth.Claims) http.Header {
	t.Helper()
	signed, err := auth.Sign(testSecret, c, time.Now())
	require.NoError(t, err)
	h := http.Header{}
	h.Set("Authorization", "Bearer "+signed)
	return h
}

func repoPtr(id string) *ident.RepoID {
	r := ident.RepoID(id)
	return &r
}

func admin(t *testing.T) http.Header {
	return token(t, auth.Claims{Subject: "root", Grants: []auth.Grant{{Permission: auth.PermAdmin}}})
}

func writer(t *testing.T, repo string) http.Header {
	return token(t, auth.Claims{Subject: "alice", Grants: []auth.Grant{{RepoID: repoPtr(repo), Permission: auth.PermWrite}}})
}

func reader(t *testing.T, repo string) http.Header {
	return token(t, auth.Claims{Subject: "bob", Grants: []auth.Grant{{RepoID: repoPtr(repo), Permission: auth.PermRead}}})
}

func createDemo(t *testing.T, f *fixture) {
	t.Helper()
	_, err := f.svc.CreateRepo(admin(t), "demo", "Demo", "test repo")
	require.NoError(t, err)
}

func TestRepoLifecycle(t *testing.T) {
	f := setupTestService(t)

	_, err := f.svc.CreateRepo(writer(t, "demo"), "demo", "Demo", "")
	assert.True(t, errors.Is(err, errors.KindPermissionDenied))

	createDemo(t, f)
	_, err = f.svc.CreateRepo(admin(t), "other", "Other", "")
	require.NoError(t, err)

	meta, err := f.svc.GetRepo(reader(t, "demo"), "demo")
	require.NoError(t, err)
	assert.Equal(t, "Demo", meta.Name)

	_, err = f.svc.GetRepo(reader(t, "demo"), "other")
	assert.True(t, errors.Is(err, errors.KindPermissionDenied))

	visible, err := f.svc.ListRepos(reader(t, "demo"))
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, ident.RepoID("demo"), visible[0].ID)

	all, err := f.svc.ListRepos(admin(t))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	updated, err := f.svc.UpdateRepo(admin(t), "demo", "Renamed", "new")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	require.NoError(t, f.svc.DeleteRepo(admin(t), "other"))
	_, err = f.svc.GetRepo(admin(t), "other")
	assert.True(t, errors.Is(err, errors.KindRepoNotFound))
}

func TestCommitAndLog(t *testing.T) {
	f := setupTestService(t)
	createDemo(t, f)
	h := writer(t, "demo")

	first, err := f.svc.Commit(h, CommitRequest{
		Repo:    "demo",
		Changes: []FileChange{{Path: "README.md", Content: []byte("hello\n")}, {Path: "src/main.go", Content: []byte("package main\n")}},
		Message: "initial",
	})
	require.NoError(t, err)
	assert.Empty(t, first.Parents)

	second, err := f.svc.Commit(h, CommitRequest{
		Repo:    "demo",
		Branch:  "main",
		Changes: []FileChange{{Path: "README.md", Delete: true}},
		Message: "drop readme",
	})
	require.NoError(t, err)
	assert.Equal(t, []ident.CommitID{first.Commit}, second.Parents)

	page, err := f.svc.Log(reader(t, "demo"), "demo", "HEAD", history.Options{})
	require.NoError(t, err)
	require.Len(t, page.Commits, 2)
	assert.Equal(t, second.Commit, page.Commits[0].ID)
	assert.Equal(t, "alice", page.Commits[0].Commit.Author)

	data, err := f.svc.ReadBlob(reader(t, "demo"), "demo", "main", "src/main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))

	_, err = f.svc.ReadBlob(reader(t, "demo"), "demo", "main", "README.md")
	assert.True(t, errors.Is(err, errors.KindObjectNotFound))

	_, err = f.svc.Commit(reader(t, "demo"), CommitRequest{Repo: "demo", Changes: []FileChange{{Path: "x", Content: []byte("x")}}, Message: "nope"})
	assert.True(t, errors.Is(err, errors.KindPermissionDenied))
}

func TestCommitRejectsBadInput(t *testing.T) {
	f := setupTestService(t)
	createDemo(t, f)
	h := writer(t, "demo")

	_, err := f.svc.Commit(h, CommitRequest{Repo: "demo", Changes: []FileChange{{Path: "../etc/passwd", Content: []byte("x")}}, Message: "m"})
	assert.True(t, errors.Is(err, errors.KindValidation))

	_, err = f.svc.Commit(h, CommitRequest{Repo: "demo", Changes: []FileChange{{Path: "missing", Delete: true}}, Message: "m"})
	assert.True(t, errors.Is(err, errors.KindObjectNotFound))
}

func TestPathRestrictedCaller(t *testing.T) {
	f := setupTestService(t)
	createDemo(t, f)
	_, err := f.svc.Commit(writer(t, "demo"), CommitRequest{
		Repo:    "demo",
		Changes: []FileChange{{Path: "docs/guide.md", Content: []byte("guide")}, {Path: "src/app.go", Content: []byte("app")}},
		Message: "seed",
	})
	require.NoError(t, err)

	docs := token(t, auth.Claims{
		Subject:    "carol",
		Grants:     []auth.Grant{{RepoID: repoPtr("demo"), Permission: auth.PermWrite}},
		PathGrants: []auth.PathGrant{{RepoID: "demo", AllowedPaths: []string{"docs"}}},
	})

	_, err = f.svc.Commit(docs, CommitRequest{Repo: "demo", Changes: []FileChange{{Path: "docs/more.md", Content: []byte("more")}}, Message: "docs"})
	require.NoError(t, err)

	_, err = f.svc.Commit(docs, CommitRequest{Repo: "demo", Changes: []FileChange{{Path: "src/app.go", Content: []byte("hack")}}, Message: "src"})
	assert.True(t, errors.Is(err, errors.KindPermissionDenied))

	_, err = f.svc.ReadBlob(docs, "demo", "main", "src/app.go")
	assert.True(t, errors.Is(err, errors.KindPermissionDenied))

	d, err := f.svc.Diff(docs, "demo", "", "main")
	require.NoError(t, err)
	for _, e := range d.Entries {
		assert.True(t, e.Path.HasPrefix(safepath.Must("docs")), e.Path.String())
	}
	assert.Len(t, d.Entries, 2)

	_, _, err = f.svc.Checkout(docs, CheckoutRequest{Repo: "demo", Revision: "main", Name: "wc", Policy: checkout.PolicyOverwrite})
	assert.True(t, errors.Is(err, errors.KindPermissionDenied))

	denied, err := f.audit.List(auth.Filter{Subject: "carol", Outcome: auth.Denied})
	require.NoError(t, err)
	assert.NotEmpty(t, denied)
}

func TestRefs(t *testing.T) {
	f := setupTestService(t)
	createDemo(t, f)
	h := writer(t, "demo")

	first, err := f.svc.Commit(h, CommitRequest{Repo: "demo", Changes: []FileChange{{Path: "a", Content: []byte("1")}}, Message: "one"})
	require.NoError(t, err)
	second, err := f.svc.Commit(h, CommitRequest{Repo: "demo", Changes: []FileChange{{Path: "a", Content: []byte("2")}}, Message: "two"})
	require.NoError(t, err)

	tag := ident.RefName("tags/v1")
	require.NoError(t, f.svc.WriteRef(h, "demo", tag, first.Commit, false))

	require.NoError(t, f.svc.WriteRef(h, "demo", tag, second.Commit, false))
	// back to first is not a fast-forward
	err = f.svc.WriteRef(h, "demo", tag, first.Commit, false)
	assert.True(t, errors.Is(err, errors.KindNonFastForward))

	err = f.svc.WriteRef(h, "demo", tag, first.Commit, true)
	assert.True(t, errors.Is(err, errors.KindPermissionDenied))
	require.NoError(t, f.svc.WriteRef(admin(t), "demo", tag, first.Commit, true))

	list, err := f.svc.ListRefs(reader(t, "demo"), "demo")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ident.RefName("heads/main"), list[0].Name)
	assert.Equal(t, second.Commit, list[0].Target)
	assert.Equal(t, tag, list[1].Name)
	assert.Equal(t, first.Commit, list[1].Target)

	head, err := f.svc.ReadHead(reader(t, "demo"), "demo")
	require.NoError(t, err)
	assert.Equal(t, ident.RefName("heads/main"), head.Ref)

	resolved, err := f.svc.Log(reader(t, "demo"), "demo", "v1", history.Options{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, first.Commit, resolved.Commits[0].ID)

	require.NoError(t, f.svc.DeleteRef(h, "demo", tag))
	_, err = f.svc.Log(reader(t, "demo"), "demo", "v1", history.Options{})
	assert.True(t, errors.Is(err, errors.KindRefNotFound))
}

func TestPathRestrictedRefs(t *testing.T) {
	f := setupTestService(t)
	createDemo(t, f)
	w := writer(t, "demo")
	seed, err := f.svc.Commit(w, CommitRequest{
		Repo:    "demo",
		Changes: []FileChange{{Path: "docs/guide.md", Content: []byte("guide")}, {Path: "src/app.go", Content: []byte("app")}},
		Message: "seed",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.WriteRef(w, "demo", "heads/rewrite", seed.Commit, false))
	rewrite, err := f.svc.Commit(w, CommitRequest{Repo: "demo", Branch: "rewrite", Changes: []FileChange{{Path: "src/app.go", Content: []byte("evil")}}, Message: "src"})
	require.NoError(t, err)
	require.NoError(t, f.svc.WriteRef(w, "demo", "heads/guide", seed.Commit, false))
	guide, err := f.svc.Commit(w, CommitRequest{Repo: "demo", Branch: "guide", Changes: []FileChange{{Path: "docs/guide.md", Content: []byte("better")}}, Message: "docs"})
	require.NoError(t, err)

	docs := token(t, auth.Claims{
		Subject:    "carol",
		Grants:     []auth.Grant{{RepoID: repoPtr("demo"), Permission: auth.PermWrite}},
		PathGrants: []auth.PathGrant{{RepoID: "demo", AllowedPaths: []string{"docs"}}},
	})

	t.Run("fast-forward over other paths", func(t *testing.T) {
		err := f.svc.WriteRef(docs, "demo", "heads/main", rewrite.Commit, false)
		assert.True(t, errors.Is(err, errors.KindPermissionDenied))

		got, err := f.svc.ReadBlob(w, "demo", "main", "src/app.go")
		require.NoError(t, err)
		assert.Equal(t, "app", string(got))
	})

	t.Run("fast-forward over own paths", func(t *testing.T) {
		require.NoError(t, f.svc.WriteRef(docs, "demo", "heads/main", guide.Commit, false))
		got, err := f.svc.ReadBlob(docs, "demo", "main", "docs/guide.md")
		require.NoError(t, err)
		assert.Equal(t, "better", string(got))
	})

	t.Run("new ref covers every file", func(t *testing.T) {
		err := f.svc.WriteRef(docs, "demo", "heads/mine", guide.Commit, false)
		assert.True(t, errors.Is(err, errors.KindPermissionDenied))
	})

	t.Run("delete", func(t *testing.T) {
		err := f.svc.DeleteRef(docs, "demo", "heads/rewrite")
		assert.True(t, errors.Is(err, errors.KindPermissionDenied))
		require.NoError(t, f.svc.DeleteRef(w, "demo", "heads/rewrite"))
	})
}

func TestMergeBranches(t *testing.T) {
	f := setupTestService(t)
	createDemo(t, f)
	h := writer(t, "demo")

	base, err := f.svc.Commit(h, CommitRequest{Repo: "demo", Changes: []FileChange{{Path: "shared.txt", Content: []byte("base")}}, Message: "base"})
	require.NoError(t, err)
	require.NoError(t, f.svc.WriteRef(h, "demo", "heads/feature", base.Commit, false))

	_, err = f.svc.Commit(h, CommitRequest{Repo: "demo", Branch: "feature", Changes: []FileChange{{Path: "feature.txt", Content: []byte("f")}}, Message: "feature"})
	require.NoError(t, err)
	_, err = f.svc.Commit(h, CommitRequest{Repo: "demo", Branch: "main", Changes: []FileChange{{Path: "main.txt", Content: []byte("m")}}, Message: "main"})
	require.NoError(t, err)

	res, err := f.svc.Merge(h, MergeRequest{Repo: "demo", Into: "main", From: "feature"})
	require.NoError(t, err)
	require.NotNil(t, res.Base)
	assert.Equal(t, base.Commit, *res.Base)

	for _, p := range []string{"shared.txt", "feature.txt", "main.txt"} {
		_, err := f.svc.ReadBlob(h, "demo", "main", p)
		assert.NoError(t, err, p)
	}

	again, err := f.svc.Merge(h, MergeRequest{Repo: "demo", Into: "main", From: "feature"})
	require.NoError(t, err)
	assert.True(t, again.UpToDate)
}

func TestMergeConflict(t *testing.T) {
	f := setupTestService(t)
	createDemo(t, f)
	h := writer(t, "demo")

	base, err := f.svc.Commit(h, CommitRequest{Repo: "demo", Changes: []FileChange{{Path: "f.txt", Content: []byte("base")}}, Message: "base"})
	require.NoError(t, err)
	require.NoError(t, f.svc.WriteRef(h, "demo", "heads/topic", base.Commit, false))
	_, err = f.svc.Commit(h, CommitRequest{Repo: "demo", Branch: "topic", Changes: []FileChange{{Path: "f.txt", Content: []byte("theirs")}}, Message: "t"})
	require.NoError(t, err)
	ours, err := f.svc.Commit(h, CommitRequest{Repo: "demo", Changes: []FileChange{{Path: "f.txt", Content: []byte("ours")}}, Message: "o"})
	require.NoError(t, err)

	res, err := f.svc.Merge(h, MergeRequest{Repo: "demo", Into: "main", From: "topic"})
	assert.True(t, errors.Is(err, errors.KindMergeConflict))
	require.NotNil(t, res)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "f.txt", res.Conflicts[0].Path.String())

	page, err := f.svc.Log(h, "demo", "main", history.Options{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, ours.Commit, page.Commits[0].ID, "conflicting merge leaves the branch alone")
}

func TestCheckoutAndDiff(t *testing.T) {
	f := setupTestService(t)
	createDemo(t, f)
	h := writer(t, "demo")

	one, err := f.svc.Commit(h, CommitRequest{Repo: "demo", Changes: []FileChange{{Path: "a.txt", Content: []byte("a\n")}}, Message: "one"})
	require.NoError(t, err)
	_, err = f.svc.Commit(h, CommitRequest{Repo: "demo", Changes: []FileChange{{Path: "a.txt", Content: []byte("a\nb\n")}, {Path: "dir/c.txt", Content: []byte("c")}}, Message: "two"})
	require.NoError(t, err)

	d, err := f.svc.Diff(reader(t, "demo"), "demo", one.Commit.String(), "main")
	require.NoError(t, err)
	require.Len(t, d.Entries, 2)
	assert.Equal(t, diff.Modified, d.Entries[0].Kind)
	require.NotNil(t, d.Entries[0].Stats)
	assert.Equal(t, 1, d.Entries[0].Stats.Additions)
	assert.Equal(t, diff.Added, d.Entries[1].Kind)

	_, _, err = f.svc.Checkout(reader(t, "demo"), CheckoutRequest{Repo: "demo", Revision: "main", Name: "wc"})
	assert.True(t, errors.Is(err, errors.KindPermissionDenied))

	res, dir, err := f.svc.Checkout(h, CheckoutRequest{Repo: "demo", Revision: "main", Name: "wc", Policy: checkout.PolicyOverwrite})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesWritten)
	assert.Equal(t, filepath.Join(f.root, "demo", "checkouts", "wc"), dir)

	got, err := os.ReadFile(filepath.Join(dir, "dir", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "c", string(got))
}

func joinPaths(paths []safepath.SafePath) string {
	parts := make([]string, len(paths))
	for i, p := range paths {
		parts[i] = p.String()
	}
	return strings.Join(parts, " ")
}
