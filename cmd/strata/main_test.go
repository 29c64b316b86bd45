package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/auth"
)

func setupTestEnv(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("STRATA_ROOT", filepath.Join(root, "repos"))
	t.Setenv("STRATA_AUTH_SECRET", "cli-test-secret")
	t.Setenv("STRATA_LOG_LEVEL", "error")
	t.Setenv("STRATA_TOKEN", "")
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, out)
	return out
}

func TestRepoCommands(t *testing.T) {
	setupTestEnv(t)

	out := mustRun(t, "repo", "create", "demo", "--description", "cli repo")
	assert.Contains(t, out, "Created repository demo")

	out = mustRun(t, "repo", "list")
	assert.Contains(t, out, "demo")

	out = mustRun(t, "repo", "update", "demo", "--name", "Demo Repo")
	assert.Contains(t, out, "Demo Repo")
	assert.Contains(t, out, "cli repo")

	out = mustRun(t, "repo", "show", "demo")
	assert.Contains(t, out, "Default branch: main")

	mustRun(t, "repo", "delete", "demo")
	_, err := run(t, "repo", "show", "demo")
	assert.Error(t, err)
}

func TestCommitLogDiffBranch(t *testing.T) {
	root := setupTestEnv(t)
	mustRun(t, "repo", "create", "demo")

	work := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(work, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(work, "a.txt"), []byte("one\n"), 0o644))
	mustRun(t, "commit", "-r", "demo", "-d", work, "-m", "first")

	mustRun(t, "branch", "-r", "demo", "feature")

	require.NoError(t, os.WriteFile(filepath.Join(work, "a.txt"), []byte("one\ntwo\n"), 0o644))
	mustRun(t, "commit", "-r", "demo", "-d", work, "-m", "second")

	out := mustRun(t, "log", "-r", "demo")
	assert.Equal(t, 2, strings.Count(out, "commit "))
	assert.Less(t, strings.Index(out, "second"), strings.Index(out, "first"))

	out = mustRun(t, "diff", "-r", "demo", "feature", "main")
	assert.Contains(t, out, "a/a.txt")
	assert.Contains(t, out, "+two")

	out = mustRun(t, "diff", "-r", "demo", "--stat", "feature", "main")
	assert.Contains(t, out, "+1")

	out = mustRun(t, "branch", "-r", "demo")
	assert.Contains(t, out, "* main")
	assert.Contains(t, out, "feature")

	out = mustRun(t, "merge", "-r", "demo", "--into", "feature", "main")
	assert.Contains(t, out, "Merged main")

	mustRun(t, "tag", "-r", "demo", "v1", "--at", "main")
	out = mustRun(t, "tag", "-r", "demo")
	assert.Contains(t, out, "v1")
}

func TestCheckoutArchiveFsck(t *testing.T) {
	root := setupTestEnv(t)
	mustRun(t, "repo", "create", "demo")

	work := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(filepath.Join(work, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(work, "docs", "guide.md"), []byte("guide"), 0o644))
	mustRun(t, "commit", "-r", "demo", "-d", work, "-m", "docs")

	out := mustRun(t, "checkout", "-r", "demo", "main", "--name", "wc", "--policy", "overwrite")
	assert.Contains(t, out, "1 written")

	archivePath := filepath.Join(root, "snap.tar.zst")
	mustRun(t, "archive", "export", "-r", "demo", "main", "-o", archivePath)
	dest := filepath.Join(root, "unpacked")
	mustRun(t, "archive", "extract", archivePath, dest)
	got, err := os.ReadFile(filepath.Join(dest, "docs", "guide.md"))
	require.NoError(t, err)
	assert.Equal(t, "guide", string(got))

	out = mustRun(t, "fsck", "-r", "demo")
	assert.Contains(t, out, "object(s) verified")
}

func TestTokenScopesAccess(t *testing.T) {
	setupTestEnv(t)
	mustRun(t, "repo", "create", "demo")
	mustRun(t, "repo", "create", "other")

	token := strings.TrimSpace(mustRun(t, "token", "--subject", "bob", "--grant", "demo=read"))
	require.NotEmpty(t, token)

	out := mustRun(t, "repo", "list", "--token", token)
	assert.Contains(t, out, "demo")
	assert.NotContains(t, out, "other")

	_, err := run(t, "repo", "delete", "demo", "--token", token)
	assert.Error(t, err)
}

func TestBuildClaims(t *testing.T) {
	claims, err := buildClaims("carol", []string{"*=admin", "demo=write"}, []string{"demo=docs", "demo=src/**/*.go"})
	require.NoError(t, err)
	require.Len(t, claims.Grants, 2)
	assert.Nil(t, claims.Grants[0].RepoID)
	assert.Equal(t, auth.PermAdmin, claims.Grants[0].Permission)
	assert.Equal(t, auth.PermWrite, claims.Grants[1].Permission)
	require.Len(t, claims.PathGrants, 1)
	assert.Equal(t, []string{"docs", "src/**/*.go"}, claims.PathGrants[0].AllowedPaths)

	for _, bad := range [][]string{{"demo"}, {"demo=owner"}, {"../x=read"}} {
		_, err := buildClaims("x", bad, nil)
		assert.Error(t, err, bad)
	}
	_, err = buildClaims("x", nil, []string{"demo="})
	assert.Error(t, err)
}
