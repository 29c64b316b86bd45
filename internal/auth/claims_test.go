package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/ident"
	"strata/internal/safepath"
)

func repoPtr(s string) *ident.RepoID {
	id := ident.RepoID(s)
	return &id
}

func TestPermissionImplies(t *testing.T) {
	tests := []struct {
		have, want Permission
		ok         bool
	}{
		{PermAdmin, PermWrite, true},
		{PermAdmin, PermRead, true},
		{PermWrite, PermRead, true},
		{PermRead, PermWrite, false},
		{PermWrite, PermAdmin, false},
		{Permission("repos:bogus"), PermRead, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.have)+">"+string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.have.Implies(tt.want))
		})
	}
}

func TestHasPermission(t *testing.T) {
	c := &Claims{Subject: "alice", Grants: []Grant{
		{RepoID: repoPtr("demo"), Permission: PermWrite},
	}}
	assert.True(t, c.HasPermission(repoPtr("demo"), PermRead))
	assert.True(t, c.HasPermission(repoPtr("demo"), PermWrite))
	assert.False(t, c.HasPermission(repoPtr("demo"), PermAdmin))
	assert.False(t, c.HasPermission(repoPtr("other"), PermRead))
	assert.False(t, c.HasPermission(nil, PermRead), "repo grant is not global")

	global := &Claims{Subject: "root", Grants: []Grant{{Permission: PermAdmin}}}
	assert.True(t, global.HasPermission(nil, PermAdmin))
	assert.True(t, global.HasPermission(repoPtr("anything"), PermWrite))
}

func TestIsValidAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&Claims{Subject: "a"}).IsValidAt(now))
	assert.True(t, (&Claims{Subject: "a", ExpiresAt: &future}).IsValidAt(now))
	assert.False(t, (&Claims{Subject: "a", ExpiresAt: &past}).IsValidAt(now))
	assert.False(t, (&Claims{}).IsValidAt(now))
	assert.False(t, (*Claims)(nil).IsValidAt(now))
}

func TestPathIsAccessible(t *testing.T) {
	c := &Claims{Subject: "bob", PathGrants: []PathGrant{
		{RepoID: "demo", AllowedPaths: []string{"src", "docs/**/*.md", "README.md"}},
	}}

	tests := []struct {
		repo string
		path string
		want bool
	}{
		{"demo", "src/main.go", true},
		{"demo", "src", true},
		{"demo", "srcfoo/x", false},
		{"demo", "docs/guide/intro.md", true},
		{"demo", "docs/guide/intro.txt", false},
		{"demo", "README.md", true},
		{"demo", "secret/key.pem", false},
		{"other", "secret/key.pem", true},
	}
	for _, tt := range tests {
		t.Run(tt.repo+"/"+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, c.PathIsAccessible(ident.RepoID(tt.repo), safepath.Must(tt.path)))
		})
	}
	assert.True(t, c.IsPathRestricted("demo"))
	assert.False(t, c.IsPathRestricted("other"))
}

func TestPathGlobsCompileOnce(t *testing.T) {
	pattern := "assets/**/*.png"
	globCache.Remove(pattern)

	c := &Claims{Subject: "bob", PathGrants: []PathGrant{{RepoID: "demo", AllowedPaths: []string{pattern, "[bad"}}}}
	assert.True(t, c.PathIsAccessible("demo", safepath.Must("assets/icons/a.png")))
	g, ok := globCache.Peek(pattern)
	require.True(t, ok)
	require.NotNil(t, g)
	assert.True(t, g.Match("assets/img/b.png"))

	assert.True(t, c.PathIsAccessible("demo", safepath.Must("assets/img/b.png")))
	assert.False(t, c.PathIsAccessible("demo", safepath.Must("assets/a.txt")))
	assert.True(t, globCache.Contains("[bad"))
}
