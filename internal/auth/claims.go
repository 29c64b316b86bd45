// internal/auth/claims.go
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"

	"strata/internal/ident"
	"strata/internal/safepath"
)

type Permission string

const (
	PermRead  Permission = "repos:read"
	PermWrite Permission = "repos:write"
	PermAdmin Permission = "repos:admin"
)

var permissionRank = map[Permission]int{
	PermRead:  1,
	PermWrite: 2,
	PermAdmin: 3,
}

func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if _, ok := permissionRank[p]; !ok {
		return "", fmt.Errorf("unknown permission %q", s)
	}
	return p, nil
}

// Implies reports whether holding p grants want. Admin implies write implies read.
func (p Permission) Implies(want Permission) bool {
	have, ok := permissionRank[p]
	if !ok {
		return false
	}
	need, ok := permissionRank[want]
	return ok && have >= need
}

// Grant gives Permission on one repository, or on every repository when RepoID is nil.
type Grant struct {
	RepoID     *ident.RepoID `json:"repo_id,omitempty"`
	Permission Permission    `json:"permission"`
}

// PathGrant restricts a subject to AllowedPaths within one repository. Each entry is a
// path prefix ("src" covers "src/a.go") or a glob ("docs/**/*.md").
type PathGrant struct {
	RepoID       ident.RepoID `json:"repo_id"`
	AllowedPaths []string     `json:"allowed_paths"`
}

// Claims are the verified identity of a caller.
type Claims struct {
	Subject    string      `json:"sub"`
	Grants     []Grant     `json:"grants"`
	PathGrants []PathGrant `json:"path_grants,omitempty"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
}

func (c *Claims) IsValidAt(now time.Time) bool {
	if c == nil || c.Subject == "" {
		return false
	}
	return c.ExpiresAt == nil || now.Before(*c.ExpiresAt)
}

// HasPermission checks perm on repo. A nil repo asks for global scope, which only
// global grants satisfy.
func (c *Claims) HasPermission(repo *ident.RepoID, perm Permission) bool {
	for _, g := range c.Grants {
		if !g.Permission.Implies(perm) {
			continue
		}
		if g.RepoID == nil {
			return true
		}
		if repo != nil && *g.RepoID == *repo {
			return true
		}
	}
	return false
}

// IsPathRestricted reports whether any path grant names repo.
func (c *Claims) IsPathRestricted(repo ident.RepoID) bool {
	for _, pg := range c.PathGrants {
		if pg.RepoID == repo {
			return true
		}
	}
	return false
}

// PathIsAccessible is true when no path grant names repo, or one of them covers path.
func (c *Claims) PathIsAccessible(repo ident.RepoID, path safepath.SafePath) bool {
	restricted := false
	for _, pg := range c.PathGrants {
		if pg.RepoID != repo {
			continue
		}
		restricted = true
		for _, allowed := range pg.AllowedPaths {
			if pathMatches(allowed, path) {
				return true
			}
		}
	}
	return !restricted
}

const globMeta = "*?[{"

// compiled path grant patterns; nil marks a pattern that does not compile.
var globCache, _ = lru.New[string, glob.Glob](512)

func compileGlob(pattern string) glob.Glob {
	if g, ok := globCache.Get(pattern); ok {
		return g
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		g = nil
	}
	globCache.Add(pattern, g)
	return g
}

func pathMatches(pattern string, path safepath.SafePath) bool {
	pattern = strings.TrimSuffix(pattern, "/")
	if strings.ContainsAny(pattern, globMeta) {
		g := compileGlob(pattern)
		if g == nil {
			return false
		}
		return g.Match(path.String())
	}
	prefix, err := safepath.Parse(pattern)
	if err != nil {
		return false
	}
	return path.HasPrefix(prefix)
}
