package service

import (
	"fmt"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"strata/internal/auth"
	"strata/internal/checkout"
	"strata/internal/commit"
	"strata/internal/diff"
	"strata/internal/errors"
	"strata/internal/history"
	"strata/internal/ident"
	"strata/internal/index"
	"strata/internal/merge"
	"strata/internal/refs"
	"strata/internal/repo"
	"strata/internal/safepath"
	"strata/internal/tree"
)

// FileChange writes Content at Path, or removes Path when Delete is set.
type FileChange struct {
	Path    string
	Content []byte
	Delete  bool
}

type CommitRequest struct {
	Repo    ident.RepoID
	Branch  string // "" or "HEAD" commits to the branch HEAD names
	Changes []FileChange
	Author  string // defaults to the caller's subject
	Message string
}

// Commit layers Changes on top of the branch tip and advances the branch. Callers
// with path grants may only touch paths those grants cover.
func (s *Service) Commit(h http.Header, req CommitRequest) (*commit.Result, error) {
	claims, r, err := s.open(h, req.Repo, auth.PermWrite, "commit.create")
	if err != nil {
		return nil, err
	}
	branch, err := ResolveBranch(r, req.Branch)
	if err != nil {
		return nil, err
	}

	paths := make([]safepath.SafePath, len(req.Changes))
	for i, c := range req.Changes {
		p, err := safepath.Parse(c.Path)
		if err != nil {
			return nil, errors.ValidationError(fmt.Sprintf("invalid path %q", c.Path), err.Error())
		}
		if err := s.auth.CheckPathAccess(claims, req.Repo, p, "commit.create"); err != nil {
			return nil, err
		}
		paths[i] = p
	}

	pipeline := commit.NewPipeline(r.Objects, r.Refs, s.log.Named("commit"))
	parent, err := pipeline.Snapshot(branch)
	if err != nil {
		return nil, err
	}
	idx := index.FromSnapshot(parent)
	for i, c := range req.Changes {
		if c.Delete {
			if !idx.Remove(paths[i]) {
				return nil, errors.New(errors.KindObjectNotFound, "path %s is not in %s", paths[i], branch)
			}
			continue
		}
		blob, err := r.Objects.WriteBlob(c.Content)
		if err != nil {
			return nil, err
		}
		idx.Stage(paths[i], blob)
	}

	author := req.Author
	if author == "" {
		author = claims.Subject
	}
	return pipeline.Commit(commit.Request{
		Ref:     branch,
		Index:   idx,
		Author:  author,
		Message: req.Message,
		Now:     s.now(),
	})
}

// WriteRef moves a ref. Forced (non-fast-forward) updates need admin. Path-restricted
// callers may only move a ref across changes to paths they can write; a new ref counts
// every file of its target as changed.
func (s *Service) WriteRef(h http.Header, id ident.RepoID, name ident.RefName, target ident.CommitID, force bool) error {
	perm := auth.PermWrite
	if force {
		perm = auth.PermAdmin
	}
	claims, r, err := s.open(h, id, perm, "ref.write")
	if err != nil {
		return err
	}
	if claims.IsPathRestricted(id) {
		current, err := r.Refs.ReadRef(name)
		switch {
		case errors.Is(err, errors.KindRefNotFound):
			current = ident.CommitID{}
		case err != nil:
			return err
		}
		if err := s.checkChangedPaths(claims, r, id, current, target, "ref.write"); err != nil {
			return err
		}
	}
	if err := r.Refs.WriteRef(name, target, force, r.Objects); err != nil {
		return err
	}
	s.log.Info("ref written",
		zap.String("repo", id.String()),
		zap.String("ref", name.String()),
		zap.String("target", target.String()),
		zap.Bool("force", force),
		zap.String("subject", claims.Subject))
	return nil
}

// DeleteRef removes a ref. For path-restricted callers every file the ref points at
// counts as changed.
func (s *Service) DeleteRef(h http.Header, id ident.RepoID, name ident.RefName) error {
	claims, r, err := s.open(h, id, auth.PermWrite, "ref.delete")
	if err != nil {
		return err
	}
	if claims.IsPathRestricted(id) {
		current, err := r.Refs.ReadRef(name)
		if err != nil {
			return err
		}
		if err := s.checkChangedPaths(claims, r, id, current, ident.CommitID{}, "ref.delete"); err != nil {
			return err
		}
	}
	return r.Refs.DeleteRef(name)
}

// checkChangedPaths checks path access on every file that differs between two commits.
func (s *Service) checkChangedPaths(claims *auth.Claims, r *repo.Repository, id ident.RepoID, from, to ident.CommitID, action string) error {
	changed, err := diff.Compute(from, to, r.Objects, diff.Options{SkipContent: true, Logger: s.log})
	if err != nil {
		return err
	}
	for _, p := range changed.Paths() {
		if err := s.auth.CheckPathAccess(claims, id, p, action); err != nil {
			return err
		}
	}
	return nil
}

type RefEntry struct {
	Name   ident.RefName  `json:"name"`
	Target ident.CommitID `json:"target"`
}

// ListRefs returns every ref sorted by name.
func (s *Service) ListRefs(h http.Header, id ident.RepoID) ([]RefEntry, error) {
	_, r, err := s.open(h, id, auth.PermRead, "ref.list")
	if err != nil {
		return nil, err
	}
	all, err := r.Refs.ListRefs()
	if err != nil {
		return nil, err
	}
	out := make([]RefEntry, 0, len(all))
	for name, target := range all {
		out = append(out, RefEntry{Name: name, Target: target})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) ReadHead(h http.Header, id ident.RepoID) (refs.HeadState, error) {
	_, r, err := s.open(h, id, auth.PermRead, "head.read")
	if err != nil {
		return refs.HeadState{}, err
	}
	return r.Refs.ReadHead()
}

type CheckoutRequest struct {
	Repo     ident.RepoID
	Revision string
	// Name selects the working copy under the repository's checkouts/ directory.
	Name   string
	Policy checkout.Policy
}

// Checkout materializes a revision into checkouts/<Name>. Path-restricted callers
// may only check out revisions whose every file they can read.
func (s *Service) Checkout(h http.Header, req CheckoutRequest) (*checkout.Result, string, error) {
	claims, r, err := s.open(h, req.Repo, auth.PermWrite, "checkout")
	if err != nil {
		return nil, "", err
	}
	id, err := Resolve(r, req.Revision)
	if err != nil {
		return nil, "", err
	}
	if claims.IsPathRestricted(req.Repo) {
		snap, err := tree.FlattenCommit(r.Objects, id, s.log)
		if err != nil {
			return nil, "", err
		}
		for _, p := range snap.Paths() {
			if err := s.auth.CheckPathAccess(claims, req.Repo, p, "checkout"); err != nil {
				return nil, "", err
			}
		}
	}

	dir, err := r.CheckoutDir(req.Name)
	if err != nil {
		return nil, "", err
	}
	res, err := checkout.Materialize(id, r.Objects, dir, req.Policy, s.log.Named("checkout"))
	if err != nil {
		return nil, "", err
	}
	return res, dir, nil
}

// Diff compares two revisions. An empty from means the empty tree. Entries the caller
// cannot read are dropped.
func (s *Service) Diff(h http.Header, id ident.RepoID, from, to string) (*diff.Diff, error) {
	claims, r, err := s.open(h, id, auth.PermRead, "diff")
	if err != nil {
		return nil, err
	}
	var fromID ident.CommitID
	if from != "" {
		if fromID, err = Resolve(r, from); err != nil {
			return nil, err
		}
	}
	toID, err := Resolve(r, to)
	if err != nil {
		return nil, err
	}

	d, err := diff.Compute(fromID, toID, r.Objects, diff.Options{Logger: s.log})
	if err != nil {
		return nil, err
	}
	return d.Filter(func(e diff.Entry) bool {
		return claims.PathIsAccessible(id, e.Path)
	}), nil
}

type MergeRequest struct {
	Repo    ident.RepoID
	Into    string // branch receiving the merge
	From    string // revision being merged
	Message string
}

// Merge merges From into the branch Into and advances it. Path-restricted callers may
// only merge changes to paths they can write.
func (s *Service) Merge(h http.Header, req MergeRequest) (*merge.Result, error) {
	claims, r, err := s.open(h, req.Repo, auth.PermWrite, "merge")
	if err != nil {
		return nil, err
	}
	into, err := ResolveBranch(r, req.Into)
	if err != nil {
		return nil, err
	}
	ours, err := r.Refs.ReadRef(into)
	if err != nil {
		return nil, err
	}
	theirs, err := Resolve(r, req.From)
	if err != nil {
		return nil, err
	}

	if claims.IsPathRestricted(req.Repo) {
		if err := s.checkChangedPaths(claims, r, req.Repo, ours, theirs, "merge"); err != nil {
			return nil, err
		}
	}

	message := req.Message
	if message == "" {
		message = fmt.Sprintf("Merge %s into %s", req.From, into.Short())
	}
	engine := merge.NewEngine(r.Objects, r.Refs, s.log.Named("merge"))
	return engine.Perform(merge.Request{
		Ours:    ours,
		Theirs:  theirs,
		Ref:     into,
		Author:  claims.Subject,
		Message: message,
		Now:     s.now(),
	})
}

func (s *Service) Log(h http.Header, id ident.RepoID, rev string, opts history.Options) (*history.Page, error) {
	_, r, err := s.open(h, id, auth.PermRead, "log")
	if err != nil {
		return nil, err
	}
	start, err := Resolve(r, rev)
	if err != nil {
		return nil, err
	}
	return history.NewWalker(r.Objects).Log(start, opts)
}

// ReadBlob returns the content of path at rev.
func (s *Service) ReadBlob(h http.Header, id ident.RepoID, rev, path string) ([]byte, error) {
	claims, r, err := s.open(h, id, auth.PermRead, "blob.read")
	if err != nil {
		return nil, err
	}
	p, err := safepath.Parse(path)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid path %q", path), err.Error())
	}
	if err := s.auth.CheckPathAccess(claims, id, p, "blob.read"); err != nil {
		return nil, err
	}

	commitID, err := Resolve(r, rev)
	if err != nil {
		return nil, err
	}
	snap, err := tree.FlattenCommit(r.Objects, commitID, s.log)
	if err != nil {
		return nil, err
	}
	blobID, ok := snap[p]
	if !ok {
		return nil, errors.New(errors.KindObjectNotFound, "path %s not found at %s", p, rev)
	}
	b, err := r.Objects.ReadBlob(blobID)
	if err != nil {
		return nil, err
	}
	return b.Data, nil
}

// Repository loads a repository for callers that already authorized themselves,
// such as local tooling running as the repository owner.
func (s *Service) Repository(h http.Header, id ident.RepoID) (*repo.Repository, error) {
	_, r, err := s.open(h, id, auth.PermAdmin, "repo.open")
	return r, err
}
