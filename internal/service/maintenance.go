package service

import (
	"io"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"strata/internal/archive"
	"strata/internal/auth"
	"strata/internal/commit"
	"strata/internal/content"
	"strata/internal/diff"
	"strata/internal/errors"
	"strata/internal/ident"
	"strata/internal/tree"
)

type CommitDirRequest struct {
	Repo    ident.RepoID
	Branch  string
	Dir     string
	Ignore  []string
	Author  string
	Message string
}

// CommitDir commits the contents of a local directory as the next state of a branch.
// Files missing from Dir are deleted. Path-restricted callers may only change paths
// they can write.
func (s *Service) CommitDir(h http.Header, req CommitDirRequest) (*commit.Result, error) {
	claims, r, err := s.open(h, req.Repo, auth.PermWrite, "commit.create")
	if err != nil {
		return nil, err
	}
	branch, err := ResolveBranch(r, req.Branch)
	if err != nil {
		return nil, err
	}

	scanner, err := content.NewScanner(r.Objects, content.Options{Ignore: req.Ignore, Logger: s.log})
	if err != nil {
		return nil, errors.ValidationError("invalid ignore pattern", err.Error())
	}
	idx, err := scanner.Scan(req.Dir)
	if err != nil {
		return nil, err
	}

	pipeline := commit.NewPipeline(r.Objects, r.Refs, s.log.Named("commit"))
	parent, err := pipeline.Snapshot(branch)
	if err != nil {
		return nil, err
	}
	if claims.IsPathRestricted(req.Repo) {
		next := make(tree.Snapshot, idx.Len())
		for _, e := range idx.Entries() {
			next[e.Path] = e.Blob
		}
		changed, err := diff.CompareSnapshots(parent, next, r.Objects, diff.Options{SkipContent: true, Logger: s.log})
		if err != nil {
			return nil, err
		}
		for _, e := range changed {
			if err := s.auth.CheckPathAccess(claims, req.Repo, e.Path, "commit.create"); err != nil {
				return nil, err
			}
		}
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

// Archive writes rev as a tar.zst stream. Path-restricted callers cannot export.
func (s *Service) Archive(h http.Header, id ident.RepoID, rev string, w io.Writer, opts archive.Options) (*archive.Summary, error) {
	claims, r, err := s.open(h, id, auth.PermRead, "archive")
	if err != nil {
		return nil, err
	}
	if claims.IsPathRestricted(id) {
		return nil, errors.PermissionDenied("archive requires unrestricted read access")
	}
	commitID, err := Resolve(r, rev)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = s.log
	}
	return archive.Export(commitID, r.Objects, w, opts)
}

// FsckReport lists integrity problems found in one repository.
type FsckReport struct {
	Objects  int              `json:"objects"`
	Corrupt  []ident.ObjectID `json:"corrupt,omitempty"`
	Dangling []string         `json:"dangling_refs,omitempty"`
}

func (r *FsckReport) OK() bool {
	return len(r.Corrupt) == 0 && len(r.Dangling) == 0
}

// Fsck re-hashes every object and checks that every ref names a readable commit.
// It reloads the repository first so ref checks read from disk, not a warm cache.
func (s *Service) Fsck(h http.Header, id ident.RepoID) (*FsckReport, error) {
	if _, err := s.auth.RequirePermission(h, &id, auth.PermAdmin, "fsck"); err != nil {
		return nil, err
	}
	s.registry.Evict(id)
	r, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}

	report := &FsckReport{}
	err = r.Objects.Walk(func(oid ident.ObjectID) error {
		report.Objects++
		if err := r.Objects.Verify(oid); err != nil {
			if !errors.Is(err, errors.KindCorruptObject) {
				return err
			}
			report.Corrupt = append(report.Corrupt, oid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	all, err := r.Refs.ListRefs()
	if err != nil {
		return nil, err
	}
	for name, target := range all {
		c, err := r.Objects.ReadCommit(target)
		if err == nil {
			_, err = tree.Flatten(r.Objects, c.Tree, s.log)
		}
		if err != nil {
			s.log.Warn("broken ref", zap.String("ref", name.String()), zap.Error(err))
			report.Dangling = append(report.Dangling, name.String())
		}
	}
	sort.Strings(report.Dangling)
	return report, nil
}

// AuditEntries returns audit entries matching filter. Requires global admin.
func (s *Service) AuditEntries(h http.Header, filter auth.Filter) ([]auth.Entry, error) {
	if _, err := s.auth.RequirePermission(h, nil, auth.PermAdmin, "audit.list"); err != nil {
		return nil, err
	}
	return s.auth.Audit().List(filter)
}
