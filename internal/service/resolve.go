package service

import (
	"fmt"

	"strata/internal/errors"
	"strata/internal/ident"
	"strata/internal/refs"
	"strata/internal/repo"
)

// Resolve turns a revision into a commit id. Accepted forms: a full commit id,
// "HEAD", a full ref name ("heads/main") or a short branch or tag name.
func Resolve(r *repo.Repository, rev string) (ident.CommitID, error) {
	if id, err := ident.ParseCommitID(rev); err == nil {
		if !r.Objects.Exists(id.ObjectID) {
			return ident.CommitID{}, errors.CommitNotFound(rev)
		}
		return id, nil
	}

	if rev == "HEAD" {
		head, err := r.Refs.ReadHead()
		if err != nil {
			return ident.CommitID{}, err
		}
		if head.Kind == refs.HeadUnborn {
			return ident.CommitID{}, errors.RefNotFound(head.Ref.String())
		}
		return r.Refs.ReadRef(head.Ref)
	}

	if name, err := ident.ParseRefName(rev); err == nil {
		return r.Refs.ReadRef(name)
	}

	for _, candidate := range []string{ident.HeadsPrefix + rev, ident.TagsPrefix + rev} {
		name, err := ident.ParseRefName(candidate)
		if err != nil {
			continue
		}
		id, err := r.Refs.ReadRef(name)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, errors.KindRefNotFound) {
			return ident.CommitID{}, err
		}
	}
	return ident.CommitID{}, errors.RefNotFound(fmt.Sprintf("revision %s", rev))
}

// ResolveBranch accepts "heads/x", "x" or "HEAD" and returns the branch ref.
func ResolveBranch(r *repo.Repository, name string) (ident.RefName, error) {
	if name == "" || name == "HEAD" {
		head, err := r.Refs.ReadHead()
		if err != nil {
			return "", err
		}
		return head.Ref, nil
	}
	if ref, err := ident.ParseRefName(name); err == nil {
		if !ref.IsBranch() {
			return "", errors.ValidationError(fmt.Sprintf("%s is not a branch", name), nil)
		}
		return ref, nil
	}
	ref, err := ident.Branch(name)
	if err != nil {
		return "", errors.ValidationError(fmt.Sprintf("invalid branch name %q", name), err.Error())
	}
	return ref, nil
}
