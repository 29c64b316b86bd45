// internal/commit/pipeline.go
package commit

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"strata/internal/errors"
	"strata/internal/ident"
	"strata/internal/index"
	"strata/internal/logging"
	"strata/internal/object"
	"strata/internal/refs"
	"strata/internal/tree"
	"strata/internal/validation"
)

type Request struct {
	Ref     ident.RefName
	Index   *index.Index
	Author  string
	Message string
	Now     time.Time
	// Parents overrides the parent list. Nil means "the ref's current value, if any".
	Parents []ident.CommitID
}

type Result struct {
	Commit  ident.CommitID
	Tree    ident.TreeID
	Parents []ident.CommitID
}

// Pipeline turns an Index into Tree and Commit objects and advances a branch.
type Pipeline struct {
	objects *object.Store
	refs    *refs.Store
	log     *zap.Logger
}

func NewPipeline(objects *object.Store, refStore *refs.Store, log *zap.Logger) *Pipeline {
	return &Pipeline{objects: objects, refs: refStore, log: logging.OrNop(log)}
}

func (p *Pipeline) Commit(req Request) (*Result, error) {
	if !req.Ref.IsBranch() {
		return nil, errors.ValidationError(fmt.Sprintf("commits can only advance branches, got %q", req.Ref), nil)
	}
	if req.Index == nil {
		return nil, errors.ValidationError("index is required", nil)
	}
	if err := validation.ValidateCommitInfo(req.Author, req.Message); err != nil {
		return nil, err
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	treeID, err := tree.Build(req.Index, p.objects)
	if err != nil {
		return nil, err
	}

	parents := req.Parents
	if parents == nil {
		parents, err = p.currentParents(req.Ref)
		if err != nil {
			return nil, err
		}
	}
	for _, parent := range parents {
		if !p.objects.Exists(parent.ObjectID) {
			return nil, errors.CommitNotFound(parent.String())
		}
	}

	commitID, err := p.objects.WriteCommit(&object.Commit{
		Tree:      treeID,
		Parents:   parents,
		Author:    req.Author,
		Message:   req.Message,
		Timestamp: req.Now,
	})
	if err != nil {
		return nil, err
	}

	if err := p.refs.WriteRef(req.Ref, commitID, false, p.objects); err != nil {
		return nil, err
	}
	if err := p.attachHead(req.Ref); err != nil {
		return nil, err
	}

	p.log.Info("commit created",
		zap.String("ref", req.Ref.String()),
		zap.String("commit", commitID.String()),
		zap.Int("files", req.Index.Len()),
		zap.Int("parents", len(parents)))

	return &Result{Commit: commitID, Tree: treeID, Parents: parents}, nil
}

func (p *Pipeline) currentParents(ref ident.RefName) ([]ident.CommitID, error) {
	current, err := p.refs.ReadRef(ref)
	if errors.Is(err, errors.KindRefNotFound) {
		return []ident.CommitID{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []ident.CommitID{current}, nil
}

// attachHead turns Unborn(ref) into Branch(ref) once ref has its first commit.
func (p *Pipeline) attachHead(ref ident.RefName) error {
	head, err := p.refs.ReadHead()
	if err != nil {
		return err
	}
	if head.Kind == refs.HeadUnborn && head.Ref == ref {
		return p.refs.WriteHead(refs.Branch(ref))
	}
	return nil
}

// Snapshot returns the files of the commit ref currently points at, or an empty
// snapshot for a branch with no commits.
func (p *Pipeline) Snapshot(ref ident.RefName) (tree.Snapshot, error) {
	current, err := p.refs.ReadRef(ref)
	if errors.Is(err, errors.KindRefNotFound) {
		return tree.Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	return tree.FlattenCommit(p.objects, current, p.log)
}
