// internal/merge/merge.go
package merge

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
	"strata/internal/safepath"
	"strata/internal/tree"
	"strata/internal/validation"
)

type ConflictKind string

const (
	BothModified ConflictKind = "both-modified"
	BothAdded    ConflictKind = "both-added"
	ModifyDelete ConflictKind = "modify-delete" // ours modified, theirs deleted
	DeleteModify ConflictKind = "delete-modify" // ours deleted, theirs modified
)

// Conflict is one path the merge could not resolve. Zero blob ids mark an absent side.
type Conflict struct {
	Path   safepath.SafePath `json:"path"`
	Kind   ConflictKind      `json:"kind"`
	Base   ident.BlobID      `json:"base"`
	Ours   ident.BlobID      `json:"ours"`
	Theirs ident.BlobID      `json:"theirs"`
}

type Request struct {
	// Base overrides merge-base discovery.
	Base    *ident.CommitID
	Ours    ident.CommitID
	Theirs  ident.CommitID
	// Ref, when set, is advanced to the merge commit. It must point at Ours.
	Ref     ident.RefName
	Author  string
	Message string
	Now     time.Time
}

type Result struct {
	Commit    ident.CommitID
	Tree      ident.TreeID
	Base      *ident.CommitID
	UpToDate  bool
	Conflicts []Conflict
}

type Engine struct {
	objects *object.Store
	refs    *refs.Store
	log     *zap.Logger
}

func NewEngine(objects *object.Store, refStore *refs.Store, log *zap.Logger) *Engine {
	return &Engine{objects: objects, refs: refStore, log: logging.OrNop(log)}
}

// Perform merges Theirs into Ours. When any path conflicts, nothing is written and the
// returned error has kind MergeConflict with the conflicts as details; the Result still
// lists them.
func (e *Engine) Perform(req Request) (*Result, error) {
	for _, id := range []ident.CommitID{req.Ours, req.Theirs} {
		if !e.objects.Exists(id.ObjectID) {
			return nil, errors.CommitNotFound(id.String())
		}
	}

	upToDate, err := refs.IsAncestor(req.Theirs, req.Ours, e.objects)
	if err != nil {
		return nil, err
	}
	if upToDate {
		return &Result{Commit: req.Ours, UpToDate: true}, nil
	}

	base := req.Base
	if base == nil {
		found, ok, err := FindMergeBase(req.Ours, req.Theirs, e.objects)
		if err != nil {
			return nil, fmt.Errorf("finding merge base: %w", err)
		}
		if ok {
			base = &found
		}
	}

	var baseID ident.CommitID
	if base != nil {
		baseID = *base
	}
	baseSnap, err := tree.FlattenCommit(e.objects, baseID, e.log)
	if err != nil {
		return nil, err
	}
	ours, err := tree.FlattenCommit(e.objects, req.Ours, e.log)
	if err != nil {
		return nil, err
	}
	theirs, err := tree.FlattenCommit(e.objects, req.Theirs, e.log)
	if err != nil {
		return nil, err
	}

	merged, conflicts := ThreeWay(baseSnap, ours, theirs)
	if len(conflicts) > 0 {
		e.log.Info("merge has conflicts",
			zap.String("ours", req.Ours.String()),
			zap.String("theirs", req.Theirs.String()),
			zap.Int("conflicts", len(conflicts)))
		return &Result{Base: base, Conflicts: conflicts},
			errors.New(errors.KindMergeConflict, "merge has %d conflicting path(s)", len(conflicts)).WithDetails(conflicts)
	}

	if err := validation.ValidateCommitInfo(req.Author, req.Message); err != nil {
		return nil, err
	}
	if req.Ref != "" {
		current, err := e.refs.ReadRef(req.Ref)
		if err != nil {
			return nil, err
		}
		if current != req.Ours {
			return nil, errors.NonFastForward(req.Ref.String(), current.String(), req.Ours.String())
		}
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	treeID, err := tree.Build(index.FromSnapshot(merged), e.objects)
	if err != nil {
		return nil, err
	}
	commitID, err := e.objects.WriteCommit(&object.Commit{
		Tree:      treeID,
		Parents:   []ident.CommitID{req.Ours, req.Theirs},
		Author:    req.Author,
		Message:   req.Message,
		Timestamp: req.Now,
	})
	if err != nil {
		return nil, err
	}

	if req.Ref != "" {
		if err := e.refs.WriteRef(req.Ref, commitID, false, e.objects); err != nil {
			return nil, err
		}
	}

	e.log.Info("merge committed", zap.String("commit", commitID.String()), zap.String("ref", req.Ref.String()))
	return &Result{Commit: commitID, Tree: treeID, Base: base}, nil
}

type side struct {
	id      ident.BlobID
	present bool
}

func lookup(s tree.Snapshot, p safepath.SafePath) side {
	id, ok := s[p]
	return side{id: id, present: ok}
}

// ThreeWay merges snapshots path by path. A side that did not change from base yields
// to the other side, deletions included. Conflicts come back sorted by path.
func ThreeWay(base, ours, theirs tree.Snapshot) (tree.Snapshot, []Conflict) {
	union := tree.Snapshot{}
	for _, s := range []tree.Snapshot{base, ours, theirs} {
		for p, id := range s {
			union[p] = id
		}
	}

	merged := tree.Snapshot{}
	var conflicts []Conflict
	for _, p := range union.Paths() {
		b, o, t := lookup(base, p), lookup(ours, p), lookup(theirs, p)

		var result side
		switch {
		case o == t:
			result = o
		case o == b:
			result = t
		case t == b:
			result = o
		default:
			conflicts = append(conflicts, Conflict{
				Path:   p,
				Kind:   classify(b, o, t),
				Base:   b.id,
				Ours:   o.id,
				Theirs: t.id,
			})
			continue
		}
		if result.present {
			merged[p] = result.id
		}
	}
	return merged, conflicts
}

func classify(b, o, t side) ConflictKind {
	switch {
	case !b.present:
		return BothAdded
	case !t.present:
		return ModifyDelete
	case !o.present:
		return DeleteModify
	default:
		return BothModified
	}
}
