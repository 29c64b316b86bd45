package tree

import (
	"fmt"

	"go.uber.org/zap"

	"strata/internal/ident"
	"strata/internal/object"
	"strata/internal/safepath"
)

type Reader interface {
	ReadTree(id ident.TreeID) (*object.Tree, error)
	ReadCommit(id ident.CommitID) (*object.Commit, error)
}

// Snapshot maps every file of a tree to its blob.
type Snapshot map[safepath.SafePath]ident.BlobID

type pending struct {
	prefix safepath.SafePath
	id     ident.TreeID
}

// Flatten expands a tree into a Snapshot with an explicit breadth-first worklist.
// Entries whose joined path is not a valid SafePath are skipped and logged.
func Flatten(r Reader, root ident.TreeID, log *zap.Logger) (Snapshot, error) {
	if log == nil {
		log = zap.NewNop()
	}
	out := Snapshot{}
	queue := []pending{{id: root}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		t, err := r.ReadTree(cur.id)
		if err != nil {
			return nil, fmt.Errorf("reading tree %s: %w", cur.id, err)
		}
		for _, e := range t.Entries {
			p, err := cur.prefix.Child(e.Name)
			if err != nil {
				log.Warn("skipping tree entry with unsafe path",
					zap.String("tree", cur.id.String()),
					zap.String("name", e.Name),
					zap.Error(err))
				continue
			}
			switch e.Kind {
			case object.EntryTree:
				queue = append(queue, pending{prefix: p, id: ident.TreeID{ObjectID: e.ID}})
			case object.EntryBlob:
				out[p] = ident.BlobID{ObjectID: e.ID}
			}
		}
	}
	return out, nil
}

// FlattenCommit flattens the root tree of a commit. The zero CommitID is the empty snapshot.
func FlattenCommit(r Reader, id ident.CommitID, log *zap.Logger) (Snapshot, error) {
	if id.IsZero() {
		return Snapshot{}, nil
	}
	c, err := r.ReadCommit(id)
	if err != nil {
		return nil, err
	}
	return Flatten(r, c.Tree, log)
}

// Paths returns the snapshot's paths sorted.
func (s Snapshot) Paths() []safepath.SafePath {
	paths := make([]safepath.SafePath, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sortPaths(paths)
	return paths
}
