// internal/tree/build.go
package tree

import (
	"fmt"
	"sort"
	"strings"

	"strata/internal/errors"
	"strata/internal/ident"
	"strata/internal/index"
	"strata/internal/object"
	"strata/internal/safepath"
)

// Writer persists trees.
type Writer interface {
	WriteTree(t *object.Tree) (ident.TreeID, error)
}

type dirNode struct {
	files   map[string]ident.BlobID
	subdirs map[string]bool
}

func newDirNode() *dirNode {
	return &dirNode{files: map[string]ident.BlobID{}, subdirs: map[string]bool{}}
}

// Build writes one Tree per directory of idx, deepest directories first, and returns
// the root tree id. Equal indexes always produce equal ids. A path that is staged both
// as a file and as a directory prefix is a validation error.
func Build(idx *index.Index, w Writer) (ident.TreeID, error) {
	dirs := map[string]*dirNode{"": newDirNode()}

	for _, e := range idx.Entries() {
		segs := e.Path.Segments()
		parent := ""
		for _, seg := range segs[:len(segs)-1] {
			node := dirs[parent]
			if _, isFile := node.files[seg]; isFile {
				return ident.TreeID{}, fileDirCollision(join(parent, seg))
			}
			node.subdirs[seg] = true
			child := join(parent, seg)
			if dirs[child] == nil {
				dirs[child] = newDirNode()
			}
			parent = child
		}

		name := segs[len(segs)-1]
		node := dirs[parent]
		if node.subdirs[name] {
			return ident.TreeID{}, fileDirCollision(e.Path.String())
		}
		node.files[name] = e.Blob
	}

	order := make([]string, 0, len(dirs))
	for d := range dirs {
		order = append(order, d)
	}
	sort.Slice(order, func(i, j int) bool {
		di, dj := depth(order[i]), depth(order[j])
		if di != dj {
			return di > dj
		}
		return order[i] < order[j]
	})

	written := make(map[string]ident.TreeID, len(dirs))
	for _, d := range order {
		node := dirs[d]
		t := &object.Tree{Entries: make([]object.TreeEntry, 0, len(node.files)+len(node.subdirs))}
		for name, blob := range node.files {
			t.Entries = append(t.Entries, object.TreeEntry{Name: name, Kind: object.EntryBlob, ID: blob.ObjectID})
		}
		for name := range node.subdirs {
			sub, ok := written[join(d, name)]
			if !ok {
				return ident.TreeID{}, errors.Internal("building tree", fmt.Errorf("subtree %q not written", join(d, name)))
			}
			t.Entries = append(t.Entries, object.TreeEntry{Name: name, Kind: object.EntryTree, ID: sub.ObjectID})
		}

		id, err := w.WriteTree(t)
		if err != nil {
			return ident.TreeID{}, fmt.Errorf("writing tree %q: %w", d, err)
		}
		written[d] = id
	}
	return written[""], nil
}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func depth(dir string) int {
	if dir == "" {
		return 0
	}
	return strings.Count(dir, "/") + 1
}

func fileDirCollision(path string) error {
	return errors.ValidationError(fmt.Sprintf("path %q is staged as both a file and a directory", path), []string{path})
}

func sortPaths(paths []safepath.SafePath) {
	sort.Slice(paths, func(i, j int) bool { return safepath.Less(paths[i], paths[j]) })
}
