// internal/index/index.go
package index

import (
	"sort"

	"strata/internal/ident"
	"strata/internal/safepath"
)

// Index stages path -> blob mappings for a single commit. Keys are unique and the
// last Stage for a path wins. Not safe for concurrent use.
type Index struct {
	entries map[safepath.SafePath]ident.BlobID
}

type Entry struct {
	Path safepath.SafePath
	Blob ident.BlobID
}

func New() *Index {
	return &Index{entries: make(map[safepath.SafePath]ident.BlobID)}
}

// FromSnapshot seeds an index from a flattened tree so changes can be layered on a parent.
func FromSnapshot(snapshot map[safepath.SafePath]ident.BlobID) *Index {
	idx := New()
	for p, b := range snapshot {
		idx.entries[p] = b
	}
	return idx
}

func (i *Index) Stage(path safepath.SafePath, blob ident.BlobID) {
	i.entries[path] = blob
}

// Remove unstages path and reports whether it was present.
func (i *Index) Remove(path safepath.SafePath) bool {
	_, ok := i.entries[path]
	delete(i.entries, path)
	return ok
}

func (i *Index) Get(path safepath.SafePath) (ident.BlobID, bool) {
	b, ok := i.entries[path]
	return b, ok
}

func (i *Index) Len() int { return len(i.entries) }

// Entries returns the staged entries sorted by path.
func (i *Index) Entries() []Entry {
	out := make([]Entry, 0, len(i.entries))
	for p, b := range i.entries {
		out = append(out, Entry{Path: p, Blob: b})
	}
	sort.Slice(out, func(a, b int) bool { return safepath.Less(out[a].Path, out[b].Path) })
	return out
}

// Paths returns the staged paths sorted.
func (i *Index) Paths() []safepath.SafePath {
	entries := i.Entries()
	paths := make([]safepath.SafePath, len(entries))
	for n, e := range entries {
		paths[n] = e.Path
	}
	return paths
}
