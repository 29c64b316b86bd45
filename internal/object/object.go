// internal/object/object.go
package object

import (
	"sort"
	"time"

	"strata/internal/ident"
)

// Type is the declared kind written into every encoded object.
type Type string

const (
	TypeBlob   Type = "blob"
	TypeTree   Type = "tree"
	TypeCommit Type = "commit"
)

// Object is one of *Blob, *Tree or *Commit. Objects returned by a Store may be
// shared with its cache and must not be mutated.
type Object interface {
	Type() Type
	isObject()
}

type Blob struct {
	Data []byte
}

func (*Blob) Type() Type { return TypeBlob }
func (*Blob) isObject()  {}

// EntryKind says whether a tree entry points at a blob or a subtree.
type EntryKind string

const (
	EntryBlob EntryKind = "blob"
	EntryTree EntryKind = "tree"
)

type TreeEntry struct {
	Name string
	Kind EntryKind
	ID   ident.ObjectID
}

type Tree struct {
	Entries []TreeEntry
}

func (*Tree) Type() Type { return TypeTree }
func (*Tree) isObject()  {}

// Sorted returns the entries in canonical (name) order without touching t.
func (t *Tree) Sorted() []TreeEntry {
	entries := make([]TreeEntry, len(t.Entries))
	copy(entries, t.Entries)
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID.Compare(b.ID) < 0
	})
	return entries
}

type Commit struct {
	Tree      ident.TreeID
	Parents   []ident.CommitID
	Author    string
	Message   string
	Timestamp time.Time
}

func (*Commit) Type() Type { return TypeCommit }
func (*Commit) isObject()  {}

// IsMerge reports whether the commit has two or more parents.
func (c *Commit) IsMerge() bool { return len(c.Parents) > 1 }
