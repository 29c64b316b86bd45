// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"

	"strata/internal/ident"
	"strata/internal/object"
	"strata/internal/safepath"
	"strata/internal/tree"
)

type ChangeKind string

const (
	Added    ChangeKind = "added"
	Deleted  ChangeKind = "deleted"
	Modified ChangeKind = "modified"
)

// Class is a content classification of one side of an entry.
type Class string

const (
	ClassText   Class = "text"
	ClassBinary Class = "binary"
)

// sniffLen is how much of a blob is inspected for NUL bytes.
const sniffLen = 8000

// Entry is one changed path. Zero blob ids and empty classes mark the absent side.
type Entry struct {
	Path      safepath.SafePath `json:"path"`
	Kind      ChangeKind        `json:"kind"`
	FromBlob  ident.BlobID      `json:"from_blob"`
	ToBlob    ident.BlobID      `json:"to_blob"`
	FromClass Class             `json:"from_class,omitempty"`
	ToClass   Class             `json:"to_class,omitempty"`
	Stats     *LineStats        `json:"stats,omitempty"`
}

type Diff struct {
	From    ident.CommitID `json:"from"`
	To      ident.CommitID `json:"to"`
	Entries []Entry        `json:"entries"`
}

type Store interface {
	tree.Reader
	ReadBlob(id ident.BlobID) (*object.Blob, error)
}

type Options struct {
	// SkipContent leaves classes and stats empty and reads no blobs.
	SkipContent bool
	Logger      *zap.Logger
}

// Compute diffs two commits. The zero CommitID as from stands for the empty tree.
// Entries are sorted by path, so equal inputs always yield equal output.
func Compute(from, to ident.CommitID, store Store, opts Options) (*Diff, error) {
	fromSnap, err := tree.FlattenCommit(store, from, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("flattening %s: %w", from, err)
	}
	toSnap, err := tree.FlattenCommit(store, to, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("flattening %s: %w", to, err)
	}
	entries, err := CompareSnapshots(fromSnap, toSnap, store, opts)
	if err != nil {
		return nil, err
	}
	return &Diff{From: from, To: to, Entries: entries}, nil
}

// CompareSnapshots diffs two already flattened snapshots, sorted by path.
func CompareSnapshots(from, to tree.Snapshot, store Store, opts Options) ([]Entry, error) {
	union := make(map[safepath.SafePath]struct{}, len(from)+len(to))
	for p := range from {
		union[p] = struct{}{}
	}
	for p := range to {
		union[p] = struct{}{}
	}
	paths := make([]safepath.SafePath, 0, len(union))
	for p := range union {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return safepath.Less(paths[i], paths[j]) })

	engine := NewLineEngine(0)
	entries := make([]Entry, 0)
	for _, p := range paths {
		fromBlob, inFrom := from[p]
		toBlob, inTo := to[p]

		e := Entry{Path: p, FromBlob: fromBlob, ToBlob: toBlob}
		switch {
		case inFrom && inTo && fromBlob == toBlob:
			continue
		case inFrom && inTo:
			e.Kind = Modified
		case inTo:
			e.Kind = Added
		default:
			e.Kind = Deleted
		}

		if !opts.SkipContent {
			if err := annotate(&e, inFrom, inTo, store, engine); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func annotate(e *Entry, inFrom, inTo bool, store Store, engine *LineEngine) error {
	var fromData, toData []byte
	if inFrom {
		b, err := store.ReadBlob(e.FromBlob)
		if err != nil {
			return fmt.Errorf("reading %s: %w", e.Path, err)
		}
		fromData = b.Data
		e.FromClass = Classify(fromData)
	}
	if inTo {
		b, err := store.ReadBlob(e.ToBlob)
		if err != nil {
			return fmt.Errorf("reading %s: %w", e.Path, err)
		}
		toData = b.Data
		e.ToClass = Classify(toData)
	}

	if e.FromClass != ClassBinary && e.ToClass != ClassBinary {
		stats := engine.Stats(fromData, toData)
		e.Stats = &stats
	}
	return nil
}

// Classify reports binary when the first 8000 bytes contain a NUL or the content is
// not valid UTF-8.
func Classify(data []byte) Class {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if bytes.IndexByte(head, 0) >= 0 || !utf8.Valid(data) {
		return ClassBinary
	}
	return ClassText
}

// Paths returns the changed paths in order.
func (d *Diff) Paths() []safepath.SafePath {
	out := make([]safepath.SafePath, len(d.Entries))
	for i, e := range d.Entries {
		out[i] = e.Path
	}
	return out
}

// Filter keeps the entries for which keep returns true.
func (d *Diff) Filter(keep func(Entry) bool) *Diff {
	out := &Diff{From: d.From, To: d.To, Entries: make([]Entry, 0, len(d.Entries))}
	for _, e := range d.Entries {
		if keep(e) {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}
