// internal/object/encoding.go
package object

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"strata/internal/errors"
	"strata/internal/ident"
)

// Objects are stored as JSON envelopes. Struct field order is fixed, tree entries are
// sorted and timestamps are normalized to UTC, so equal objects encode to equal bytes.

type header struct {
	Type Type `json:"type"`
}

type blobEnvelope struct {
	Type Type   `json:"type"`
	Data []byte `json:"data"`
}

type treeEntryEnvelope struct {
	Name string         `json:"name"`
	Kind EntryKind      `json:"kind"`
	ID   ident.ObjectID `json:"id"`
}

type treeEnvelope struct {
	Type    Type                `json:"type"`
	Entries []treeEntryEnvelope `json:"entries"`
}

type commitEnvelope struct {
	Type      Type             `json:"type"`
	Tree      ident.TreeID     `json:"tree"`
	Parents   []ident.CommitID `json:"parents"`
	Author    string           `json:"author"`
	Message   string           `json:"message"`
	Timestamp string           `json:"timestamp"`
}

// Encode returns the canonical bytes of obj.
func Encode(obj Object) ([]byte, error) {
	switch o := obj.(type) {
	case *Blob:
		data := o.Data
		if data == nil {
			data = []byte{}
		}
		return json.Marshal(blobEnvelope{Type: TypeBlob, Data: data})
	case *Tree:
		if err := o.Validate(); err != nil {
			return nil, err
		}
		env := treeEnvelope{Type: TypeTree, Entries: make([]treeEntryEnvelope, 0, len(o.Entries))}
		for _, e := range o.Sorted() {
			env.Entries = append(env.Entries, treeEntryEnvelope(e))
		}
		return json.Marshal(env)
	case *Commit:
		parents := o.Parents
		if parents == nil {
			parents = []ident.CommitID{}
		}
		return json.Marshal(commitEnvelope{
			Type:      TypeCommit,
			Tree:      o.Tree,
			Parents:   parents,
			Author:    o.Author,
			Message:   o.Message,
			Timestamp: o.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	default:
		return nil, fmt.Errorf("unknown object type %T", obj)
	}
}

// Validate rejects trees that could not be read back or that have no single canonical
// encoding: unknown kinds, names that are not one plain path segment, duplicate names.
func (t *Tree) Validate() error {
	seen := make(map[string]bool, len(t.Entries))
	for _, e := range t.Entries {
		if e.Kind != EntryBlob && e.Kind != EntryTree {
			return errors.ValidationError(fmt.Sprintf("tree entry %q has unknown kind %q", e.Name, e.Kind), nil)
		}
		switch {
		case e.Name == "", e.Name == ".", e.Name == "..",
			strings.ContainsAny(e.Name, "/\\\x00"):
			return errors.ValidationError(fmt.Sprintf("tree entry name %q is not a single path segment", e.Name), nil)
		case seen[e.Name]:
			return errors.ValidationError(fmt.Sprintf("tree has duplicate entry %q", e.Name), nil)
		}
		seen[e.Name] = true
	}
	return nil
}

// Decode parses canonical bytes, dispatching on the declared type.
func Decode(data []byte) (Object, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decoding object header: %w", err)
	}

	switch h.Type {
	case TypeBlob:
		var env blobEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decoding blob: %w", err)
		}
		return &Blob{Data: env.Data}, nil
	case TypeTree:
		var env treeEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decoding tree: %w", err)
		}
		t := &Tree{Entries: make([]TreeEntry, 0, len(env.Entries))}
		for _, e := range env.Entries {
			if e.Kind != EntryBlob && e.Kind != EntryTree {
				return nil, fmt.Errorf("tree entry %q has unknown kind %q", e.Name, e.Kind)
			}
			t.Entries = append(t.Entries, TreeEntry(e))
		}
		return t, nil
	case TypeCommit:
		var env commitEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decoding commit: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("decoding commit timestamp: %w", err)
		}
		return &Commit{
			Tree:      env.Tree,
			Parents:   env.Parents,
			Author:    env.Author,
			Message:   env.Message,
			Timestamp: ts.UTC(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown object type %q", h.Type)
	}
}

// Hash returns the id obj would be stored under.
func Hash(obj Object) (ident.ObjectID, error) {
	data, err := Encode(obj)
	if err != nil {
		return ident.ObjectID{}, err
	}
	return ident.Sum(data), nil
}
