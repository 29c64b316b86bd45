// internal/ident/ident.go
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// HashSize is the byte length of an object id.
	HashSize = sha256.Size
	// HexSize is the length of an object id in hex.
	HexSize = HashSize * 2
)

// ObjectID is the SHA-256 digest of an object's canonical encoding. The zero value means "none".
type ObjectID [HashSize]byte

// Sum hashes data into an ObjectID.
func Sum(data []byte) ObjectID {
	return ObjectID(sha256.Sum256(data))
}

// ParseObjectID accepts exactly 64 lowercase hex characters.
func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != HexSize {
		return id, fmt.Errorf("object id must be %d hex characters, got %d", HexSize, len(s))
	}
	if s != strings.ToLower(s) {
		return id, fmt.Errorf("object id must be lowercase hex: %q", s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ObjectID{}, fmt.Errorf("invalid object id %q: %w", s, err)
	}
	return id, nil
}

func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

// Short returns the first 12 hex characters, for display.
func (id ObjectID) Short() string {
	return id.String()[:12]
}

func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ObjectID) UnmarshalText(b []byte) error {
	parsed, err := ParseObjectID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Compare orders ids bytewise, which matches their hex ordering.
func (id ObjectID) Compare(other ObjectID) int {
	for i := range id {
		switch {
		case id[i] < other[i]:
			return -1
		case id[i] > other[i]:
			return 1
		}
	}
	return 0
}

// BlobID, TreeID and CommitID carry the declared kind of the object they name.
type (
	BlobID   struct{ ObjectID }
	TreeID   struct{ ObjectID }
	CommitID struct{ ObjectID }
)

func ParseBlobID(s string) (BlobID, error) {
	id, err := ParseObjectID(s)
	return BlobID{id}, err
}

func ParseTreeID(s string) (TreeID, error) {
	id, err := ParseObjectID(s)
	return TreeID{id}, err
}

func ParseCommitID(s string) (CommitID, error) {
	id, err := ParseObjectID(s)
	return CommitID{id}, err
}
