package ident

import (
	"fmt"
	"strings"
)

const (
	HeadsPrefix = "heads/"
	TagsPrefix  = "tags/"
)

// RefName is a validated "heads/<name>" or "tags/<name>".
type RefName string

// ParseRefName validates s. Each "/"-separated segment of the short name must be
// non-empty, must not start with ".", end with ".lock", contain "..", spaces,
// control characters or any of ~^:?*[\.
func ParseRefName(s string) (RefName, error) {
	var short string
	switch {
	case strings.HasPrefix(s, HeadsPrefix):
		short = strings.TrimPrefix(s, HeadsPrefix)
	case strings.HasPrefix(s, TagsPrefix):
		short = strings.TrimPrefix(s, TagsPrefix)
	default:
		return "", fmt.Errorf("ref %q must start with %q or %q", s, HeadsPrefix, TagsPrefix)
	}
	if short == "" {
		return "", fmt.Errorf("ref %q has an empty name", s)
	}
	for _, seg := range strings.Split(short, "/") {
		if err := checkRefSegment(seg); err != nil {
			return "", fmt.Errorf("ref %q: %w", s, err)
		}
	}
	return RefName(s), nil
}

func checkRefSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("empty path segment")
	}
	if strings.HasPrefix(seg, ".") {
		return fmt.Errorf("segment %q starts with '.'", seg)
	}
	if strings.HasSuffix(seg, ".lock") {
		return fmt.Errorf("segment %q ends with .lock", seg)
	}
	if strings.Contains(seg, "..") {
		return fmt.Errorf("segment %q contains '..'", seg)
	}
	for _, r := range seg {
		if r < 0x20 || r == 0x7f || r == ' ' || strings.ContainsRune(`~^:?*[\`, r) {
			return fmt.Errorf("segment %q contains invalid character %q", seg, r)
		}
	}
	return nil
}

// Branch returns heads/<name>.
func Branch(name string) (RefName, error) {
	return ParseRefName(HeadsPrefix + name)
}

// Tag returns tags/<name>.
func Tag(name string) (RefName, error) {
	return ParseRefName(TagsPrefix + name)
}

func (r RefName) String() string { return string(r) }

func (r RefName) IsBranch() bool { return strings.HasPrefix(string(r), HeadsPrefix) }

func (r RefName) IsTag() bool { return strings.HasPrefix(string(r), TagsPrefix) }

// Short strips the namespace prefix.
func (r RefName) Short() string {
	s := string(r)
	if r.IsBranch() {
		return strings.TrimPrefix(s, HeadsPrefix)
	}
	return strings.TrimPrefix(s, TagsPrefix)
}
