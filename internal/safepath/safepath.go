// internal/safepath/safepath.go
package safepath

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// SafePath is a relative, slash-separated path that cannot escape the directory
// it is joined onto. The only way to build one is Parse, Must or Child.
type SafePath struct {
	p string
}

// Parse rejects empty, absolute and traversal paths instead of normalizing them.
// Backslashes are rejected so a path means the same thing on every platform.
func Parse(s string) (SafePath, error) {
	if s == "" {
		return SafePath{}, fmt.Errorf("path is empty")
	}
	if strings.ContainsRune(s, 0) {
		return SafePath{}, fmt.Errorf("path %q contains a NUL byte", s)
	}
	if strings.Contains(s, `\`) {
		return SafePath{}, fmt.Errorf("path %q contains a backslash", s)
	}
	if strings.HasPrefix(s, "/") || filepath.IsAbs(s) || filepath.VolumeName(s) != "" {
		return SafePath{}, fmt.Errorf("path %q is absolute", s)
	}
	for _, seg := range strings.Split(s, "/") {
		switch seg {
		case "":
			return SafePath{}, fmt.Errorf("path %q has an empty segment", s)
		case ".", "..":
			return SafePath{}, fmt.Errorf("path %q contains a %q segment", s, seg)
		}
	}
	return SafePath{p: s}, nil
}

// Must is Parse for literals known to be valid.
func Must(s string) SafePath {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (s SafePath) String() string { return s.p }

func (s SafePath) IsZero() bool { return s.p == "" }

// Segments splits the path on "/".
func (s SafePath) Segments() []string {
	return strings.Split(s.p, "/")
}

// Base is the last segment.
func (s SafePath) Base() string {
	return path.Base(s.p)
}

// Dir is the parent directory, "" for a top-level entry.
func (s SafePath) Dir() string {
	d := path.Dir(s.p)
	if d == "." {
		return ""
	}
	return d
}

// Child appends a single segment.
func (s SafePath) Child(name string) (SafePath, error) {
	if strings.Contains(name, "/") {
		return SafePath{}, fmt.Errorf("name %q is not a single segment", name)
	}
	if s.p == "" {
		return Parse(name)
	}
	return Parse(s.p + "/" + name)
}

// HasPrefix reports whether s equals dir or lies beneath it.
func (s SafePath) HasPrefix(dir SafePath) bool {
	return s.p == dir.p || strings.HasPrefix(s.p, dir.p+"/")
}

// Join places p under root using the OS separator.
func Join(root string, p SafePath) string {
	return filepath.Join(root, filepath.FromSlash(p.p))
}

// BlockingParent returns the first ancestor of p under root that exists but is not a
// real directory (a file or a symlink), or "". Writing p through such an ancestor
// would fail or land outside root.
func BlockingParent(root string, p SafePath) string {
	segs := p.Segments()
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		cur = filepath.Join(cur, seg)
		info, err := os.Lstat(cur)
		if err != nil {
			return ""
		}
		if !info.IsDir() {
			return cur
		}
	}
	return ""
}

// FromOS converts a path relative to root, as found by a directory walk, into a SafePath.
func FromOS(root, full string) (SafePath, error) {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return SafePath{}, err
	}
	return Parse(filepath.ToSlash(rel))
}

func (s SafePath) MarshalText() ([]byte, error) {
	return []byte(s.p), nil
}

func (s *SafePath) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Less orders paths bytewise.
func Less(a, b SafePath) bool { return a.p < b.p }
