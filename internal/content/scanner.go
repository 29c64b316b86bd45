// internal/content/scanner.go
package content

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"strata/internal/fsutil"
	"strata/internal/ident"
	"strata/internal/index"
	"strata/internal/logging"
	"strata/internal/safepath"
)

// BlobWriter stores file content and returns its id.
type BlobWriter interface {
	WriteBlob(data []byte) (ident.BlobID, error)
}

// DefaultIgnore lists directory names never scanned.
var DefaultIgnore = []string{".git", ".strata", "node_modules", "vendor"}

type Options struct {
	// Ignore holds directory names and glob patterns (matched against the slash path
	// relative to the root) to skip.
	Ignore []string
	Logger *zap.Logger
}

// Scanner turns a working directory into an Index, storing every regular file as a blob.
type Scanner struct {
	blobs    BlobWriter
	names    map[string]bool
	patterns []glob.Glob
	log      *zap.Logger
}

func NewScanner(blobs BlobWriter, opts Options) (*Scanner, error) {
	s := &Scanner{
		blobs: blobs,
		names: make(map[string]bool),
		log:   logging.OrNop(opts.Logger),
	}
	ignore := opts.Ignore
	if ignore == nil {
		ignore = DefaultIgnore
	}
	for _, pattern := range ignore {
		if !strings.ContainsAny(pattern, "*?[{/") {
			s.names[pattern] = true
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compiling ignore pattern %q: %w", pattern, err)
		}
		s.patterns = append(s.patterns, g)
	}
	return s, nil
}

// ShouldIgnore reports whether a slash path relative to the root is skipped.
func (s *Scanner) ShouldIgnore(rel string) bool {
	if rel == "" || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if s.names[part] {
			return true
		}
	}
	for _, g := range s.patterns {
		if g.Match(rel) {
			return true
		}
	}
	return fsutil.IsTempFile(filepath.Base(rel))
}

// Scan walks root and stages every regular file. Symlinks and names that are not valid
// repository paths are skipped with a warning.
func (s *Scanner) Scan(root string) (*index.Index, error) {
	idx := index.New()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if s.ShouldIgnore(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			if d.Type()&fs.ModeSymlink != 0 {
				s.log.Warn("skipping symlink", zap.String("path", rel))
			}
			return nil
		}

		p, err := safepath.Parse(rel)
		if err != nil {
			s.log.Warn("skipping unrepresentable path", zap.String("path", rel), zap.Error(err))
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		blob, err := s.blobs.WriteBlob(data)
		if err != nil {
			return fmt.Errorf("storing %s: %w", rel, err)
		}
		idx.Stage(p, blob)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	s.log.Debug("scan complete", zap.String("root", root), zap.Int("files", idx.Len()))
	return idx, nil
}

// Changed reports whether idx differs from snapshot.
func Changed(idx *index.Index, snapshot map[safepath.SafePath]ident.BlobID) bool {
	if idx.Len() != len(snapshot) {
		return true
	}
	for _, e := range idx.Entries() {
		if snapshot[e.Path] != e.Blob {
			return true
		}
	}
	return false
}
