// internal/checkout/checkout.go
package checkout

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"strata/internal/errors"
	"strata/internal/fsutil"
	"strata/internal/ident"
	"strata/internal/logging"
	"strata/internal/object"
	"strata/internal/safepath"
	"strata/internal/tree"
)

type Policy string

const (
	// PolicyOverwrite replaces differing files unconditionally.
	PolicyOverwrite Policy = "overwrite"
	// PolicySafe fails without writing anything if any file would be replaced.
	PolicySafe Policy = "safe"
	// PolicyClean overwrites and also deletes files not in the revision.
	PolicyClean Policy = "clean"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyOverwrite, PolicySafe, PolicyClean:
		return p, nil
	default:
		return "", errors.ValidationError(fmt.Sprintf("unknown checkout policy %q", s), nil)
	}
}

// Store reads what a checkout needs.
type Store interface {
	tree.Reader
	ReadBlob(id ident.BlobID) (*object.Blob, error)
}

type Result struct {
	FilesWritten int
	FilesDeleted int
	Written      []safepath.SafePath
	Deleted      []safepath.SafePath
}

type write struct {
	path  safepath.SafePath
	data  []byte
	clear string // non-directory blocking the path, removed first
}

// Materialize writes the tree of commit id into dest. Every destination path is
// safepath.Join(dest, p), so nothing is written outside dest. Files whose content
// already matches are skipped and not counted. Each file is replaced atomically; the
// directory as a whole is not.
func Materialize(id ident.CommitID, store Store, dest string, policy Policy, log *zap.Logger) (*Result, error) {
	log = logging.OrNop(log)
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, errors.Internal("creating checkout directory", err)
	}

	snap, err := tree.FlattenCommit(store, id, log)
	if err != nil {
		return nil, err
	}

	var existing map[safepath.SafePath]bool
	if policy == PolicyClean {
		existing, err = listFiles(dest)
		if err != nil {
			return nil, errors.Internal("listing checkout directory", err)
		}
	}

	var (
		writes    []write
		conflicts []string
	)
	for _, p := range snap.Paths() {
		blob, err := store.ReadBlob(snap[p])
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}

		if blocker := safepath.BlockingParent(dest, p); blocker != "" {
			if policy == PolicySafe {
				conflicts = append(conflicts, p.String())
				continue
			}
			writes = append(writes, write{path: p, data: blob.Data, clear: blocker})
			continue
		}

		state, err := compare(safepath.Join(dest, p), blob.Data)
		if err != nil {
			return nil, errors.Internal(fmt.Sprintf("inspecting %s", p), err)
		}
		switch state {
		case stateSame:
			continue
		case stateDiffers:
			if policy == PolicySafe {
				conflicts = append(conflicts, p.String())
				continue
			}
		}
		writes = append(writes, write{path: p, data: blob.Data})
	}

	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		log.Info("checkout refused", zap.String("commit", id.String()), zap.Int("conflicts", len(conflicts)))
		return nil, errors.New(errors.KindConflict, "checkout would overwrite %d modified file(s)", len(conflicts)).
			WithDetails(conflicts)
	}

	res := &Result{}
	for _, w := range writes {
		target := safepath.Join(dest, w.path)
		if w.clear != "" {
			if err := os.RemoveAll(w.clear); err != nil {
				return res, errors.Internal(fmt.Sprintf("clearing %s", w.clear), err)
			}
		}
		if info, err := os.Lstat(target); err == nil && info.IsDir() {
			if err := os.RemoveAll(target); err != nil {
				return res, errors.Internal(fmt.Sprintf("clearing %s", w.path), err)
			}
		}
		if err := fsutil.WriteFileAtomic(target, w.data, 0o644); err != nil {
			return res, err
		}
		res.FilesWritten++
		res.Written = append(res.Written, w.path)
	}

	if policy == PolicyClean {
		if err := removeExtras(dest, existing, snap, res); err != nil {
			return res, err
		}
	}

	log.Info("checkout complete",
		zap.String("commit", id.String()),
		zap.String("policy", string(policy)),
		zap.Int("written", res.FilesWritten),
		zap.Int("deleted", res.FilesDeleted))
	return res, nil
}

type fileState int

const (
	stateMissing fileState = iota
	stateSame
	stateDiffers
)

func compare(path string, want []byte) (fileState, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return stateMissing, nil
	}
	if err != nil {
		return stateMissing, err
	}
	if !info.Mode().IsRegular() {
		return stateDiffers, nil
	}
	got, err := os.ReadFile(path)
	if err != nil {
		return stateMissing, err
	}
	if bytes.Equal(got, want) {
		return stateSame, nil
	}
	return stateDiffers, nil
}

func listFiles(dest string) (map[safepath.SafePath]bool, error) {
	files := map[safepath.SafePath]bool{}
	err := filepath.WalkDir(dest, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		p, err := safepath.FromOS(dest, path)
		if err != nil {
			return nil
		}
		files[p] = true
		return nil
	})
	return files, err
}

func removeExtras(dest string, existing map[safepath.SafePath]bool, snap tree.Snapshot, res *Result) error {
	var extras []safepath.SafePath
	for p := range existing {
		if _, ok := snap[p]; !ok {
			extras = append(extras, p)
		}
	}
	sort.Slice(extras, func(i, j int) bool { return safepath.Less(extras[i], extras[j]) })

	var result *multierror.Error
	needed := snapDirs(snap)
	dirs := map[string]bool{}
	for _, p := range extras {
		if replaced(p, snap, needed) {
			// cleared while writing the revision
			res.FilesDeleted++
			res.Deleted = append(res.Deleted, p)
			continue
		}
		target := safepath.Join(dest, p)
		if err := os.Remove(target); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			result = multierror.Append(result, fmt.Errorf("removing %s: %w", p, err))
			continue
		}
		res.FilesDeleted++
		res.Deleted = append(res.Deleted, p)
		if d := p.Dir(); d != "" {
			dirs[d] = true
		}
	}
	pruneEmptyDirs(dest, dirs)

	if err := result.ErrorOrNil(); err != nil {
		return errors.Internal("clean checkout", err)
	}
	return nil
}

// snapDirs lists every directory the snapshot's files live in.
func snapDirs(snap tree.Snapshot) map[string]bool {
	dirs := map[string]bool{}
	for p := range snap {
		for d := p.Dir(); d != "" && !dirs[d]; d = parentDir(d) {
			dirs[d] = true
		}
	}
	return dirs
}

func parentDir(d string) string {
	if i := strings.LastIndexByte(d, '/'); i >= 0 {
		return d[:i]
	}
	return ""
}

// replaced reports whether the old file p sat where the revision needs a directory,
// or below a path that is now a file.
func replaced(p safepath.SafePath, snap tree.Snapshot, dirs map[string]bool) bool {
	if dirs[p.String()] {
		return true
	}
	for d := p.Dir(); d != ""; d = parentDir(d) {
		if _, ok := snap[safepath.Must(d)]; ok {
			return true
		}
	}
	return false
}

// pruneEmptyDirs removes directories emptied by a clean checkout, deepest first,
// walking up toward dest. Non-empty directories stay.
func pruneEmptyDirs(dest string, dirs map[string]bool) {
	all := map[string]bool{}
	for d := range dirs {
		for d != "" && d != "." {
			all[d] = true
			d = filepath.ToSlash(filepath.Dir(d))
		}
	}
	ordered := make([]string, 0, len(all))
	for d := range all {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })
	for _, d := range ordered {
		_ = os.Remove(filepath.Join(dest, filepath.FromSlash(d)))
	}
}
