// internal/refs/refs.go
package refs

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"strata/internal/errors"
	"strata/internal/fsutil"
	"strata/internal/ident"
	"strata/internal/logging"
	"strata/internal/object"
)

// ObjectChecker answers whether a commit is present before a ref may point at it.
type ObjectChecker interface {
	Exists(id ident.ObjectID) bool
}

// CommitReader supplies parent links for fast-forward checks.
type CommitReader interface {
	ReadCommit(id ident.CommitID) (*object.Commit, error)
}

type HeadKind string

const (
	HeadBranch HeadKind = "branch"
	HeadUnborn HeadKind = "unborn"
)

// HeadState always names a branch; HEAD is never detached.
type HeadState struct {
	Kind HeadKind      `json:"kind"`
	Ref  ident.RefName `json:"ref"`
}

func Branch(ref ident.RefName) HeadState { return HeadState{Kind: HeadBranch, Ref: ref} }
func Unborn(ref ident.RefName) HeadState { return HeadState{Kind: HeadUnborn, Ref: ref} }

type refTarget struct {
	Target ident.CommitID `json:"target"`
}

type Options struct {
	DefaultBranch string // short name, "main" when empty
	Commits       CommitReader
	Logger        *zap.Logger
}

// Store persists HEAD and the refs under <root>/refs/{heads,tags}.
//
// WriteRef is read-validate-write with no OS lock held across the window. Callers
// needing linearizable updates to one ref from several writers must serialize them.
type Store struct {
	root          string
	defaultBranch ident.RefName
	commits       CommitReader
	log           *zap.Logger
}

func NewStore(root string, opts Options) (*Store, error) {
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = "main"
	}
	def, err := ident.Branch(opts.DefaultBranch)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid default branch %q", opts.DefaultBranch), err.Error())
	}
	for _, ns := range []string{"heads", "tags"} {
		if err := os.MkdirAll(filepath.Join(root, "refs", ns), 0o755); err != nil {
			return nil, fmt.Errorf("creating refs/%s: %w", ns, err)
		}
	}
	return &Store{
		root:          root,
		defaultBranch: def,
		commits:       opts.Commits,
		log:           logging.OrNop(opts.Logger),
	}, nil
}

func (s *Store) headPath() string { return filepath.Join(s.root, "HEAD") }

func (s *Store) refPath(name ident.RefName) string {
	return filepath.Join(s.root, "refs", filepath.FromSlash(name.String()))
}

// ReadHead returns Unborn(default branch) when no HEAD has been written yet.
func (s *Store) ReadHead() (HeadState, error) {
	data, err := os.ReadFile(s.headPath())
	if os.IsNotExist(err) {
		return Unborn(s.defaultBranch), nil
	}
	if err != nil {
		return HeadState{}, errors.Internal("reading HEAD", err)
	}

	var state HeadState
	if err := json.Unmarshal(data, &state); err != nil {
		return HeadState{}, errors.Internal("decoding HEAD", err)
	}
	if state.Kind != HeadBranch && state.Kind != HeadUnborn {
		return HeadState{}, errors.Internal("decoding HEAD", fmt.Errorf("unknown kind %q", state.Kind))
	}
	if _, err := ident.ParseRefName(state.Ref.String()); err != nil {
		return HeadState{}, errors.Internal("decoding HEAD", err)
	}
	return state, nil
}

func (s *Store) WriteHead(state HeadState) error {
	if state.Kind != HeadBranch && state.Kind != HeadUnborn {
		return errors.ValidationError(fmt.Sprintf("invalid HEAD kind %q", state.Kind), nil)
	}
	if !state.Ref.IsBranch() {
		return errors.ValidationError(fmt.Sprintf("HEAD must name a branch, got %q", state.Ref), nil)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Internal("encoding HEAD", err)
	}
	return fsutil.WriteFileAtomic(s.headPath(), data, 0o644)
}

func (s *Store) ReadRef(name ident.RefName) (ident.CommitID, error) {
	data, err := os.ReadFile(s.refPath(name))
	if err != nil {
		if os.IsNotExist(err) || isNotDir(err) || stderrors.Is(err, syscall.EISDIR) {
			return ident.CommitID{}, errors.RefNotFound(name.String())
		}
		return ident.CommitID{}, errors.Internal(fmt.Sprintf("reading ref %s", name), err)
	}
	var rt refTarget
	if err := json.Unmarshal(data, &rt); err != nil {
		return ident.CommitID{}, errors.Internal(fmt.Sprintf("decoding ref %s", name), err)
	}
	return rt.Target, nil
}

// WriteRef points name at target. When objects is non-nil the target must exist in
// it. Unless force is set, an existing ref may only move to a descendant of its
// current value; otherwise NonFastForward is returned and the ref is unchanged.
func (s *Store) WriteRef(name ident.RefName, target ident.CommitID, force bool, objects ObjectChecker) error {
	if objects != nil && !objects.Exists(target.ObjectID) {
		return errors.CommitNotFound(target.String())
	}

	current, err := s.ReadRef(name)
	switch {
	case err == nil:
		if !force && current != target {
			ok, err := IsAncestor(current, target, s.reader(objects))
			if err != nil {
				return fmt.Errorf("checking fast-forward for %s: %w", name, err)
			}
			if !ok {
				s.log.Info("rejected non-fast-forward ref update",
					zap.String("ref", name.String()),
					zap.String("current", current.String()),
					zap.String("target", target.String()))
				return errors.NonFastForward(name.String(), current.String(), target.String())
			}
		}
	case errors.Is(err, errors.KindRefNotFound):
	default:
		return err
	}

	data, err := json.Marshal(refTarget{Target: target})
	if err != nil {
		return errors.Internal("encoding ref", err)
	}
	if err := fsutil.WriteFileAtomic(s.refPath(name), data, 0o644); err != nil {
		return err
	}
	s.log.Debug("ref updated", zap.String("ref", name.String()), zap.String("target", target.String()))
	return nil
}

func (s *Store) reader(objects ObjectChecker) CommitReader {
	if r, ok := objects.(CommitReader); ok {
		return r
	}
	return s.commits
}

// DeleteRef removes a ref. The branch HEAD is attached to cannot be deleted.
func (s *Store) DeleteRef(name ident.RefName) error {
	if _, err := s.ReadRef(name); err != nil {
		return err
	}
	head, err := s.ReadHead()
	if err != nil {
		return err
	}
	if head.Kind == HeadBranch && head.Ref == name {
		return errors.ValidationError(fmt.Sprintf("cannot delete %s: HEAD points at it", name), nil)
	}

	path := s.refPath(name)
	if err := os.Remove(path); err != nil {
		return errors.Internal(fmt.Sprintf("deleting ref %s", name), err)
	}
	s.pruneEmptyParents(filepath.Dir(path))
	return nil
}

func (s *Store) pruneEmptyParents(dir string) {
	stop := map[string]bool{
		filepath.Join(s.root, "refs", "heads"): true,
		filepath.Join(s.root, "refs", "tags"):  true,
	}
	for !stop[dir] && strings.HasPrefix(dir, filepath.Join(s.root, "refs")) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// ListRefs returns every ref under heads/ and tags/. The map has no order; callers
// that need one must sort.
func (s *Store) ListRefs() (map[ident.RefName]ident.CommitID, error) {
	refs := make(map[ident.RefName]ident.CommitID)
	refsDir := filepath.Join(s.root, "refs")

	for _, ns := range []string{"heads", "tags"} {
		err := filepath.WalkDir(filepath.Join(refsDir, ns), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || fsutil.IsTempFile(path) {
				return nil
			}
			rel, err := filepath.Rel(refsDir, path)
			if err != nil {
				return err
			}
			name, err := ident.ParseRefName(filepath.ToSlash(rel))
			if err != nil {
				s.log.Warn("skipping invalid ref file", zap.String("path", path), zap.Error(err))
				return nil
			}
			target, err := s.ReadRef(name)
			if err != nil {
				return err
			}
			refs[name] = target
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("listing refs/%s: %w", ns, err)
		}
	}
	return refs, nil
}

// A file where a ref directory is expected (heads/a vs heads/a/b) reads as ENOTDIR.
func isNotDir(err error) bool {
	return stderrors.Is(err, syscall.ENOTDIR)
}
