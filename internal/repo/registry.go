// internal/repo/registry.go
package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"strata/internal/errors"
	"strata/internal/fsutil"
	"strata/internal/ident"
	"strata/internal/logging"
	"strata/internal/object"
	"strata/internal/refs"
	"strata/internal/validation"
)

const metadataFile = "metadata.json"

type Metadata struct {
	ID            ident.RepoID `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	DefaultBranch string       `json:"default_branch"`
}

// Repository is the unit of isolation: its objects and refs never leave Root.
type Repository struct {
	Metadata Metadata
	Root     string
	Objects  *object.Store
	Refs     *refs.Store
}

// CheckoutDir returns a scratch directory under checkouts/ for a named working copy.
func (r *Repository) CheckoutDir(name string) (string, error) {
	id, err := ident.ParseRepoID(name)
	if err != nil {
		return "", errors.ValidationError("invalid checkout name", err.Error())
	}
	return filepath.Join(r.Root, "checkouts", id.String()), nil
}

type Options struct {
	DefaultBranch   string
	ObjectCacheSize int
	Logger          *zap.Logger
}

// Registry maps repository ids to on-disk repositories under one root. The in-memory
// cache is an optimization only; a cold Get rebuilds the same Repository from disk.
type Registry struct {
	root  string
	opts  Options
	log   *zap.Logger
	mu    sync.Mutex
	repos map[ident.RepoID]*Repository
}

func NewRegistry(root string, opts Options) (*Registry, error) {
	if root == "" {
		return nil, fmt.Errorf("registry root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating registry root: %w", err)
	}
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = "main"
	}
	if _, err := ident.Branch(opts.DefaultBranch); err != nil {
		return nil, fmt.Errorf("invalid default branch: %w", err)
	}
	return &Registry{
		root:  root,
		opts:  opts,
		log:   logging.OrNop(opts.Logger),
		repos: make(map[ident.RepoID]*Repository),
	}, nil
}

func (r *Registry) dir(id ident.RepoID) string {
	return filepath.Join(r.root, id.String())
}

func (r *Registry) Create(id ident.RepoID, name, description string, now time.Time) (*Repository, error) {
	if err := validation.ValidateRepoMetadata(name, description); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := r.dir(id)
	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err == nil {
		return nil, errors.AlreadyExists(fmt.Sprintf("repository %s", id))
	}

	for _, sub := range []string{"objects", "refs/heads", "refs/tags", "checkouts"} {
		if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(sub)), 0o755); err != nil {
			return nil, errors.Internal(fmt.Sprintf("creating %s", sub), err)
		}
	}

	meta := Metadata{
		ID:            id,
		Name:          name,
		Description:   description,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
		DefaultBranch: r.opts.DefaultBranch,
	}
	repo, err := r.open(dir, meta)
	if err != nil {
		return nil, err
	}

	head, err := ident.Branch(meta.DefaultBranch)
	if err != nil {
		return nil, errors.Internal("default branch", err)
	}
	if err := repo.Refs.WriteHead(refs.Unborn(head)); err != nil {
		return nil, err
	}
	// metadata.json is written last: its presence is what marks the repository as created.
	if err := writeMetadata(dir, meta); err != nil {
		return nil, err
	}

	r.repos[id] = repo
	r.log.Info("repository created", zap.String("repo", id.String()))
	return repo, nil
}

func (r *Registry) Get(id ident.RepoID) (*Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

func (r *Registry) getLocked(id ident.RepoID) (*Repository, error) {
	if repo, ok := r.repos[id]; ok {
		return repo, nil
	}

	dir := r.dir(id)
	meta, err := readMetadata(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.RepoNotFound(id.String())
		}
		return nil, errors.Internal(fmt.Sprintf("loading repository %s", id), err)
	}
	if meta.ID != id {
		return nil, errors.Internal(fmt.Sprintf("loading repository %s", id), fmt.Errorf("metadata names %q", meta.ID))
	}

	repo, err := r.open(dir, meta)
	if err != nil {
		return nil, err
	}
	r.repos[id] = repo
	return repo, nil
}

func (r *Registry) open(dir string, meta Metadata) (*Repository, error) {
	objects, err := object.NewStore(dir, object.Options{
		CacheSize: r.opts.ObjectCacheSize,
		Logger:    r.log.Named("objects").With(zap.String("repo", meta.ID.String())),
	})
	if err != nil {
		return nil, errors.Internal("opening object store", err)
	}
	refStore, err := refs.NewStore(dir, refs.Options{
		DefaultBranch: meta.DefaultBranch,
		Commits:       objects,
		Logger:        r.log.Named("refs").With(zap.String("repo", meta.ID.String())),
	})
	if err != nil {
		return nil, errors.Internal("opening ref store", err)
	}
	return &Repository{Metadata: meta, Root: dir, Objects: objects, Refs: refStore}, nil
}

// UpdateMetadata changes name, description and updated_at only.
func (r *Registry) UpdateMetadata(id ident.RepoID, name, description string, now time.Time) (*Repository, error) {
	if err := validation.ValidateRepoMetadata(name, description); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	repo, err := r.getLocked(id)
	if err != nil {
		return nil, err
	}

	meta := repo.Metadata
	meta.Name = name
	meta.Description = description
	meta.UpdatedAt = now.UTC()
	if err := writeMetadata(repo.Root, meta); err != nil {
		return nil, err
	}

	updated := *repo
	updated.Metadata = meta
	r.repos[id] = &updated
	return &updated, nil
}

// List returns the ids of every repository on disk, sorted.
func (r *Registry) List() ([]ident.RepoID, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, errors.Internal("listing repositories", err)
	}

	var ids []ident.RepoID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := ident.ParseRepoID(e.Name())
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.root, e.Name(), metadataFile)); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Delete removes the repository directory and evicts it from the cache.
func (r *Registry) Delete(id ident.RepoID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.getLocked(id); err != nil {
		return err
	}
	delete(r.repos, id)
	// Drop the marker first so a partially removed tree is never listed.
	if err := os.Remove(filepath.Join(r.dir(id), metadataFile)); err != nil {
		return errors.Internal(fmt.Sprintf("deleting repository %s", id), err)
	}
	if err := os.RemoveAll(r.dir(id)); err != nil {
		return errors.Internal(fmt.Sprintf("deleting repository %s", id), err)
	}
	r.log.Info("repository deleted", zap.String("repo", id.String()))
	return nil
}

// Evict drops a cached repository so the next Get reloads it from disk.
func (r *Registry) Evict(id ident.RepoID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.repos, id)
}

func readMetadata(dir string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decoding metadata: %w", err)
	}
	if meta.DefaultBranch == "" {
		meta.DefaultBranch = "main"
	}
	return meta, nil
}

func writeMetadata(dir string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Internal("encoding metadata", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, metadataFile), data, 0o644)
}
