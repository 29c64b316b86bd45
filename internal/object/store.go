// internal/object/store.go
package object

import (
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"strata/internal/errors"
	"strata/internal/fsutil"
	"strata/internal/ident"
	"strata/internal/logging"
)

const DefaultCacheSize = 1024

// Options configures a Store.
type Options struct {
	CacheSize int // decoded objects kept in memory
	Logger    *zap.Logger
}

// Store is a content-addressed, append-only object database rooted at
// <root>/objects/<2 hex>/<62 hex>. Disk is the source of truth; the LRU cache only
// holds objects that were verified on read or just written.
type Store struct {
	dir   string
	cache *lru.Cache[ident.ObjectID, Object]
	log   *zap.Logger
}

func NewStore(root string, opts Options) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	dir := filepath.Join(root, "objects")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating objects directory: %w", err)
	}

	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	cache, err := lru.New[ident.ObjectID, Object](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	return &Store{
		dir:   dir,
		cache: cache,
		log:   logging.OrNop(opts.Logger),
	}, nil
}

func (s *Store) path(id ident.ObjectID) string {
	hex := id.String()
	return filepath.Join(s.dir, hex[:2], hex[2:])
}

// Write stores obj and returns its id. Writing an object that already exists is a no-op.
func (s *Store) Write(obj Object) (ident.ObjectID, error) {
	data, err := Encode(obj)
	if errors.Is(err, errors.KindValidation) {
		return ident.ObjectID{}, err
	}
	if err != nil {
		return ident.ObjectID{}, errors.Internal("encoding object", err)
	}
	id := ident.Sum(data)

	path := s.path(id)
	if _, err := os.Stat(path); err == nil {
		s.cache.Add(id, obj)
		return id, nil
	}

	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return ident.ObjectID{}, err
	}
	s.cache.Add(id, obj)
	s.log.Debug("object written", zap.String("id", id.String()), zap.String("type", string(obj.Type())))
	return id, nil
}

func (s *Store) WriteBlob(data []byte) (ident.BlobID, error) {
	id, err := s.Write(&Blob{Data: data})
	return ident.BlobID{ObjectID: id}, err
}

func (s *Store) WriteTree(t *Tree) (ident.TreeID, error) {
	id, err := s.Write(t)
	return ident.TreeID{ObjectID: id}, err
}

func (s *Store) WriteCommit(c *Commit) (ident.CommitID, error) {
	id, err := s.Write(c)
	return ident.CommitID{ObjectID: id}, err
}

// Read returns the object stored under id. A missing file is ObjectNotFound; bytes
// that do not hash to id or do not decode are CorruptObject.
func (s *Store) Read(id ident.ObjectID) (Object, error) {
	if obj, ok := s.cache.Get(id); ok {
		return obj, nil
	}
	obj, err := s.readVerified(id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, obj)
	return obj, nil
}

func (s *Store) readVerified(id ident.ObjectID) (Object, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ObjectNotFound(id.String())
		}
		return nil, errors.Internal(fmt.Sprintf("reading object %s", id), err)
	}

	if sum := ident.Sum(data); sum != id {
		s.log.Warn("object hash mismatch", zap.String("id", id.String()), zap.String("actual", sum.String()))
		return nil, errors.CorruptObject(id.String(), fmt.Errorf("content hashes to %s", sum))
	}

	obj, err := Decode(data)
	if err != nil {
		return nil, errors.CorruptObject(id.String(), err)
	}
	return obj, nil
}

func (s *Store) ReadBlob(id ident.BlobID) (*Blob, error) {
	obj, err := s.Read(id.ObjectID)
	if err != nil {
		return nil, err
	}
	b, ok := obj.(*Blob)
	if !ok {
		return nil, wrongType(id.ObjectID, obj, TypeBlob)
	}
	return b, nil
}

func (s *Store) ReadTree(id ident.TreeID) (*Tree, error) {
	obj, err := s.Read(id.ObjectID)
	if err != nil {
		return nil, err
	}
	t, ok := obj.(*Tree)
	if !ok {
		return nil, wrongType(id.ObjectID, obj, TypeTree)
	}
	return t, nil
}

func (s *Store) ReadCommit(id ident.CommitID) (*Commit, error) {
	obj, err := s.Read(id.ObjectID)
	if err != nil {
		return nil, err
	}
	c, ok := obj.(*Commit)
	if !ok {
		return nil, wrongType(id.ObjectID, obj, TypeCommit)
	}
	return c, nil
}

func wrongType(id ident.ObjectID, obj Object, want Type) error {
	return errors.CorruptObject(id.String(), fmt.Errorf("declared type %s, expected %s", obj.Type(), want))
}

// Exists never fails; a cache miss falls through to disk.
func (s *Store) Exists(id ident.ObjectID) bool {
	if s.cache.Contains(id) {
		return true
	}
	_, err := os.Stat(s.path(id))
	return err == nil
}

// Verify re-reads id from disk, bypassing the cache, and runs the integrity check.
func (s *Store) Verify(id ident.ObjectID) error {
	_, err := s.readVerified(id)
	return err
}

// Walk calls fn for every object id on disk in ascending order. Stray files that do
// not name an object are skipped.
func (s *Store) Walk(fn func(ident.ObjectID) error) error {
	fanout, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("listing objects: %w", err)
	}
	for _, d := range fanout {
		if !d.IsDir() || len(d.Name()) != 2 {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.dir, d.Name()))
		if err != nil {
			return fmt.Errorf("listing objects/%s: %w", d.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || fsutil.IsTempFile(f.Name()) {
				continue
			}
			id, err := ident.ParseObjectID(d.Name() + f.Name())
			if err != nil {
				s.log.Warn("skipping stray file in object store", zap.String("name", d.Name()+"/"+f.Name()))
				continue
			}
			if err := fn(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Purge drops every cached object. Later reads go back to disk.
func (s *Store) Purge() {
	s.cache.Purge()
}
