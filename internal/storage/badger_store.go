// internal/storage/badger_store.go
package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"strata/internal/errors"
)

// Entity is anything stored under a caller-chosen id.
type Entity interface {
	GetID() string
}

// BadgerStore is an append-only keyed JSON store. Keys are "<prefix>:<id>", so Each
// visits entities in id order.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
}

func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	return &BadgerStore{db: db, prefix: []byte(prefix + ":")}
}

// OpenDB opens a persistent database at dir, creating the directory.
func OpenDB(dir string) (*badger.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", dir, err)
	}
	return db, nil
}

// OpenInMemory opens a throwaway database for tests.
func OpenInMemory() (*badger.DB, error) {
	return badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil))
}

func (s *BadgerStore) key(id string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(id))
	return append(append(k, s.prefix...), id...)
}

// Create stores entity under its id. An existing id is never overwritten.
func (s *BadgerStore) Create(entity Entity) error {
	id := entity.GetID()
	if id == "" {
		return errors.ValidationError("entity id is empty", nil)
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", id, err)
	}

	k := s.key(id)
	return s.db.Update(func(txn *badger.Txn) error {
		switch _, err := txn.Get(k); err {
		case nil:
			return errors.AlreadyExists(string(k))
		case badger.ErrKeyNotFound:
			return txn.Set(k, data)
		default:
			return err
		}
	})
}

// Each calls fn with the stored JSON of every entity, in key order. The slice is only
// valid during the call.
func (s *BadgerStore) Each(fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return fmt.Errorf("reading %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
}
