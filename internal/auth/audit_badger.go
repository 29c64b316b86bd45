package auth

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"strata/internal/storage"
)

const auditPrefix = "audit"

// BadgerAudit persists the audit trail in badger. Keys lead with a zero-padded
// nanosecond timestamp so iteration order is chronological.
type BadgerAudit struct {
	store *storage.BadgerStore
}

func NewBadgerAudit(db *badger.DB) *BadgerAudit {
	return &BadgerAudit{store: storage.NewBadgerStore(db, auditPrefix)}
}

type auditEntity struct {
	Entry
}

func (a *auditEntity) GetID() string {
	return fmt.Sprintf("%020d-%s", a.Time.UnixNano(), a.ID)
}

func (b *BadgerAudit) Record(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("audit entry has no id")
	}
	return b.store.Create(&auditEntity{Entry: e})
}

func (b *BadgerAudit) List(f Filter) ([]Entry, error) {
	var entries []Entry
	err := b.store.Each(func(val []byte) error {
		var e Entry
		if err := json.Unmarshal(val, &e); err != nil {
			return fmt.Errorf("decoding audit entry: %w", err)
		}
		if f.Match(e) {
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f.Apply(entries), nil
}
