// internal/auth/audit.go
package auth

import (
	"sync"
	"time"
)

type Outcome string

const (
	Allowed Outcome = "allowed"
	Denied  Outcome = "denied"
)

// Entry is one authorization decision. Entries are append-only.
type Entry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Subject string    `json:"subject"`
	Action  string    `json:"action"`
	RepoID  string    `json:"repo_id,omitempty"`
	Outcome Outcome   `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
}

type Filter struct {
	Subject string
	RepoID  string
	Outcome Outcome
	Since   time.Time
	Limit   int // 0 means no limit; the newest entries are kept
}

func (f Filter) Match(e Entry) bool {
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.RepoID != "" && e.RepoID != f.RepoID {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	return true
}

// Apply filters entries (oldest first) and trims to the newest Limit.
func (f Filter) Apply(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// AuditLog is the append-only record of authorization decisions.
type AuditLog interface {
	Record(e Entry) error
	// List returns matching entries, oldest first.
	List(f Filter) ([]Entry, error)
}

type MemoryAudit struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

func (m *MemoryAudit) Record(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryAudit) List(f Filter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f.Apply(m.entries), nil
}
