// internal/history/walker.go
package history

import (
	"container/heap"

	"strata/internal/ident"
	"strata/internal/object"
	"strata/internal/refs"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

type Options struct {
	Offset int
	Limit  int // <= 0 means DefaultLimit; capped at MaxLimit
	// FirstParent follows only the first parent of merge commits.
	FirstParent bool
}

type Entry struct {
	ID     ident.CommitID
	Commit *object.Commit
}

type Page struct {
	Commits    []Entry
	NextOffset int
	HasMore    bool
}

type Walker struct {
	commits refs.CommitReader
}

func NewWalker(commits refs.CommitReader) *Walker {
	return &Walker{commits: commits}
}

// Log lists the ancestry of start, newest first (ties by ascending id). Each commit
// appears once even when reachable through several merge parents.
func (w *Walker) Log(start ident.CommitID, opts Options) (*Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := max(opts.Offset, 0)

	q := &queue{}
	visited := map[ident.CommitID]bool{}
	push := func(id ident.CommitID) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		c, err := w.commits.ReadCommit(id)
		if err != nil {
			return err
		}
		heap.Push(q, Entry{ID: id, Commit: c})
		return nil
	}
	if err := push(start); err != nil {
		return nil, err
	}

	page := &Page{Commits: make([]Entry, 0, min(limit, 64))}
	for n := 0; q.Len() > 0; n++ {
		e := heap.Pop(q).(Entry)
		if n >= offset+limit {
			page.HasMore = true
			break
		}
		if n >= offset {
			page.Commits = append(page.Commits, e)
		}

		parents := e.Commit.Parents
		if opts.FirstParent && len(parents) > 1 {
			parents = parents[:1]
		}
		for _, p := range parents {
			if err := push(p); err != nil {
				return nil, err
			}
		}
	}
	page.NextOffset = offset + len(page.Commits)
	return page, nil
}

// queue is a max-heap on timestamp.
type queue []Entry

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	ti, tj := q[i].Commit.Timestamp, q[j].Commit.Timestamp
	if !ti.Equal(tj) {
		return ti.After(tj)
	}
	return q[i].ID.Compare(q[j].ID.ObjectID) < 0
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(Entry)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}
