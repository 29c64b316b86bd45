// internal/merge/base.go
package merge

import (
	"strata/internal/ident"
	"strata/internal/refs"
)

// FindMergeBase returns the nearest common ancestor of a and b with the latest
// timestamp, breaking ties by the smaller id. ok is false when the histories are unrelated.
func FindMergeBase(a, b ident.CommitID, reader refs.CommitReader) (base ident.CommitID, ok bool, err error) {
	ancestorsOfA, err := ancestors(a, reader)
	if err != nil {
		return ident.CommitID{}, false, err
	}

	visited := map[ident.CommitID]bool{b: true}
	queue := []ident.CommitID{b}
	var best *candidate
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		c, err := reader.ReadCommit(id)
		if err != nil {
			return ident.CommitID{}, false, err
		}
		if ancestorsOfA[id] {
			cand := &candidate{id: id, unixNano: c.Timestamp.UnixNano()}
			if best == nil || cand.better(best) {
				best = cand
			}
			// Ancestors of a common ancestor are never better bases.
			continue
		}
		for _, p := range c.Parents {
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	if best == nil {
		return ident.CommitID{}, false, nil
	}
	return best.id, true, nil
}

type candidate struct {
	id       ident.CommitID
	unixNano int64
}

func (c *candidate) better(other *candidate) bool {
	if c.unixNano != other.unixNano {
		return c.unixNano > other.unixNano
	}
	return c.id.Compare(other.id.ObjectID) < 0
}

func ancestors(start ident.CommitID, reader refs.CommitReader) (map[ident.CommitID]bool, error) {
	seen := map[ident.CommitID]bool{start: true}
	queue := []ident.CommitID{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		c, err := reader.ReadCommit(id)
		if err != nil {
			return nil, err
		}
		for _, p := range c.Parents {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return seen, nil
}
