package refs

import (
	"fmt"

	"strata/internal/ident"
)

// IsAncestor reports whether old is reachable from new by following parent links.
// Every commit is visited at most once, so merge histories are walked in linear time.
func IsAncestor(old, new ident.CommitID, reader CommitReader) (bool, error) {
	if old == new {
		return true, nil
	}
	if reader == nil {
		return false, fmt.Errorf("no commit reader configured")
	}

	visited := map[ident.CommitID]bool{new: true}
	queue := []ident.CommitID{new}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		c, err := reader.ReadCommit(id)
		if err != nil {
			return false, err
		}
		for _, p := range c.Parents {
			if p == old {
				return true, nil
			}
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}
