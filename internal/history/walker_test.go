package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/ident"
	"strata/internal/object"
)

type fixture struct {
	objects *object.Store
	clock   time.Time
}

func setupTestHistory(t *testing.T) *fixture {
	t.Helper()
	objects, err := object.NewStore(t.TempDir(), object.Options{})
	require.NoError(t, err)
	return &fixture{objects: objects, clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fixture) commit(t *testing.T, msg string, parents ...ident.CommitID) ident.CommitID {
	t.Helper()
	tree, err := f.objects.WriteTree(&object.Tree{})
	require.NoError(t, err)
	f.clock = f.clock.Add(time.Minute)
	id, err := f.objects.WriteCommit(&object.Commit{Tree: tree, Parents: parents, Author: "t", Message: msg, Timestamp: f.clock})
	require.NoError(t, err)
	return id
}

func messages(p *Page) []string {
	var out []string
	for _, e := range p.Commits {
		out = append(out, e.Commit.Message)
	}
	return out
}

func TestLogOrderAndMergeDedup(t *testing.T) {
	f := setupTestHistory(t)
	root := f.commit(t, "root")
	left := f.commit(t, "left", root)
	right := f.commit(t, "right", root)
	merge := f.commit(t, "merge", left, right)

	w := NewWalker(f.objects)
	page, err := w.Log(merge, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"merge", "right", "left", "root"}, messages(page))
	assert.False(t, page.HasMore)
	assert.Equal(t, 4, page.NextOffset)

	page, err = w.Log(merge, Options{FirstParent: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"merge", "left", "root"}, messages(page))
}

func TestLogPagination(t *testing.T) {
	f := setupTestHistory(t)
	var tip ident.CommitID
	for i := 0; i < 7; i++ {
		if tip.IsZero() {
			tip = f.commit(t, "c")
		} else {
			tip = f.commit(t, "c", tip)
		}
	}

	w := NewWalker(f.objects)
	var seen []ident.CommitID
	offset := 0
	for {
		page, err := w.Log(tip, Options{Offset: offset, Limit: 3})
		require.NoError(t, err)
		for _, e := range page.Commits {
			seen = append(seen, e.ID)
		}
		if !page.HasMore {
			break
		}
		offset = page.NextOffset
	}
	assert.Len(t, seen, 7)
	assert.Equal(t, tip, seen[0])

	uniq := map[ident.CommitID]bool{}
	for _, id := range seen {
		uniq[id] = true
	}
	assert.Len(t, uniq, 7)
}

func TestLogTiesBrokenByID(t *testing.T) {
	f := setupTestHistory(t)
	tree, err := f.objects.WriteTree(&object.Tree{})
	require.NoError(t, err)
	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	a, err := f.objects.WriteCommit(&object.Commit{Tree: tree, Message: "a", Author: "x", Timestamp: ts})
	require.NoError(t, err)
	b, err := f.objects.WriteCommit(&object.Commit{Tree: tree, Message: "b", Author: "x", Timestamp: ts})
	require.NoError(t, err)
	m, err := f.objects.WriteCommit(&object.Commit{Tree: tree, Parents: []ident.CommitID{a, b}, Message: "m", Author: "x", Timestamp: ts.Add(time.Hour)})
	require.NoError(t, err)

	page, err := NewWalker(f.objects).Log(m, Options{})
	require.NoError(t, err)
	require.Len(t, page.Commits, 3)
	first, second := page.Commits[1].ID, page.Commits[2].ID
	assert.Equal(t, -1, first.Compare(second.ObjectID))
}

func TestLogLimitBounds(t *testing.T) {
	f := setupTestHistory(t)
	tip := f.commit(t, "only")

	page, err := NewWalker(f.objects).Log(tip, Options{Limit: MaxLimit * 10, Offset: -5})
	require.NoError(t, err)
	assert.Len(t, page.Commits, 1)

	page, err = NewWalker(f.objects).Log(tip, Options{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, page.Commits)
	assert.Equal(t, 5, page.NextOffset)
}
