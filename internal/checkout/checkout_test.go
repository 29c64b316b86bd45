package checkout

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/errors"
	"strata/internal/ident"
	"strata/internal/index"
	"strata/internal/object"
	"strata/internal/safepath"
	"strata/internal/tree"
)

func setupTestStore(t *testing.T) *object.Store {
	t.Helper()
	store, err := object.NewStore(t.TempDir(), object.Options{})
	require.NoError(t, err)
	return store
}

func writeCommit(t *testing.T, store *object.Store, files map[string]string) ident.CommitID {
	t.Helper()
	idx := index.New()
	for p, c := range files {
		b, err := store.WriteBlob([]byte(c))
		require.NoError(t, err)
		idx.Stage(safepath.Must(p), b)
	}
	root, err := tree.Build(idx, store)
	require.NoError(t, err)
	id, err := store.WriteCommit(&object.Commit{Tree: root, Author: "t", Message: "m", Timestamp: time.Unix(0, 0)})
	require.NoError(t, err)
	return id
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestMaterializeAndIdempotence(t *testing.T) {
	store := setupTestStore(t)
	commit := writeCommit(t, store, map[string]string{"a.txt": "hello", "dir/b.txt": "world"})
	dest := t.TempDir()

	res, err := Materialize(commit, store, dest, PolicyOverwrite, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesWritten)
	assert.Equal(t, "hello", readFile(t, filepath.Join(dest, "a.txt")))
	assert.Equal(t, "world", readFile(t, filepath.Join(dest, "dir", "b.txt")))

	res, err = Materialize(commit, store, dest, PolicyOverwrite, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilesWritten)
}

func TestOverwritePolicy(t *testing.T) {
	store := setupTestStore(t)
	commit := writeCommit(t, store, map[string]string{"a.txt": "hello"})
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("local edit"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "extra.txt"), []byte("keep"), 0o644))

	res, err := Materialize(commit, store, dest, PolicyOverwrite, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesWritten)
	assert.Equal(t, "hello", readFile(t, filepath.Join(dest, "a.txt")))
	assert.Equal(t, "keep", readFile(t, filepath.Join(dest, "extra.txt")))
}

func TestSafePolicyWritesNothingOnConflict(t *testing.T) {
	store := setupTestStore(t)
	commit := writeCommit(t, store, map[string]string{"a.txt": "A", "b.txt": "B", "new.txt": "N"})
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "b.txt"), []byte("mine"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("mine too"), 0o644))

	_, err := Materialize(commit, store, dest, PolicySafe, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConflict))
	assert.Equal(t, []string{"a.txt", "b.txt"}, errors.DetailsOf(err))

	_, statErr := os.Stat(filepath.Join(dest, "new.txt"))
	assert.True(t, os.IsNotExist(statErr), "no file written on conflict")
	assert.Equal(t, "mine", readFile(t, filepath.Join(dest, "b.txt")))
}

func TestSafePolicyAllowsMatchingFiles(t *testing.T) {
	store := setupTestStore(t)
	commit := writeCommit(t, store, map[string]string{"a.txt": "A", "b.txt": "B"})
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("A"), 0o644))

	res, err := Materialize(commit, store, dest, PolicySafe, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesWritten)
	assert.Equal(t, []safepath.SafePath{safepath.Must("b.txt")}, res.Written)
}

func TestCleanPolicyDeletesExtras(t *testing.T) {
	store := setupTestStore(t)
	commit := writeCommit(t, store, map[string]string{"keep/a.txt": "A"})
	dest := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "old", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "old", "nested", "x.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "stray.txt"), []byte("s"), 0o644))

	res, err := Materialize(commit, store, dest, PolicyClean, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesWritten)
	assert.Equal(t, 2, res.FilesDeleted)

	_, err = os.Stat(filepath.Join(dest, "old"))
	assert.True(t, os.IsNotExist(err), "emptied directories are pruned")
	_, err = os.Stat(filepath.Join(dest, "stray.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, "A", readFile(t, filepath.Join(dest, "keep", "a.txt")))
}

func TestCleanPolicyFileDirectoryTransitions(t *testing.T) {
	t.Run("directory becomes file", func(t *testing.T) {
		store := setupTestStore(t)
		commit := writeCommit(t, store, map[string]string{"a": "file now"})
		dest := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dest, "a"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dest, "a", "x.txt"), []byte("x"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dest, "a", "y.txt"), []byte("y"), 0o644))

		res, err := Materialize(commit, store, dest, PolicyClean, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.FilesWritten)
		assert.Equal(t, 2, res.FilesDeleted)
		assert.Equal(t, []safepath.SafePath{safepath.Must("a/x.txt"), safepath.Must("a/y.txt")}, res.Deleted)
		assert.Equal(t, "file now", readFile(t, filepath.Join(dest, "a")))
	})

	t.Run("file becomes directory", func(t *testing.T) {
		store := setupTestStore(t)
		commit := writeCommit(t, store, map[string]string{"a/b.txt": "B"})
		dest := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dest, "a"), []byte("file"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dest, "stray.txt"), []byte("s"), 0o644))

		res, err := Materialize(commit, store, dest, PolicyClean, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.FilesWritten)
		assert.Equal(t, 2, res.FilesDeleted)
		assert.Equal(t, []safepath.SafePath{safepath.Must("a"), safepath.Must("stray.txt")}, res.Deleted)
		assert.Equal(t, "B", readFile(t, filepath.Join(dest, "a", "b.txt")))
		_, err = os.Stat(filepath.Join(dest, "stray.txt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("extras beside a replaced directory", func(t *testing.T) {
		store := setupTestStore(t)
		commit := writeCommit(t, store, map[string]string{"a": "file now", "keep/k.txt": "K"})
		dest := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dest, "a", "deep"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dest, "a", "deep", "z.txt"), []byte("z"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(dest, "keep"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dest, "keep", "old.txt"), []byte("o"), 0o644))

		res, err := Materialize(commit, store, dest, PolicyClean, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.FilesWritten)
		assert.Equal(t, 2, res.FilesDeleted)
		assert.Equal(t, "file now", readFile(t, filepath.Join(dest, "a")))
		assert.Equal(t, "K", readFile(t, filepath.Join(dest, "keep", "k.txt")))
		_, err = os.Stat(filepath.Join(dest, "keep", "old.txt"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestFileBlockingDirectory(t *testing.T) {
	store := setupTestStore(t)
	commit := writeCommit(t, store, map[string]string{"a/b.txt": "B"})

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a"), []byte("file"), 0o644))
	_, err := Materialize(commit, store, dest, PolicySafe, nil)
	assert.True(t, errors.Is(err, errors.KindConflict))

	res, err := Materialize(commit, store, dest, PolicyOverwrite, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesWritten)
	assert.Equal(t, "B", readFile(t, filepath.Join(dest, "a", "b.txt")))
}

func TestSymlinkParentIsNotFollowed(t *testing.T) {
	store := setupTestStore(t)
	commit := writeCommit(t, store, map[string]string{"link/owned.txt": "pwn"})

	outside := t.TempDir()
	dest := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dest, "link")))

	_, err := Materialize(commit, store, dest, PolicyOverwrite, nil)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(outside, "owned.txt"))
	assert.True(t, os.IsNotExist(err), "write escaped through a symlink")
	assert.Equal(t, "pwn", readFile(t, filepath.Join(dest, "link", "owned.txt")))
}

func TestUnsafeTreeEntriesNeverEscape(t *testing.T) {
	dir := t.TempDir()
	store, err := object.NewStore(dir, object.Options{})
	require.NoError(t, err)
	evil, err := store.WriteBlob([]byte("evil"))
	require.NoError(t, err)
	good, err := store.WriteBlob([]byte("good"))
	require.NoError(t, err)
	root := writeRawTree(t, dir,
		object.TreeEntry{Name: "../escape.txt", Kind: object.EntryBlob, ID: evil.ObjectID},
		object.TreeEntry{Name: "..", Kind: object.EntryBlob, ID: evil.ObjectID},
		object.TreeEntry{Name: "ok.txt", Kind: object.EntryBlob, ID: good.ObjectID},
	)
	commit, err := store.WriteCommit(&object.Commit{Tree: root, Author: "x", Message: "x", Timestamp: time.Unix(0, 0)})
	require.NoError(t, err)

	parent := t.TempDir()
	dest := filepath.Join(parent, "work")
	res, err := Materialize(commit, store, dest, PolicyOverwrite, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesWritten)

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "work", entries[0].Name())
}

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"overwrite", "safe", "clean"} {
		p, err := ParsePolicy(s)
		require.NoError(t, err)
		assert.Equal(t, Policy(s), p)
	}
	_, err := ParsePolicy("yolo")
	assert.True(t, errors.Is(err, errors.KindValidation))
}

// writeRawTree stores a tree object byte for byte, bypassing the entry checks Encode
// applies, the way a tree copied in from elsewhere would arrive.
func writeRawTree(t *testing.T, root string, entries ...object.TreeEntry) ident.TreeID {
	t.Helper()
	raw := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		raw = append(raw, map[string]string{"name": e.Name, "kind": string(e.Kind), "id": e.ID.String()})
	}
	data, err := json.Marshal(map[string]any{"type": "tree", "entries": raw})
	require.NoError(t, err)
	id := ident.Sum(data)
	path := filepath.Join(root, "objects", id.String()[:2], id.String()[2:])
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return ident.TreeID{ObjectID: id}
}
