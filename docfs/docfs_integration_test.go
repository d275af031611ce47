package docfs_test

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tfs "gotest.tools/v3/fs"

	"github.com/EHfive/sopsfs"
	"github.com/EHfive/sopsfs/docfs"
	"github.com/EHfive/sopsfs/internal/fakesops"
	"github.com/EHfive/sopsfs/sopstool"
)

func TestMain(m *testing.M) {
	if fakesops.Enabled() {
		os.Exit(fakesops.Main())
	}

	os.Exit(m.Run())
}

const sampleDoc = `{"a":{"b":"secret"},"list":["x","y"],"num":3}`

func newDocFS(t *testing.T, name, content string) *docfs.DocFS {
	t.Helper()

	dir := tfs.NewDir(t, "docfs", tfs.WithFile(name, content))
	t.Cleanup(dir.Remove)

	tool := sopstool.New(sopstool.WithExecutable(fakesops.Script(t)))

	f, err := docfs.New(dir.Join(name), docfs.WithTool(tool))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	return f
}

func entryNames(entries []fs.DirEntry) []string {
	names := make([]string, 0, len(entries))
	for _, de := range entries {
		names = append(names, de.Name())
	}

	return names
}

func TestReadDirRoot(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	entries, err := f.ReadDir(".")
	require.NoError(t, err)

	// synthetic raw entry first, then the tree's keys in sorted order
	assert.Equal(t, []string{"raw_data.json", "a", "list", "num"}, entryNames(entries))
	assert.False(t, entries[0].IsDir())
	assert.True(t, entries[1].IsDir())
	assert.True(t, entries[2].IsDir())
	assert.False(t, entries[3].IsDir())
}

func TestReadDirContainer(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	entries, err := f.ReadDir("list")
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, entryNames(entries))

	_, err = f.ReadDir("a/b")
	assert.ErrorIs(t, err, sopsfs.ErrNotDirectory)

	_, err = f.ReadDir("raw_data.json")
	assert.ErrorIs(t, err, sopsfs.ErrNotDirectory)

	_, err = f.ReadDir("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReadFile(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	b, err := f.ReadFile("a/b")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(b))

	b, err = f.ReadFile("num")
	require.NoError(t, err)
	assert.Equal(t, "3", string(b))

	b, err = f.ReadFile("list/1")
	require.NoError(t, err)
	assert.Equal(t, "y", string(b))

	// containers read as their compact JSON rendering
	b, err = f.ReadFile("a")
	require.NoError(t, err)
	assert.Equal(t, `{"b":"secret"}`, string(b))

	b, err = f.ReadFile("raw_data.json")
	require.NoError(t, err)
	assert.Equal(t, sampleDoc, string(b))

	_, err = f.ReadFile(".")
	assert.ErrorIs(t, err, sopsfs.ErrIsDirectory)

	_, err = f.ReadFile("a/zz")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestStat(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	fi, err := f.Stat(".")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
	assert.EqualValues(t, 4, fi.Size())

	fi, err = f.Stat("a/b")
	require.NoError(t, err)
	assert.False(t, fi.IsDir())
	assert.EqualValues(t, len("secret"), fi.Size())
	assert.Equal(t, fs.FileMode(0o600), fi.Mode())

	fi, err = f.Stat("raw_data.json")
	require.NoError(t, err)
	assert.EqualValues(t, len(sampleDoc), fi.Size())

	_, err = f.Stat("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	var perr *fs.PathError

	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "missing", perr.Path)

	_, err = f.Stat("list/01")
	assert.ErrorIs(t, err, fs.ErrInvalid)
}

func TestStatInvalidNames(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	for _, name := range []string{"/abs", "a//b", "..", "a/../b", ""} {
		_, err := f.Stat(name)
		assert.ErrorIs(t, err, fs.ErrInvalid, "name %q", name)
	}
}

func TestOpen(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	file, err := f.Open("a/b")
	require.NoError(t, err)

	b, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(b))
	require.NoError(t, file.Close())

	dir, err := f.Open("a")
	require.NoError(t, err)

	rdf, ok := dir.(fs.ReadDirFile)
	require.True(t, ok)

	entries, err := rdf.ReadDir(-1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, entryNames(entries))
	require.NoError(t, dir.Close())
}

func TestWriteFile(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	err := f.WriteFile("a/c", []byte("value"), sopsfs.WriteOptions{Create: true})
	require.NoError(t, err)

	b, err := f.ReadFile("a/c")
	require.NoError(t, err)
	assert.Equal(t, "value", string(b))

	fi, err := f.Stat("a/c")
	require.NoError(t, err)
	assert.EqualValues(t, 5, fi.Size())

	// replacing an existing leaf needs no flags at all
	err = f.WriteFile("a/c", []byte("other"), sopsfs.WriteOptions{})
	require.NoError(t, err)

	b, err = f.ReadFile("a/c")
	require.NoError(t, err)
	assert.Equal(t, "other", string(b))

	// create-without-overwrite is the one combination an existing target
	// rejects
	err = f.WriteFile("a/c", []byte("x"), sopsfs.WriteOptions{Create: true})
	assert.ErrorIs(t, err, fs.ErrExist)

	err = f.WriteFile("a/c", []byte("third"), sopsfs.WriteOptions{Create: true, Overwrite: true})
	require.NoError(t, err)

	b, err = f.ReadFile("a/c")
	require.NoError(t, err)
	assert.Equal(t, "third", string(b))
}

func TestWriteFileReplacesWithoutFlags(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	require.NoError(t, f.WriteFile("a/b", []byte("replaced"), sopsfs.WriteOptions{}))

	b, err := f.ReadFile("a/b")
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(b))
}

func TestWriteFileErrors(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	err := f.WriteFile("ghost", []byte("x"), sopsfs.WriteOptions{})
	assert.ErrorIs(t, err, fs.ErrNotExist)

	err = f.WriteFile(".", []byte("x"), sopsfs.WriteOptions{Create: true, Overwrite: true})
	assert.ErrorIs(t, err, sopsfs.ErrIsDirectory)

	err = f.WriteFile("a", []byte("x"), sopsfs.WriteOptions{Create: true, Overwrite: true})
	assert.ErrorIs(t, err, sopsfs.ErrIsDirectory)

	// intermediate levels are never conjured
	err = f.WriteFile("nope/deep", []byte("x"), sopsfs.WriteOptions{Create: true})
	assert.ErrorIs(t, err, fs.ErrNotExist)

	err = f.WriteFile("a/b/under-leaf", []byte("x"), sopsfs.WriteOptions{Create: true})
	assert.ErrorIs(t, err, sopsfs.ErrNotDirectory)

	err = f.WriteFile("list/01", []byte("x"), sopsfs.WriteOptions{Create: true})
	assert.ErrorIs(t, err, fs.ErrInvalid)
}

func TestWriteFileArrayAppend(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	err := f.WriteFile("list/2", []byte("z"), sopsfs.WriteOptions{Create: true})
	require.NoError(t, err)

	entries, err := f.ReadDir("list")
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, entryNames(entries))

	b, err := f.ReadFile("list/2")
	require.NoError(t, err)
	assert.Equal(t, "z", string(b))
}

func TestWriteRawData(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	replacement := []byte(`{"x":"hello"}`)

	// the synthetic entry always exists, so create-without-overwrite fails
	err := f.WriteFile("raw_data.json", replacement, sopsfs.WriteOptions{Create: true})
	assert.ErrorIs(t, err, fs.ErrExist)

	err = f.WriteFile("raw_data.json", replacement, sopsfs.WriteOptions{})
	require.NoError(t, err)

	b, err := f.ReadFile("raw_data.json")
	require.NoError(t, err)
	assert.Equal(t, replacement, b)

	b, err = f.ReadFile("x")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	_, err = f.Stat("a")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMkdir(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	require.NoError(t, f.Mkdir("a/sub"))

	fi, err := f.Stat("a/sub")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
	assert.EqualValues(t, 0, fi.Size())

	b, err := f.ReadFile("a/sub")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	assert.ErrorIs(t, f.Mkdir("a"), fs.ErrExist)
	assert.ErrorIs(t, f.Mkdir("raw_data.json"), fs.ErrExist)
	assert.ErrorIs(t, f.Mkdir("nope/deep"), fs.ErrNotExist)
	assert.ErrorIs(t, f.Mkdir("."), fs.ErrInvalid)
}

func TestRemove(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	require.NoError(t, f.Remove("a/b"))

	_, err := f.Stat("a/b")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	// the emptied parent survives as an empty object
	b, err := f.ReadFile("a")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	assert.ErrorIs(t, f.Remove("missing"), fs.ErrNotExist)
	assert.ErrorIs(t, f.Remove("."), fs.ErrPermission)
}

func TestRemoveArrayElement(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	require.NoError(t, f.Remove("list/0"))

	entries, err := f.ReadDir("list")
	require.NoError(t, err)
	assert.Equal(t, []string{"0"}, entryNames(entries))

	b, err := f.ReadFile("list/0")
	require.NoError(t, err)
	assert.Equal(t, "y", string(b))
}

func TestRemoveSubtree(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	require.NoError(t, f.Remove("a"))

	_, err := f.Stat("a")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	entries, err := f.ReadDir(".")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw_data.json", "list", "num"}, entryNames(entries))
}

func TestRemoveRawDataForbidden(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	before, err := os.ReadFile(f.DocumentPath())
	require.NoError(t, err)

	assert.ErrorIs(t, f.Remove("raw_data.json"), fs.ErrPermission)

	// the stable document was never touched
	after, err := os.ReadFile(f.DocumentPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRename(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	require.NoError(t, f.Rename("a", "c", sopsfs.RenameOptions{}))

	b, err := f.ReadFile("c/b")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(b))

	_, err = f.Stat("a")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestRenameErrors(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	err := f.Rename("a/b", "num", sopsfs.RenameOptions{})
	assert.ErrorIs(t, err, fs.ErrExist)

	require.NoError(t, f.Rename("a/b", "num", sopsfs.RenameOptions{Overwrite: true}))

	b, err := f.ReadFile("num")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(b))

	assert.ErrorIs(t, f.Rename("missing", "dest", sopsfs.RenameOptions{}), fs.ErrNotExist)
	assert.ErrorIs(t, f.Rename(".", "dest", sopsfs.RenameOptions{}), fs.ErrPermission)
	assert.ErrorIs(t, f.Rename("num", "raw_data.json", sopsfs.RenameOptions{Overwrite: true}), fs.ErrPermission)
}

func collectBatches(t *testing.T, f *docfs.DocFS) func() [][]sopsfs.Event {
	t.Helper()

	ch := make(chan []sopsfs.Event, 16)

	cancel := f.Subscribe(func(events []sopsfs.Event) {
		ch <- events
	})
	t.Cleanup(cancel)

	return func() [][]sopsfs.Event {
		var batches [][]sopsfs.Event

		deadline := time.After(2 * time.Second)

		for {
			select {
			case batch := <-ch:
				batches = append(batches, batch)

				return batches
			case <-deadline:
				t.Fatal("no event batch arrived")
			}
		}
	}
}

func TestWriteEvents(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)
	wait := collectBatches(t, f)

	require.NoError(t, f.WriteFile("a/c", []byte("v"), sopsfs.WriteOptions{Create: true}))

	batches := wait()
	batch := batches[0]

	// every batch leads with the root and synthetic-entry changes
	require.GreaterOrEqual(t, len(batch), 3)
	assert.Equal(t, sopsfs.Event{Path: ".", Kind: sopsfs.EventChanged}, batch[0])
	assert.Equal(t, sopsfs.Event{Path: "raw_data.json", Kind: sopsfs.EventChanged}, batch[1])
	assert.Contains(t, batch, sopsfs.Event{Path: "a/c", Kind: sopsfs.EventCreated})
}

func TestRenameEvents(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)
	wait := collectBatches(t, f)

	require.NoError(t, f.Rename("a", "c", sopsfs.RenameOptions{}))

	batch := wait()[0]
	assert.Contains(t, batch, sopsfs.Event{Path: "a", Kind: sopsfs.EventDeleted})
	assert.Contains(t, batch, sopsfs.Event{Path: "c", Kind: sopsfs.EventCreated})
}

func TestExternalEditInvalidates(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	b, err := f.ReadFile("a/b")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(b))

	require.NoError(t, os.WriteFile(f.DocumentPath(), []byte(`{"z":"fresh"}`), 0o600))

	// the directory watch invalidates the snapshot; the next access after
	// that re-derives it from the edited document
	require.Eventually(t, func() bool {
		b, err := f.ReadFile("z")

		return err == nil && string(b) == "fresh"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestBinaryDocument(t *testing.T) {
	content := "opaque payload\n"
	f := newDocFS(t, "blob.sops", content)

	assert.Equal(t, docfs.FormatBinary, f.Format())
	assert.Equal(t, "raw_data", f.RawName())

	entries, err := f.ReadDir(".")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw_data"}, entryNames(entries))

	b, err := f.ReadFile("raw_data")
	require.NoError(t, err)
	assert.Equal(t, content, string(b))

	assert.ErrorIs(t, f.WriteFile("x", []byte("v"), sopsfs.WriteOptions{Create: true}), fs.ErrPermission)
	assert.ErrorIs(t, f.Mkdir("x"), fs.ErrPermission)
	assert.ErrorIs(t, f.Remove("x"), fs.ErrPermission)
	assert.ErrorIs(t, f.Rename("x", "y", sopsfs.RenameOptions{}), fs.ErrPermission)

	require.NoError(t, f.WriteFile("raw_data", []byte("new payload"), sopsfs.WriteOptions{Overwrite: true}))

	b, err = f.ReadFile("raw_data")
	require.NoError(t, err)
	assert.Equal(t, "new payload", string(b))
}

func TestRawDataShadowsTreeKey(t *testing.T) {
	doc := `{"raw_data.json":{"child":"x"},"k":"v"}`
	f := newDocFS(t, "secrets.sops.json", doc)

	// the shadowed key appears once, as the synthetic file
	entries, err := f.ReadDir(".")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw_data.json", "k"}, entryNames(entries))
	assert.False(t, entries[0].IsDir())

	b, err := f.ReadFile("raw_data.json")
	require.NoError(t, err)
	assert.Equal(t, doc, string(b))

	// the shadowed subtree is unreachable through sub-paths
	_, err = f.Stat("raw_data.json/child")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = f.ReadFile("raw_data.json/child")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = f.ReadDir("raw_data.json/child")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.ErrorIs(t, f.Remove("raw_data.json/child"), fs.ErrNotExist)

	err = f.WriteFile("raw_data.json/child", []byte("y"), sopsfs.WriteOptions{Create: true, Overwrite: true})
	assert.ErrorIs(t, err, sopsfs.ErrNotDirectory)

	assert.ErrorIs(t, f.Mkdir("raw_data.json/sub"), sopsfs.ErrNotDirectory)

	err = f.Rename("raw_data.json/child", "k2", sopsfs.RenameOptions{})
	assert.ErrorIs(t, err, fs.ErrNotExist)

	err = f.Rename("k", "raw_data.json/k2", sopsfs.RenameOptions{})
	assert.ErrorIs(t, err, sopsfs.ErrNotDirectory)
}

func TestMissingDocument(t *testing.T) {
	tool := sopstool.New(sopstool.WithExecutable(fakesops.Script(t)))

	dir := tfs.NewDir(t, "docfs")
	t.Cleanup(dir.Remove)

	f, err := docfs.New(dir.Join("absent.sops.json"), docfs.WithTool(tool))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	_, err = f.Stat(".")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCloseIdempotent(t *testing.T) {
	f := newDocFS(t, "secrets.sops.json", sampleDoc)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}
