package docfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"

	"github.com/EHfive/sopsfs"
	"github.com/EHfive/sopsfs/internal"
	"github.com/EHfive/sopsfs/sopstool"
)

// DocFS is a writable virtual filesystem over one SOPS-encrypted document.
type DocFS struct {
	ctx     context.Context
	docPath string
	format  Format
	rawName string
	tool    *sopstool.Tool
	hub     *sopsfs.EventHub

	mu      sync.Mutex
	snap    *snapshot
	pending []sopsfs.Event
	timer   *time.Timer
	closed  bool

	watcher *fsnotify.Watcher
}

// New returns a filesystem projecting the encrypted document at docPath. The
// document's directory is watched so external edits invalidate the cached
// snapshot; callers must Close the filesystem to release the watch.
func New(docPath string, opts ...Option) (*DocFS, error) {
	abs, err := filepath.Abs(docPath)
	if err != nil {
		return nil, err
	}

	f := &DocFS{
		ctx:     context.Background(),
		docPath: abs,
		format:  DetectFormat(abs),
		rawName: RawDataName(abs),
		tool:    sopstool.New(),
		hub:     sopsfs.NewEventHub(),
	}

	for _, opt := range opts {
		opt.apply(f)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()

		return nil, err
	}

	f.watcher = watcher

	go f.watchLoop()

	return f, nil
}

// Option configures a DocFS at construction.
type Option interface {
	apply(*DocFS)
}

type optionFunc func(*DocFS)

func (o optionFunc) apply(f *DocFS) { o(f) }

// WithTool uses the given tool for every document access instead of the
// default "sops" on PATH.
func WithTool(t *sopstool.Tool) Option {
	return optionFunc(func(f *DocFS) {
		if t != nil {
			f.tool = t
		}
	})
}

// WithContext uses ctx for every tool invocation.
func WithContext(ctx context.Context) Option {
	return optionFunc(func(f *DocFS) {
		if ctx != nil {
			f.ctx = ctx
		}
	})
}

var (
	_ sopsfs.FS     = (*DocFS)(nil)
	_ fs.FS         = (*DocFS)(nil)
	_ fs.StatFS     = (*DocFS)(nil)
	_ fs.ReadDirFS  = (*DocFS)(nil)
	_ fs.ReadFileFS = (*DocFS)(nil)
)

// DocumentPath returns the absolute path of the stable encrypted document.
func (f *DocFS) DocumentPath() string { return f.docPath }

// Format returns the document's detected format.
func (f *DocFS) Format() Format { return f.format }

// RawName returns the name of the synthetic raw-data entry at the root.
func (f *DocFS) RawName() string { return f.rawName }

func pathErr(op, name string, err error) error {
	if err == nil {
		return nil
	}

	return &fs.PathError{Op: op, Path: name, Err: err}
}

// shadowedByRaw reports whether addr descends into the synthetic raw-data
// entry. The entry shadows an identically named tree key entirely, so such
// addresses never resolve against the tree.
func (f *DocFS) shadowedByRaw(addr []string) bool {
	return len(addr) > 1 && addr[0] == f.rawName
}

func (f *DocFS) Stat(name string) (fs.FileInfo, error) {
	if !internal.ValidPath(name) {
		return nil, pathErr("stat", name, fs.ErrInvalid)
	}

	snap, err := f.snapshot()
	if err != nil {
		return nil, pathErr("stat", name, err)
	}

	return f.statLocked(snap, name, "stat")
}

func (f *DocFS) statLocked(snap *snapshot, name, op string) (fs.FileInfo, error) {
	mt := snap.fi.ModTime()

	if name == "." {
		return internal.DirInfo(".", int64(len(f.listEntries(snap))), mt), nil
	}

	if name == f.rawName {
		return internal.FileInfo(f.rawName, int64(len(snap.raw)), 0o600, mt), nil
	}

	addr := splitAddr(name)
	if f.shadowedByRaw(addr) {
		return nil, pathErr(op, name, fs.ErrNotExist)
	}

	v, err := lookup(snap.tree, addr)
	if err != nil {
		return nil, pathErr(op, name, err)
	}

	return nodeInfo(path.Base(name), v, mt), nil
}

func nodeInfo(base string, v any, mt time.Time) fs.FileInfo {
	switch node := v.(type) {
	case map[string]any:
		return internal.DirInfo(base, int64(len(node)), mt)
	case []any:
		return internal.DirInfo(base, int64(len(node)), mt)
	default:
		return internal.FileInfo(base, int64(len(leafContent(v))), 0o600, mt)
	}
}

func (f *DocFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !internal.ValidPath(name) {
		return nil, pathErr("readDir", name, fs.ErrInvalid)
	}

	snap, err := f.snapshot()
	if err != nil {
		return nil, pathErr("readDir", name, err)
	}

	if name == "." {
		return f.listEntries(snap), nil
	}

	if name == f.rawName {
		return nil, pathErr("readDir", name, sopsfs.ErrNotDirectory)
	}

	addr := splitAddr(name)
	if f.shadowedByRaw(addr) {
		return nil, pathErr("readDir", name, fs.ErrNotExist)
	}

	v, err := lookup(snap.tree, addr)
	if err != nil {
		return nil, pathErr("readDir", name, err)
	}

	if !isContainer(v) {
		return nil, pathErr("readDir", name, sopsfs.ErrNotDirectory)
	}

	return containerEntries(v, snap.fi.ModTime()), nil
}

// listEntries builds the root listing: the synthetic raw-data entry first,
// then the tree's top-level entries. A tree key equal to the synthetic name
// is shadowed.
func (f *DocFS) listEntries(snap *snapshot) []fs.DirEntry {
	mt := snap.fi.ModTime()

	entries := []fs.DirEntry{internal.FileInfoDirEntry(
		internal.FileInfo(f.rawName, int64(len(snap.raw)), 0o600, mt),
	)}

	if isContainer(snap.tree) {
		for _, de := range containerEntries(snap.tree, mt) {
			if de.Name() == f.rawName {
				continue
			}

			entries = append(entries, de)
		}
	}

	return entries
}

func containerEntries(v any, mt time.Time) []fs.DirEntry {
	switch node := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		entries := make([]fs.DirEntry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, internal.FileInfoDirEntry(nodeInfo(k, node[k], mt)))
		}

		return entries
	case []any:
		entries := make([]fs.DirEntry, 0, len(node))
		for i, elem := range node {
			entries = append(entries, internal.FileInfoDirEntry(nodeInfo(strconv.Itoa(i), elem, mt)))
		}

		return entries
	default:
		return nil
	}
}

func (f *DocFS) ReadFile(name string) ([]byte, error) {
	if !internal.ValidPath(name) {
		return nil, pathErr("readFile", name, fs.ErrInvalid)
	}

	snap, err := f.snapshot()
	if err != nil {
		return nil, pathErr("readFile", name, err)
	}

	if name == "." {
		return nil, pathErr("readFile", name, sopsfs.ErrIsDirectory)
	}

	if name == f.rawName {
		out := make([]byte, len(snap.raw))
		copy(out, snap.raw)

		return out, nil
	}

	addr := splitAddr(name)
	if f.shadowedByRaw(addr) {
		return nil, pathErr("readFile", name, fs.ErrNotExist)
	}

	v, err := lookup(snap.tree, addr)
	if err != nil {
		return nil, pathErr("readFile", name, err)
	}

	return leafContent(v), nil
}

func (f *DocFS) Open(name string) (fs.File, error) {
	if !internal.ValidPath(name) {
		return nil, pathErr("open", name, fs.ErrInvalid)
	}

	snap, err := f.snapshot()
	if err != nil {
		return nil, pathErr("open", name, err)
	}

	fi, err := f.statLocked(snap, name, "open")
	if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		var entries []fs.DirEntry
		if name == "." {
			entries = f.listEntries(snap)
		} else {
			v, _ := lookup(snap.tree, splitAddr(name))
			entries = containerEntries(v, snap.fi.ModTime())
		}

		return internal.NewDirFile(fi, entries), nil
	}

	content, err := f.ReadFile(name)
	if err != nil {
		return nil, err
	}

	return internal.NewMemFile(fi, content), nil
}

// WriteFile replaces the value at name with data and re-encrypts the
// document. Writing the synthetic raw-data entry replaces the entire
// decrypted stream; any other write is a set-mutation carrying the UTF-8
// text of data. Binary documents accept only the synthetic entry.
func (f *DocFS) WriteFile(name string, data []byte, opts sopsfs.WriteOptions) error {
	if !internal.ValidPath(name) {
		return pathErr("writeFile", name, fs.ErrInvalid)
	}

	if name == "." {
		return pathErr("writeFile", name, sopsfs.ErrIsDirectory)
	}

	snap, err := f.snapshot()
	if err != nil {
		return pathErr("writeFile", name, err)
	}

	if name == f.rawName {
		if opts.Create && !opts.Overwrite {
			return pathErr("writeFile", name, fs.ErrExist)
		}

		err := f.mutate(func(tmp string) error {
			return f.tool.Reencrypt(f.ctx, tmp, data)
		})
		if err != nil {
			return pathErr("writeFile", name, err)
		}

		f.enqueue(sopsfs.Event{Path: name, Kind: sopsfs.EventChanged})

		return nil
	}

	if f.format == FormatBinary {
		return pathErr("writeFile", name, fs.ErrPermission)
	}

	addr := splitAddr(name)
	if f.shadowedByRaw(addr) {
		return pathErr("writeFile", name, sopsfs.ErrNotDirectory)
	}

	existing, lookupErr := lookup(snap.tree, addr)
	if errors.Is(lookupErr, fs.ErrInvalid) {
		return pathErr("writeFile", name, lookupErr)
	}

	exists := lookupErr == nil

	switch {
	case !exists && !opts.Create:
		return pathErr("writeFile", name, fs.ErrNotExist)
	case exists && opts.Create && !opts.Overwrite:
		return pathErr("writeFile", name, fs.ErrExist)
	case exists && isContainer(existing):
		return pathErr("writeFile", name, sopsfs.ErrIsDirectory)
	}

	if err := checkParent(snap.tree, addr); err != nil {
		return pathErr("writeFile", name, err)
	}

	expr, err := setExpr(snap.tree, addr)
	if err != nil {
		return pathErr("writeFile", name, err)
	}

	err = f.mutate(func(tmp string) error {
		return f.tool.Set(f.ctx, tmp, expr, string(data))
	})
	if err != nil {
		return pathErr("writeFile", name, err)
	}

	kind := sopsfs.EventChanged
	if !exists {
		kind = sopsfs.EventCreated
	}

	f.enqueue(sopsfs.Event{Path: name, Kind: kind})

	return nil
}

// Mkdir creates an empty object at name via a set-mutation.
func (f *DocFS) Mkdir(name string) error {
	if !internal.ValidPath(name) || name == "." {
		return pathErr("mkdir", name, fs.ErrInvalid)
	}

	snap, err := f.snapshot()
	if err != nil {
		return pathErr("mkdir", name, err)
	}

	if f.format == FormatBinary {
		return pathErr("mkdir", name, fs.ErrPermission)
	}

	if name == f.rawName {
		return pathErr("mkdir", name, fs.ErrExist)
	}

	addr := splitAddr(name)
	if f.shadowedByRaw(addr) {
		return pathErr("mkdir", name, sopsfs.ErrNotDirectory)
	}

	if _, lookupErr := lookup(snap.tree, addr); lookupErr == nil {
		return pathErr("mkdir", name, fs.ErrExist)
	} else if errors.Is(lookupErr, fs.ErrInvalid) {
		return pathErr("mkdir", name, lookupErr)
	}

	if err := checkParent(snap.tree, addr); err != nil {
		return pathErr("mkdir", name, err)
	}

	expr, err := setExpr(snap.tree, addr)
	if err != nil {
		return pathErr("mkdir", name, err)
	}

	err = f.mutate(func(tmp string) error {
		return f.tool.Set(f.ctx, tmp, expr, map[string]any{})
	})
	if err != nil {
		return pathErr("mkdir", name, err)
	}

	f.enqueue(sopsfs.Event{Path: name, Kind: sopsfs.EventCreated})

	return nil
}

// Remove deletes the entry at name through the delete-marker protocol. The
// synthetic raw-data entry and the root cannot be removed.
func (f *DocFS) Remove(name string) error {
	if !internal.ValidPath(name) {
		return pathErr("remove", name, fs.ErrInvalid)
	}

	if name == "." || name == f.rawName {
		return pathErr("remove", name, fs.ErrPermission)
	}

	snap, err := f.snapshot()
	if err != nil {
		return pathErr("remove", name, err)
	}

	if f.format == FormatBinary {
		return pathErr("remove", name, fs.ErrPermission)
	}

	addr := splitAddr(name)
	if f.shadowedByRaw(addr) {
		return pathErr("remove", name, fs.ErrNotExist)
	}

	if _, err := lookup(snap.tree, addr); err != nil {
		return pathErr("remove", name, err)
	}

	err = f.mutate(func(tmp string) error {
		return f.removeOnCopy(tmp, snap.tree, addr)
	})
	if err != nil {
		return pathErr("remove", name, err)
	}

	f.enqueue(sopsfs.Event{Path: name, Kind: sopsfs.EventDeleted})

	return nil
}

// removeOnCopy runs the delete-marker protocol against a private copy of the
// document: tombstone the target, decrypt, strip the tombstoned entry from
// the plaintext, re-encrypt.
func (f *DocFS) removeOnCopy(tmp string, tree any, addr []string) error {
	expr, err := setExpr(tree, addr)
	if err != nil {
		return err
	}

	if err := f.tool.Set(f.ctx, tmp, expr, deleteMarker); err != nil {
		return err
	}

	plain, err := f.tool.Decrypt(f.ctx, tmp)
	if err != nil {
		return err
	}

	return f.tool.Reencrypt(f.ctx, tmp, stripMarker(plain, f.format))
}

// Rename moves the value at oldname to newname: the value is written at the
// new address and the old address is marker-deleted, both against the same
// private copy, committed once. Neither endpoint may be the synthetic
// raw-data entry or the root.
func (f *DocFS) Rename(oldname, newname string, opts sopsfs.RenameOptions) error {
	if !internal.ValidPath(oldname) {
		return pathErr("rename", oldname, fs.ErrInvalid)
	}

	if !internal.ValidPath(newname) {
		return pathErr("rename", newname, fs.ErrInvalid)
	}

	if oldname == "." || oldname == f.rawName {
		return pathErr("rename", oldname, fs.ErrPermission)
	}

	if newname == "." || newname == f.rawName {
		return pathErr("rename", newname, fs.ErrPermission)
	}

	snap, err := f.snapshot()
	if err != nil {
		return pathErr("rename", oldname, err)
	}

	if f.format == FormatBinary {
		return pathErr("rename", oldname, fs.ErrPermission)
	}

	oldAddr := splitAddr(oldname)
	newAddr := splitAddr(newname)

	if f.shadowedByRaw(oldAddr) {
		return pathErr("rename", oldname, fs.ErrNotExist)
	}

	if f.shadowedByRaw(newAddr) {
		return pathErr("rename", newname, sopsfs.ErrNotDirectory)
	}

	val, err := lookup(snap.tree, oldAddr)
	if err != nil {
		return pathErr("rename", oldname, err)
	}

	if _, lookupErr := lookup(snap.tree, newAddr); lookupErr == nil {
		if !opts.Overwrite {
			return pathErr("rename", newname, fs.ErrExist)
		}
	} else if errors.Is(lookupErr, fs.ErrInvalid) {
		return pathErr("rename", newname, lookupErr)
	}

	if err := checkParent(snap.tree, newAddr); err != nil {
		return pathErr("rename", newname, err)
	}

	newExpr, err := setExpr(snap.tree, newAddr)
	if err != nil {
		return pathErr("rename", newname, err)
	}

	err = f.mutate(func(tmp string) error {
		if err := f.tool.Set(f.ctx, tmp, newExpr, val); err != nil {
			return err
		}

		return f.removeOnCopy(tmp, snap.tree, oldAddr)
	})
	if err != nil {
		return pathErr("rename", oldname, err)
	}

	f.enqueue(
		sopsfs.Event{Path: oldname, Kind: sopsfs.EventDeleted},
		sopsfs.Event{Path: newname, Kind: sopsfs.EventCreated},
	)

	return nil
}

// checkParent verifies that every prefix of addr resolves to a container, so
// a write cannot conjure intermediate levels the document does not have.
func checkParent(tree any, addr []string) error {
	if len(addr) < 2 {
		if !isContainer(tree) {
			return sopsfs.ErrNotDirectory
		}

		return nil
	}

	parent, err := lookup(tree, addr[:len(addr)-1])
	if err != nil {
		return err
	}

	if !isContainer(parent) {
		return sopsfs.ErrNotDirectory
	}

	return nil
}

// mutate runs step against a private temporary copy of the stable document
// and commits the result atomically only if step succeeded. The temporary
// copy is removed on every exit path; the stable document is untouched on
// failure. The cached snapshot is invalidated after a successful commit.
func (f *DocFS) mutate(step func(tmp string) error) error {
	src, err := os.ReadFile(f.docPath)
	if err != nil {
		return err
	}

	fi, err := os.Stat(f.docPath)
	if err != nil {
		return err
	}

	// keep the extension: the tool infers the document format from it
	tmp, err := os.CreateTemp("", "sopsfs-*"+path.Ext(f.docPath))
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(src); err != nil {
		tmp.Close()

		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := step(tmp.Name()); err != nil {
		return err
	}

	out, err := os.ReadFile(tmp.Name())
	if err != nil {
		return err
	}

	if err := renameio.WriteFile(f.docPath, out, fi.Mode().Perm()); err != nil {
		return err
	}

	f.invalidate()

	return nil
}

// Watch registers interest in name. The whole document is always watched, so
// this is a no-op registration.
func (f *DocFS) Watch(string) (cancel func()) {
	return func() {}
}

// Subscribe registers fn to receive batched change events.
func (f *DocFS) Subscribe(fn func([]sopsfs.Event)) (cancel func()) {
	return f.hub.Subscribe(fn)
}

// Close releases the file watch and drops the cached snapshot and any
// pending events. Close is idempotent.
func (f *DocFS) Close() error {
	f.mu.Lock()

	if f.closed {
		f.mu.Unlock()

		return nil
	}

	f.closed = true
	f.snap = nil
	f.pending = nil

	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}

	f.mu.Unlock()

	return f.watcher.Close()
}
