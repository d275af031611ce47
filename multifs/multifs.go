// Package multifs presents one coherent namespace over many independently
// cached document filesystems. The first segment of every name identifies
// the encrypted document (see sopsfs.EncodeDocumentID); the rest addresses a
// position inside it. Engines are built lazily on first reference and held
// in a bounded LRU cache whose eviction tears the engine down, releasing its
// file watch and snapshot cache.
package multifs

import (
	"context"
	"io/fs"
	"net/url"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/EHfive/sopsfs"
	"github.com/EHfive/sopsfs/docfs"
	"github.com/EHfive/sopsfs/internal"
	"github.com/EHfive/sopsfs/sopstool"
)

// DefaultCacheSize bounds how many documents stay open concurrently.
const DefaultCacheSize = 32

// Registry multiplexes document filesystems behind a single namespace.
type Registry struct {
	ctx  context.Context
	tool *sopstool.Tool
	hub  *sopsfs.EventHub

	mu     sync.Mutex
	cache  *lru.Cache
	closed bool
}

// engine pairs a document filesystem with the cancel for its event
// subscription; both are released on eviction.
type engine struct {
	fs    *docfs.DocFS
	unsub func()
}

// New returns an empty registry.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		ctx:  context.Background(),
		tool: sopstool.New(),
		hub:  sopsfs.NewEventHub(),
	}

	size := DefaultCacheSize

	for _, opt := range opts {
		opt.apply(r, &size)
	}

	cache, err := lru.NewWithEvict(size, func(_, value interface{}) {
		e := value.(*engine)
		e.unsub()
		e.fs.Close()
	})
	if err != nil {
		return nil, err
	}

	r.cache = cache

	return r, nil
}

// Option configures a Registry at construction.
type Option interface {
	apply(*Registry, *int)
}

type optionFunc func(*Registry, *int)

func (o optionFunc) apply(r *Registry, size *int) { o(r, size) }

// WithTool uses the given tool for every document.
func WithTool(t *sopstool.Tool) Option {
	return optionFunc(func(r *Registry, _ *int) {
		if t != nil {
			r.tool = t
		}
	})
}

// WithContext uses ctx for every tool invocation.
func WithContext(ctx context.Context) Option {
	return optionFunc(func(r *Registry, _ *int) {
		if ctx != nil {
			r.ctx = ctx
		}
	})
}

// WithCacheSize bounds the number of concurrently open documents.
func WithCacheSize(n int) Option {
	return optionFunc(func(_ *Registry, size *int) {
		if n > 0 {
			*size = n
		}
	})
}

var _ sopsfs.FS = (*Registry)(nil)

// engineFor routes name to its document filesystem, constructing it on first
// reference. Construction stats the engine root so absent or undecryptable
// documents fail fast instead of surfacing on a later operation.
func (r *Registry) engineFor(name string) (*docfs.DocFS, string, error) {
	uri, rest, err := sopsfs.SplitName(name)
	if err != nil {
		return nil, "", err
	}

	id := sopsfs.EncodeDocumentID(uri)

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return nil, "", &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrClosed}
	}

	if v, ok := r.cache.Get(id); ok {
		r.mu.Unlock()

		return v.(*engine).fs, rest, nil
	}

	r.mu.Unlock()

	// built outside the lock: engine construction shells out to the tool
	// and must not stall operations on other documents
	dfs, err := docfs.New(localPath(uri), docfs.WithTool(r.tool), docfs.WithContext(r.ctx))
	if err != nil {
		return nil, "", err
	}

	if _, err := dfs.Stat("."); err != nil {
		dfs.Close()

		return nil, "", err
	}

	unsub := dfs.Subscribe(func(events []sopsfs.Event) {
		r.forward(id, events)
	})

	e := &engine{fs: dfs, unsub: unsub}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		unsub()
		dfs.Close()

		return nil, "", &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrClosed}
	}

	// another goroutine may have built the same engine concurrently; keep
	// the cached one
	if v, ok := r.cache.Get(id); ok {
		unsub()
		dfs.Close()

		return v.(*engine).fs, rest, nil
	}

	r.cache.Add(id, e)

	return dfs, rest, nil
}

// forward re-addresses a document's events into the registry namespace.
func (r *Registry) forward(id string, events []sopsfs.Event) {
	out := make([]sopsfs.Event, len(events))

	for i, ev := range events {
		p := id
		if ev.Path != "." {
			p = id + "/" + ev.Path
		}

		out[i] = sopsfs.Event{Path: p, Kind: ev.Kind}
	}

	r.hub.Publish(out)
}

// localPath maps a document resource identifier to a local filesystem path.
// Both plain paths and file:// URLs are accepted.
func localPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		return u.Path
	}

	return uri
}

func (r *Registry) Stat(name string) (fs.FileInfo, error) {
	if name == "." {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.closed {
			return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrClosed}
		}

		return internal.DirInfo(".", int64(r.cache.Len()), time.Now()), nil
	}

	dfs, rest, err := r.engineFor(name)
	if err != nil {
		return nil, err
	}

	return dfs.Stat(rest)
}

func (r *Registry) ReadDir(name string) ([]fs.DirEntry, error) {
	if name == "." {
		return r.openDocuments("readDir")
	}

	dfs, rest, err := r.engineFor(name)
	if err != nil {
		return nil, err
	}

	return dfs.ReadDir(rest)
}

// openDocuments lists the currently open documents, newest last.
func (r *Registry) openDocuments(op string) ([]fs.DirEntry, error) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return nil, &fs.PathError{Op: op, Path: ".", Err: fs.ErrClosed}
	}

	keys := r.cache.Keys()
	r.mu.Unlock()

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.(string))
	}

	sort.Strings(names)

	entries := make([]fs.DirEntry, 0, len(names))
	for _, n := range names {
		entries = append(entries, internal.FileInfoDirEntry(internal.DirInfo(n, 0, time.Now())))
	}

	return entries, nil
}

func (r *Registry) ReadFile(name string) ([]byte, error) {
	dfs, rest, err := r.engineFor(name)
	if err != nil {
		return nil, err
	}

	return dfs.ReadFile(rest)
}

func (r *Registry) Open(name string) (fs.File, error) {
	if name == "." {
		entries, err := r.openDocuments("open")
		if err != nil {
			return nil, err
		}

		return internal.NewDirFile(internal.DirInfo(".", int64(len(entries)), time.Now()), entries), nil
	}

	dfs, rest, err := r.engineFor(name)
	if err != nil {
		return nil, err
	}

	return dfs.Open(rest)
}

func (r *Registry) WriteFile(name string, data []byte, opts sopsfs.WriteOptions) error {
	dfs, rest, err := r.engineFor(name)
	if err != nil {
		return err
	}

	return dfs.WriteFile(rest, data, opts)
}

func (r *Registry) Mkdir(name string) error {
	dfs, rest, err := r.engineFor(name)
	if err != nil {
		return err
	}

	return dfs.Mkdir(rest)
}

func (r *Registry) Remove(name string) error {
	dfs, rest, err := r.engineFor(name)
	if err != nil {
		return err
	}

	return dfs.Remove(rest)
}

// Rename moves a value within one document. Renames whose endpoints resolve
// to different documents are rejected.
func (r *Registry) Rename(oldname, newname string, opts sopsfs.RenameOptions) error {
	oldURI, _, err := sopsfs.SplitName(oldname)
	if err != nil {
		return err
	}

	newURI, newRest, err := sopsfs.SplitName(newname)
	if err != nil {
		return err
	}

	if oldURI != newURI {
		return &fs.PathError{Op: "rename", Path: oldname, Err: sopsfs.ErrCrossDocument}
	}

	dfs, oldRest, err := r.engineFor(oldname)
	if err != nil {
		return err
	}

	return dfs.Rename(oldRest, newRest, opts)
}

// Watch registers interest in name. Every open document is always fully
// watched, so this is a no-op registration.
func (r *Registry) Watch(string) (cancel func()) {
	return func() {}
}

// Subscribe registers fn to receive namespace-qualified event batches from
// every open document.
func (r *Registry) Subscribe(fn func([]sopsfs.Event)) (cancel func()) {
	return r.hub.Subscribe(fn)
}

// Close disposes every open engine and rejects further operations.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	r.cache.Purge()

	return nil
}
