package sopsfs

import "io/fs"

// WriteOptions control how WriteFile treats missing and existing targets.
// Writing a missing path without Create fails, as does asking to create an
// existing path without also allowing Overwrite. A write with neither flag
// is a plain replacement of an existing value.
type WriteOptions struct {
	Create    bool
	Overwrite bool
}

// RenameOptions control whether Rename may replace an existing target.
type RenameOptions struct {
	Overwrite bool
}

// FS is the writable virtual-filesystem contract implemented by document
// filesystems and by the multiplexing registry. Names follow io/fs
// conventions: slash-separated, unrooted, with "." naming the root.
//
// All failures are reported as *fs.PathError values wrapping fs.ErrNotExist,
// fs.ErrExist, fs.ErrPermission, fs.ErrInvalid, ErrNotDirectory,
// ErrIsDirectory or ErrCrossDocument, so callers can test conditions with
// errors.Is regardless of which implementation produced them.
type FS interface {
	fs.StatFS
	fs.ReadDirFS
	fs.ReadFileFS

	// WriteFile replaces the value at name with data, re-encrypting the
	// backing document.
	WriteFile(name string, data []byte, opts WriteOptions) error

	// Mkdir creates an empty object at name.
	Mkdir(name string) error

	// Remove deletes the entry at name.
	Remove(name string) error

	// Rename moves the value at oldname to newname within one document.
	Rename(oldname, newname string, opts RenameOptions) error

	// Watch registers interest in name. Documents are always watched in
	// full, so this is a no-op registration; the returned cancel is safe
	// to call any number of times.
	Watch(name string) (cancel func())

	// Subscribe registers fn to receive batched change events. The
	// returned cancel removes the subscription.
	Subscribe(fn func(events []Event)) (cancel func())

	// Close releases watches, caches and subscriptions.
	Close() error
}
