package sopsfs

import "errors"

// Sentinel errors returned (wrapped in *fs.PathError) by FS implementations,
// complementing the fs.ErrNotExist/ErrExist/ErrPermission/ErrInvalid family.
var (
	// ErrNotDirectory reports a directory operation against a leaf value.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory reports a file operation against an object or array.
	ErrIsDirectory = errors.New("is a directory")

	// ErrCrossDocument reports a rename whose endpoints resolve to two
	// different encrypted documents. Renames are only meaningful within
	// one document.
	ErrCrossDocument = errors.New("rename across documents")
)
