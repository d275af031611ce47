package internal

import (
	"bytes"
	"io"
	"io/fs"
)

// MemFile is an open fs.File over an in-memory snapshot of a virtual file's
// content.
type MemFile struct {
	fi fs.FileInfo
	r  *bytes.Reader
}

var _ fs.File = (*MemFile)(nil)

// NewMemFile returns an open file reading from a copy-free view of content.
func NewMemFile(fi fs.FileInfo, content []byte) *MemFile {
	return &MemFile{fi: fi, r: bytes.NewReader(content)}
}

func (f *MemFile) Stat() (fs.FileInfo, error) { return f.fi, nil }
func (f *MemFile) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *MemFile) Close() error               { return nil }

// DirFile is an open fs.ReadDirFile over a fixed entry listing.
type DirFile struct {
	fi      fs.FileInfo
	entries []fs.DirEntry
	offset  int
}

var _ fs.ReadDirFile = (*DirFile)(nil)

// NewDirFile returns an open directory handle over entries.
func NewDirFile(fi fs.FileInfo, entries []fs.DirEntry) *DirFile {
	return &DirFile{fi: fi, entries: entries}
}

func (d *DirFile) Stat() (fs.FileInfo, error) { return d.fi, nil }
func (d *DirFile) Close() error               { return nil }

func (d *DirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.fi.Name(), Err: fs.ErrInvalid}
}

func (d *DirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if n <= 0 {
		entries := d.entries[d.offset:]
		d.offset = len(d.entries)

		return entries, nil
	}

	if d.offset >= len(d.entries) {
		return nil, io.EOF
	}

	end := d.offset + n
	if end > len(d.entries) {
		end = len(d.entries)
	}

	entries := d.entries[d.offset:end]
	d.offset = end

	return entries, nil
}
