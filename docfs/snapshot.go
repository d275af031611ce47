package docfs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
)

// snapshot is the last known decrypted state of the document: the stable
// file's stat, the raw decrypted bytes, and (for structured formats) the
// parsed tree. Exactly one snapshot is cached per engine; nil means the next
// access must re-derive it from the stable document.
type snapshot struct {
	fi   fs.FileInfo
	raw  []byte
	tree any
}

// snapshot returns the cached snapshot, deriving a fresh one through the
// tool when the cache is empty. A structured document that fails to parse
// makes the whole access fail; nothing is cached in that case.
func (f *DocFS) snapshot() (*snapshot, error) {
	f.mu.Lock()
	snap := f.snap
	f.mu.Unlock()

	if snap != nil {
		return snap, nil
	}

	fi, err := os.Stat(f.docPath)
	if err != nil {
		return nil, err
	}

	raw, err := f.tool.Decrypt(f.ctx, f.docPath)
	if err != nil {
		return nil, err
	}

	snap = &snapshot{fi: fi, raw: raw}

	if f.format != FormatBinary {
		structured, err := f.tool.DecryptJSON(f.ctx, f.docPath)
		if err != nil {
			return nil, err
		}

		dec := json.NewDecoder(bytes.NewReader(structured))
		dec.UseNumber()

		if err := dec.Decode(&snap.tree); err != nil {
			return nil, fmt.Errorf("parse decrypted document: %w", err)
		}
	}

	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()

	return snap, nil
}

func (f *DocFS) invalidate() {
	f.mu.Lock()
	f.snap = nil
	f.mu.Unlock()
}
