package docfs

import (
	"bytes"
	"regexp"
)

// deleteMarker tombstones an entry before the textual strip pass. The tool
// has no delete primitive, so removal is simulated: set this value at the
// target path, decrypt, strip the entry carrying it, re-encrypt. The token
// only has to be globally unique so it can never collide with real content.
const deleteMarker = "sopsfs-delete-4f9da2c6b13e4e0f9d6d1f0d1c2a7b58"

// jsonMarkerRE matches the tombstoned key/value pair or array element along
// with at most one adjacent separating comma on each side.
var jsonMarkerRE = regexp.MustCompile(
	`(,)?\s*(?:"(?:[^"\\]|\\.)*"\s*:\s*)?"` + deleteMarker + `"(\s*,)?`)

// stripMarker removes every tombstoned entry from decrypted plaintext,
// leaving all untouched content byte-identical. JSON needs comma surgery to
// stay parseable; every other text format simply drops the whole line
// carrying the token. Input without the token is returned unchanged.
func stripMarker(plain []byte, format Format) []byte {
	marker := []byte(deleteMarker)
	if !bytes.Contains(plain, marker) {
		return plain
	}

	if format == FormatJSON {
		return jsonMarkerRE.ReplaceAllFunc(plain, func(m []byte) []byte {
			sub := jsonMarkerRE.FindSubmatch(m)
			// an element removed from the middle of a list leaves one
			// separating comma, not two
			if len(sub[1]) > 0 && len(sub[2]) > 0 {
				return []byte(",")
			}

			return nil
		})
	}

	lines := bytes.Split(plain, []byte("\n"))
	kept := make([][]byte, 0, len(lines))

	for _, line := range lines {
		if !bytes.Contains(line, marker) {
			kept = append(kept, line)
		}
	}

	return bytes.Join(kept, []byte("\n"))
}
