package docfs

import (
	"path"
	"strings"
)

// Format identifies the structured encoding of an encrypted document.
// Binary documents have no parsed tree; only the synthetic raw-data entry is
// addressable.
type Format int

const (
	FormatBinary Format = iota
	FormatJSON
	FormatYAML
	FormatINI
	FormatDotenv
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatINI:
		return "ini"
	case FormatDotenv:
		return "dotenv"
	default:
		return "binary"
	}
}

// DetectFormat infers a document's format from its filename, ignoring a
// trailing ".sops" naming segment: secrets.sops.yaml and secrets.yaml are
// both YAML. Unknown extensions are treated as binary.
func DetectFormat(name string) Format {
	switch strings.ToLower(docExt(name)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".ini":
		return FormatINI
	case ".env":
		return FormatDotenv
	default:
		return FormatBinary
	}
}

// RawDataName returns the document's synthetic raw-data entry name. The name
// reuses the document's non-".sops" extension so the raw payload opens with
// sensible syntax handling (raw_data.yaml, raw_data.json, ...).
func RawDataName(name string) string {
	return "raw_data" + docExt(name)
}

// docExt returns the filename extension with any ".sops" segment skipped:
// "a.sops.json" and "a.json.sops" are both ".json", bare "a.sops" is "".
func docExt(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))

	ext := path.Ext(base)
	if ext == ".sops" {
		ext = path.Ext(strings.TrimSuffix(base, ext))
	}

	return ext
}
