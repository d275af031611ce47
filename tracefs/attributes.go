package tracefs

import "go.opentelemetry.io/otel/attribute"

const (
	pathKey   = attribute.Key("fs.path")
	targetKey = attribute.Key("fs.rename_target")

	direntKey = attribute.Key("dir.entries")
	sizeKey   = attribute.Key("file.size")
	permsKey  = attribute.Key("file.perms")
)

// The path being operated on.
//
// Type: string
// Required: Yes
// Examples: "a/b", "raw_data.yaml"
func Path(name string) attribute.KeyValue {
	return pathKey.String(name)
}

// The destination of a rename.
//
// Type: string
// Required: No
func RenameTarget(name string) attribute.KeyValue {
	return targetKey.String(name)
}

// The number of entries in a directory.
//
// Type: int
// Required: No
// Examples: 3, 0
func DirEntries(n int) attribute.KeyValue {
	return direntKey.Int(n)
}

// The size of a file.
//
// Type: int64
// Required: No
// Examples: 1024, 0
func FileSize(n int64) attribute.KeyValue {
	return sizeKey.Int64(n)
}

// The permissions of a file.
//
// Type: string
// Required: No
// Examples: "-rw-------", "drwx------"
func FilePerms(perms string) attribute.KeyValue {
	return permsKey.String(perms)
}
