package sopsfs

import (
	"encoding/base64"
	"io/fs"
	"path"
	"strings"
)

// Namespace names address many documents behind one tree. The first path
// segment is a reversible encoding of the document's resource identifier;
// the rest is the slash-joined address inside that document's decrypted
// structure. JoinName and SplitName are exact inverses of each other.

// EncodeDocumentID returns the namespace segment for a document resource
// identifier. The encoding is URL-safe base64 without padding, so the
// segment never contains a path separator.
func EncodeDocumentID(uri string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(uri))
}

// DecodeDocumentID reverses EncodeDocumentID.
func DecodeDocumentID(segment string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return "", &fs.PathError{Op: "decode", Path: segment, Err: fs.ErrInvalid}
	}

	return string(b), nil
}

// JoinName composes a namespace name from a document identifier and an
// optional address inside it.
func JoinName(uri string, sub ...string) string {
	segment := EncodeDocumentID(uri)
	if len(sub) == 0 {
		return segment
	}

	rest := path.Join(sub...)
	if rest == "" || rest == "." {
		return segment
	}

	return segment + "/" + rest
}

// SplitName decomposes a namespace name into the document identifier and the
// document-relative name ("." for the document root).
func SplitName(name string) (uri, rest string, err error) {
	if name == "." || !fs.ValidPath(name) {
		return "", "", &fs.PathError{Op: "split", Path: name, Err: fs.ErrInvalid}
	}

	segment, rest, _ := strings.Cut(name, "/")

	uri, err = DecodeDocumentID(segment)
	if err != nil {
		return "", "", err
	}

	if rest == "" {
		rest = "."
	}

	return uri, rest, nil
}
