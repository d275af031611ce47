package docfs

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

// Tree addresses are io/fs-style names split into segments; the root is the
// empty address. Trees come from the tool's JSON output decoded with
// json.Number, so container nodes are map[string]any or []any and leaves are
// string, json.Number, bool or nil.

func splitAddr(name string) []string {
	if name == "." {
		return nil
	}

	return strings.Split(name, "/")
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// lookup resolves addr against tree. Missing keys, out-of-range indices and
// non-container intermediate nodes report fs.ErrNotExist; malformed array
// indices report fs.ErrInvalid.
func lookup(tree any, addr []string) (any, error) {
	cur := tree

	for _, seg := range addr {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, fs.ErrNotExist
			}

			cur = v
		case []any:
			i, err := arrayIndex(seg)
			if err != nil {
				return nil, err
			}

			if i >= len(node) {
				return nil, fs.ErrNotExist
			}

			cur = node[i]
		default:
			return nil, fs.ErrNotExist
		}
	}

	return cur, nil
}

// arrayIndex parses seg as a canonical zero-based array index: non-negative,
// decimal, and equal to its own canonical rendering ("01", "-1" and "1.0"
// are all rejected).
func arrayIndex(seg string) (int, error) {
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 || strconv.Itoa(i) != seg {
		return 0, fmt.Errorf("%q is not a valid array index: %w", seg, fs.ErrInvalid)
	}

	return i, nil
}

// setExpr renders addr as the bracketed path expression consumed by the
// tool's set-mutation option. Each segment is typed by the already-resolved
// parent value in tree: array parents require a canonical numeric index,
// every other parent (including not-yet-existing ones) takes a quoted key.
func setExpr(tree any, addr []string) (string, error) {
	var sb strings.Builder

	cur := tree

	for _, seg := range addr {
		if node, ok := cur.([]any); ok {
			i, err := arrayIndex(seg)
			if err != nil {
				return "", err
			}

			fmt.Fprintf(&sb, "[%d]", i)

			if i < len(node) {
				cur = node[i]
			} else {
				cur = nil
			}

			continue
		}

		key, err := json.Marshal(seg)
		if err != nil {
			return "", err
		}

		sb.WriteByte('[')
		sb.Write(key)
		sb.WriteByte(']')

		if node, ok := cur.(map[string]any); ok {
			cur = node[seg]
		} else {
			cur = nil
		}
	}

	return sb.String(), nil
}

// leafContent is the byte representation of a tree value: strings verbatim,
// everything else (numbers, booleans, null, containers) compact JSON.
func leafContent(v any) []byte {
	if s, ok := v.(string); ok {
		return []byte(s)
	}

	b, err := json.Marshal(v)
	if err != nil {
		// only reachable for values that never occur in decoded JSON
		return []byte(fmt.Sprint(v))
	}

	return b
}
