// Package fakesops implements just enough of the sops command-line surface
// for hermetic tests. "Encryption" is the identity: the stored document is
// its own plaintext, so --decrypt prints the file verbatim, --set rewrites
// it as JSON, and editor invocations run $EDITOR against the document
// itself. Test binaries re-execute themselves as the fake through the shim
// written by Script.
package fakesops

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// EnvVar marks a process re-executed as the fake tool.
const EnvVar = "SOPSFS_FAKE_SOPS"

// Enabled reports whether the current process should behave as the fake
// tool instead of running tests. Check it first thing in TestMain.
func Enabled() bool {
	return os.Getenv(EnvVar) == "1"
}

// Main runs the fake tool against os.Args and returns its exit code.
func Main() int {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "fakesops:", err)

		return 1
	}

	return code
}

func run(args []string) (int, error) {
	var (
		decrypt    bool
		outputType string
		setArg     string
		file       string
	)

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--decrypt", "-d":
			decrypt = true
		case "--output-type":
			i++
			if i >= len(args) {
				return 1, fmt.Errorf("--output-type needs a value")
			}

			outputType = args[i]
		case "--set":
			i++
			if i >= len(args) {
				return 1, fmt.Errorf("--set needs a value")
			}

			setArg = args[i]
		default:
			file = args[i]
		}
	}

	if file == "" {
		return 1, fmt.Errorf("no input file")
	}

	switch {
	case setArg != "":
		return 0, applySet(file, setArg)
	case decrypt:
		return 0, emit(file, outputType)
	default:
		return edit(file)
	}
}

func emit(file, outputType string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	if outputType == "json" && !json.Valid(content) {
		return fmt.Errorf("%s: cannot convert to json", file)
	}

	_, err = os.Stdout.Write(content)

	return err
}

// edit mimics the tool's editor invocation: run $EDITOR on the document and
// exit 200 when the content did not change.
func edit(file string) (int, error) {
	before, err := os.ReadFile(file)
	if err != nil {
		return 1, err
	}

	fields := strings.Fields(os.Getenv("EDITOR"))
	if len(fields) == 0 {
		return 1, fmt.Errorf("no EDITOR configured")
	}

	cmd := exec.Command(fields[0], append(fields[1:], file)...)
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return 1, fmt.Errorf("editor: %w", err)
	}

	after, err := os.ReadFile(file)
	if err != nil {
		return 1, err
	}

	if bytes.Equal(before, after) {
		return 200, nil
	}

	return 0, nil
}

type segment struct {
	key *string
	idx *int
}

var segmentRE = regexp.MustCompile(`^\[(?:("(?:[^"\\]|\\.)*")|(\d+))\]`)

// parseSetArg splits a --set argument into its bracketed path expression and
// the JSON-encoded value that follows it.
func parseSetArg(arg string) ([]segment, any, error) {
	var segs []segment

	rest := arg
	for strings.HasPrefix(rest, "[") {
		m := segmentRE.FindStringSubmatch(rest)
		if m == nil {
			return nil, nil, fmt.Errorf("malformed path expression near %q", rest)
		}

		var seg segment

		if m[1] != "" {
			var key string
			if err := json.Unmarshal([]byte(m[1]), &key); err != nil {
				return nil, nil, fmt.Errorf("malformed key %s: %w", m[1], err)
			}

			seg.key = &key
		} else {
			idx, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, nil, fmt.Errorf("malformed index %q: %w", m[2], err)
			}

			seg.idx = &idx
		}

		segs = append(segs, seg)
		rest = rest[len(m[0]):]
	}

	if len(segs) == 0 {
		return nil, nil, fmt.Errorf("no path expression in %q", arg)
	}

	dec := json.NewDecoder(strings.NewReader(rest))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, nil, fmt.Errorf("malformed value %q: %w", rest, err)
	}

	return segs, value, nil
}

func applySet(file, arg string) error {
	segs, value, err := parseSetArg(arg)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	doc, err = setValue(doc, segs, value)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(doc, "", "\t")
	if err != nil {
		return err
	}

	return os.WriteFile(file, append(out, '\n'), 0o600)
}

func setValue(node any, segs []segment, value any) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}

	seg := segs[0]

	if seg.key != nil {
		m, ok := node.(map[string]any)
		if !ok {
			if node != nil {
				return nil, fmt.Errorf("cannot index %T with key %q", node, *seg.key)
			}

			m = map[string]any{}
		}

		child, err := setValue(m[*seg.key], segs[1:], value)
		if err != nil {
			return nil, err
		}

		m[*seg.key] = child

		return m, nil
	}

	arr, ok := node.([]any)
	if !ok {
		if node != nil {
			return nil, fmt.Errorf("cannot index %T with %d", node, *seg.idx)
		}

		arr = []any{}
	}

	i := *seg.idx
	if i > len(arr) {
		return nil, fmt.Errorf("index %d out of range (len %d)", i, len(arr))
	}

	if i == len(arr) {
		arr = append(arr, nil)
	}

	child, err := setValue(arr[i], segs[1:], value)
	if err != nil {
		return nil, err
	}

	arr[i] = child

	return arr, nil
}
