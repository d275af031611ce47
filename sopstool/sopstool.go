// Package sopstool drives the external sops executable. The tool is treated
// as an opaque point-tool with three primitives: decrypt a whole document
// (optionally normalized to JSON), set one value at one path, and re-encrypt
// replacement plaintext through its editor interface. Everything richer —
// deletes, renames, partial writes — is composed from these by the callers.
package sopstool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// sops exits with this status when an editor session left the document
// unchanged. That is a benign outcome, not a failure.
const exitFileNotModified = 200

// Tool invokes a sops executable. Instances are immutable after New and safe
// for concurrent use.
type Tool struct {
	exe string
	env []string
}

// New returns a Tool for the "sops" executable on PATH. Use options to point
// at a different binary or to forward key-material configuration.
func New(opts ...Option) *Tool {
	t := &Tool{exe: "sops"}
	for _, opt := range opts {
		opt.apply(t)
	}

	return t
}

// Option configures a Tool.
type Option interface {
	apply(*Tool)
}

type optionFunc func(*Tool)

func (o optionFunc) apply(t *Tool) { o(t) }

// WithExecutable overrides the sops executable name or path.
func WithExecutable(exe string) Option {
	return optionFunc(func(t *Tool) {
		if exe != "" {
			t.exe = exe
		}
	})
}

// WithEnv forwards the given variables to every invocation, merged over the
// process environment. This is how key material is configured (for example
// SOPS_AGE_KEY_FILE or SOPS_PGP_FP).
func WithEnv(env map[string]string) Option {
	return optionFunc(func(t *Tool) {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			t.env = append(t.env, k+"="+env[k])
		}
	})
}

// ToolError reports an unexpected exit from the sops executable.
type ToolError struct {
	Op       string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("sops %s: exit status %d: %s", e.Op, e.ExitCode, e.Stderr)
	}

	return fmt.Sprintf("sops %s: exit status %d", e.Op, e.ExitCode)
}

// Decrypt returns the document's decrypted content in its native format.
func (t *Tool) Decrypt(ctx context.Context, file string) ([]byte, error) {
	return t.run(ctx, "decrypt", nil, "--decrypt", file)
}

// DecryptJSON returns the document's decrypted content normalized to JSON.
// Only meaningful for structured (non-binary) documents.
func (t *Tool) DecryptJSON(ctx context.Context, file string) ([]byte, error) {
	return t.run(ctx, "decrypt", nil, "--decrypt", "--output-type", "json", file)
}

// Set assigns value at the position named by expr, mutating file in place.
// expr is a bracketed path expression (see docfs path translation); value is
// JSON-encoded the way the tool expects.
func (t *Tool) Set(ctx context.Context, file, expr string, value any) error {
	enc, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for %s: %w", expr, err)
	}

	_, err = t.run(ctx, "set", nil, "--set", expr+" "+string(enc), file)

	return err
}

// Reencrypt replaces the document's entire plaintext with the supplied bytes
// and re-encrypts it in place, by staging the plaintext in a temporary file
// and running the tool's editor invocation with an editor that copies it in.
// An unchanged-file exit from the tool counts as success.
func (t *Tool) Reencrypt(ctx context.Context, file string, plaintext []byte) error {
	staged, err := os.CreateTemp("", "sopsfs-edit-*")
	if err != nil {
		return fmt.Errorf("stage plaintext: %w", err)
	}
	defer os.Remove(staged.Name())

	if _, err := staged.Write(plaintext); err != nil {
		staged.Close()

		return fmt.Errorf("stage plaintext: %w", err)
	}

	if err := staged.Close(); err != nil {
		return fmt.Errorf("stage plaintext: %w", err)
	}

	editor := "cp " + staged.Name()

	_, err = t.run(ctx, "edit", []string{"EDITOR=" + editor, "VISUAL=" + editor}, file)

	return err
}

func (t *Tool) run(ctx context.Context, op string, extraEnv []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.exe, args...)
	cmd.Env = append(append(os.Environ(), t.env...), extraEnv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var xerr *exec.ExitError
		if errors.As(err, &xerr) {
			if xerr.ExitCode() == exitFileNotModified {
				return stdout.Bytes(), nil
			}

			return nil, &ToolError{
				Op:       op,
				ExitCode: xerr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}

		return nil, fmt.Errorf("sops %s: %w", op, err)
	}

	return stdout.Bytes(), nil
}
