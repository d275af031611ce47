package fakesops

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Script writes an executable shim that re-runs the current test binary as
// the fake tool and returns the shim's path, suitable for
// sopstool.WithExecutable. The test package's TestMain must dispatch to Main
// when Enabled reports true.
func Script(t *testing.T) string {
	t.Helper()

	self, err := os.Executable()
	if err != nil {
		t.Fatalf("locate test binary: %v", err)
	}

	p := filepath.Join(t.TempDir(), "sops")

	shim := fmt.Sprintf("#!/bin/sh\n%s=1 exec %q \"$@\"\n", EnvVar, self)
	if err := os.WriteFile(p, []byte(shim), 0o755); err != nil {
		t.Fatalf("write fake sops shim: %v", err)
	}

	return p
}
