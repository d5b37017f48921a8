// wire_test.go
//
// Shared harness for wire-level tests. The importer command is
// overridden with cat, so everything the engine writes to the child's
// stdin comes back out of the merged log file and can be compared
// byte-for-byte against the expected protocol stream.

package fastexport

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// newTestRepo builds an emitting repository in the current (temporary)
// working directory with cat standing in for git-fast-import. The
// repository directory is pre-created so the constructor does not need
// a git binary.
func newTestRepo(t *testing.T, name string, branches []string, o Options) *fastImportRepository {
	t.Helper()
	if o.Logger == nil {
		o.Logger, _ = test.NewNullLogger()
	}
	if o.Pool == nil {
		o.Pool = NewProcessPool(4)
	}
	if len(o.importerArgv) == 0 {
		o.importerArgv = []string{"cat"}
	}
	require.NoError(t, os.MkdirAll(name, 0o755))

	r, err := newFastImportRepository(Rule{Name: name, Branches: branches}, o.withDefaults())
	require.NoError(t, err)
	return r
}

// newCapturingLogger returns a silent logger whose entries can be
// inspected through the hook.
func newCapturingLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.Level = logrus.DebugLevel
	return logger, hook
}

// newLoggedRepo is newTestRepo with a capturing log hook, for tests
// that assert on warnings.
func newLoggedRepo(t *testing.T, name string, branches []string) (*fastImportRepository, *test.Hook) {
	t.Helper()
	logger, hook := newCapturingLogger()
	return newTestRepo(t, name, branches, Options{Logger: logger}), hook
}

// wireOutput closes the repository and returns everything that reached
// the importer, minus the checkpoint the clean shutdown appends.
func wireOutput(t *testing.T, r *fastImportRepository) string {
	t.Helper()
	require.NoError(t, r.Close())
	data, err := os.ReadFile(logFileName(r.name))
	require.NoError(t, err)
	return strings.TrimSuffix(string(data), "checkpoint\n")
}

// requireWire compares two protocol streams and renders a unified diff
// on mismatch, which reads a lot better than two interleaved blobs of
// escaped newlines.
func requireWire(t *testing.T, want, got string) {
	t.Helper()
	if want == got {
		return
	}
	edits := myers.ComputeEdits(span.URIFromPath("wire"), want, got)
	diff := fmt.Sprint(gotextdiff.ToUnified("want", "got", want, edits))
	t.Fatalf("wire output mismatch:\n%s", diff)
}

// warnings collects the warning-level messages a hook captured.
func warnings(hook *test.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}
