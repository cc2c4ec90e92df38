package testutil

import (
	"os"
	"path/filepath"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/cdcwal/internal/cdcwal"
	"github.com/julianstephens/cdcwal/internal/cdcwal/manifest"
)

// SetupLogDir initializes a log directory with a manifest and an empty WAL
// directory. edit, if non-nil, adjusts the default manifest before it is
// written.
func SetupLogDir(t *testing.T, dir string, edit func(m *manifest.Manifest)) *manifest.Manifest {
	t.Helper()
	m := manifest.DefaultManifest()
	m.ServerID = TestServerID
	if edit != nil {
		edit(m)
	}
	tst.RequireNoError(t, manifest.Create(dir, m))

	walDir := filepath.Join(dir, cdcwal.WALDirName)
	tst.RequireNoError(t, os.MkdirAll(walDir, 0o750))
	return m
}

// AppendToSegment writes raw bytes to the end of a segment file, simulating a
// crash that left them behind.
func AppendToSegment(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec
	tst.RequireNoError(t, err)
	_, err = f.Write(data)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, f.Close())
}
