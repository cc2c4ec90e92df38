package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
	tst "github.com/julianstephens/go-utils/tests"
	"github.com/segmentio/ksuid"

	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
)

// TestInit verifies manifest creation with atomic write
func TestInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	created, err := Init(dir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	opened, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	tst.RequireDeepEqual(t, opened, created)
	if opened.Version != 1 {
		t.Errorf("expected Version=1, got %d", opened.Version)
	}
	if !opened.FsyncOnCommit {
		t.Errorf("expected FsyncOnCommit=true, got false")
	}
	tst.RequireDeepEqual(t, opened.Mode(), enrichment.ModeFull)
	tst.RequireDeepEqual(t, opened.EnrichmentVersion(), enrichment.LatestVersion)

	if _, err := ksuid.Parse(opened.ServerID); err != nil {
		t.Errorf("expected a ksuid server id, got %q: %v", opened.ServerID, err)
	}
}

// TestInit_UniqueServerIDs gives every directory its own identity
func TestInit_UniqueServerIDs(t *testing.T) {
	a, err := Init(t.TempDir())
	tst.RequireNoError(t, err)
	b, err := Init(t.TempDir())
	tst.RequireNoError(t, err)
	tst.AssertTrue(t, a.ServerID != b.ServerID, "expected distinct server ids")
}

// TestCreate_AlreadyExists validates error when manifest exists
func TestCreate_AlreadyExists(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(dir); err != nil {
		t.Fatalf("first Init() error = %v", err)
	}

	_, err := Init(dir)
	assert.IsError(t, err, ErrManifestAlreadyExists)

	var manifestErr *ManifestError
	if !errors.As(err, &manifestErr) {
		t.Fatalf("expected ManifestError, got %T", err)
	}
	if manifestErr.Kind != ManifestErrorKindAlreadyExists {
		t.Errorf("expected Kind=AlreadyExists, got %v", manifestErr.Kind)
	}
}

// TestSave_RoundTrip verifies that Save() rewrites valid JSON
func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := Init(dir)
	tst.RequireNoError(t, err)

	m.FsyncOnCommit = false
	m.EnrichmentMode = "diff"
	logSize := 10
	m.WalLogMaxSize = &logSize
	tst.RequireNoError(t, m.Save(dir))

	data, err := os.ReadFile(Path(dir)) //nolint:gosec
	tst.RequireNoError(t, err)
	var saved Manifest
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("manifest file is not valid JSON: %v", err)
	}
	tst.RequireDeepEqual(t, saved.FsyncOnCommit, false)

	opened, err := Open(dir)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, opened.Mode(), enrichment.ModeDiff)
	tst.AssertNotNil(t, opened.WalLogMaxSize, "expected wal_log_max_size")
	tst.RequireDeepEqual(t, *opened.WalLogMaxSize, 10)
}

// TestSave_Missing requires an existing manifest
func TestSave_Missing(t *testing.T) {
	err := DefaultManifest().Save(t.TempDir())
	assert.IsError(t, err, ErrManifestNotFound)
}

// TestOpen_Errors_TableDriven validates error handling for bad manifests
func TestOpen_Errors_TableDriven(t *testing.T) {
	testCases := []struct {
		name   string
		data   string
		kind   ManifestErrorKind
		target error
	}{
		{"InvalidJSON", "{invalid json}", ManifestErrorKindDecode, ErrManifestDecode},
		{
			"NegativeChunkSize",
			fmt.Sprintf(`{"version":1,"server_id":"s","format_version":2,"enrichment_mode":"full",`+
				`"chunk_size":%d,"wal_segment_max_size":1}`, -1),
			ManifestErrorKindInvalid,
			ErrManifestInvalid,
		},
		{
			"UnsupportedVersion",
			`{"version":999,"server_id":"s","format_version":2,"enrichment_mode":"full","wal_segment_max_size":1}`,
			ManifestErrorKindUnsupportedVersion,
			ErrManifestUnsupportedVersion,
		},
		{
			"BadFormatVersion",
			`{"version":1,"server_id":"s","format_version":7,"enrichment_mode":"full","wal_segment_max_size":1}`,
			ManifestErrorKindInvalid,
			ErrManifestInvalid,
		},
		{
			"BadMode",
			`{"version":1,"server_id":"s","format_version":2,"enrichment_mode":"sometimes","wal_segment_max_size":1}`,
			ManifestErrorKindInvalid,
			ErrManifestInvalid,
		},
		{
			"MissingServerID",
			`{"version":1,"format_version":2,"enrichment_mode":"off","wal_segment_max_size":1}`,
			ManifestErrorKindInvalid,
			ErrManifestInvalid,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(Path(dir), []byte(tc.data), 0o600); err != nil {
				t.Fatalf("failed to write manifest: %v", err)
			}

			m, err := Open(dir)
			assert.IsError(t, err, tc.target)
			tst.AssertTrue(t, m == nil, "expected nil manifest")
			var manifestErr *ManifestError
			tst.AssertTrue(t, errors.As(err, &manifestErr), "expected ManifestError")
			tst.RequireDeepEqual(t, manifestErr.Kind, tc.kind)
		})
	}
}

// TestOpen_FileNotFound validates error when manifest doesn't exist
func TestOpen_FileNotFound(t *testing.T) {
	m, err := Open(t.TempDir())
	assert.IsError(t, err, ErrManifestNotFound)
	if m != nil {
		t.Errorf("expected nil manifest, got %v", m)
	}
}
