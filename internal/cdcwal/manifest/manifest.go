package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/julianstephens/go-utils/helpers"
	"github.com/julianstephens/go-utils/jsonutil"
	"github.com/segmentio/ksuid"

	"github.com/julianstephens/cdcwal/internal/cdcwal"
	"github.com/julianstephens/cdcwal/internal/cdcwal/chunked"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
)

const ManifestFileName = "MANIFEST.json"

// Manifest is the persisted configuration of one log directory. The format
// version and server id are fixed at init; the rest may be edited.
type Manifest struct {
	Version           int    `json:"version"`
	ServerID          string `json:"server_id"`
	FormatVersion     uint8  `json:"format_version"`
	EnrichmentMode    string `json:"enrichment_mode"`
	ChunkSize         int    `json:"chunk_size"`
	FsyncOnCommit     bool   `json:"fsync_on_commit"`
	WalSegmentMaxSize int64  `json:"wal_segment_max_size"`
	WalLogMaxSize     *int   `json:"wal_log_max_size,omitempty"`
	WalLogMaxBackups  *int   `json:"wal_log_max_backups,omitempty"`
}

// DefaultManifest returns a Manifest with default settings and a fresh server id.
func DefaultManifest() *Manifest {
	return &Manifest{
		Version:           cdcwal.ManifestVersion,
		ServerID:          ksuid.New().String(),
		FormatVersion:     uint8(enrichment.LatestVersion),
		EnrichmentMode:    enrichment.ModeFull.String(),
		ChunkSize:         chunked.DefaultChunkSize,
		FsyncOnCommit:     true,
		WalSegmentMaxSize: cdcwal.DefaultSegmentMaxBytes,
	}
}

// Path returns the manifest location inside dir.
func Path(dir string) string {
	return filepath.Join(dir, ManifestFileName)
}

// Init writes a default manifest into dir, creating dir if needed.
func Init(dir string) (*Manifest, error) {
	m := DefaultManifest()
	if err := Create(dir, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Create validates m and writes it into dir. An existing manifest is never
// overwritten.
func Create(dir string, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := helpers.Ensure(dir, true); err != nil {
		return &ManifestError{Kind: ManifestErrorKindWrite, Err: err}
	}

	manifestPath := Path(dir)
	if exists := helpers.Exists(manifestPath); exists {
		return &ManifestError{
			Kind: ManifestErrorKindAlreadyExists,
			Err:  fmt.Errorf("manifest already exists at %s", manifestPath),
		}
	}
	return m.write(manifestPath)
}

// Open reads and validates the manifest in dir.
func Open(dir string) (*Manifest, error) {
	manifestPath := Path(dir)
	if exists := helpers.Exists(manifestPath); !exists {
		return nil, &ManifestError{Kind: ManifestErrorKindNotFound, Err: fs.ErrNotExist}
	}

	m := &Manifest{}
	if err := jsonutil.ReadFileStrict(manifestPath, m); err != nil {
		return nil, &ManifestError{Kind: ManifestErrorKindDecode, Err: err}
	}

	if m.Version > cdcwal.ManifestVersion {
		return nil, &ManifestError{
			Kind: ManifestErrorKindUnsupportedVersion,
			Err:  fmt.Errorf("manifest version %d is not supported", m.Version),
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Save rewrites the manifest in dir. It must already exist.
func (m *Manifest) Save(dir string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	manifestPath := Path(dir)
	if exists := helpers.Exists(manifestPath); !exists {
		return &ManifestError{Kind: ManifestErrorKindNotFound, Err: fs.ErrNotExist}
	}
	return m.write(manifestPath)
}

// Validate checks every field a log directory depends on.
func (m *Manifest) Validate() error {
	invalid := func(field string, err error) error {
		return &ManifestError{Kind: ManifestErrorKindInvalid, Field: field, Err: err}
	}
	if m.Version < 1 {
		return invalid("version", fmt.Errorf("version %d", m.Version))
	}
	if m.ServerID == "" {
		return invalid("server_id", fmt.Errorf("empty"))
	}
	if !enrichment.Version(m.FormatVersion).Valid() {
		return invalid("format_version", fmt.Errorf("version %d", m.FormatVersion))
	}
	if _, err := enrichment.ParseMode(m.EnrichmentMode); err != nil {
		return invalid("enrichment_mode", err)
	}
	if m.ChunkSize < 0 {
		return invalid("chunk_size", fmt.Errorf("size %d", m.ChunkSize))
	}
	if m.WalSegmentMaxSize <= 0 {
		return invalid("wal_segment_max_size", fmt.Errorf("size %d", m.WalSegmentMaxSize))
	}
	return nil
}

// Mode returns the parsed enrichment mode.
func (m *Manifest) Mode() enrichment.Mode {
	mode, _ := enrichment.ParseMode(m.EnrichmentMode)
	return mode
}

// EnrichmentVersion returns the wire version enrichments are written at.
func (m *Manifest) EnrichmentVersion() enrichment.Version {
	return enrichment.Version(m.FormatVersion)
}

func (m *Manifest) write(manifestPath string) error {
	data, err := jsonutil.Marshal(m)
	if err != nil {
		return &ManifestError{Kind: ManifestErrorKindEncode, Err: err}
	}
	if err := helpers.AtomicFileWrite(manifestPath, data); err != nil {
		return &ManifestError{Kind: ManifestErrorKindWrite, Err: err}
	}
	f, err := os.Open(filepath.Dir(manifestPath)) //nolint:gosec
	if err != nil {
		return &ManifestError{Kind: ManifestErrorKindWrite, Err: err}
	}
	defer func() { _ = f.Close() }()

	if err := f.Sync(); err != nil {
		return &ManifestError{Kind: ManifestErrorKindWrite, Err: err}
	}
	return nil
}
