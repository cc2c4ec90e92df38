package cdcwal

const (
	DefaultSegmentMaxBytes int64 = 256 * 1024 * 1024

	ManifestVersion = 1

	WALDirName = "wal"
)

// Log file defaults
const (
	DefaultLogFileName   = "cdcwal.log"
	DefaultLogMaxSize    = 100
	DefaultLogMaxBackups = 3
	DefaultLogLevel      = "info"
)

// CLI defaults, relative to the user's home directory.
const (
	DefaultAppDir = ".cdcwal"
	DefaultLogDir = "logs"
)
