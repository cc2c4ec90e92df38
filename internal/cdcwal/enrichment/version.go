package enrichment

import "fmt"

// Version is the log format version an enrichment is encoded at. Versions are
// ordered; new fields are only ever appended behind an IsAtLeast check.
type Version uint8

const (
	Version1 Version = iota + 1
	Version2

	// VersionUserMetadata introduced the fifth, user metadata region.
	VersionUserMetadata = Version2
	// LatestVersion is the version new logs are written at.
	LatestVersion = Version2
)

// IsAtLeast reports whether v is other or newer.
func (v Version) IsAtLeast(other Version) bool {
	return v >= other
}

// HasUserMetadata reports whether payloads at v carry a user metadata region.
func (v Version) HasUserMetadata() bool {
	return v.IsAtLeast(VersionUserMetadata)
}

// Valid reports whether v is a version this package can encode and decode.
func (v Version) Valid() bool {
	return v >= Version1 && v <= LatestVersion
}

// RegionCount returns the number of size-prefixed regions at v.
func (v Version) RegionCount() int {
	if v.HasUserMetadata() {
		return regionCount
	}
	return regionCount - 1
}

func (v Version) String() string {
	return fmt.Sprintf("v%d", uint8(v))
}

func unsupportedVersion(v Version) error {
	return &CodecError{
		Kind:  KindUnsupportedVersion,
		Field: "format_version",
		Err:   ErrUnsupportedVersion,
		Cause: fmt.Errorf("version %d, latest %d", uint8(v), uint8(LatestVersion)),
	}
}
