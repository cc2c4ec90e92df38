package enrichment

import (
	"fmt"
	"strings"
)

// CaptureMode selects how much entity state is recorded for a transaction.
// Its wire id is stable: new modes get new ids, existing ids never change.
type CaptureMode uint8

const (
	CaptureModeDiff CaptureMode = iota + 1
	CaptureModeFull
)

var captureModeIDs = map[CaptureMode]byte{
	CaptureModeDiff: 1,
	CaptureModeFull: 2,
}

var captureModesByID map[byte]CaptureMode

func init() {
	captureModesByID = make(map[byte]CaptureMode, len(captureModeIDs))
	for mode, id := range captureModeIDs {
		if other, dup := captureModesByID[id]; dup {
			panic(fmt.Sprintf("enrichment: capture modes %s and %s share wire id %d", mode, other, id))
		}
		captureModesByID[id] = mode
	}
}

// ID returns the wire identifier of m.
func (m CaptureMode) ID() byte {
	return captureModeIDs[m]
}

// Valid reports whether m is a known capture mode.
func (m CaptureMode) Valid() bool {
	_, ok := captureModeIDs[m]
	return ok
}

func (m CaptureMode) String() string {
	switch m {
	case CaptureModeDiff:
		return "DIFF"
	case CaptureModeFull:
		return "FULL"
	default:
		return fmt.Sprintf("CaptureMode(%d)", uint8(m))
	}
}

// CaptureModeByID decodes a wire identifier.
func CaptureModeByID(id byte) (CaptureMode, error) {
	mode, ok := captureModesByID[id]
	if !ok {
		return 0, &CodecError{
			Kind:  KindUnknownCaptureMode,
			Field: "capture_mode",
			Err:   ErrUnknownCaptureMode,
			Cause: fmt.Errorf("wire id %d", id),
		}
	}
	return mode, nil
}

// ParseCaptureMode accepts "diff" or "full" in any case.
func ParseCaptureMode(s string) (CaptureMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DIFF":
		return CaptureModeDiff, nil
	case "FULL":
		return CaptureModeFull, nil
	}
	return 0, &CodecError{
		Kind:  KindUnknownCaptureMode,
		Field: "capture_mode",
		Err:   ErrUnknownCaptureMode,
		Cause: fmt.Errorf("name %q", s),
	}
}
