package enrichment

import (
	"fmt"
	"strings"
)

// Mode is the per-transaction decision of whether and how to generate an
// enrichment. It is never written to the wire.
type Mode uint8

const (
	ModeOff Mode = iota
	ModeDiff
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "OFF"
	case ModeDiff:
		return "DIFF"
	case ModeFull:
		return "FULL"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// CaptureMode maps an enabled mode to the capture mode recorded in the
// metadata. It returns false for ModeOff.
func (m Mode) CaptureMode() (CaptureMode, bool) {
	switch m {
	case ModeDiff:
		return CaptureModeDiff, true
	case ModeFull:
		return CaptureModeFull, true
	default:
		return 0, false
	}
}

// ParseMode accepts "off", "diff" or "full" in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFF", "":
		return ModeOff, nil
	case "DIFF":
		return ModeDiff, nil
	case "FULL":
		return ModeFull, nil
	}
	return ModeOff, &CodecError{
		Kind:  KindUnknownMode,
		Field: "enrichment_mode",
		Err:   ErrUnknownMode,
		Cause: fmt.Errorf("name %q", s),
	}
}

// ApplyStrategy is consulted once per transaction to decide its Mode.
type ApplyStrategy interface {
	Mode() Mode
}

// FixedStrategy always returns the same Mode.
type FixedStrategy Mode

func (s FixedStrategy) Mode() Mode { return Mode(s) }

// NoEnrichment disables enrichment for every transaction.
var NoEnrichment ApplyStrategy = FixedStrategy(ModeOff)

// StrategyFunc adapts a function to ApplyStrategy.
type StrategyFunc func() Mode

func (f StrategyFunc) Mode() Mode { return f() }
