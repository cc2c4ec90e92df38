package cdcwal

import (
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
	"github.com/julianstephens/cdcwal/internal/cdcwal/memory"
)

// OpenOptions configures an opened log directory. Zero fields fall back to
// what the manifest records.
type OpenOptions struct {
	// Mode overrides the manifest's enrichment mode for this process.
	Mode *enrichment.Mode

	// ChunkSize of capture buffers; zero uses the manifest value.
	ChunkSize int

	// Tracker is charged for capture and replay buffers. Nil disables accounting.
	Tracker memory.Tracker

	// RepairTail truncates a torn or uncommitted tail during open instead of
	// refusing to append after it.
	RepairTail bool
}
