package testutil

import (
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/cdcwal/internal/cdcwal/capture"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
	"github.com/julianstephens/cdcwal/internal/cdcwal/memory"
)

const TestServerID = "srv-test"

// TxMetadata returns valid metadata for a transaction captured in mode.
func TxMetadata(t *testing.T, mode enrichment.CaptureMode, lastCommitted int64) enrichment.TxMetadata {
	t.Helper()
	meta, err := enrichment.NewTxMetadata(mode, TestServerID, enrichment.User("neo4j"),
		enrichment.EmbeddedConnection, lastCommitted)
	tst.RequireNoError(t, err)
	return meta
}

// CapturedWrite records changes through a collector and builds the
// enrichment. The Write is closed when the test ends.
func CapturedWrite(
	t *testing.T,
	version enrichment.Version,
	tracker memory.Tracker,
	userMetadata map[string]any,
	changes func(c *capture.Collector),
) *enrichment.Write {
	t.Helper()
	c, err := capture.NewCollector(enrichment.CaptureModeFull, version, tracker, userMetadata)
	tst.RequireNoError(t, err)
	defer func() { _ = c.Close() }()

	changes(c)
	w, err := c.Build(TxMetadata(t, enrichment.CaptureModeFull, 0))
	tst.RequireNoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// CreateNodes records one created node per id with a single name property.
func CreateNodes(ids ...int64) func(c *capture.Collector) {
	return func(c *capture.Collector) {
		for _, id := range ids {
			if err := c.CreateNode(id, []int32{1}, []capture.Property{{Key: 1, Value: "n"}}); err != nil {
				panic(err)
			}
		}
	}
}
