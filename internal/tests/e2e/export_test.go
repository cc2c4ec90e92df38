package e2e_test

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/cdcwal/internal/cdcwal"
	"github.com/julianstephens/cdcwal/internal/cdcwal/capture"
	"github.com/julianstephens/cdcwal/internal/cdcwal/cdcstore"
	"github.com/julianstephens/cdcwal/internal/cdcwal/memory"
	"github.com/julianstephens/cdcwal/internal/cdcwal/recovery"
	"github.com/julianstephens/cdcwal/internal/logger"
	"github.com/julianstephens/cdcwal/internal/testutil"
)

// TestExport_StoreMatchesLog replays a log into a pebble store and checks the
// store serves the same feed, including after both are reopened.
func TestExport_StoreMatchesLog(t *testing.T) {
	dir := t.TempDir()
	testutil.SetupLogDir(t, dir, nil)
	tracker := memory.NewLocalTracker()

	d := openLog(t, dir, cdcwal.OpenOptions{Tracker: tracker})
	for i := int64(1); i <= 5; i++ {
		createNode(t, d, i, map[string]any{"batch": i})
	}
	_, err := d.Commit(nil)
	tst.RequireNoError(t, err)
	want := readFeed(t, d)

	fs := vfs.NewMem()
	storeDir := filepath.Join("feeds", "store")
	store, err := cdcstore.Open(storeDir, cdcstore.Options{FS: fs, Tracker: tracker, Logger: logger.NoOpLogger{}})
	tst.RequireNoError(t, err)
	res, err := d.Replay(d.Start(), store)
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, res.Committed, 6, "every transaction exported")
	tst.AssertEqual(t, store.Last(), uint64(6), "store ends at the last commit")
	tst.RequireNoError(t, store.Close())

	reopened, err := cdcstore.Open(storeDir, cdcstore.Options{FS: fs, Tracker: tracker})
	tst.RequireNoError(t, err)
	defer func() { _ = reopened.Close() }()

	var got []feedEntry
	tst.RequireNoError(t, reopened.Scan(0, func(e cdcstore.Entry) error {
		fe := feedEntry{txnID: e.TxnID}
		if e.Enrichment != nil {
			tx, err := capture.Decode(e.Enrichment)
			if err != nil {
				return err
			}
			fe.version = e.Enrichment.Version()
			fe.tx = tx
		}
		got = append(got, fe)
		return nil
	}))

	tst.AssertEqual(t, len(got), len(want), "store holds the whole feed")
	for i := range want {
		tst.AssertEqual(t, got[i].txnID, want[i].txnID, "same order")
		tst.AssertEqual(t, got[i].version, want[i].version, "same format version")
		if want[i].tx == nil {
			tst.AssertTrue(t, got[i].tx == nil, "bare transaction stays bare")
			continue
		}
		tst.RequireDeepEqual(t, got[i].tx.Changes, want[i].tx.Changes)
		tst.RequireDeepEqual(t, got[i].tx.UserMetadata, want[i].tx.UserMetadata)
		tst.AssertEqual(t, got[i].tx.Metadata.ServerID(), testutil.TestServerID, "metadata preserved")
	}
	tst.AssertEqual(t, tracker.InUse(), int64(0), "no buffers outlive the scan")

	// A second replay hands every txn to the store again; ids already stored
	// are refused so nothing is duplicated.
	_, err = d.Replay(d.Start(), recovery.ConsumerFunc(func(c recovery.Committed) error {
		if c.TxnID <= reopened.Last() {
			return nil
		}
		return reopened.Apply(c)
	}))
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, reopened.Last(), uint64(6), "nothing new to export")
}
