package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/julianstephens/go-utils/cliutil"

	"github.com/julianstephens/cdcwal/internal/cdcwal"
	"github.com/julianstephens/cdcwal/internal/cdcwal/cdcstore"
	"github.com/julianstephens/cdcwal/internal/cdcwal/db"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
	"github.com/julianstephens/cdcwal/internal/cdcwal/manifest"
	"github.com/julianstephens/cdcwal/internal/cdcwal/recovery"
	"github.com/julianstephens/cdcwal/internal/cdcwal/wal"
	"github.com/julianstephens/cdcwal/internal/logger"
)

// ErrVerifyFailed is returned when verify finds a log that needs attention.
var ErrVerifyFailed = errors.New("log verification failed")

// InitCmd creates a log directory with a fresh manifest.
type InitCmd struct {
	Dir             string `arg:"" help:"Log directory to create"`
	Mode            string `help:"Enrichment mode (OFF, DIFF, FULL)" default:"FULL"`
	FormatVersion   uint8  `help:"Enrichment format version" default:"2"`
	ChunkSize       int    `help:"Capture buffer chunk size in bytes; 0 uses the default"`
	SegmentMaxBytes int64  `help:"Rotate WAL segments past this many bytes" default:"268435456"`
	NoFsync         bool   `help:"Do not fsync on every commit"`
}

func (c *InitCmd) Run(lg logger.Logger, out io.Writer) error {
	mode, err := enrichment.ParseMode(c.Mode)
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("invalid mode %q", c.Mode))
		return err
	}

	m := manifest.DefaultManifest()
	m.EnrichmentMode = mode.String()
	m.FormatVersion = c.FormatVersion
	m.FsyncOnCommit = !c.NoFsync
	m.WalSegmentMaxSize = c.SegmentMaxBytes
	if c.ChunkSize > 0 {
		m.ChunkSize = c.ChunkSize
	}
	if err := manifest.Create(c.Dir, m); err != nil {
		cliutil.PrintError(fmt.Sprintf("unable to write manifest in %s", c.Dir))
		return err
	}

	log, err := wal.OpenLog(filepath.Join(c.Dir, cdcwal.WALDirName), wal.LogOpts{SegmentMaxBytes: m.WalSegmentMaxSize})
	if err != nil {
		cliutil.PrintError("unable to create the WAL directory")
		return err
	}
	if err := log.Close(); err != nil {
		return err
	}

	lg.Info("initialized log directory", "dir", c.Dir, "server_id", m.ServerID, "mode", m.EnrichmentMode)
	_, err = fmt.Fprintf(out, "initialized %s server_id=%s mode=%s format_version=%d\n",
		c.Dir, m.ServerID, m.EnrichmentMode, m.FormatVersion)
	return err
}

// DumpCmd prints every committed transaction and its changes.
type DumpCmd struct {
	Dir   string `arg:"" help:"Log directory"`
	From  uint64 `help:"Skip transactions below this id"`
	Limit int    `help:"Stop after this many transactions; 0 prints all"`
	JSON  bool   `help:"Print one JSON object per transaction"`
}

var errLimitReached = errors.New("limit reached")

func (c *DumpCmd) Run(lg logger.Logger, out io.Writer) error {
	d, err := db.OpenWithOptions(c.Dir, cdcwal.OpenOptions{}, lg)
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("unable to open %s", c.Dir))
		return err
	}
	defer func() { _ = d.Close() }()

	printed := 0
	_, err = d.Replay(d.Start(), recovery.ConsumerFunc(func(tx recovery.Committed) error {
		if tx.TxnID < c.From {
			return nil
		}
		if c.Limit > 0 && printed >= c.Limit {
			return errLimitReached
		}
		v, err := newTxView(tx.TxnID, tx.Enrichment)
		if err != nil {
			return fmt.Errorf("txn %d: %w", tx.TxnID, err)
		}
		printed++
		if c.JSON {
			return writeJSON(out, v)
		}
		return writeText(out, v)
	}))
	if err != nil && !errors.Is(err, errLimitReached) {
		cliutil.PrintError("dump stopped early")
		return err
	}
	if d.ReadOnly() {
		cliutil.PrintError("log tail is incomplete; run verify --repair")
	}
	return nil
}

// VerifyCmd replays the log without applying it and reports its tail.
type VerifyCmd struct {
	Dir    string `arg:"" help:"Log directory"`
	Repair bool   `help:"Truncate a torn or uncommitted tail"`
}

func (c *VerifyCmd) Run(lg logger.Logger, out io.Writer) error {
	m, err := manifest.Open(c.Dir)
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("unable to read manifest in %s", c.Dir))
		return err
	}
	log, err := wal.OpenLog(filepath.Join(c.Dir, cdcwal.WALDirName), wal.LogOpts{SegmentMaxBytes: m.WalSegmentMaxSize})
	if err != nil {
		cliutil.PrintError("unable to open the WAL")
		return err
	}
	defer func() { _ = log.Close() }()

	start := wal.Start
	if ids := log.SegmentIDs(); len(ids) > 0 {
		start.SegId = ids[0]
	}
	res, rerr := recovery.Replay(log, start, nil, recovery.ReplayOpts{}, lg)
	if err := writeReport(out, res); err != nil {
		return err
	}
	if rerr != nil {
		cliutil.PrintError(rerr.Error())
		return fmt.Errorf("%w: %w", ErrVerifyFailed, rerr)
	}
	if res.TailStatus != recovery.TailStatusTruncated {
		return nil
	}
	if !c.Repair {
		cliutil.PrintError("log tail is incomplete; rerun with --repair to truncate it")
		return ErrVerifyFailed
	}
	if err := log.TruncateTail(res.LastValid); err != nil {
		cliutil.PrintError("tail repair failed")
		return fmt.Errorf("%w: %w", ErrVerifyFailed, err)
	}
	lg.Info("truncated log tail", "seg_id", res.LastValid.SegId, "offset", res.LastValid.Offset)
	_, err = fmt.Fprintf(out, "repaired: truncated segment %d at offset %d\n", res.LastValid.SegId, res.LastValid.Offset)
	return err
}

func writeReport(out io.Writer, res *recovery.ReplayResult) error {
	_, err := fmt.Fprintf(out,
		"status=%s committed=%d last_committed=%d next_txn=%d last_valid=%d:%d last_record=%d:%d",
		res.TailStatus, res.Committed, res.LastCommittedTxnId, res.NextTxnId,
		res.LastValid.SegId, res.LastValid.Offset, res.LastRecord.SegId, res.LastRecord.Offset)
	if err != nil {
		return err
	}
	if res.OpenTxnId != 0 {
		if _, err := fmt.Fprintf(out, " open_txn=%d", res.OpenTxnId); err != nil {
			return err
		}
	}
	_, err = io.WriteString(out, "\n")
	return err
}

// ExportCmd copies committed enrichments into a pebble store. Transactions
// already in the store are skipped, so repeated exports are incremental.
type ExportCmd struct {
	Dir  string `arg:"" help:"Log directory"`
	Out  string `help:"Store directory" required:""`
	Sync bool   `help:"Sync the store on every write"`
}

func (c *ExportCmd) Run(lg logger.Logger, out io.Writer) error {
	d, err := db.OpenWithOptions(c.Dir, cdcwal.OpenOptions{}, lg)
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("unable to open %s", c.Dir))
		return err
	}
	defer func() { _ = d.Close() }()

	store, err := cdcstore.Open(c.Out, cdcstore.Options{Sync: c.Sync, Logger: lg})
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("unable to open store %s", c.Out))
		return err
	}
	defer func() { _ = store.Close() }()

	already := store.Last()
	exported := 0
	_, err = d.Replay(d.Start(), recovery.ConsumerFunc(func(tx recovery.Committed) error {
		if tx.TxnID <= already {
			return nil
		}
		if err := store.Apply(tx); err != nil {
			return err
		}
		exported++
		return nil
	}))
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("export stopped after %d transactions", exported))
		return err
	}

	lg.Info("export complete", "exported", exported, "last_txn_id", store.Last())
	_, err = fmt.Fprintf(out, "exported %d transactions, store at txn %d\n", exported, store.Last())
	return err
}

// ScanCmd prints the transactions held in an exported store.
type ScanCmd struct {
	Store string `arg:"" help:"Store directory"`
	From  uint64 `help:"Start at this txn id"`
	JSON  bool   `help:"Print one JSON object per transaction"`
}

func (c *ScanCmd) Run(lg logger.Logger, out io.Writer) error {
	store, err := cdcstore.Open(c.Store, cdcstore.Options{Logger: lg})
	if err != nil {
		cliutil.PrintError(fmt.Sprintf("unable to open store %s", c.Store))
		return err
	}
	defer func() { _ = store.Close() }()

	return store.Scan(c.From, func(e cdcstore.Entry) error {
		v, err := newTxView(e.TxnID, e.Enrichment)
		if err != nil {
			return fmt.Errorf("txn %d: %w", e.TxnID, err)
		}
		if c.JSON {
			return writeJSON(out, v)
		}
		return writeText(out, v)
	})
}
