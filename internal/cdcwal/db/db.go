package db

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/julianstephens/cdcwal/internal/cdcwal"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
	"github.com/julianstephens/cdcwal/internal/cdcwal/manifest"
	"github.com/julianstephens/cdcwal/internal/cdcwal/memory"
	"github.com/julianstephens/cdcwal/internal/cdcwal/recovery"
	"github.com/julianstephens/cdcwal/internal/cdcwal/txn"
	wl "github.com/julianstephens/cdcwal/internal/cdcwal/wal"
	"github.com/julianstephens/cdcwal/internal/logger"
)

// DB is an opened log directory: its manifest, its WAL and the transaction
// writer appending to it.
type DB struct {
	// mu serializes commits so a failed one can be cut off the tail.
	mu sync.Mutex

	path     string
	manifest *manifest.Manifest
	wal      *wl.Log
	txnw     *txn.Writer
	opts     cdcwal.OpenOptions
	logger   logger.Logger
	mode     atomic.Uint32
	recovery *recovery.ReplayResult
	readOnly bool
	closed   bool
}

// Txn is a transaction started on a DB. Its Commit goes through the DB so a
// partially written transaction never stays in the log.
type Txn struct {
	*txn.Txn
	db *DB
}

// Open opens the log directory at path with default options and no logging.
func Open(path string) (*DB, error) {
	return OpenWithOptions(path, cdcwal.OpenOptions{}, logger.NoOpLogger{})
}

// OpenWithOptions opens the log directory at path, which must hold a
// manifest, and replays the log to find where to resume. A torn or
// uncommitted tail opens the DB read-only unless opts.RepairTail is set.
// If lg is nil, a NoOpLogger is used.
func OpenWithOptions(path string, opts cdcwal.OpenOptions, lg logger.Logger) (*DB, error) {
	if path == "" {
		return nil, wrapDBErr("open", ErrInvalidDir, path, nil)
	}
	lg = logger.With(lg, "component", "db")
	if opts.Tracker == nil {
		opts.Tracker = memory.EmptyTracker{}
	}

	m, err := manifest.Open(path)
	if err != nil {
		if errors.Is(err, manifest.ErrManifestNotFound) {
			return nil, wrapDBErr("open", ErrManifestMissing, path, err)
		}
		return nil, wrapDBErr("open", ErrManifestInvalid, path, err)
	}

	lg.Info("opening log", "path", path, "server_id", m.ServerID, "format_version", m.FormatVersion)

	db := &DB{
		path:     path,
		manifest: m,
		logger:   lg,
		opts:     opts,
	}
	mode := m.Mode()
	if opts.Mode != nil {
		mode = *opts.Mode
	}
	db.mode.Store(uint32(mode))

	if err := db.initialize(); err != nil {
		lg.Error("failed to open log", err, "path", path)
		if db.wal != nil {
			_ = db.wal.Close()
		}
		return nil, err
	}

	lg.Info("log opened", "path", path, "mode", mode, "read_only", db.readOnly)
	return db, nil
}

func (db *DB) initialize() error {
	log, err := wl.OpenLog(filepath.Join(db.path, cdcwal.WALDirName), wl.LogOpts{
		SegmentMaxBytes: db.manifest.WalSegmentMaxSize,
		SyncOnRotate:    db.manifest.FsyncOnCommit,
	})
	if err != nil {
		return wrapDBErr("open", ErrWALOpenFailed, db.path, err)
	}
	db.wal = log

	segIds := db.wal.SegmentIDs()
	start := wl.Start
	if len(segIds) > 0 {
		start.SegId = segIds[0]
	}

	db.logger.Info("starting recovery", "seg_count", len(segIds))
	res, err := recovery.Replay(db.wal, start, nil, recovery.ReplayOpts{Tracker: db.opts.Tracker}, db.logger)
	if err != nil {
		return wrapDBErr("replay", ErrReplayFailed, db.path, err)
	}
	db.recovery = res
	db.logger.Info("recovery complete",
		"next_txn_id", res.NextTxnId,
		"last_committed_txn_id", res.LastCommittedTxnId,
		"tail_status", res.TailStatus,
	)

	if res.TailStatus == recovery.TailStatusTruncated {
		if !db.opts.RepairTail {
			db.logger.Warn("log tail is incomplete, opening read-only",
				"last_valid_seg", res.LastValid.SegId, "last_valid_offset", res.LastValid.Offset)
			db.readOnly = true
		} else if err := db.wal.TruncateTail(res.LastValid); err != nil {
			return wrapDBErr("repair", ErrRepairFailed, db.path, err)
		} else {
			db.logger.Info("truncated log tail",
				"seg_id", res.LastValid.SegId, "offset", res.LastValid.Offset, "open_txn_id", res.OpenTxnId)
		}
	}

	allocator, err := txn.NewCounterAllocator(res.NextTxnId)
	if err != nil {
		return wrapDBErr("init", ErrInitFailed, db.path, err)
	}

	chunkSize := db.manifest.ChunkSize
	if db.opts.ChunkSize > 0 {
		chunkSize = db.opts.ChunkSize
	}
	strategy := enrichment.StrategyFunc(db.Mode)
	db.txnw = txn.NewWriter(allocator, db.wal, strategy, txn.WriterOpts{
		FsyncOnCommit:    db.manifest.FsyncOnCommit,
		FormatVersion:    db.manifest.EnrichmentVersion(),
		ServerID:         db.manifest.ServerID,
		ChunkSize:        chunkSize,
		LastCommittedTxn: res.LastCommittedTxnId,
		Tracker:          db.opts.Tracker,
	}, db.logger)
	return nil
}

// Close closes the log. Closing twice is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}

	db.logger.Info("closing log", "path", db.path)
	db.closed = true
	if err := db.wal.Close(); err != nil {
		db.logger.Error("failed to close WAL log", err, "path", db.path)
		return wrapDBErr("close", ErrCloseFailed, db.path, err)
	}
	return nil
}

// Path returns the log directory.
func (db *DB) Path() string {
	return db.path
}

// IsClosed returns true if the log is closed.
func (db *DB) IsClosed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}

// ReadOnly reports whether appends are refused because the tail needs repair.
func (db *DB) ReadOnly() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.readOnly
}

// Manifest returns a copy of the manifest the log was opened with.
func (db *DB) Manifest() manifest.Manifest {
	return *db.manifest
}

// Recovery returns the result of the replay run by Open.
func (db *DB) Recovery() recovery.ReplayResult {
	return *db.recovery
}

// Mode returns the enrichment mode new transactions start in.
func (db *DB) Mode() enrichment.Mode {
	return enrichment.Mode(db.mode.Load())
}

// SetMode changes the enrichment mode for transactions begun afterwards.
func (db *DB) SetMode(mode enrichment.Mode) {
	db.logger.Info("enrichment mode changed", "from", db.Mode(), "to", mode)
	db.mode.Store(uint32(mode))
}

// LastCommitted returns the highest committed transaction id.
func (db *DB) LastCommitted() uint64 {
	return db.txnw.LastCommitted()
}

func (db *DB) checkWritable(op string) error {
	if db.closed {
		return wrapDBErr(op, ErrClosed, db.path, nil)
	}
	if db.readOnly {
		return wrapDBErr(op, ErrReadOnly, db.path, nil)
	}
	return nil
}

// Begin starts a transaction in the current enrichment mode.
func (db *DB) Begin(userMetadata map[string]any) (*Txn, error) {
	db.mu.Lock()
	err := db.checkWritable("begin")
	db.mu.Unlock()
	if err != nil {
		return nil, err
	}

	t, err := db.txnw.Begin(userMetadata)
	if err != nil {
		return nil, wrapDBErr("begin", ErrBeginFailed, db.path, err)
	}
	return &Txn{Txn: t, db: db}, nil
}

// Commit builds the transaction's enrichment and appends it to the log.
func (t *Txn) Commit(subject enrichment.Subject, conn enrichment.ClientConnection) (uint64, error) {
	return t.db.commit(func() (uint64, error) { return t.Txn.Commit(subject, conn) })
}

// Commit appends a prebuilt enrichment, or a bare transaction when e is nil.
// It does not close e.
func (db *DB) Commit(e *enrichment.Write) (uint64, error) {
	return db.commit(func() (uint64, error) { return db.txnw.Commit(e) })
}

func (db *DB) commit(fn func() (uint64, error)) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkWritable("commit"); err != nil {
		return 0, err
	}

	end := db.wal.End()
	txnId, err := fn()
	if err == nil {
		db.logger.Debug("commit successful", "txn", txnId)
		return txnId, nil
	}

	if isRejection(err) {
		return 0, wrapDBErr("commit", ErrCommitRejected, db.path, err)
	}
	if isPartialWrite(err) {
		if terr := db.wal.TruncateTail(end); terr != nil {
			db.logger.Error("failed to cut failed commit from log", terr,
				"seg_id", end.SegId, "offset", end.Offset)
			db.readOnly = true
		}
	}
	return 0, wrapDBErr("commit", ErrCommitFailed, db.path, err)
}

func isRejection(err error) bool {
	return errors.Is(err, txn.ErrCommitDone) ||
		errors.Is(err, txn.ErrCommitInvalidEnrichment) ||
		errors.Is(err, txn.ErrCommitBuildEnrichment)
}

func isPartialWrite(err error) bool {
	return errors.Is(err, txn.ErrCommitAppendBegin) ||
		errors.Is(err, txn.ErrCommitAppendEnrichment) ||
		errors.Is(err, txn.ErrCommitAppendCommit) ||
		errors.Is(err, txn.ErrCommitFlush) ||
		errors.Is(err, txn.ErrCommitFSync)
}

// Replay reads committed transactions from `from` onwards and hands each one
// to consumer. Buffered appends are flushed first.
func (db *DB) Replay(from wl.Boundary, consumer recovery.Consumer) (*recovery.ReplayResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, wrapDBErr("replay", ErrClosed, db.path, nil)
	}
	if err := db.wal.Flush(); err != nil {
		return nil, wrapDBErr("replay", ErrReplayFailed, db.path, err)
	}

	res, err := recovery.Replay(db.wal, from, consumer, recovery.ReplayOpts{Tracker: db.opts.Tracker}, db.logger)
	if err != nil {
		return res, wrapDBErr("replay", ErrReplayFailed, db.path, err)
	}
	return res, nil
}

// Start returns the boundary of the oldest retained record.
func (db *DB) Start() wl.Boundary {
	segIds := db.wal.SegmentIDs()
	if len(segIds) == 0 {
		return wl.Start
	}
	return wl.Boundary{SegId: segIds[0]}
}
