package txn

import (
	"sync"
	"sync/atomic"

	"github.com/julianstephens/cdcwal/internal/cdcwal/capture"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
	"github.com/julianstephens/cdcwal/internal/cdcwal/memory"
	"github.com/julianstephens/cdcwal/internal/cdcwal/wal"
	"github.com/julianstephens/cdcwal/internal/cdcwal/wal/record"
	"github.com/julianstephens/cdcwal/internal/logger"
)

type WriterOpts struct {
	FsyncOnCommit bool

	// FormatVersion is the enrichment wire version; zero means enrichment.LatestVersion.
	FormatVersion enrichment.Version

	// ServerID is stamped into every enrichment's metadata.
	ServerID string

	// ChunkSize of the capture buffers; zero means chunked.DefaultChunkSize.
	ChunkSize int

	// LastCommittedTxn seeds the last-committed id reported in metadata.
	LastCommittedTxn uint64

	// Tracker is charged for capture buffers. Nil disables accounting.
	Tracker memory.Tracker

	LogicalKeys capture.LogicalKeys
}

// Writer appends transactions to the log as BEGIN, an optional ENRICHMENT
// and COMMIT. The three records of one transaction are never interleaved
// with another's.
type Writer struct {
	mu sync.Mutex

	idAllocator   IDAllocator
	logAppender   wal.LogAppender
	strategy      enrichment.ApplyStrategy
	logger        logger.Logger
	opts          WriterOpts
	lastCommitted atomic.Uint64
}

// NewWriter creates a new Writer that writes transactions to the given LogAppender.
// A nil strategy disables enrichment.
func NewWriter(
	allocator IDAllocator,
	logAppender wal.LogAppender,
	strategy enrichment.ApplyStrategy,
	opts WriterOpts,
	lg logger.Logger,
) *Writer {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	if strategy == nil {
		strategy = enrichment.NoEnrichment
	}
	if opts.FormatVersion == 0 {
		opts.FormatVersion = enrichment.LatestVersion
	}
	if opts.Tracker == nil {
		opts.Tracker = memory.EmptyTracker{}
	}
	w := &Writer{
		idAllocator: allocator,
		logAppender: logAppender,
		strategy:    strategy,
		logger:      lg,
		opts:        opts,
	}
	w.lastCommitted.Store(opts.LastCommittedTxn)
	return w
}

// FormatVersion returns the enrichment version this writer encodes.
func (w *Writer) FormatVersion() enrichment.Version { return w.opts.FormatVersion }

// LastCommitted returns the highest transaction id this writer has committed,
// or the seed from WriterOpts.
func (w *Writer) LastCommitted() uint64 { return w.lastCommitted.Load() }

// Commit writes one transaction to the log and returns its id. A nil e
// writes BEGIN and COMMIT only. Commit does not close e.
func (w *Writer) Commit(e *enrichment.Write) (txnId uint64, err error) {
	if e != nil && !e.Supports(w.opts.FormatVersion) {
		w.logger.Warn("enrichment does not match format version",
			"format_version", w.opts.FormatVersion, "user_metadata_region", e.HasUserMetadataRegion())
		err = &CommitError{
			Err:   ErrCommitInvalidEnrichment,
			Stage: StageValidateEnrichment,
			Cause: &enrichment.CodecError{
				Kind:  enrichment.KindRegionLayout,
				Field: "regions",
				Want:  int64(w.opts.FormatVersion.RegionCount()),
				Err:   enrichment.ErrRegionLayout,
			},
		}
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	txnId, err2 := w.idAllocator.Next()
	if err2 != nil {
		w.logger.Error("failed to allocate txn id", err2)
		err = wrapCommitErr(StageAllocTxnID, ErrCommitAllocTxnID, 0, err2)
		return
	}
	w.logger.Debug("allocated txn id", "txn", txnId, "enriched", e != nil)

	// Encode before BEGIN so a bad enrichment leaves nothing in the log.
	var enriched []byte
	if e != nil {
		enriched, err2 = record.EncodeEnrichmentPayload(txnId, uint8(w.opts.FormatVersion), e)
		if err2 != nil {
			w.logger.Error("failed to encode enrichment", err2, "txn", txnId, "size", e.TotalSize())
			err = &CommitError{
				Err:            ErrCommitEncodeEnrichment,
				Stage:          StageEncodeEnrichment,
				TxnID:          txnId,
				EnrichmentSize: e.TotalSize(),
				Cause:          err2,
			}
			return
		}
	}

	if _, err2 = w.logAppender.Append(record.RecordTypeBeginTransaction, record.EncodeBeginTxnPayload(txnId)); err2 != nil {
		w.logger.Error("failed to append begin txn record", err2, "txn", txnId)
		err = wrapCommitErr(StageAppendBegin, ErrCommitAppendBegin, txnId, err2)
		return
	}

	if enriched != nil {
		if _, err2 = w.logAppender.Append(record.RecordTypeEnrichment, enriched); err2 != nil {
			w.logger.Error("failed to append enrichment record", err2, "txn", txnId, "size", len(enriched))
			err = &CommitError{
				Err:            ErrCommitAppendEnrichment,
				Stage:          StageAppendEnrichment,
				TxnID:          txnId,
				EnrichmentSize: e.TotalSize(),
				Cause:          err2,
			}
			return
		}
	}

	if _, err2 = w.logAppender.Append(record.RecordTypeCommitTransaction, record.EncodeCommitTxnPayload(txnId)); err2 != nil {
		w.logger.Error("failed to append commit txn record", err2, "txn", txnId)
		err = wrapCommitErr(StageAppendCommit, ErrCommitAppendCommit, txnId, err2)
		return
	}

	if err2 = w.logAppender.Flush(); err2 != nil {
		w.logger.Error("failed to flush WAL", err2, "txn", txnId)
		err = wrapCommitErr(StageFlush, ErrCommitFlush, txnId, err2)
		return
	}

	if w.opts.FsyncOnCommit {
		if err2 = w.logAppender.FSync(); err2 != nil {
			w.logger.Error("failed to fsync WAL", err2, "txn", txnId)
			err = wrapCommitErr(StageFSync, ErrCommitFSync, txnId, err2)
			return
		}
	}

	for {
		last := w.lastCommitted.Load()
		if txnId <= last || w.lastCommitted.CompareAndSwap(last, txnId) {
			break
		}
	}

	w.logger.Info("commit successful", "txn", txnId, "enrichment_bytes", len(enriched))
	return
}

func (w *Writer) Flush() error {
	return w.logAppender.Flush()
}

func (w *Writer) FSync() error {
	return w.logAppender.FSync()
}
