package txn

import (
	"github.com/julianstephens/cdcwal/internal/cdcwal/capture"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
)

// Txn captures the changes of one transaction until it is committed or
// aborted. It is not safe for concurrent use.
type Txn struct {
	w       *Writer
	mode    enrichment.Mode
	changes *capture.Collector
	done    bool
}

// Begin starts a transaction. The writer's strategy is consulted once; when
// it yields ModeOff the transaction records no changes.
func (w *Writer) Begin(userMetadata map[string]any) (*Txn, error) {
	t := &Txn{w: w, mode: w.strategy.Mode()}
	captureMode, ok := t.mode.CaptureMode()
	if !ok {
		return t, nil
	}

	var opts []capture.Option
	if w.opts.ChunkSize > 0 {
		opts = append(opts, capture.WithChunkSize(w.opts.ChunkSize))
	}
	if w.opts.LogicalKeys != nil {
		opts = append(opts, capture.WithLogicalKeys(w.opts.LogicalKeys))
	}
	c, err := capture.NewCollector(captureMode, w.opts.FormatVersion, w.opts.Tracker, userMetadata, opts...)
	if err != nil {
		w.logger.Warn("failed to start capture", "mode", t.mode, "reason", err.Error())
		return nil, wrapCommitErr(StageBegin, ErrCommitBegin, 0, err)
	}
	t.changes = c
	return t, nil
}

// Mode returns the enrichment mode fixed at Begin.
func (t *Txn) Mode() enrichment.Mode { return t.mode }

// Changes returns the collector to record changes into, or nil when
// enrichment is off.
func (t *Txn) Changes() *capture.Collector { return t.changes }

// Commit builds the enrichment, if any change was captured, and writes the
// transaction. The capture buffers are released whether or not it succeeds.
func (t *Txn) Commit(subject enrichment.Subject, conn enrichment.ClientConnection) (uint64, error) {
	if t.done {
		return 0, wrapCommitErr(StageBegin, ErrCommitDone, 0, nil)
	}
	t.done = true

	if t.changes == nil || !t.changes.HasChanges() {
		t.release()
		return t.w.Commit(nil)
	}
	defer t.release()

	captureMode, _ := t.mode.CaptureMode()
	meta, err := enrichment.NewTxMetadata(captureMode, t.w.opts.ServerID, subject, conn, int64(t.w.LastCommitted())) //nolint:gosec
	if err != nil {
		return 0, wrapCommitErr(StageBuildEnrichment, ErrCommitBuildEnrichment, 0, err)
	}
	e, err := t.changes.Build(meta)
	if err != nil {
		return 0, wrapCommitErr(StageBuildEnrichment, ErrCommitBuildEnrichment, 0, err)
	}
	defer func() { _ = e.Close() }()

	return t.w.Commit(e)
}

// Abort drops the captured changes without writing anything.
func (t *Txn) Abort() {
	t.done = true
	t.release()
}

func (t *Txn) release() {
	if t.changes != nil {
		_ = t.changes.Close()
	}
}
