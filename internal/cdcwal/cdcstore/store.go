// Package cdcstore keeps committed enrichments in a pebble database keyed by
// txn id, so a change feed can be read back in commit order without
// replaying the log.
package cdcstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
	"github.com/julianstephens/cdcwal/internal/cdcwal/memory"
	"github.com/julianstephens/cdcwal/internal/cdcwal/recovery"
	"github.com/julianstephens/cdcwal/internal/logger"
)

const (
	txnKeyPrefix = 't'
	txnKeySize   = 1 + 8

	// noEnrichment marks a txn committed without an enrichment.
	noEnrichment byte = 0
)

type Options struct {
	// FS overrides the filesystem; nil means the OS filesystem.
	FS vfs.FS

	// Sync makes every Put durable before it returns.
	Sync bool

	// Tracker is charged for enrichments decoded by Get and Scan.
	Tracker memory.Tracker

	Logger logger.Logger
}

// Entry is one stored txn. Enrichment is nil for txns committed without one.
type Entry struct {
	TxnID      uint64
	Enrichment *enrichment.Read
}

type Store struct {
	mu     sync.Mutex
	db     *pebble.DB
	opts   Options
	last   uint64
	closed bool
	path   string
}

// Open opens or creates the store at dir.
func Open(dir string, opts Options) (*Store, error) {
	opts.Logger = logger.With(opts.Logger, "component", "cdcstore")
	if opts.Tracker == nil {
		opts.Tracker = memory.EmptyTracker{}
	}

	db, err := pebble.Open(dir, &pebble.Options{FS: opts.FS})
	if err != nil {
		return nil, &StoreError{Kind: StoreErrorKindOpen, Err: err}
	}

	s := &Store{db: db, opts: opts, path: dir}
	last, err := s.lastStored()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.last = last
	opts.Logger.Debug("cdcstore opened", "path", dir, "last_txn_id", last)
	return s, nil
}

func txnKey(txnId uint64) []byte {
	k := make([]byte, txnKeySize)
	k[0] = txnKeyPrefix
	binary.BigEndian.PutUint64(k[1:], txnId)
	return k
}

func txnIDFromKey(k []byte) (uint64, error) {
	if len(k) != txnKeySize || k[0] != txnKeyPrefix {
		return 0, fmt.Errorf("malformed key %x", k)
	}
	return binary.BigEndian.Uint64(k[1:]), nil
}

func txnUpperBound() []byte {
	return []byte{txnKeyPrefix + 1}
}

func (s *Store) lastStored() (uint64, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: txnKey(0), UpperBound: txnUpperBound()})
	if err != nil {
		return 0, &StoreError{Kind: StoreErrorKindRead, Err: err}
	}
	defer func() { _ = it.Close() }()

	if !it.Last() {
		if err := it.Error(); err != nil {
			return 0, &StoreError{Kind: StoreErrorKindRead, Err: err}
		}
		return 0, nil
	}
	id, err := txnIDFromKey(it.Key())
	if err != nil {
		return 0, &StoreError{Kind: StoreErrorKindDecode, Err: err}
	}
	return id, nil
}

// Path returns the directory the store was opened at.
func (s *Store) Path() string { return s.path }

// Last returns the highest stored txn id, or 0 when the store is empty.
func (s *Store) Last() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Put stores e under txnId encoded at version. Ids must be strictly
// increasing. A nil e records the txn without an enrichment.
func (s *Store) Put(txnId uint64, version enrichment.Version, e enrichment.Enrichment) error {
	value, err := encodeValue(txnId, version, e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &StoreError{Kind: StoreErrorKindClosed, TxnID: txnId, Err: ErrClosed}
	}
	if txnId <= s.last {
		return &StoreError{
			Kind:  StoreErrorKindNotMonotonic,
			TxnID: txnId,
			Err:   fmt.Errorf("last stored txn id is %d", s.last),
		}
	}

	wo := pebble.NoSync
	if s.opts.Sync {
		wo = pebble.Sync
	}
	if err := s.db.Set(txnKey(txnId), value, wo); err != nil {
		s.opts.Logger.Error("cdcstore put failed", err, "txn_id", txnId)
		return &StoreError{Kind: StoreErrorKindWrite, TxnID: txnId, Err: err}
	}
	s.last = txnId
	return nil
}

// Apply stores a replayed txn, so a Store can be handed to recovery.Replay.
// The enrichment is re-encoded at the version it was decoded with.
func (s *Store) Apply(c recovery.Committed) error {
	if c.Enrichment == nil {
		return s.Put(c.TxnID, 0, nil)
	}
	return s.Put(c.TxnID, c.Enrichment.Version(), c.Enrichment)
}

// Get returns the entry stored for txnId. The caller closes its enrichment.
func (s *Store) Get(txnId uint64) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &StoreError{Kind: StoreErrorKindClosed, TxnID: txnId, Err: ErrClosed}
	}

	value, closer, err := s.db.Get(txnKey(txnId))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, &StoreError{Kind: StoreErrorKindNotFound, TxnID: txnId, Err: err}
		}
		return nil, &StoreError{Kind: StoreErrorKindRead, TxnID: txnId, Err: err}
	}
	defer func() { _ = closer.Close() }()

	r, err := decodeValue(txnId, value, s.opts.Tracker)
	if err != nil {
		return nil, err
	}
	return &Entry{TxnID: txnId, Enrichment: r}, nil
}

// Scan calls fn for every stored txn with id >= from in ascending order. The
// entry's enrichment is closed once fn returns. An error from fn stops the
// scan and is returned as is.
func (s *Store) Scan(from uint64, fn func(Entry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &StoreError{Kind: StoreErrorKindClosed, Err: ErrClosed}
	}

	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: txnKey(from), UpperBound: txnUpperBound()})
	if err != nil {
		return &StoreError{Kind: StoreErrorKindRead, Err: err}
	}
	defer func() { _ = it.Close() }()

	for valid := it.First(); valid; valid = it.Next() {
		txnId, err := txnIDFromKey(it.Key())
		if err != nil {
			return &StoreError{Kind: StoreErrorKindDecode, Err: err}
		}
		r, err := decodeValue(txnId, it.Value(), s.opts.Tracker)
		if err != nil {
			return err
		}
		err = fn(Entry{TxnID: txnId, Enrichment: r})
		if r != nil {
			_ = r.Close()
		}
		if err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return &StoreError{Kind: StoreErrorKindRead, Err: err}
	}
	return nil
}

// Close flushes and closes the store. Calling it again is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return &StoreError{Kind: StoreErrorKindWrite, Err: err}
	}
	return nil
}

func encodeValue(txnId uint64, version enrichment.Version, e enrichment.Enrichment) ([]byte, error) {
	if e == nil {
		return []byte{noEnrichment}, nil
	}
	if !version.Valid() {
		return nil, &StoreError{Kind: StoreErrorKindVersionLayout, TxnID: txnId, Err: fmt.Errorf("version %d", version)}
	}
	switch v := e.(type) {
	case *enrichment.Write:
		if !v.Supports(version) {
			return nil, &StoreError{
				Kind:  StoreErrorKindVersionLayout,
				TxnID: txnId,
				Err:   fmt.Errorf("write does not fit %s", version),
			}
		}
	case *enrichment.Read:
		if v.Version() != version {
			return nil, &StoreError{
				Kind:  StoreErrorKindVersionLayout,
				TxnID: txnId,
				Err:   fmt.Errorf("read decoded at %s, want %s", v.Version(), version),
			}
		}
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(version))
	if err := e.Serialize(channel.NewWriter(&buf)); err != nil {
		return nil, &StoreError{Kind: StoreErrorKindEncode, TxnID: txnId, Err: err}
	}
	return buf.Bytes(), nil
}

func decodeValue(txnId uint64, value []byte, tracker memory.Tracker) (*enrichment.Read, error) {
	if len(value) == 0 {
		return nil, &StoreError{Kind: StoreErrorKindDecode, TxnID: txnId, Err: errors.New("empty value")}
	}
	if value[0] == noEnrichment {
		if len(value) != 1 {
			return nil, &StoreError{
				Kind:  StoreErrorKindDecode,
				TxnID: txnId,
				Err:   fmt.Errorf("%d trailing bytes after empty marker", len(value)-1),
			}
		}
		return nil, nil
	}

	body := value[1:]
	r, err := enrichment.Deserialize(enrichment.Version(value[0]), channel.NewSliceReader(body), tracker)
	if err != nil {
		return nil, &StoreError{Kind: StoreErrorKindDecode, TxnID: txnId, Err: err}
	}
	if r.TotalSize() != int64(len(body)) {
		_ = r.Close()
		return nil, &StoreError{
			Kind:  StoreErrorKindDecode,
			TxnID: txnId,
			Err:   fmt.Errorf("decoded %d of %d bytes", r.TotalSize(), len(body)),
		}
	}
	return r, nil
}
