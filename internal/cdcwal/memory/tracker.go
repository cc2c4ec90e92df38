package memory

import "sync/atomic"

// Tracker accounts for heap owned by buffers and decoded payloads.
// Every AllocateHeap must be paired with exactly one ReleaseHeap of the same size.
type Tracker interface {
	// AllocateHeap records that bytes of heap are now owned by the caller.
	AllocateHeap(bytes int64)

	// ReleaseHeap records that bytes of heap previously allocated were given back.
	ReleaseHeap(bytes int64)
}

// EmptyTracker accounts for nothing.
type EmptyTracker struct{}

func (EmptyTracker) AllocateHeap(int64) {}
func (EmptyTracker) ReleaseHeap(int64)  {}

var _ Tracker = EmptyTracker{}

// LocalTracker counts allocations and releases. It is safe for concurrent use,
// so a single instance can be shared by several transactions.
type LocalTracker struct {
	allocated atomic.Int64
	released  atomic.Int64
	peak      atomic.Int64
	calls     atomic.Int64
}

// NewLocalTracker returns a zeroed LocalTracker.
func NewLocalTracker() *LocalTracker {
	return &LocalTracker{}
}

func (t *LocalTracker) AllocateHeap(bytes int64) {
	if bytes < 0 {
		panic(&TrackerError{Kind: KindNegative, Bytes: bytes, Err: ErrNegativeAllocation})
	}
	t.calls.Add(1)
	total := t.allocated.Add(bytes)
	inUse := total - t.released.Load()
	for {
		peak := t.peak.Load()
		if inUse <= peak || t.peak.CompareAndSwap(peak, inUse) {
			return
		}
	}
}

func (t *LocalTracker) ReleaseHeap(bytes int64) {
	if bytes < 0 {
		panic(&TrackerError{Kind: KindNegative, Bytes: bytes, Err: ErrNegativeAllocation})
	}
	released := t.released.Add(bytes)
	if released > t.allocated.Load() {
		panic(&TrackerError{Kind: KindOverRelease, Bytes: bytes, Err: ErrOverRelease})
	}
}

// Allocated returns the total bytes ever allocated.
func (t *LocalTracker) Allocated() int64 { return t.allocated.Load() }

// Released returns the total bytes ever released.
func (t *LocalTracker) Released() int64 { return t.released.Load() }

// InUse returns allocated minus released.
func (t *LocalTracker) InUse() int64 { return t.allocated.Load() - t.released.Load() }

// Peak returns the highest InUse value observed at allocation time.
func (t *LocalTracker) Peak() int64 { return t.peak.Load() }

// Allocations returns the number of AllocateHeap calls.
func (t *LocalTracker) Allocations() int64 { return t.calls.Load() }

// ScopedTracker forwards to a parent tracker and remembers what is still
// outstanding, so Close can hand everything back in one call.
// It is not safe for concurrent use.
type ScopedTracker struct {
	parent      Tracker
	outstanding int64
	closed      bool
}

// NewScopedTracker returns a ScopedTracker over parent. A nil parent is
// treated as EmptyTracker.
func NewScopedTracker(parent Tracker) *ScopedTracker {
	if parent == nil {
		parent = EmptyTracker{}
	}
	return &ScopedTracker{parent: parent}
}

func (s *ScopedTracker) AllocateHeap(bytes int64) {
	if s.closed {
		panic(&TrackerError{Kind: KindClosed, Bytes: bytes, Err: ErrScopeClosed})
	}
	s.outstanding += bytes
	s.parent.AllocateHeap(bytes)
}

func (s *ScopedTracker) ReleaseHeap(bytes int64) {
	if bytes > s.outstanding {
		panic(&TrackerError{Kind: KindOverRelease, Bytes: bytes, Err: ErrOverRelease})
	}
	s.outstanding -= bytes
	s.parent.ReleaseHeap(bytes)
}

// Outstanding returns the bytes allocated through this scope and not yet released.
func (s *ScopedTracker) Outstanding() int64 { return s.outstanding }

// Close releases everything still outstanding to the parent. Calling it
// again is a no-op.
func (s *ScopedTracker) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.outstanding > 0 {
		s.parent.ReleaseHeap(s.outstanding)
		s.outstanding = 0
	}
	return nil
}
