package txn

import (
	"math"
	"sync"
)

// IDAllocator is responsible for handing out monotonically increasing txn IDs
// during a single process lifetime.
type IDAllocator interface {
	// Next reserves and returns the next transaction ID.
	// 0 is reserved as "unset".
	Next() (uint64, error)

	// Peek returns the next ID that would be handed out without reserving it.
	Peek() uint64

	// SetNext sets the next ID to be allocated.
	// Used after recovery computes the highest committed id.
	SetNext(next uint64) error
}

// CounterAllocator is the default in-memory implementation.
type CounterAllocator struct {
	mu   sync.Mutex
	next uint64
}

// NewCounterAllocator constructs an allocator starting at `next`.
// For a fresh log, pass next=1. After recovery, pass maxCommitted+1.
func NewCounterAllocator(next uint64) (*CounterAllocator, error) {
	if next < 1 {
		return nil, &TxnIDError{
			Err:  ErrInvalidTxnID,
			Have: next,
			Want: 1,
		}
	}
	return &CounterAllocator{next: next}, nil
}

// Next reserves and returns the next transaction ID.
func (a *CounterAllocator) Next() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next == math.MaxUint64 {
		return 0, &TxnIDError{Err: ErrTxnIDOverflow, Have: a.next}
	}
	a.next++
	return a.next - 1, nil
}

// Peek returns the next ID without reserving it.
func (a *CounterAllocator) Peek() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// SetNext sets the next ID to be allocated. It never moves backwards.
func (a *CounterAllocator) SetNext(next uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if next < 1 {
		return &TxnIDError{
			Err:  ErrInvalidTxnID,
			Have: next,
			Want: 1,
		}
	}
	if next < a.next {
		return &TxnIDError{
			Err:  ErrTxnIDRegression,
			Have: next,
			Want: a.next,
		}
	}

	a.next = next
	return nil
}
